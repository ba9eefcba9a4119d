// Package users provides the minimal user lookups the booking pipeline
// needs: wallet addresses for authorization signing and the referral link
// for inviter fee routing. Full profile CRUD lives elsewhere.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("users: not found")

// User carries the booking-relevant slice of a user record.
type User struct {
	ID            uuid.UUID
	Email         string
	DisplayName   string
	WalletAddress string
	ReferredBy    *uuid.UUID
}

// Querier is the pgx read surface the repository needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	db Querier
}

func NewRepository(db Querier) *Repository {
	if db == nil {
		panic("users: db required")
	}
	return &Repository{db: db}
}

// GetByID loads a user.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	query := `
		SELECT id, email, COALESCE(display_name, ''), COALESCE(wallet_address, ''), referred_by
		FROM users
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.Email, &u.DisplayName, &u.WalletAddress, &u.ReferredBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("users: load: %w", err)
	}
	return &u, nil
}

// InviterWallet resolves the wallet address of the user's referrer. An
// empty string means no referrer (or one without a wallet), which the
// signer maps to the zero-address sentinel.
func (r *Repository) InviterWallet(ctx context.Context, userID uuid.UUID) (string, error) {
	var wallet string
	query := `
		SELECT COALESCE(inviter.wallet_address, '')
		FROM users u
		JOIN users inviter ON inviter.id = u.referred_by
		WHERE u.id = $1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(&wallet)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("users: resolve inviter: %w", err)
	}
	return wallet, nil
}
