package escrow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the nonce store needs, split out so
// tests can inject pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NonceStore persists issued signature nonces. The primary key on nonce
// makes replaying a captured authorization impossible.
type NonceStore struct {
	db DB
}

func NewNonceStore(db DB) *NonceStore {
	if db == nil {
		panic("escrow: db required")
	}
	return &NonceStore{db: db}
}

// Record inserts the nonce row. It must complete before the signature is
// returned to any caller.
func (s *NonceStore) Record(ctx context.Context, nonce string, bookingID uuid.UUID, signatureType string) error {
	query := `
		INSERT INTO signature_nonces (nonce, booking_id, signature_type)
		VALUES ($1, $2, $3)
	`
	if _, err := s.db.Exec(ctx, query, nonce, bookingID, signatureType); err != nil {
		return fmt.Errorf("escrow: insert nonce: %w", err)
	}
	return nil
}

// Used reports whether a nonce has already been issued.
func (s *NonceStore) Used(ctx context.Context, nonce string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM signature_nonces WHERE nonce = $1)`
	if err := s.db.QueryRow(ctx, query, nonce).Scan(&exists); err != nil {
		return false, fmt.Errorf("escrow: check nonce: %w", err)
	}
	return exists, nil
}
