package points

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrInsufficientBalance is returned when a reservation would overdraw the
// customer's points. Reservation failure aborts booking creation (fail-closed).
var ErrInsufficientBalance = errors.New("points: insufficient balance")

// Ledger entry states. Reserved entries hold value against the available
// balance until the chain confirms payment, then they commit; a failed or
// cancelled payment releases them.
const (
	StateReserved  = "reserved"
	StateCommitted = "committed"
	StateReleased  = "released"
)

// Querier is the pgx surface the repository runs against. Both a pool and
// an open transaction satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists points ledger entries.
type Repository struct {
	db Querier
}

func NewRepository(db Querier) *Repository {
	if db == nil {
		panic("points: db required")
	}
	return &Repository{db: db}
}

// Balance returns the available balance: committed credits minus
// outstanding reservations.
func (r *Repository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return r.balance(ctx, r.db, userID)
}

func (r *Repository) balance(ctx context.Context, q Querier, userID uuid.UUID) (int64, error) {
	var balance int64
	query := `
		SELECT COALESCE(SUM(delta), 0)
		FROM points_ledger
		WHERE user_id = $1 AND state IN ('committed', 'reserved')
	`
	if err := q.QueryRow(ctx, query, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("points: load balance: %w", err)
	}
	return balance, nil
}

// ReserveIn writes a reservation inside the caller's transaction. The
// balance re-check runs in the same transaction, so a concurrent spend
// cannot overdraw.
func (r *Repository) ReserveIn(ctx context.Context, tx Querier, userID, bookingID uuid.UUID, pts int64) error {
	if pts <= 0 {
		return fmt.Errorf("points: reservation must be positive")
	}
	balance, err := r.balance(ctx, tx, userID)
	if err != nil {
		return err
	}
	if balance < pts {
		return ErrInsufficientBalance
	}
	query := `
		INSERT INTO points_ledger (id, user_id, booking_id, delta, state, reason)
		VALUES ($1, $2, $3, $4, 'reserved', 'booking_reservation')
	`
	if _, err := tx.Exec(ctx, query, uuid.New(), userID, bookingID, -pts); err != nil {
		return fmt.Errorf("points: insert reservation: %w", err)
	}
	return nil
}

// Commit settles the reservation for a booking after confirmed payment.
func (r *Repository) Commit(ctx context.Context, bookingID uuid.UUID) error {
	query := `
		UPDATE points_ledger SET state = 'committed'
		WHERE booking_id = $1 AND state = 'reserved'
	`
	if _, err := r.db.Exec(ctx, query, bookingID); err != nil {
		return fmt.Errorf("points: commit reservation: %w", err)
	}
	return nil
}

// Release frees a reservation whose payment never confirmed.
func (r *Repository) Release(ctx context.Context, bookingID uuid.UUID) error {
	query := `
		UPDATE points_ledger SET state = 'released'
		WHERE booking_id = $1 AND state = 'reserved'
	`
	if _, err := r.db.Exec(ctx, query, bookingID); err != nil {
		return fmt.Errorf("points: release reservation: %w", err)
	}
	return nil
}

// Credit adds committed points to a user, optionally tied to a booking.
func (r *Repository) Credit(ctx context.Context, userID uuid.UUID, bookingID *uuid.UUID, pts int64, reason string) error {
	if pts <= 0 {
		return fmt.Errorf("points: credit must be positive")
	}
	query := `
		INSERT INTO points_ledger (id, user_id, booking_id, delta, state, reason)
		VALUES ($1, $2, $3, $4, 'committed', $5)
	`
	if _, err := r.db.Exec(ctx, query, uuid.New(), userID, bookingID, pts, reason); err != nil {
		return fmt.Errorf("points: insert credit: %w", err)
	}
	return nil
}
