package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a booking does not exist.
var ErrNotFound = errors.New("bookings: not found")

// ErrStaleStatus is returned when a compare-and-set status update loses to
// a concurrent writer.
var ErrStaleStatus = errors.New("bookings: status changed concurrently")

// ConflictingSlot describes an existing booking that blocks a new one.
type ConflictingSlot struct {
	ID              uuid.UUID `json:"id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          Status    `json:"status"`
}

// ConflictError carries the overlapping bookings so the client can show
// alternatives.
type ConflictError struct {
	Conflicts []ConflictingSlot
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("bookings: %d conflicting booking(s) for requested slot", len(e.Conflicts))
}

// Pool is the pgx surface the repository needs. pgxpool.Pool and
// pgxmock both satisfy it.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ReserveFunc runs extra writes inside the creation transaction, after
// the booking row exists. Used to reserve points atomically with the
// booking (fail-closed).
type ReserveFunc func(ctx context.Context, tx pgx.Tx, b *Booking) error

// CreateParams are the inputs for a new booking row.
type CreateParams struct {
	ServiceID           uuid.UUID
	CustomerID          uuid.UUID
	ProviderID          uuid.UUID
	ScheduledAt         time.Time
	DurationMinutes     int
	TotalPriceCents     int64
	ServiceFeeCents     int64
	OriginalAmountCents int64
	PointsUsed          int64
	PointsValueCents    int64
	Location            string
	IsOnline            bool
	CustomerNotes       string
}

// Repository provides persistence for bookings.
type Repository struct {
	db Pool
}

func NewRepository(db Pool) *Repository {
	if db == nil {
		panic("bookings: pgx pool required")
	}
	return &Repository{db: db}
}

const bookingColumns = `
	id, blockchain_booking_id, service_id, customer_id, provider_id,
	scheduled_at, duration_minutes,
	total_price_cents, service_fee_cents, original_amount_cents,
	points_used, points_value_cents, usdc_paid_cents,
	status, location, is_online, meeting_link, customer_notes,
	auto_complete_blocked, auto_complete_blocked_reason,
	cancelled_at, cancellation_reason, cancelled_by,
	rejected_at, rejection_reason,
	completed_at, completion_notes, backend_completed, backend_completion_reason,
	payment_tx_hash, created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID, &b.ChainBookingID, &b.ServiceID, &b.CustomerID, &b.ProviderID,
		&b.ScheduledAt, &b.DurationMinutes,
		&b.TotalPriceCents, &b.ServiceFeeCents, &b.OriginalAmountCents,
		&b.PointsUsed, &b.PointsValueCents, &b.UsdcPaidCents,
		&b.Status, &b.Location, &b.IsOnline, &b.MeetingLink, &b.CustomerNotes,
		&b.AutoCompleteBlocked, &b.AutoCompleteBlockedReason,
		&b.CancelledAt, &b.CancellationReason, &b.CancelledBy,
		&b.RejectedAt, &b.RejectionReason,
		&b.CompletedAt, &b.CompletionNotes, &b.BackendCompleted, &b.BackendCompletionReason,
		&b.PaymentTxHash, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// CreateAtomic inserts a booking only if no active booking overlaps the
// requested window. Lock, check and insert run as one transaction:
// candidate rows are locked with FOR UPDATE, so two concurrent requests
// for the same slot serialize and exactly one succeeds. The optional
// reserve hook runs in the same transaction.
func (r *Repository) CreateAtomic(ctx context.Context, params CreateParams, reserve ReserveFunc) (*Booking, *ConflictError, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("bookings: begin create: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	end := params.ScheduledAt.Add(time.Duration(params.DurationMinutes) * time.Minute)

	lockQuery := `
		SELECT id, scheduled_at, duration_minutes, status
		FROM bookings
		WHERE service_id = $1
		  AND status = ANY($2)
		  AND scheduled_at < $3
		  AND scheduled_at + make_interval(mins => duration_minutes) > $4
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, lockQuery, params.ServiceID, activeStatusStrings(), end, params.ScheduledAt)
	if err != nil {
		return nil, nil, fmt.Errorf("bookings: lock overlapping: %w", err)
	}
	var conflicts []ConflictingSlot
	for rows.Next() {
		var c ConflictingSlot
		if err := rows.Scan(&c.ID, &c.ScheduledAt, &c.DurationMinutes, &c.Status); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("bookings: scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("bookings: read conflicts: %w", err)
	}
	if len(conflicts) > 0 {
		// abort without inserting; rollback releases the locks
		return nil, &ConflictError{Conflicts: conflicts}, nil
	}

	insertQuery := `
		INSERT INTO bookings (
			id, service_id, customer_id, provider_id,
			scheduled_at, duration_minutes,
			total_price_cents, service_fee_cents, original_amount_cents,
			points_used, points_value_cents,
			status, location, is_online, customer_notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING` + bookingColumns + `
	`
	row := tx.QueryRow(ctx, insertQuery,
		uuid.New(), params.ServiceID, params.CustomerID, params.ProviderID,
		params.ScheduledAt, params.DurationMinutes,
		params.TotalPriceCents, params.ServiceFeeCents, params.OriginalAmountCents,
		params.PointsUsed, params.PointsValueCents,
		string(StatusPending), params.Location, params.IsOnline, params.CustomerNotes,
	)
	booking, err := scanBooking(row)
	if err != nil {
		return nil, nil, fmt.Errorf("bookings: insert: %w", err)
	}

	if reserve != nil {
		if err := reserve(ctx, tx, booking); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("bookings: commit create: %w", err)
	}
	return booking, nil, nil
}

// GetByID loads a booking.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	query := `SELECT` + bookingColumns + ` FROM bookings WHERE id = $1`
	booking, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bookings: load: %w", err)
	}
	return booking, nil
}

// ListForUser returns bookings where the user is customer or provider.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID, role Actor) ([]*Booking, error) {
	column := "customer_id"
	if role == ActorProvider {
		column = "provider_id"
	}
	query := `SELECT` + bookingColumns + ` FROM bookings WHERE ` + column + ` = $1 ORDER BY scheduled_at DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("bookings: list: %w", err)
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan list: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SetChainBookingID records the hash embedded in the latest authorization
// signature. It must be persisted before the client can submit the
// on-chain transaction, and together with the status progression to
// pending_payment. The write only lands while the booking still awaits
// payment; a booking cancelled in the meantime keeps its terminal status
// and the caller gets ErrStaleStatus.
func (r *Repository) SetChainBookingID(ctx context.Context, id uuid.UUID, chainID string, status Status) (*Booking, error) {
	query := `
		UPDATE bookings
		SET blockchain_booking_id = $2, status = $3, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'pending_payment')
		RETURNING` + bookingColumns + `
	`
	booking, err := scanBooking(r.db.QueryRow(ctx, query, id, chainID, string(status)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("bookings: set chain id: %w", err)
	}
	return booking, nil
}

// UpdateStatus performs a compare-and-set transition. The expected current
// status guards against concurrent writers; losing the race returns
// ErrStaleStatus rather than silently overwriting.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error) {
	query := `
		UPDATE bookings
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING` + bookingColumns + `
	`
	booking, err := scanBooking(r.db.QueryRow(ctx, query, id, string(from), string(to)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("bookings: update status: %w", err)
	}
	return booking, nil
}

// SetMeetingLink stores a generated meeting link.
func (r *Repository) SetMeetingLink(ctx context.Context, id uuid.UUID, link string) error {
	query := `UPDATE bookings SET meeting_link = $2, updated_at = now() WHERE id = $1`
	ct, err := r.db.Exec(ctx, query, id, link)
	if err != nil {
		return fmt.Errorf("bookings: set meeting link: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCancelled records cancellation metadata alongside the terminal status.
func (r *Repository) MarkCancelled(ctx context.Context, id uuid.UUID, from Status, reason string, cancelledBy Actor) (*Booking, error) {
	query := `
		UPDATE bookings
		SET status = $3, cancelled_at = now(), cancellation_reason = $4, cancelled_by = $5, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING` + bookingColumns + `
	`
	booking, err := scanBooking(r.db.QueryRow(ctx, query, id, string(from), string(StatusCancelled), reason, string(cancelledBy)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("bookings: mark cancelled: %w", err)
	}
	return booking, nil
}

// MarkRejected records provider rejection.
func (r *Repository) MarkRejected(ctx context.Context, id uuid.UUID, reason string) (*Booking, error) {
	query := `
		UPDATE bookings
		SET status = $3, rejected_at = now(), rejection_reason = $4, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING` + bookingColumns + `
	`
	booking, err := scanBooking(r.db.QueryRow(ctx, query, id, string(StatusConfirmed), string(StatusRejected), reason))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("bookings: mark rejected: %w", err)
	}
	return booking, nil
}

// MarkCompletedBackend writes the completed state directly. Only the
// backend path uses this; customer completion settles through the chain
// and is written by the reconciler.
func (r *Repository) MarkCompletedBackend(ctx context.Context, id uuid.UUID, from Status, notes, reason string) (*Booking, error) {
	query := `
		UPDATE bookings
		SET status = $3, completed_at = now(), completion_notes = $4,
		    backend_completed = TRUE, backend_completion_reason = $5, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING` + bookingColumns + `
	`
	booking, err := scanBooking(r.db.QueryRow(ctx, query, id, string(from), string(StatusCompleted), notes, reason))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("bookings: mark completed: %w", err)
	}
	return booking, nil
}

// MarkAutoCompleteBlocked flags a booking that failed the session-duration
// gate so the cron path skips it until the customer completes manually.
func (r *Repository) MarkAutoCompleteBlocked(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE bookings
		SET auto_complete_blocked = TRUE, auto_complete_blocked_reason = $2, updated_at = now()
		WHERE id = $1
	`
	ct, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("bookings: mark blocked: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAutoCompletable returns in_progress bookings idle past the cutoff
// that are not blocked, for the completion worker.
func (r *Repository) ListAutoCompletable(ctx context.Context, cutoff time.Time, limit int32) ([]*Booking, error) {
	query := `
		SELECT` + bookingColumns + `
		FROM bookings
		WHERE status = $1
		  AND auto_complete_blocked = FALSE
		  AND scheduled_at + make_interval(mins => duration_minutes) < $2
		ORDER BY scheduled_at
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, string(StatusInProgress), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("bookings: list auto-completable: %w", err)
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan auto-completable: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
