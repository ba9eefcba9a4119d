// Package cancellation implements the cancellation and refund policy
// engine: which policies apply to a booking at a given moment, the
// three-way refund split, and the signed refund authorization.
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrPolicyNotFound = errors.New("cancellation: policy not found")

// Policy is a time-bucketed refund rule. A policy applies when the
// cancellation happens at least MinHoursNotice before the scheduled start.
type Policy struct {
	ID             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	MinHoursNotice int       `json:"min_hours_notice"`
	RefundPct      int       `json:"refund_pct"`
}

// AppliesAt reports whether the policy may be selected for a booking
// starting at scheduledAt when cancelling at now.
func (p Policy) AppliesAt(scheduledAt, now time.Time) bool {
	notice := scheduledAt.Sub(now)
	return notice >= time.Duration(p.MinHoursNotice)*time.Hour
}

type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PolicyRepository reads the policy rules. Policy data is maintained
// externally; this engine only applies it.
type PolicyRepository struct {
	db Querier
}

func NewPolicyRepository(db Querier) *PolicyRepository {
	if db == nil {
		panic("cancellation: db required")
	}
	return &PolicyRepository{db: db}
}

// List returns all policies ordered by notice requirement, strictest first.
func (r *PolicyRepository) List(ctx context.Context) ([]Policy, error) {
	query := `
		SELECT id, title, min_hours_notice, refund_pct
		FROM cancellation_policies
		ORDER BY min_hours_notice DESC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("cancellation: list policies: %w", err)
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.ID, &p.Title, &p.MinHoursNotice, &p.RefundPct); err != nil {
			return nil, fmt.Errorf("cancellation: scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetByID loads one policy.
func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*Policy, error) {
	var p Policy
	query := `
		SELECT id, title, min_hours_notice, refund_pct
		FROM cancellation_policies
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Title, &p.MinHoursNotice, &p.RefundPct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("cancellation: load policy: %w", err)
	}
	return &p, nil
}
