// Package catalog provides read access to the service listings that
// bookings are created against.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("catalog: not found")

// Service is a bookable time-based listing.
type Service struct {
	ID              uuid.UUID
	ProviderID      uuid.UUID
	Title           string
	PriceCents      int64
	DurationMinutes int
	IsOnline        bool
	Location        string
}

type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	db Querier
}

func NewRepository(db Querier) *Repository {
	if db == nil {
		panic("catalog: db required")
	}
	return &Repository{db: db}
}

// GetByID loads a service listing.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Service, error) {
	var s Service
	query := `
		SELECT id, provider_id, title, price_cents, duration_minutes, is_online, COALESCE(location, '')
		FROM services
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.ProviderID, &s.Title, &s.PriceCents, &s.DurationMinutes, &s.IsOnline, &s.Location,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: load service: %w", err)
	}
	return &s, nil
}
