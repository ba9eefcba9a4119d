package meetings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNoIntegration means the provider has not connected a meeting account.
var ErrNoIntegration = errors.New("meetings: no integration for user")

// Providers recognized in the meeting_integrations table.
const (
	ProviderGoogle = "google"
	ProviderZoom   = "zoom"
)

// Credential is a usable third-party token for a provider account.
type Credential struct {
	UserID       uuid.UUID
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CredentialStore reads meeting integration credentials.
type CredentialStore struct {
	db Querier
}

func NewCredentialStore(db Querier) *CredentialStore {
	if db == nil {
		panic("meetings: db required")
	}
	return &CredentialStore{db: db}
}

// Get returns the user's integration for the given provider.
func (s *CredentialStore) Get(ctx context.Context, userID uuid.UUID, provider string) (*Credential, error) {
	var c Credential
	query := `
		SELECT user_id, provider, access_token, COALESCE(refresh_token, ''), expires_at
		FROM meeting_integrations
		WHERE user_id = $1 AND provider = $2
	`
	err := s.db.QueryRow(ctx, query, userID, provider).Scan(
		&c.UserID, &c.Provider, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoIntegration
		}
		return nil, fmt.Errorf("meetings: load integration: %w", err)
	}
	return &c, nil
}

// Preferred returns the user's integration, preferring Google over Zoom.
func (s *CredentialStore) Preferred(ctx context.Context, userID uuid.UUID) (*Credential, error) {
	for _, provider := range []string{ProviderGoogle, ProviderZoom} {
		cred, err := s.Get(ctx, userID, provider)
		if err == nil {
			return cred, nil
		}
		if !errors.Is(err, ErrNoIntegration) {
			return nil, err
		}
	}
	return nil, ErrNoIntegration
}
