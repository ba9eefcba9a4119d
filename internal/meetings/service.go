package meetings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/chainslot/chainslot/pkg/logging"
)

// Service dispatches meeting generation to the provider's connected
// integration, preferring Google over Zoom.
type Service struct {
	creds  *CredentialStore
	google Generator
	zoom   Generator
	logger *logging.Logger
}

func NewService(creds *CredentialStore, google, zoom Generator, logger *logging.Logger) *Service {
	if creds == nil {
		panic("meetings: credential store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		creds:  creds,
		google: google,
		zoom:   zoom,
		logger: logger,
	}
}

func (s *Service) generatorFor(provider string) (Generator, error) {
	switch provider {
	case ProviderGoogle:
		if s.google == nil {
			return nil, fmt.Errorf("meetings: google generator not configured")
		}
		return s.google, nil
	case ProviderZoom:
		if s.zoom == nil {
			return nil, fmt.Errorf("meetings: zoom generator not configured")
		}
		return s.zoom, nil
	}
	return nil, fmt.Errorf("meetings: unknown provider %q", provider)
}

// GenerateMeetingLinkForBooking picks the provider's integration and
// creates the meeting.
func (s *Service) GenerateMeetingLinkForBooking(ctx context.Context, info BookingInfo) (*Meeting, error) {
	cred, err := s.creds.Preferred(ctx, info.ProviderID)
	if err != nil {
		return nil, err
	}
	gen, err := s.generatorFor(cred.Provider)
	if err != nil {
		return nil, err
	}
	return gen.GenerateMeetingLinkForBooking(ctx, info)
}

// DeleteMeetingForBooking tears the meeting down on whichever provider
// hosts it. Best effort: callers treat failure as log-only.
func (s *Service) DeleteMeetingForBooking(ctx context.Context, providerID uuid.UUID, externalID string) error {
	cred, err := s.creds.Preferred(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrNoIntegration) {
			return nil
		}
		return err
	}
	gen, err := s.generatorFor(cred.Provider)
	if err != nil {
		return err
	}
	return gen.DeleteMeetingForBooking(ctx, providerID, externalID)
}
