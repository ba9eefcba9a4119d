package meetings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/chainslot/chainslot/pkg/logging"
)

// ZoomGenerator creates meetings on the provider's connected Zoom account.
type ZoomGenerator struct {
	baseURL    string
	creds      *CredentialStore
	httpClient *http.Client
	logger     *logging.Logger
}

func NewZoomGenerator(baseURL string, creds *CredentialStore, logger *logging.Logger) *ZoomGenerator {
	if creds == nil {
		panic("meetings: credential store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if baseURL == "" {
		baseURL = "https://api.zoom.us/v2"
	}
	return &ZoomGenerator{
		baseURL:    baseURL,
		creds:      creds,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// GenerateMeetingLinkForBooking schedules a Zoom meeting and returns its join URL.
func (z *ZoomGenerator) GenerateMeetingLinkForBooking(ctx context.Context, info BookingInfo) (*Meeting, error) {
	cred, err := z.creds.Get(ctx, info.ProviderID, ProviderZoom)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"topic":      info.Title,
		"type":       2, // scheduled meeting
		"start_time": info.ScheduledAt.UTC().Format("2006-01-02T15:04:05Z"),
		"duration":   int(info.Duration.Minutes()),
		"timezone":   "UTC",
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("meetings: marshal zoom request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.baseURL+"/users/me/meetings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("meetings: build zoom request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := z.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meetings: zoom http: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("meetings: zoom api status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		ID      int64  `json:"id"`
		JoinURL string `json:"join_url"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("meetings: decode zoom response: %w", err)
	}

	z.logger.Info("zoom meeting created", "booking_id", info.BookingID, "meeting_id", parsed.ID)
	return &Meeting{
		Provider:   ProviderZoom,
		ExternalID: fmt.Sprintf("%d", parsed.ID),
		JoinURL:    parsed.JoinURL,
	}, nil
}

// DeleteMeetingForBooking removes a scheduled Zoom meeting.
func (z *ZoomGenerator) DeleteMeetingForBooking(ctx context.Context, providerID uuid.UUID, externalID string) error {
	cred, err := z.creds.Get(ctx, providerID, ProviderZoom)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, z.baseURL+"/meetings/"+externalID, nil)
	if err != nil {
		return fmt.Errorf("meetings: build zoom delete: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := z.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("meetings: zoom delete http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("meetings: zoom delete status %d", resp.StatusCode)
	}
	return nil
}
