// Package availability consumes the external availability oracle. Booking
// creation checks it as a precondition; the authoritative overlap guard is
// the database transaction, not this check.
package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/chainslot/chainslot/pkg/logging"
)

// Slot is a free window reported by the oracle.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Oracle answers whether a window is bookable for a service.
type Oracle interface {
	GetDayAvailability(ctx context.Context, serviceID uuid.UUID, day time.Time) ([]Slot, error)
	GetMonthAvailability(ctx context.Context, serviceID uuid.UUID, year int, month time.Month) (map[string][]Slot, error)
}

// Client talks to the availability service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewClient(baseURL string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// GetDayAvailability returns the free slots for a service on a given day.
func (c *Client) GetDayAvailability(ctx context.Context, serviceID uuid.UUID, day time.Time) ([]Slot, error) {
	endpoint := fmt.Sprintf("%s/availability/%s/day?date=%s", c.baseURL, serviceID, url.QueryEscape(day.Format("2006-01-02")))
	var payload struct {
		Slots []Slot `json:"slots"`
	}
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	return payload.Slots, nil
}

// GetMonthAvailability returns free slots per day key (YYYY-MM-DD).
func (c *Client) GetMonthAvailability(ctx context.Context, serviceID uuid.UUID, year int, month time.Month) (map[string][]Slot, error) {
	endpoint := fmt.Sprintf("%s/availability/%s/month?year=%d&month=%d", c.baseURL, serviceID, year, int(month))
	var payload struct {
		Days map[string][]Slot `json:"days"`
	}
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	return payload.Days, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("availability: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("availability: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("availability: oracle status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("availability: decode: %w", err)
	}
	return nil
}

// WindowFree reports whether [start, start+duration) falls inside a free slot.
func WindowFree(slots []Slot, start time.Time, duration time.Duration) bool {
	end := start.Add(duration)
	for _, s := range slots {
		if !start.Before(s.Start) && !end.After(s.End) {
			return true
		}
	}
	return false
}
