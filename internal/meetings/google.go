package meetings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/chainslot/chainslot/pkg/logging"
)

// GoogleGenerator creates Google Meet links by inserting calendar events
// with a conference request on the provider's connected account.
type GoogleGenerator struct {
	creds      *CredentialStore
	httpClient *http.Client
	meetAPIURL string
	logger     *logging.Logger
}

func NewGoogleGenerator(creds *CredentialStore, logger *logging.Logger) *GoogleGenerator {
	if creds == nil {
		panic("meetings: credential store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GoogleGenerator{
		creds:      creds,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		meetAPIURL: "https://meet.googleapis.com/v2",
		logger:     logger,
	}
}

func (g *GoogleGenerator) calendarService(ctx context.Context, cred *Credential) (*calendar.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken})
	svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("meetings: google calendar service: %w", err)
	}
	return svc, nil
}

// GenerateMeetingLinkForBooking creates a calendar event with a Meet
// conference and returns the join link.
func (g *GoogleGenerator) GenerateMeetingLinkForBooking(ctx context.Context, info BookingInfo) (*Meeting, error) {
	cred, err := g.creds.Get(ctx, info.ProviderID, ProviderGoogle)
	if err != nil {
		return nil, err
	}
	svc, err := g.calendarService(ctx, cred)
	if err != nil {
		return nil, err
	}

	attendees := make([]*calendar.EventAttendee, 0, len(info.Attendees))
	for _, email := range info.Attendees {
		attendees = append(attendees, &calendar.EventAttendee{Email: email})
	}

	event := &calendar.Event{
		Summary: info.Title,
		Start: &calendar.EventDateTime{
			DateTime: info.ScheduledAt.Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: info.ScheduledAt.Add(info.Duration).Format(time.RFC3339),
			TimeZone: "UTC",
		},
		Attendees: attendees,
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId: info.BookingID.String(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{
					Type: "hangoutsMeet",
				},
			},
		},
	}

	created, err := svc.Events.Insert("primary", event).
		ConferenceDataVersion(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("meetings: insert calendar event: %w", err)
	}
	if created.HangoutLink == "" {
		return nil, fmt.Errorf("meetings: event %s has no meet link", created.Id)
	}

	g.logger.Info("google meet link generated",
		"booking_id", info.BookingID,
		"event_id", created.Id,
	)
	return &Meeting{
		Provider:   ProviderGoogle,
		ExternalID: created.Id,
		JoinURL:    created.HangoutLink,
	}, nil
}

// DeleteMeetingForBooking removes the calendar event backing the meeting.
func (g *GoogleGenerator) DeleteMeetingForBooking(ctx context.Context, providerID uuid.UUID, externalID string) error {
	cred, err := g.creds.Get(ctx, providerID, ProviderGoogle)
	if err != nil {
		return err
	}
	svc, err := g.calendarService(ctx, cred)
	if err != nil {
		return err
	}
	if err := svc.Events.Delete("primary", externalID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("meetings: delete calendar event: %w", err)
	}
	return nil
}

// CheckSessionDuration measures how long the provider was present in the
// Meet conference via the Meet REST API. A missing conference record is
// reported as not found, not as an error.
func (g *GoogleGenerator) CheckSessionDuration(ctx context.Context, providerID uuid.UUID, meetingLink string, scheduledAt time.Time) (*SessionReport, error) {
	cred, err := g.creds.Get(ctx, providerID, ProviderGoogle)
	if err != nil {
		return nil, err
	}

	code := meetingCodeFromLink(meetingLink)
	if code == "" {
		return &SessionReport{Found: false}, nil
	}

	endpoint := fmt.Sprintf("%s/conferenceRecords?filter=%s", g.meetAPIURL,
		url.QueryEscape(fmt.Sprintf(`space.meeting_code = "%s"`, code)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("meetings: build meet api request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meetings: meet api http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &SessionReport{Found: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("meetings: meet api status %d", resp.StatusCode)
	}

	var parsed struct {
		ConferenceRecords []struct {
			StartTime time.Time `json:"startTime"`
			EndTime   time.Time `json:"endTime"`
		} `json:"conferenceRecords"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("meetings: decode meet api: %w", err)
	}
	if len(parsed.ConferenceRecords) == 0 {
		return &SessionReport{Found: false}, nil
	}

	var total int64
	for _, rec := range parsed.ConferenceRecords {
		if rec.EndTime.IsZero() || rec.StartTime.IsZero() {
			continue
		}
		total += int64(rec.EndTime.Sub(rec.StartTime).Seconds())
	}
	return &SessionReport{ProviderSeconds: total, Found: true}, nil
}

// meetingCodeFromLink extracts the meeting code from a Meet join URL
// (https://meet.google.com/abc-defg-hij).
func meetingCodeFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host != "meet.google.com" {
		return ""
	}
	if len(u.Path) > 1 {
		return u.Path[1:]
	}
	return ""
}
