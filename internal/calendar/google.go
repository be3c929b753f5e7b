package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleClient implements Client against the Google Calendar API using
// pre-provisioned OAuth artifacts (credentials + token files). The OAuth
// bootstrap flow itself lives outside this service.
type GoogleClient struct {
	svc        *gcal.Service
	calendarID string
	prefix     string
	deadline   time.Duration
}

// GoogleOptions configures a GoogleClient.
type GoogleOptions struct {
	CredentialsPath string
	TokenPath       string
	CalendarID      string
	SummaryPrefix   string
	Deadline        time.Duration
}

// NewGoogleClient builds a calendar client from OAuth artifact files.
func NewGoogleClient(ctx context.Context, opts GoogleOptions) (*GoogleClient, error) {
	if opts.CalendarID == "" {
		opts.CalendarID = "primary"
	}
	if opts.SummaryPrefix == "" {
		opts.SummaryPrefix = "[Genie] "
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 10 * time.Second
	}

	creds, err := os.ReadFile(opts.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("reading calendar credentials: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(creds, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parsing calendar credentials: %w", err)
	}

	tokenRaw, err := os.ReadFile(opts.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("reading calendar token: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(tokenRaw, &token); err != nil {
		return nil, fmt.Errorf("parsing calendar token: %w", err)
	}

	svc, err := gcal.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, &token)))
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}

	return &GoogleClient{
		svc:        svc,
		calendarID: opts.CalendarID,
		prefix:     opts.SummaryPrefix,
		deadline:   opts.Deadline,
	}, nil
}

// SummaryPrefix returns the marker prepended to every Genie-owned event.
func (c *GoogleClient) SummaryPrefix() string {
	return c.prefix
}

// FreeBusy queries availability for the window. On any upstream failure it
// degrades to a disconnected view with the whole window free.
func (c *GoogleClient) FreeBusy(ctx context.Context, window Interval) FreeBusy {
	callCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	resp, err := c.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: window.Start.UTC().Format(time.RFC3339),
		TimeMax: window.End.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: c.calendarID}},
	}).Context(callCtx).Do()
	if err != nil {
		slog.Warn("free/busy query failed, assuming free", "error", err)
		return FreeBusy{Free: []Interval{window}, Connected: false}
	}

	var busy []Interval
	for _, cal := range resp.Calendars {
		for _, period := range cal.Busy {
			start, err1 := time.Parse(time.RFC3339, period.Start)
			end, err2 := time.Parse(time.RFC3339, period.End)
			if err1 != nil || err2 != nil {
				continue
			}
			busy = append(busy, Interval{Start: start.UTC(), End: end.UTC()})
		}
	}
	busy = Merge(busy)

	return FreeBusy{
		Free:      Complement(window, busy),
		Busy:      busy,
		Connected: true,
	}
}

// CreateEvent inserts a Genie-owned event and returns its provider ID.
func (c *GoogleClient) CreateEvent(ctx context.Context, req EventRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	ev, err := c.svc.Events.Insert(c.calendarID, c.toGoogleEvent(req)).Context(callCtx).Do()
	if err != nil {
		return "", fmt.Errorf("creating event: %w", err)
	}
	return ev.Id, nil
}

// UpdateEvent replaces the event's window and text.
func (c *GoogleClient) UpdateEvent(ctx context.Context, eventID string, req EventRequest) error {
	callCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	_, err := c.svc.Events.Update(c.calendarID, eventID, c.toGoogleEvent(req)).Context(callCtx).Do()
	if err != nil {
		return fmt.Errorf("updating event %s: %w", eventID, err)
	}
	return nil
}

// DeleteEvent removes the event. Deleting an already-gone event is not an
// error.
func (c *GoogleClient) DeleteEvent(ctx context.Context, eventID string) error {
	callCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	err := c.svc.Events.Delete(c.calendarID, eventID).Context(callCtx).Do()
	if err != nil && !isGone(err) {
		return fmt.Errorf("deleting event %s: %w", eventID, err)
	}
	return nil
}

// ListEvents returns all events overlapping the window, earliest first.
func (c *GoogleClient) ListEvents(ctx context.Context, window Interval) ([]Event, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	resp, err := c.svc.Events.List(c.calendarID).
		TimeMin(window.Start.UTC().Format(time.RFC3339)).
		TimeMax(window.End.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(callCtx).Do()
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	var events []Event
	for _, item := range resp.Items {
		ev, ok := fromGoogleEvent(item)
		if ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// FindOwnEvents returns the events in the window whose summary carries the
// Genie marker. Used for orphan adoption and cleanup.
func (c *GoogleClient) FindOwnEvents(ctx context.Context, window Interval) ([]Event, error) {
	events, err := c.ListEvents(ctx, window)
	if err != nil {
		return nil, err
	}
	var own []Event
	for _, ev := range events {
		if strings.HasPrefix(ev.Summary, c.prefix) {
			own = append(own, ev)
		}
	}
	return own, nil
}

func (c *GoogleClient) toGoogleEvent(req EventRequest) *gcal.Event {
	summary := req.Summary
	if !strings.HasPrefix(summary, c.prefix) {
		summary = c.prefix + summary
	}
	return &gcal.Event{
		Summary:     summary,
		Description: req.Description,
		Start: &gcal.EventDateTime{
			DateTime: req.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &gcal.EventDateTime{
			DateTime: req.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
	}
}

func fromGoogleEvent(item *gcal.Event) (Event, bool) {
	if item.Start == nil || item.End == nil || item.Start.DateTime == "" || item.End.DateTime == "" {
		return Event{}, false // skip all-day events
	}
	start, err1 := time.Parse(time.RFC3339, item.Start.DateTime)
	end, err2 := time.Parse(time.RFC3339, item.End.DateTime)
	if err1 != nil || err2 != nil {
		return Event{}, false
	}
	return Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Start:       start.UTC(),
		End:         end.UTC(),
	}, true
}

func isGone(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "404") || strings.Contains(msg, "410")
}
