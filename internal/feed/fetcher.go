// Package feed retrieves and normalizes external iCal feeds.
package feed

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"golang.org/x/time/rate"

	"github.com/staybridge/channelsync/internal/db"
)

var (
	// ErrFetch covers network-level failures: timeouts, refused
	// connections, non-2xx responses. Retryable.
	ErrFetch = errors.New("feed fetch failed")
	// ErrParse covers malformed iCal content. Not retryable until the
	// feed content changes upstream.
	ErrParse = errors.New("feed parse failed")
)

const minTLSVersion = tls.VersionTLS12

// Event is a feed event normalized to UTC with platform-specific fields
// discarded.
type Event struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Status      db.EventStatus
	EventType   db.EventType
}

// Fetcher retrieves and parses iCal feeds.
type Fetcher struct {
	httpClient *http.Client
	limiter    *rate.Limiter // shared outbound budget across all feeds
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeout sets the hard per-fetch timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		f.httpClient.Timeout = timeout
	}
}

// WithRateLimit caps outbound fetches so a fleet-wide sync cannot hammer
// platform feed hosts.
func WithRateLimit(rps float64, burst int) Option {
	return func(f *Fetcher) {
		f.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a new Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{
			Timeout: 45 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: minTLSVersion,
				},
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves a feed and returns its normalized events.
// Network failures are classified as ErrFetch and malformed content as
// ErrParse; the function never panics on bad feed data.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]Event, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}

	cal, err := ical.NewDecoder(resp.Body).Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	return normalizeEvents(cal), nil
}

// Test runs a single fetch without persisting anything, for connection
// testing from the UI.
func (f *Fetcher) Test(ctx context.Context, feedURL string) (int, error) {
	events, err := f.Fetch(ctx, feedURL)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// IsRetryable reports whether a fetch error is worth retrying within the
// same sync run.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrFetch)
}

// normalizeEvents converts parsed VEVENTs into normalized Events.
// Events without a UID or with a non-positive duration are dropped.
func normalizeEvents(cal *ical.Calendar) []Event {
	var events []Event
	for _, evt := range cal.Events() {
		uid, err := evt.Props.Text(ical.PropUID)
		if err != nil || uid == "" {
			continue
		}

		start, ok := eventTime(&evt, ical.PropDateTimeStart)
		if !ok {
			continue
		}
		end, ok := eventTime(&evt, ical.PropDateTimeEnd)
		if !ok {
			// Feeds occasionally omit DTEND for single-night blocks.
			end = start.Add(24 * time.Hour)
		}
		if !end.After(start) {
			continue
		}

		summary, _ := evt.Props.Text(ical.PropSummary)
		description, _ := evt.Props.Text(ical.PropDescription)

		events = append(events, Event{
			UID:         uid,
			Summary:     summary,
			Description: description,
			Start:       start,
			End:         end,
			Status:      eventStatus(&evt),
			EventType:   classifyEventType(summary),
		})
	}
	return events
}

// eventTime extracts a date or datetime property normalized to UTC.
func eventTime(evt *ical.Event, name string) (time.Time, bool) {
	prop := evt.Props.Get(name)
	if prop == nil {
		return time.Time{}, false
	}
	t, err := prop.DateTime(time.UTC)
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// eventStatus maps the iCal STATUS property onto the stored event status.
func eventStatus(evt *ical.Event) db.EventStatus {
	status, err := evt.Props.Text(ical.PropStatus)
	if err != nil {
		return db.EventConfirmed
	}
	switch strings.ToUpper(status) {
	case "CANCELLED":
		return db.EventCancelled
	case "TENTATIVE":
		return db.EventTentative
	default:
		return db.EventConfirmed
	}
}

// classifyEventType infers the event type from the feed summary. Platform
// feeds mark owner blocks and maintenance holds in the summary text;
// everything else is a booking.
func classifyEventType(summary string) db.EventType {
	s := strings.ToLower(summary)
	switch {
	case strings.Contains(s, "maintenance"):
		return db.EventTypeMaintenance
	case strings.Contains(s, "block"), strings.Contains(s, "not available"),
		strings.Contains(s, "unavailable"), strings.Contains(s, "closed"):
		return db.EventTypeBlocked
	default:
		return db.EventTypeBooking
	}
}
