package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staybridge/channelsync/internal/db"
)

const sampleFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//Feed//EN
BEGIN:VEVENT
UID:booking-1
DTSTART:20260601T150000Z
DTEND:20260605T100000Z
SUMMARY:Reserved
DESCRIPTION:Guest stay
END:VEVENT
BEGIN:VEVENT
UID:block-1
DTSTART:20260610T000000Z
DTEND:20260612T000000Z
SUMMARY:Not available
END:VEVENT
BEGIN:VEVENT
UID:cancelled-1
DTSTART:20260620T000000Z
DTEND:20260622T000000Z
SUMMARY:Reserved
STATUS:CANCELLED
END:VEVENT
END:VCALENDAR
`

func serveFeed(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchParsesAndNormalizes(t *testing.T) {
	srv := serveFeed(t, sampleFeed, http.StatusOK)
	f := New()

	events, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, events, 3)

	booking := events[0]
	assert.Equal(t, "booking-1", booking.UID)
	assert.Equal(t, db.EventTypeBooking, booking.EventType)
	assert.Equal(t, db.EventConfirmed, booking.Status)
	assert.Equal(t, time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC), booking.Start)
	assert.Equal(t, time.Date(2026, 6, 5, 10, 0, 0, 0, time.UTC), booking.End)

	block := events[1]
	assert.Equal(t, db.EventTypeBlocked, block.EventType)

	cancelled := events[2]
	assert.Equal(t, db.EventCancelled, cancelled.Status)
}

func TestFetchDropsUnusableEvents(t *testing.T) {
	feed := `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//Feed//EN
BEGIN:VEVENT
DTSTART:20260601T000000Z
DTEND:20260602T000000Z
SUMMARY:No UID
END:VEVENT
BEGIN:VEVENT
UID:inverted
DTSTART:20260610T000000Z
DTEND:20260609T000000Z
SUMMARY:Ends before it starts
END:VEVENT
BEGIN:VEVENT
UID:no-end
DTSTART:20260620T000000Z
SUMMARY:Reserved
END:VEVENT
END:VCALENDAR
`
	srv := serveFeed(t, feed, http.StatusOK)
	f := New()

	events, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, events, 1, "only the event with a defaultable end survives")

	assert.Equal(t, "no-end", events[0].UID)
	assert.Equal(t, 24*time.Hour, events[0].End.Sub(events[0].Start), "missing DTEND defaults to one day")
}

func TestFetchErrorClassification(t *testing.T) {
	t.Run("http errors are retryable", func(t *testing.T) {
		srv := serveFeed(t, "busy", http.StatusServiceUnavailable)
		f := New()

		_, err := f.Fetch(context.Background(), srv.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFetch)
		assert.True(t, IsRetryable(err))
	})

	t.Run("unreachable host is retryable", func(t *testing.T) {
		srv := serveFeed(t, sampleFeed, http.StatusOK)
		srv.Close()
		f := New()

		_, err := f.Fetch(context.Background(), srv.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("malformed feed is not retryable", func(t *testing.T) {
		srv := serveFeed(t, "this is not a calendar", http.StatusOK)
		f := New()

		_, err := f.Fetch(context.Background(), srv.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrParse)
		assert.False(t, IsRetryable(err))
	})

	t.Run("context timeout is retryable", func(t *testing.T) {
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		t.Cleanup(slow.Close)
		f := New()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := f.Fetch(ctx, slow.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFetch)
	})
}

func TestTestReportsEventCount(t *testing.T) {
	srv := serveFeed(t, sampleFeed, http.StatusOK)
	f := New()

	count, err := f.Test(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestClassifyEventType(t *testing.T) {
	cases := []struct {
		summary string
		want    db.EventType
	}{
		{"Reserved", db.EventTypeBooking},
		{"Airbnb (Not available)", db.EventTypeBlocked},
		{"Blocked by owner", db.EventTypeBlocked},
		{"CLOSED - Not available", db.EventTypeBlocked},
		{"Maintenance - pool repair", db.EventTypeMaintenance},
		{"", db.EventTypeBooking},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyEventType(tc.summary), "summary %q", tc.summary)
	}
}
