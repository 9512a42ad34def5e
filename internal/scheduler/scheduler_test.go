package scheduler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/staybridge/channelsync/internal/config"
	"github.com/staybridge/channelsync/internal/db"
	"github.com/staybridge/channelsync/internal/engine"
	"github.com/staybridge/channelsync/internal/feed"
)

const testFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//Feed//EN
BEGIN:VEVENT
UID:stay-1
DTSTART:20260601T000000Z
DTEND:20260605T000000Z
SUMMARY:Reserved
END:VEVENT
END:VCALENDAR
`

func setupScheduler(t *testing.T) (*Scheduler, *db.DB) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "channelsync-sched-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	database, err := db.New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.SyncConfig{
		FetchTimeout:            5 * time.Second,
		MaxAttempts:             1,
		BaseBackoff:             time.Millisecond,
		MaxBackoff:              5 * time.Millisecond,
		DefaultFrequency:        60,
		MinFrequency:            15,
		MaxFrequency:            1440,
		MaxConcurrentProperties: 2,
		LockTTL:                 time.Minute,
	}
	orchestrator := engine.NewOrchestrator(database, feed.New(), cfg, nil)
	return New(database, orchestrator, 30), database
}

func TestStartStop(t *testing.T) {
	sched, _ := setupScheduler(t)

	if err := sched.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if err := sched.Start(); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}

	sched.Stop()
	sched.Stop() // stopping twice is safe
}

func TestTriggerSync(t *testing.T) {
	sched, database := setupScheduler(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testFeed))
	}))
	t.Cleanup(srv.Close)

	property := &db.Property{Name: "Villa"}
	if err := database.CreateProperty(property); err != nil {
		t.Fatalf("failed to create property: %v", err)
	}
	conn := &db.Connection{
		PropertyID:    property.ID,
		Platform:      db.PlatformAirbnb,
		FeedURL:       srv.URL,
		SyncFrequency: 60,
	}
	if err := database.CreateConnection(conn); err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}

	if err := sched.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	sched.TriggerSync(property.ID)
	sched.Stop() // waits for the in-flight sync

	events, err := database.GetActiveEventsByProperty(property.ID)
	if err != nil {
		t.Fatalf("failed to load events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event after triggered sync, got %d", len(events))
	}

	got, err := database.GetConnectionByID(conn.ID)
	if err != nil {
		t.Fatalf("failed to load connection: %v", err)
	}
	if got.Status != db.ConnectionActive {
		t.Errorf("expected active connection, got %s", got.Status)
	}
	if got.LastSynced == nil {
		t.Error("expected last_synced to be set")
	}
}
