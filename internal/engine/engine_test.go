package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/staybridge/channelsync/internal/config"
	"github.com/staybridge/channelsync/internal/db"
	"github.com/staybridge/channelsync/internal/feed"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "channelsync-engine-test-*")
	require.NoError(t, err)

	database, err := db.New(filepath.Join(tempDir, "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		database.Close()
		os.RemoveAll(tempDir)
	})
	return database
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		FetchTimeout:            5 * time.Second,
		MaxAttempts:             2,
		BaseBackoff:             time.Millisecond,
		MaxBackoff:              5 * time.Millisecond,
		DefaultFrequency:        60,
		MinFrequency:            15,
		MaxFrequency:            1440,
		MaxConcurrentProperties: 2,
		LockTTL:                 time.Minute,
		DetectAfterSync:         true,
	}
}

func createProperty(t *testing.T, database *db.DB, name string) *db.Property {
	t.Helper()
	p := &db.Property{Name: name}
	require.NoError(t, database.CreateProperty(p))
	return p
}

func createConnection(t *testing.T, database *db.DB, propertyID string, platform db.Platform, feedURL string) *db.Connection {
	t.Helper()
	c := &db.Connection{
		PropertyID:    propertyID,
		Platform:      platform,
		FeedURL:       feedURL,
		SyncFrequency: 60,
	}
	require.NoError(t, database.CreateConnection(c))
	return c
}

func createEvent(t *testing.T, database *db.DB, conn *db.Connection, uid string, start, end time.Time) *db.CalendarEvent {
	t.Helper()
	e := &db.CalendarEvent{
		PropertyID:   conn.PropertyID,
		ConnectionID: conn.ID,
		ExternalUID:  uid,
		Platform:     conn.Platform,
		Summary:      "Reserved",
		StartDate:    start,
		EndDate:      end,
		EventType:    db.EventTypeBooking,
		Status:       db.EventConfirmed,
	}
	require.NoError(t, database.ApplyReconciliation(&db.ReconcileChanges{Create: []*db.CalendarEvent{e}}))
	return e
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func feedEvent(uid string, start, end time.Time) feed.Event {
	return feed.Event{
		UID:       uid,
		Summary:   "Reserved",
		Start:     start,
		End:       end,
		Status:    db.EventConfirmed,
		EventType: db.EventTypeBooking,
	}
}
