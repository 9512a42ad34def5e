package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staybridge/channelsync/internal/db"
)

func createConflict(t *testing.T, database *db.DB, propertyID string, eventIDs ...string) *db.Conflict {
	t.Helper()
	c := &db.Conflict{
		PropertyID: propertyID,
		EventIDs:   eventIDs,
		Type:       db.ConflictOverlap,
		Severity:   db.SeverityMedium,
	}
	require.NoError(t, database.CreateConflict(c))
	return c
}

func TestResolveManual(t *testing.T) {
	database := setupTestDB(t)
	r := NewResolver(database)
	ctx := context.Background()

	p := createProperty(t, database, "Villa")
	conn := createConnection(t, database, p.ID, db.PlatformAirbnb, "https://a.example.com/feed.ics")
	e1 := createEvent(t, database, conn, "uid-1", day(2026, 6, 1), day(2026, 6, 10))
	e2 := createEvent(t, database, conn, "uid-2", day(2026, 6, 5), day(2026, 6, 8))
	conflict := createConflict(t, database, p.ID, e1.ID, e2.ID)

	result, err := r.Resolve(ctx, conflict.ID, []string{e2.ID})
	require.NoError(t, err)
	assert.Equal(t, db.ResolutionManual, result.Strategy)
	assert.Equal(t, []string{e2.ID}, result.KeptIDs)
	assert.Equal(t, []string{e1.ID}, result.RemovedIDs)

	kept, err := database.GetEventByID(e2.ID)
	require.NoError(t, err)
	assert.True(t, kept.Active)

	removed, err := database.GetEventByID(e1.ID)
	require.NoError(t, err)
	assert.False(t, removed.Active)

	got, err := database.GetConflictByID(conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, db.ConflictResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)
}

func TestResolveInvalidSelection(t *testing.T) {
	database := setupTestDB(t)
	r := NewResolver(database)
	ctx := context.Background()

	p := createProperty(t, database, "Villa")
	conn := createConnection(t, database, p.ID, db.PlatformAirbnb, "https://a.example.com/feed.ics")
	e1 := createEvent(t, database, conn, "uid-1", day(2026, 6, 1), day(2026, 6, 10))
	e2 := createEvent(t, database, conn, "uid-2", day(2026, 6, 5), day(2026, 6, 8))
	outsider := createEvent(t, database, conn, "uid-3", day(2026, 7, 1), day(2026, 7, 5))
	conflict := createConflict(t, database, p.ID, e1.ID, e2.ID)

	assertUntouched := func(t *testing.T) {
		t.Helper()
		got, err := database.GetConflictByID(conflict.ID)
		require.NoError(t, err)
		assert.Equal(t, db.ConflictActive, got.Status)
		for _, id := range []string{e1.ID, e2.ID} {
			e, err := database.GetEventByID(id)
			require.NoError(t, err)
			assert.True(t, e.Active)
		}
	}

	t.Run("empty keep set", func(t *testing.T) {
		_, err := r.Resolve(ctx, conflict.ID, nil)
		assert.ErrorIs(t, err, ErrInvalidSelection)
		assertUntouched(t)
	})

	t.Run("keep id outside conflict", func(t *testing.T) {
		_, err := r.Resolve(ctx, conflict.ID, []string{outsider.ID})
		assert.ErrorIs(t, err, ErrInvalidSelection)
		assertUntouched(t)
	})

	t.Run("missing conflict", func(t *testing.T) {
		_, err := r.Resolve(ctx, "missing", []string{e1.ID})
		assert.ErrorIs(t, err, db.ErrNotFound)
	})
}

func TestResolveClosedConflict(t *testing.T) {
	database := setupTestDB(t)
	r := NewResolver(database)
	ctx := context.Background()

	p := createProperty(t, database, "Villa")
	conn := createConnection(t, database, p.ID, db.PlatformAirbnb, "https://a.example.com/feed.ics")
	e1 := createEvent(t, database, conn, "uid-1", day(2026, 6, 1), day(2026, 6, 10))
	e2 := createEvent(t, database, conn, "uid-2", day(2026, 6, 5), day(2026, 6, 8))
	conflict := createConflict(t, database, p.ID, e1.ID, e2.ID)

	require.NoError(t, database.UpdateConflictStatus(conflict.ID, db.ConflictIgnored))

	_, err := r.Resolve(ctx, conflict.ID, []string{e1.ID})
	assert.ErrorIs(t, err, ErrConflictClosed)

	_, err = r.AutoResolve(ctx, conflict.ID)
	assert.ErrorIs(t, err, ErrConflictClosed)
}

func TestAutoResolveKeepsLongestStay(t *testing.T) {
	database := setupTestDB(t)
	r := NewResolver(database)
	ctx := context.Background()

	p := createProperty(t, database, "Villa")
	conn := createConnection(t, database, p.ID, db.PlatformAirbnb, "https://a.example.com/feed.ics")
	short := createEvent(t, database, conn, "uid-short", day(2026, 6, 5), day(2026, 6, 8))
	long := createEvent(t, database, conn, "uid-long", day(2026, 6, 1), day(2026, 6, 10))
	conflict := createConflict(t, database, p.ID, short.ID, long.ID)

	result, err := r.AutoResolve(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, db.ResolutionAuto, result.Strategy)
	assert.Equal(t, []string{long.ID}, result.KeptIDs)
	assert.Equal(t, []string{short.ID}, result.RemovedIDs)
}

func TestChooseKeeperTieBreaks(t *testing.T) {
	base := day(2026, 6, 1)
	dur := 5 * 24 * time.Hour

	t.Run("earliest creation wins a duration tie", func(t *testing.T) {
		older := &db.CalendarEvent{ID: "z", StartDate: base, EndDate: base.Add(dur), CreatedAt: base}
		newer := &db.CalendarEvent{ID: "a", StartDate: base, EndDate: base.Add(dur), CreatedAt: base.Add(time.Hour)}
		assert.Same(t, older, chooseKeeper([]*db.CalendarEvent{newer, older}))
	})

	t.Run("smallest id wins a full tie", func(t *testing.T) {
		a := &db.CalendarEvent{ID: "a", StartDate: base, EndDate: base.Add(dur), CreatedAt: base}
		b := &db.CalendarEvent{ID: "b", StartDate: base, EndDate: base.Add(dur), CreatedAt: base}
		assert.Same(t, a, chooseKeeper([]*db.CalendarEvent{b, a}))
		assert.Same(t, a, chooseKeeper([]*db.CalendarEvent{a, b}), "order of input must not matter")
	})

	t.Run("longest duration beats earlier creation", func(t *testing.T) {
		long := &db.CalendarEvent{ID: "z", StartDate: base, EndDate: base.Add(dur + 24*time.Hour), CreatedAt: base.Add(time.Hour)}
		short := &db.CalendarEvent{ID: "a", StartDate: base, EndDate: base.Add(dur), CreatedAt: base}
		assert.Same(t, long, chooseKeeper([]*db.CalendarEvent{short, long}))
	})
}
