package engine

import (
	"context"
	"errors"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/staybridge/channelsync/internal/db"
)

// GlobalSyncSummary aggregates one sync pass over every property that
// has connections.
type GlobalSyncSummary struct {
	StartedAt         time.Time              `json:"started_at"`
	FinishedAt        time.Time              `json:"finished_at"`
	PropertiesTotal   int                    `json:"properties_total"`
	PropertiesSynced  int                    `json:"properties_synced"`
	PropertiesSkipped int                    `json:"properties_skipped"`
	PropertiesFailed  int                    `json:"properties_failed"`
	ConflictsDetected int                    `json:"conflicts_detected"`
	Properties        []*PropertySyncSummary `json:"properties,omitempty"`
}

// UpcomingSync describes when a connection is next due.
type UpcomingSync struct {
	ConnectionID         string      `json:"connection_id"`
	PropertyID           string      `json:"property_id"`
	Platform             db.Platform `json:"platform"`
	NextSyncAt           time.Time   `json:"next_sync_at"`
	MinutesUntilNextSync int         `json:"minutes_until_next_sync"`
}

// ConnectionFailure is a recent-failure entry for the status report.
type ConnectionFailure struct {
	ConnectionID string      `json:"connection_id"`
	PropertyID   string      `json:"property_id"`
	Platform     db.Platform `json:"platform"`
	Message      string      `json:"message"`
	FailedAt     *time.Time  `json:"failed_at"`
}

// GlobalSyncStatus is a point-in-time health report across every
// connection the service manages.
type GlobalSyncStatus struct {
	TotalConnections      int                 `json:"total_connections"`
	ActiveConnections     int                 `json:"active_connections"`
	ErroredConnections    int                 `json:"errored_connections"`
	SyncingConnections    int                 `json:"syncing_connections"`
	HealthPercentage      int                 `json:"health_percentage"`
	SyncsLast24h          int                 `json:"syncs_last_24h"`
	FailuresLast24h       int                 `json:"failures_last_24h"`
	ConnectionsByPlatform map[db.Platform]int `json:"connections_by_platform"`
	RecentFailures        []ConnectionFailure `json:"recent_failures"`
	UpcomingSyncs         []UpcomingSync      `json:"upcoming_syncs"`
	LastGlobalSync        *GlobalSyncSummary  `json:"last_global_sync,omitempty"`
}

// PropertyStatus summarizes one property's calendar state.
type PropertyStatus struct {
	PropertyID       string                    `json:"property_id"`
	Connections      []*db.Connection          `json:"connections"`
	ActiveEvents     int                       `json:"active_events"`
	ConflictCounts   map[db.ConflictStatus]int `json:"conflict_counts"`
	HealthPercentage int                       `json:"health_percentage"`
	NextSyncAt       *time.Time                `json:"next_sync_at,omitempty"`
}

// Coordinator fans a global sync out over all properties with a bounded
// level of parallelism, and produces the service-wide status report.
type Coordinator struct {
	db           *db.DB
	orchestrator *Orchestrator
	maxParallel  int64

	mu          sync.Mutex
	running     bool
	lastSummary *GlobalSyncSummary
}

// NewCoordinator creates a new Coordinator. maxParallel bounds how many
// properties sync at once; values below 1 are treated as 1.
func NewCoordinator(database *db.DB, orchestrator *Orchestrator, maxParallel int64) *Coordinator {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Coordinator{
		db:           database,
		orchestrator: orchestrator,
		maxParallel:  maxParallel,
	}
}

// Running reports whether a global sync pass is currently in flight.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SyncAll syncs every property that has at least one connection. At most
// maxParallel properties run concurrently; a property whose lease is held
// elsewhere is skipped, and one property's failure never stops the rest.
// A second concurrent SyncAll returns ErrSyncInProgress.
func (c *Coordinator) SyncAll(ctx context.Context) (*GlobalSyncSummary, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	propertyIDs, err := c.db.GetPropertyIDsWithConnections()
	if err != nil {
		return nil, err
	}

	summary := &GlobalSyncSummary{
		StartedAt:       time.Now().UTC(),
		PropertiesTotal: len(propertyIDs),
		Properties:      make([]*PropertySyncSummary, 0, len(propertyIDs)),
	}

	sem := semaphore.NewWeighted(c.maxParallel)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, propertyID := range propertyIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(propertyID string) {
			defer wg.Done()
			defer sem.Release(1)

			propSummary, err := c.orchestrator.SyncProperty(ctx, propertyID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrSyncInProgress):
				summary.PropertiesSkipped++
			case err != nil:
				log.Printf("Global sync: property %s failed: %v", propertyID, err)
				summary.PropertiesFailed++
			default:
				summary.PropertiesSynced++
				summary.ConflictsDetected += propSummary.ConflictsDetected
				summary.Properties = append(summary.Properties, propSummary)
			}
		}(propertyID)
	}
	wg.Wait()

	summary.FinishedAt = time.Now().UTC()
	log.Printf("Global sync finished: %d synced, %d skipped, %d failed, %d conflicts",
		summary.PropertiesSynced, summary.PropertiesSkipped, summary.PropertiesFailed,
		summary.ConflictsDetected)

	c.mu.Lock()
	c.lastSummary = summary
	c.mu.Unlock()
	return summary, nil
}

// Status builds the service-wide health report. Pure read, no mutation.
func (c *Coordinator) Status(ctx context.Context) (*GlobalSyncStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts, err := c.db.CountConnectionsByStatus()
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}

	status := &GlobalSyncStatus{
		TotalConnections:      total,
		ActiveConnections:     counts[db.ConnectionActive],
		ErroredConnections:    counts[db.ConnectionError],
		SyncingConnections:    counts[db.ConnectionSyncing],
		HealthPercentage:      healthPercentage(counts[db.ConnectionActive], total),
		ConnectionsByPlatform: make(map[db.Platform]int),
		RecentFailures:        []ConnectionFailure{},
		UpcomingSyncs:         []UpcomingSync{},
	}

	syncs, failures, err := c.db.CountSyncLogsSince(time.Now().UTC().Add(-24 * time.Hour))
	if err != nil {
		return nil, err
	}
	status.SyncsLast24h = syncs
	status.FailuresLast24h = failures

	connections, err := c.db.ListConnections()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, conn := range connections {
		status.ConnectionsByPlatform[conn.Platform]++
		if conn.Status != db.ConnectionActive {
			continue
		}
		next := conn.NextSyncDue()
		minutes := int(math.Ceil(next.Sub(now).Minutes()))
		if minutes < 0 {
			minutes = 0 // overdue connections read as due now
		}
		status.UpcomingSyncs = append(status.UpcomingSyncs, UpcomingSync{
			ConnectionID:         conn.ID,
			PropertyID:           conn.PropertyID,
			Platform:             conn.Platform,
			NextSyncAt:           next,
			MinutesUntilNextSync: minutes,
		})
	}
	sort.Slice(status.UpcomingSyncs, func(i, j int) bool {
		return status.UpcomingSyncs[i].NextSyncAt.Before(status.UpcomingSyncs[j].NextSyncAt)
	})

	errored, err := c.db.GetConnectionsByStatus(db.ConnectionError, 10)
	if err != nil {
		return nil, err
	}
	for _, conn := range errored {
		status.RecentFailures = append(status.RecentFailures, ConnectionFailure{
			ConnectionID: conn.ID,
			PropertyID:   conn.PropertyID,
			Platform:     conn.Platform,
			Message:      conn.LastErrorMessage,
			FailedAt:     conn.LastErrorTime,
		})
	}

	c.mu.Lock()
	status.LastGlobalSync = c.lastSummary
	c.mu.Unlock()
	return status, nil
}

// PropertyStatus summarizes one property's connections, active event
// count, conflict counts, and the soonest upcoming sync.
func (c *Coordinator) PropertyStatus(ctx context.Context, propertyID string) (*PropertyStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := c.db.GetPropertyByID(propertyID); err != nil {
		return nil, err
	}

	connections, err := c.db.GetConnectionsByProperty(propertyID)
	if err != nil {
		return nil, err
	}
	events, err := c.db.CountActiveEventsByProperty(propertyID)
	if err != nil {
		return nil, err
	}
	conflicts, err := c.db.CountConflictsByStatus(propertyID)
	if err != nil {
		return nil, err
	}

	status := &PropertyStatus{
		PropertyID:     propertyID,
		Connections:    connections,
		ActiveEvents:   events,
		ConflictCounts: conflicts,
	}
	active := 0
	for _, conn := range connections {
		if conn.Status == db.ConnectionActive {
			active++
		}
		if conn.Status == db.ConnectionInactive {
			continue
		}
		next := conn.NextSyncDue()
		if status.NextSyncAt == nil || next.Before(*status.NextSyncAt) {
			n := next
			status.NextSyncAt = &n
		}
	}
	status.HealthPercentage = healthPercentage(active, len(connections))
	return status, nil
}

// healthPercentage is the share of connections in active status, rounded
// to the nearest whole percent. An empty fleet reads as 0, not 100.
func healthPercentage(active, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(active) / float64(total) * 100))
}
