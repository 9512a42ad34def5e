package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/staybridge/channelsync/internal/config"
	"github.com/staybridge/channelsync/internal/db"
	"github.com/staybridge/channelsync/internal/feed"
)

// Notifier receives sync lifecycle events. Implementations must be safe
// for concurrent use.
type Notifier interface {
	SyncFailure(conn *db.Connection, err error)
	SyncRecovered(conn *db.Connection)
	ConflictDetected(conflict *db.Conflict)
}

// ConnectionSyncResult is the per-connection outcome of a property sync.
type ConnectionSyncResult struct {
	ConnectionID    string        `json:"connection_id"`
	Platform        db.Platform   `json:"platform"`
	Success         bool          `json:"success"`
	Error           string        `json:"error,omitempty"`
	EventsFetched   int           `json:"events_fetched"`
	EventsCreated   int           `json:"events_created"`
	EventsUpdated   int           `json:"events_updated"`
	EventsCancelled int           `json:"events_cancelled"`
	Attempts        int           `json:"attempts"`
	Duration        time.Duration `json:"duration"`
}

// PropertySyncSummary aggregates one full sync pass over a property.
type PropertySyncSummary struct {
	PropertyID            string                 `json:"property_id"`
	StartedAt             time.Time              `json:"started_at"`
	FinishedAt            time.Time              `json:"finished_at"`
	Connections           []ConnectionSyncResult `json:"connections"`
	ConflictsDetected     int                    `json:"conflicts_detected"`
	ConflictsAutoResolved int                    `json:"conflicts_auto_resolved"`
}

// Succeeded reports how many connections synced cleanly.
func (s *PropertySyncSummary) Succeeded() int {
	n := 0
	for _, c := range s.Connections {
		if c.Success {
			n++
		}
	}
	return n
}

// Orchestrator runs the full sync pipeline for a single property: fetch
// each platform feed, reconcile events, then detect and optionally
// auto-resolve conflicts. A property-level lease keeps concurrent syncs
// of the same property from interleaving.
type Orchestrator struct {
	db       *db.DB
	fetcher  *feed.Fetcher
	recon    *Reconciler
	detector *Detector
	resolver *Resolver
	cfg      config.SyncConfig
	notifier Notifier
}

// NewOrchestrator creates a new Orchestrator. notifier may be nil.
func NewOrchestrator(database *db.DB, fetcher *feed.Fetcher, cfg config.SyncConfig, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		db:       database,
		fetcher:  fetcher,
		recon:    NewReconciler(database),
		detector: NewDetector(database, time.Duration(cfg.TurnoverHours)*time.Hour),
		resolver: NewResolver(database),
		cfg:      cfg,
		notifier: notifier,
	}
}

// SyncProperty syncs every syncable connection of the property and runs
// conflict detection afterwards. Connections run concurrently; a failure
// on one never blocks the others. Returns ErrSyncInProgress when another
// sync already holds the property's lease.
func (o *Orchestrator) SyncProperty(ctx context.Context, propertyID string) (*PropertySyncSummary, error) {
	if _, err := o.db.GetPropertyByID(propertyID); err != nil {
		return nil, err
	}

	// A fresh holder per call, so two syncs of the same property through
	// the same Orchestrator contend instead of both refreshing the lease.
	holder := uuid.New().String()
	if err := o.db.AcquireSyncLock(propertyID, holder, o.cfg.LockTTL); err != nil {
		if errors.Is(err, db.ErrLocked) {
			return nil, fmt.Errorf("%w: property %s", ErrSyncInProgress, propertyID)
		}
		return nil, err
	}
	defer func() {
		if err := o.db.ReleaseSyncLock(propertyID, holder); err != nil {
			log.Printf("Warning: failed to release sync lock for property %s: %v", propertyID, err)
		}
	}()

	summary := &PropertySyncSummary{
		PropertyID: propertyID,
		StartedAt:  time.Now().UTC(),
	}

	connections, err := o.db.GetSyncableConnections(propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connections: %w", err)
	}

	results := make([]ConnectionSyncResult, len(connections))
	var wg sync.WaitGroup
	for i, conn := range connections {
		wg.Add(1)
		go func(i int, conn *db.Connection) {
			defer wg.Done()
			results[i] = o.syncConnection(ctx, conn)
		}(i, conn)
	}
	wg.Wait()
	summary.Connections = results

	if o.cfg.DetectAfterSync {
		conflicts, err := o.detector.Detect(ctx, propertyID)
		if err != nil {
			log.Printf("Warning: conflict detection failed for property %s: %v", propertyID, err)
		} else {
			summary.ConflictsDetected = len(conflicts)
			for _, c := range conflicts {
				if o.notifier != nil {
					o.notifier.ConflictDetected(c)
				}
				if o.cfg.AutoResolve {
					if _, err := o.resolver.AutoResolve(ctx, c.ID); err != nil {
						log.Printf("Warning: auto-resolve failed for conflict %s: %v", c.ID, err)
						continue
					}
					summary.ConflictsAutoResolved++
				}
			}
		}
	}

	summary.FinishedAt = time.Now().UTC()
	log.Printf("Synced property %s: %d/%d connections ok, %d conflicts detected",
		propertyID, summary.Succeeded(), len(connections), summary.ConflictsDetected)
	return summary, nil
}

// SyncConnection syncs a single connection by ID, holding the property
// lease for the duration.
func (o *Orchestrator) SyncConnection(ctx context.Context, connectionID string) (*ConnectionSyncResult, error) {
	conn, err := o.db.GetConnectionByID(connectionID)
	if err != nil {
		return nil, err
	}

	holder := uuid.New().String()
	if err := o.db.AcquireSyncLock(conn.PropertyID, holder, o.cfg.LockTTL); err != nil {
		if errors.Is(err, db.ErrLocked) {
			return nil, fmt.Errorf("%w: property %s", ErrSyncInProgress, conn.PropertyID)
		}
		return nil, err
	}
	defer func() {
		if err := o.db.ReleaseSyncLock(conn.PropertyID, holder); err != nil {
			log.Printf("Warning: failed to release sync lock for property %s: %v", conn.PropertyID, err)
		}
	}()

	result := o.syncConnection(ctx, conn)
	return &result, nil
}

func (o *Orchestrator) syncConnection(ctx context.Context, conn *db.Connection) ConnectionSyncResult {
	start := time.Now()
	result := ConnectionSyncResult{
		ConnectionID: conn.ID,
		Platform:     conn.Platform,
	}
	wasErrored := conn.Status == db.ConnectionError

	if err := o.db.MarkConnectionSyncing(conn.ID); err != nil {
		log.Printf("Warning: failed to mark connection %s syncing: %v", conn.ID, err)
	}

	events, attempts, err := o.fetchWithRetry(ctx, conn.FeedURL)
	result.Attempts = attempts
	if err != nil {
		o.recordFailure(conn, &result, err, time.Since(start))
		return result
	}
	result.EventsFetched = len(events)

	recon, err := o.recon.Reconcile(ctx, conn, events)
	if err != nil {
		o.recordFailure(conn, &result, err, time.Since(start))
		return result
	}

	result.Success = true
	result.EventsCreated = recon.Created
	result.EventsUpdated = recon.Updated
	result.EventsCancelled = recon.Cancelled
	result.Duration = time.Since(start)

	now := time.Now().UTC()
	if err := o.db.MarkConnectionSynced(conn.ID, now); err != nil {
		log.Printf("Warning: failed to mark connection %s synced: %v", conn.ID, err)
	}
	o.writeSyncLog(conn.ID, &result, fmt.Sprintf("synced %d events", len(events)))

	if wasErrored && o.notifier != nil {
		o.notifier.SyncRecovered(conn)
	}
	return result
}

// fetchWithRetry fetches the feed, retrying transient fetch failures with
// exponential backoff. Parse errors are permanent and never retried.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, feedURL string) ([]feed.Event, int, error) {
	maxAttempts := o.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
		events, err := o.fetcher.Fetch(fetchCtx, feedURL)
		cancel()
		if err == nil {
			return events, attempt, nil
		}
		lastErr = err

		if !feed.IsRetryable(err) || attempt == maxAttempts {
			return nil, attempt, err
		}

		backoff := o.cfg.BaseBackoff << (attempt - 1)
		if backoff > o.cfg.MaxBackoff {
			backoff = o.cfg.MaxBackoff
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		}
	}
	return nil, maxAttempts, lastErr
}

func (o *Orchestrator) recordFailure(conn *db.Connection, result *ConnectionSyncResult, err error, elapsed time.Duration) {
	result.Success = false
	result.Error = err.Error()
	result.Duration = elapsed

	log.Printf("Sync failed for connection %s (%s): %v", conn.ID, conn.Platform, err)
	if dbErr := o.db.MarkConnectionError(conn.ID, err.Error(), time.Now().UTC()); dbErr != nil {
		log.Printf("Warning: failed to mark connection %s errored: %v", conn.ID, dbErr)
	}
	o.writeSyncLog(conn.ID, result, err.Error())

	if o.notifier != nil {
		o.notifier.SyncFailure(conn, err)
	}
}

func (o *Orchestrator) writeSyncLog(connectionID string, result *ConnectionSyncResult, message string) {
	entry := &db.SyncLog{
		ConnectionID:    connectionID,
		Success:         result.Success,
		Message:         message,
		EventsSynced:    result.EventsFetched,
		EventsCreated:   result.EventsCreated,
		EventsUpdated:   result.EventsUpdated,
		EventsCancelled: result.EventsCancelled,
		Duration:        result.Duration,
	}
	if err := o.db.CreateSyncLog(entry); err != nil {
		log.Printf("Warning: failed to write sync log for connection %s: %v", connectionID, err)
	}
}
