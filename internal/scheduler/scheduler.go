package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/staybridge/channelsync/internal/db"
	"github.com/staybridge/channelsync/internal/engine"
)

const (
	syncTimeout = 10 * time.Minute // Maximum time for a single property sync
	stopGrace   = 30 * time.Second // How long Stop waits before cancelling in-flight syncs
)

// Scheduler drives background syncs. A sweep runs every minute and syncs
// each property with at least one connection past its sync frequency; a
// daily job prunes old sync logs. Per-property serialization is handled
// by the orchestrator's lease, so an overlapping sweep just skips
// properties that are already mid-sync.
type Scheduler struct {
	db           *db.DB
	orchestrator *engine.Orchestrator
	retention    time.Duration

	cron    *cron.Cron
	mu      sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a new scheduler. retentionDays controls how long sync logs
// are kept.
func New(database *db.DB, orchestrator *engine.Orchestrator, retentionDays int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		db:           database,
		orchestrator: orchestrator,
		retention:    time.Duration(retentionDays) * 24 * time.Hour,
		cron:         cron.New(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start registers the cron jobs and begins sweeping.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if _, err := s.cron.AddFunc("* * * * *", s.sweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@daily", s.cleanupOldLogs); err != nil {
		return err
	}

	s.cron.Start()
	s.started = true
	log.Println("Scheduler started")
	return nil
}

// Stop halts the cron loop and lets in-flight syncs finish, cancelling
// them only if they outlast the grace period.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	<-cronCtx.Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		log.Println("Scheduler stop grace period elapsed, cancelling in-flight syncs")
		s.cancel()
		<-done
	}
	s.cancel()
	log.Println("Scheduler stopped")
}

// TriggerSync starts an out-of-band sync for one property in the
// background.
func (s *Scheduler) TriggerSync(propertyID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.syncProperty(propertyID)
	}()
}

// sweep finds every connection past its sync frequency and syncs the
// owning properties.
func (s *Scheduler) sweep() {
	connections, err := s.db.ListConnections()
	if err != nil {
		log.Printf("Sweep failed to list connections: %v", err)
		return
	}

	now := time.Now().UTC()
	due := make(map[string]bool)
	for _, conn := range connections {
		if conn.Status == db.ConnectionInactive || conn.Status == db.ConnectionSyncing {
			continue
		}
		if !conn.NextSyncDue().After(now) {
			due[conn.PropertyID] = true
		}
	}
	if len(due) == 0 {
		return
	}

	for propertyID := range due {
		s.wg.Add(1)
		go func(propertyID string) {
			defer s.wg.Done()
			s.syncProperty(propertyID)
		}(propertyID)
	}
}

func (s *Scheduler) syncProperty(propertyID string) {
	ctx, cancel := context.WithTimeout(s.ctx, syncTimeout)
	defer cancel()

	summary, err := s.orchestrator.SyncProperty(ctx, propertyID)
	switch {
	case errors.Is(err, engine.ErrSyncInProgress):
		log.Printf("Skipping sync for property %s - another sync is already in progress", propertyID)
	case err != nil:
		log.Printf("Scheduled sync failed for property %s: %v", propertyID, err)
	default:
		log.Printf("Scheduled sync completed for property %s: %d/%d connections ok",
			propertyID, summary.Succeeded(), len(summary.Connections))
	}
}

// cleanupOldLogs deletes sync logs older than the retention period.
func (s *Scheduler) cleanupOldLogs() {
	cutoff := time.Now().Add(-s.retention)
	deleted, err := s.db.CleanOldSyncLogs(cutoff)
	if err != nil {
		log.Printf("Failed to clean old sync logs: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Cleaned %d old sync logs", deleted)
	}
}
