package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/staybridge/channelsync/internal/db"
)

// ResolutionResult describes the outcome of resolving one conflict.
type ResolutionResult struct {
	ConflictID string                `json:"conflict_id"`
	Strategy   db.ResolutionStrategy `json:"strategy"`
	KeptIDs    []string              `json:"kept_event_ids"`
	RemovedIDs []string              `json:"removed_event_ids"`
}

// Resolver settles conflicts, either from an operator's explicit keep
// selection or automatically via a deterministic keeper rule.
type Resolver struct {
	db *db.DB
}

// NewResolver creates a new Resolver.
func NewResolver(database *db.DB) *Resolver {
	return &Resolver{db: database}
}

// Resolve settles a conflict manually: every event in keepIDs survives and
// every other event in the conflict is deactivated. keepIDs must be a
// non-empty subset of the conflict's event IDs, otherwise
// ErrInvalidSelection is returned and nothing changes.
func (r *Resolver) Resolve(ctx context.Context, conflictID string, keepIDs []string) (*ResolutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conflict, err := r.db.GetConflictByID(conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Status == db.ConflictResolved || conflict.Status == db.ConflictIgnored {
		return nil, fmt.Errorf("%w: conflict %s is %s", ErrConflictClosed, conflictID, conflict.Status)
	}

	if len(keepIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one event must be kept", ErrInvalidSelection)
	}
	member := make(map[string]bool, len(conflict.EventIDs))
	for _, id := range conflict.EventIDs {
		member[id] = true
	}
	keep := make(map[string]bool, len(keepIDs))
	for _, id := range keepIDs {
		if !member[id] {
			return nil, fmt.Errorf("%w: event %s is not part of conflict %s", ErrInvalidSelection, id, conflictID)
		}
		keep[id] = true
	}

	return r.apply(conflict, keep, db.ResolutionManual)
}

// AutoResolve settles a conflict without operator input: the event with
// the longest duration is kept and the rest are removed. Ties break on
// earliest creation time, then on smallest event ID, so repeated runs
// over the same data pick the same keeper.
func (r *Resolver) AutoResolve(ctx context.Context, conflictID string) (*ResolutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conflict, err := r.db.GetConflictByID(conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Status == db.ConflictResolved || conflict.Status == db.ConflictIgnored {
		return nil, fmt.Errorf("%w: conflict %s is %s", ErrConflictClosed, conflictID, conflict.Status)
	}

	events, err := r.db.GetEventsByIDs(conflict.EventIDs)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: conflict %s references no live events", ErrInvalidSelection, conflictID)
	}

	keeper := chooseKeeper(events)
	keep := map[string]bool{keeper.ID: true}
	return r.apply(conflict, keep, db.ResolutionAuto)
}

// apply writes the resolution: the conflict flips to resolved and every
// non-kept event is deactivated, all in one transaction.
func (r *Resolver) apply(conflict *db.Conflict, keep map[string]bool, strategy db.ResolutionStrategy) (*ResolutionResult, error) {
	keptIDs := make([]string, 0, len(keep))
	removedIDs := make([]string, 0, len(conflict.EventIDs))
	for _, id := range conflict.EventIDs {
		if keep[id] {
			keptIDs = append(keptIDs, id)
		} else {
			removedIDs = append(removedIDs, id)
		}
	}
	sort.Strings(keptIDs)
	sort.Strings(removedIDs)

	res := &db.Resolution{
		Strategy:   strategy,
		KeptIDs:    keptIDs,
		RemovedIDs: removedIDs,
	}
	if err := r.db.ResolveConflict(conflict.ID, res, time.Now().UTC()); err != nil {
		return nil, err
	}

	log.Printf("Resolved conflict %s (%s): kept %d, removed %d",
		conflict.ID, strategy, len(keptIDs), len(removedIDs))

	return &ResolutionResult{
		ConflictID: conflict.ID,
		Strategy:   strategy,
		KeptIDs:    keptIDs,
		RemovedIDs: removedIDs,
	}, nil
}

// chooseKeeper picks the auto-resolution survivor: longest duration wins,
// earliest created_at breaks duration ties, and the smallest ID breaks
// the remainder.
func chooseKeeper(events []*db.CalendarEvent) *db.CalendarEvent {
	keeper := events[0]
	for _, e := range events[1:] {
		switch {
		case e.Duration() > keeper.Duration():
			keeper = e
		case e.Duration() < keeper.Duration():
		case e.CreatedAt.Before(keeper.CreatedAt):
			keeper = e
		case keeper.CreatedAt.Before(e.CreatedAt):
		case e.ID < keeper.ID:
			keeper = e
		}
	}
	return keeper
}
