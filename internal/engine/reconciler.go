package engine

import (
	"context"
	"fmt"

	"github.com/staybridge/channelsync/internal/db"
	"github.com/staybridge/channelsync/internal/feed"
)

// ReconcileResult summarizes the mutations of one reconciliation pass.
type ReconcileResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Cancelled int `json:"cancelled"`
}

// Total returns the number of events touched by the pass.
func (r ReconcileResult) Total() int {
	return r.Created + r.Updated + r.Cancelled
}

// Reconciler diffs fetched feed events against stored state for one
// connection. A feed is an authoritative snapshot: events absent from it
// are cancelled (soft), never deleted.
type Reconciler struct {
	db *db.DB
}

// NewReconciler creates a new Reconciler.
func NewReconciler(database *db.DB) *Reconciler {
	return &Reconciler{db: database}
}

// Reconcile applies one fetched snapshot to the connection's stored events.
// All writes happen in a single transaction, and running it twice with
// identical input produces zero further mutations.
func (r *Reconciler) Reconcile(ctx context.Context, conn *db.Connection, fetched []feed.Event) (ReconcileResult, error) {
	var result ReconcileResult

	if err := ctx.Err(); err != nil {
		return result, err
	}

	existing, err := r.db.GetActiveEventsByConnection(conn.ID)
	if err != nil {
		return result, fmt.Errorf("failed to load existing events: %w", err)
	}

	byUID := make(map[string]*db.CalendarEvent, len(existing))
	for _, e := range existing {
		byUID[e.ExternalUID] = e
	}

	changes := &db.ReconcileChanges{}
	seen := make(map[string]bool, len(fetched))

	for _, fe := range fetched {
		if seen[fe.UID] {
			// Duplicate UID within one snapshot; first occurrence wins.
			continue
		}
		seen[fe.UID] = true

		current, ok := byUID[fe.UID]
		if !ok {
			changes.Create = append(changes.Create, &db.CalendarEvent{
				PropertyID:   conn.PropertyID,
				ConnectionID: conn.ID,
				ExternalUID:  fe.UID,
				Platform:     conn.Platform,
				Summary:      fe.Summary,
				Description:  fe.Description,
				StartDate:    fe.Start,
				EndDate:      fe.End,
				EventType:    fe.EventType,
				Status:       fe.Status,
			})
			continue
		}

		if eventChanged(current, fe) {
			current.Summary = fe.Summary
			current.Description = fe.Description
			current.StartDate = fe.Start
			current.EndDate = fe.End
			current.EventType = fe.EventType
			current.Status = fe.Status
			changes.Update = append(changes.Update, current)
		}
	}

	// Active events no longer present in the snapshot ended or were
	// removed upstream.
	for uid, e := range byUID {
		if !seen[uid] && e.Status != db.EventCancelled {
			changes.CancelIDs = append(changes.CancelIDs, e.ID)
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	if err := r.db.ApplyReconciliation(changes); err != nil {
		return result, fmt.Errorf("failed to apply reconciliation: %w", err)
	}

	result.Created = len(changes.Create)
	result.Updated = len(changes.Update)
	result.Cancelled = len(changes.CancelIDs)
	return result, nil
}

// eventChanged reports whether the fetched event differs from the stored
// one in any reconciled field. A previously cancelled event reappearing in
// the feed is revived through the status comparison.
func eventChanged(current *db.CalendarEvent, fe feed.Event) bool {
	return !current.StartDate.Equal(fe.Start) ||
		!current.EndDate.Equal(fe.End) ||
		current.Summary != fe.Summary ||
		current.Description != fe.Description ||
		current.EventType != fe.EventType ||
		current.Status != fe.Status
}
