package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/staybridge/channelsync/internal/db"
)

// Detector scans a property's active events across all platforms and
// records conflict groups for overlapping or turnover-violating bookings.
type Detector struct {
	db *db.DB
	// defaultTurnover applies when a property has no turnover policy of
	// its own. Zero disables adjacency/turnover checks.
	defaultTurnover time.Duration
}

// NewDetector creates a new Detector.
func NewDetector(database *db.DB, defaultTurnover time.Duration) *Detector {
	return &Detector{
		db:              database,
		defaultTurnover: defaultTurnover,
	}
}

// Detect finds conflict groups among the property's active, non-cancelled
// events and persists the ones not already covered by an open conflict
// with the identical event set. It returns only newly created conflicts,
// so running it twice without intervening changes returns nothing the
// second time.
func (d *Detector) Detect(ctx context.Context, propertyID string) ([]*db.Conflict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	property, err := d.db.GetPropertyByID(propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load property: %w", err)
	}

	turnover := d.defaultTurnover
	if property.MinTurnoverHours > 0 {
		turnover = time.Duration(property.MinTurnoverHours) * time.Hour
	}

	events, err := d.db.GetActiveEventsByProperty(propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	groups := groupConflicts(events, turnover)

	var created []*db.Conflict
	for _, group := range groups {
		ids := make([]string, len(group))
		for i, e := range group {
			ids[i] = e.ID
		}

		key := db.ConflictEventKey(ids)
		exists, err := d.db.HasOpenConflictForKey(propertyID, key)
		if err != nil {
			return nil, err
		}
		if exists {
			// An open conflict already covers this exact group; leave it
			// untouched so operators are not re-notified.
			continue
		}

		conflict := &db.Conflict{
			PropertyID: propertyID,
			EventIDs:   ids,
			Type:       classifyGroupType(group),
			Severity:   classifyGroupSeverity(group),
			Status:     db.ConflictActive,
			DetectedAt: time.Now().UTC(),
		}
		if err := d.db.CreateConflict(conflict); err != nil {
			return nil, err
		}
		created = append(created, conflict)
		log.Printf("Detected %s conflict (%s) on property %s: %d events",
			conflict.Type, conflict.Severity, propertyID, len(ids))
	}

	return created, nil
}

// groupConflicts builds conflict groups as connected components over the
// pairwise collision graph: if A collides with B and B with C, all three
// form one group even when A and C are disjoint.
func groupConflicts(events []*db.CalendarEvent, turnover time.Duration) [][]*db.CalendarEvent {
	n := len(events)
	if n < 2 {
		return nil
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		parent[find(a)] = find(b)
	}

	conflicting := make([]bool, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if eventsCollide(events[i], events[j], turnover) {
				union(i, j)
				conflicting[i] = true
				conflicting[j] = true
			}
		}
	}

	byRoot := make(map[int][]*db.CalendarEvent)
	order := make([]int, 0)
	for i, e := range events {
		if !conflicting[i] {
			continue
		}
		root := find(i)
		if _, ok := byRoot[root]; !ok {
			order = append(order, root)
		}
		byRoot[root] = append(byRoot[root], e)
	}

	groups := make([][]*db.CalendarEvent, 0, len(order))
	for _, root := range order {
		groups = append(groups, byRoot[root])
	}
	return groups
}

// eventsCollide reports whether two events overlap or violate the
// turnover buffer.
func eventsCollide(a, b *db.CalendarEvent, turnover time.Duration) bool {
	if rangesOverlap(a, b) {
		return true
	}
	if turnover <= 0 {
		return false
	}
	gap := gapBetween(a, b)
	return gap >= 0 && gap < turnover
}

// rangesOverlap checks [start,end) interval intersection.
func rangesOverlap(a, b *db.CalendarEvent) bool {
	return a.StartDate.Before(b.EndDate) && b.StartDate.Before(a.EndDate)
}

// fullyContains reports whether a's range contains b's entirely.
func fullyContains(a, b *db.CalendarEvent) bool {
	return !a.StartDate.After(b.StartDate) && !a.EndDate.Before(b.EndDate)
}

// gapBetween returns the span between the earlier event's checkout and
// the later event's check-in. Negative when the ranges overlap.
func gapBetween(a, b *db.CalendarEvent) time.Duration {
	if a.StartDate.After(b.StartDate) {
		a, b = b, a
	}
	return b.StartDate.Sub(a.EndDate)
}

// classifyGroupType picks the dominant conflict type for a group: any
// overlapping pair makes it an overlap conflict; otherwise zero-gap pairs
// make it adjacent and everything else is a turnover violation.
func classifyGroupType(group []*db.CalendarEvent) db.ConflictType {
	adjacent := false
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			if rangesOverlap(group[i], group[j]) {
				return db.ConflictOverlap
			}
			if gapBetween(group[i], group[j]) == 0 {
				adjacent = true
			}
		}
	}
	if adjacent {
		return db.ConflictAdjacent
	}
	return db.ConflictTurnover
}

// classifyGroupSeverity grades a group: high for three or more events or
// any full containment, medium for partial overlap, low for
// adjacency/turnover-only groups.
func classifyGroupSeverity(group []*db.CalendarEvent) db.ConflictSeverity {
	if len(group) >= 3 {
		return db.SeverityHigh
	}

	overlap := false
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			a, b := group[i], group[j]
			if fullyContains(a, b) || fullyContains(b, a) {
				return db.SeverityHigh
			}
			if rangesOverlap(a, b) {
				overlap = true
			}
		}
	}
	if overlap {
		return db.SeverityMedium
	}
	return db.SeverityLow
}
