package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const eventColumns = `id, property_id, connection_id, external_uid, platform, summary, description,
	start_date, end_date, event_type, status, active, created_at, updated_at`

// GetEventByID returns a calendar event by its ID.
func (db *DB) GetEventByID(id string) (*CalendarEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM calendar_events WHERE id = ?`
	row := db.conn.QueryRow(query, id)

	e, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// GetEventsByIDs returns the events with the given IDs, in no particular order.
func (db *DB) GetEventsByIDs(ids []string) ([]*CalendarEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	query := `SELECT ` + eventColumns + ` FROM calendar_events WHERE id IN (` + placeholders + `)`

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return db.queryEvents(query, args...)
}

// GetActiveEventsByConnection returns all active events for a connection,
// including soft-cancelled ones, keyed for reconciliation.
func (db *DB) GetActiveEventsByConnection(connectionID string) ([]*CalendarEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM calendar_events
		WHERE connection_id = ? AND active = 1 ORDER BY start_date`
	return db.queryEvents(query, connectionID)
}

// GetActiveEventsByProperty returns the events conflict detection considers:
// active and not cancelled, across all of the property's connections.
func (db *DB) GetActiveEventsByProperty(propertyID string) ([]*CalendarEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM calendar_events
		WHERE property_id = ? AND active = 1 AND status != ? ORDER BY start_date`
	return db.queryEvents(query, propertyID, EventCancelled)
}

// CountActiveEventsByProperty returns the number of active events for a property.
func (db *DB) CountActiveEventsByProperty(propertyID string) (int, error) {
	var n int
	row := db.conn.QueryRow(`SELECT COUNT(*) FROM calendar_events WHERE property_id = ? AND active = 1`, propertyID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// ReconcileChanges is the per-connection mutation set produced by one
// reconciliation pass.
type ReconcileChanges struct {
	Create    []*CalendarEvent
	Update    []*CalendarEvent
	CancelIDs []string
}

// ApplyReconciliation applies a reconciliation pass for one connection in a
// single transaction, so a cancelled sync never leaves partial event state.
func (db *DB) ApplyReconciliation(changes *ReconcileChanges) error {
	now := time.Now().UTC()

	return db.withTx(func(tx *sql.Tx) error {
		for _, e := range changes.Create {
			if e.ID == "" {
				e.ID = uuid.New().String()
			}
			e.Active = true
			e.CreatedAt = now
			e.UpdatedAt = now

			_, err := tx.Exec(`INSERT INTO calendar_events (`+eventColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID, e.PropertyID, e.ConnectionID, e.ExternalUID, e.Platform, e.Summary, e.Description,
				e.StartDate.UTC(), e.EndDate.UTC(), e.EventType, e.Status, e.Active, e.CreatedAt, e.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert event: %w", err)
			}
		}

		for _, e := range changes.Update {
			e.UpdatedAt = now
			result, err := tx.Exec(`UPDATE calendar_events SET summary = ?, description = ?,
				start_date = ?, end_date = ?, event_type = ?, status = ?, updated_at = ? WHERE id = ?`,
				e.Summary, e.Description, e.StartDate.UTC(), e.EndDate.UTC(), e.EventType, e.Status, e.UpdatedAt, e.ID)
			if err != nil {
				return fmt.Errorf("failed to update event: %w", err)
			}
			if err := requireAffected(result); err != nil {
				return fmt.Errorf("event %s: %w", e.ID, err)
			}
		}

		for _, id := range changes.CancelIDs {
			result, err := tx.Exec(`UPDATE calendar_events SET status = ?, updated_at = ? WHERE id = ?`,
				EventCancelled, now, id)
			if err != nil {
				return fmt.Errorf("failed to cancel event: %w", err)
			}
			if err := requireAffected(result); err != nil {
				return fmt.Errorf("event %s: %w", id, err)
			}
		}

		return nil
	})
}

// DeactivateEvents soft-deletes the given events outside any resolution
// flow (operator cleanup). Resolution uses its own transactional path.
func (db *DB) DeactivateEvents(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return db.withTx(func(tx *sql.Tx) error {
		return deactivateEventsTx(tx, ids, now)
	})
}

func deactivateEventsTx(tx *sql.Tx, ids []string, now time.Time) error {
	for _, id := range ids {
		result, err := tx.Exec(`UPDATE calendar_events SET active = 0, updated_at = ? WHERE id = ?`, now, id)
		if err != nil {
			return fmt.Errorf("failed to deactivate event: %w", err)
		}
		if err := requireAffected(result); err != nil {
			return fmt.Errorf("event %s: %w", id, err)
		}
	}
	return nil
}

// queryEvents runs an event query and scans all rows.
func (db *DB) queryEvents(query string, args ...any) ([]*CalendarEvent, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func scanEvent(scan func(dest ...any) error) (*CalendarEvent, error) {
	e := &CalendarEvent{}
	var summary, description sql.NullString
	err := scan(&e.ID, &e.PropertyID, &e.ConnectionID, &e.ExternalUID, &e.Platform,
		&summary, &description, &e.StartDate, &e.EndDate, &e.EventType, &e.Status, &e.Active,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Summary = summary.String
	e.Description = description.String
	e.StartDate = e.StartDate.UTC()
	e.EndDate = e.EndDate.UTC()
	return e, nil
}
