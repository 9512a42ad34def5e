package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConflictEventKey builds the canonical identity of a conflict group: the
// sorted member event IDs joined with commas. Two detections of the same
// group always produce the same key.
func ConflictEventKey(eventIDs []string) string {
	ids := make([]string, len(eventIDs))
	copy(ids, eventIDs)
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// CreateConflict creates a new conflict record.
func (db *DB) CreateConflict(c *Conflict) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = ConflictActive
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}

	eventIDs, err := json.Marshal(c.EventIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal event ids: %w", err)
	}

	query := `INSERT INTO conflicts (id, property_id, event_ids, event_key, conflict_type, severity, status, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.conn.Exec(query, c.ID, c.PropertyID, string(eventIDs), ConflictEventKey(c.EventIDs),
		c.Type, c.Severity, c.Status, c.DetectedAt)
	if err != nil {
		return fmt.Errorf("failed to create conflict: %w", err)
	}
	return nil
}

const conflictColumns = `id, property_id, event_ids, conflict_type, severity, status, detected_at, resolved_at, resolution`

// GetConflictByID returns a conflict by its ID.
func (db *DB) GetConflictByID(id string) (*Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE id = ?`
	row := db.conn.QueryRow(query, id)

	c, err := scanConflict(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return c, nil
}

// GetConflictsByProperty returns a property's conflicts, optionally
// filtered by status. Empty status means all.
func (db *DB) GetConflictsByProperty(propertyID string, status ConflictStatus) ([]*Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE property_id = ?`
	args := []any{propertyID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY detected_at DESC`
	return db.queryConflicts(query, args...)
}

// HasOpenConflictForKey reports whether an unresolved conflict already
// covers the exact same event set. Used to avoid duplicate notifications.
func (db *DB) HasOpenConflictForKey(propertyID, eventKey string) (bool, error) {
	var n int
	row := db.conn.QueryRow(`SELECT COUNT(*) FROM conflicts
		WHERE property_id = ? AND event_key = ? AND status IN (?, ?)`,
		propertyID, eventKey, ConflictActive, ConflictAcknowledged)
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check conflict key: %w", err)
	}
	return n > 0, nil
}

// UpdateConflictStatus transitions a conflict's status (acknowledge/ignore).
func (db *DB) UpdateConflictStatus(id string, status ConflictStatus) error {
	result, err := db.conn.Exec(`UPDATE conflicts SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update conflict status: %w", err)
	}
	return requireAffected(result)
}

// ResolveConflict applies a resolution atomically: losing events are
// deactivated, the conflict transitions to resolved and the audit record
// is stored. Only active or acknowledged conflicts can be resolved; any
// failure rolls the whole operation back.
func (db *DB) ResolveConflict(id string, res *Resolution, resolvedAt time.Time) error {
	resJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal resolution: %w", err)
	}

	return db.withTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`UPDATE conflicts SET status = ?, resolved_at = ?, resolution = ?
			WHERE id = ? AND status IN (?, ?)`,
			ConflictResolved, resolvedAt.UTC(), string(resJSON), id, ConflictActive, ConflictAcknowledged)
		if err != nil {
			return fmt.Errorf("failed to resolve conflict: %w", err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}
		return deactivateEventsTx(tx, res.RemovedIDs, resolvedAt.UTC())
	})
}

// DeleteConflict hard-deletes a conflict row. Member events are untouched.
func (db *DB) DeleteConflict(id string) error {
	result, err := db.conn.Exec(`DELETE FROM conflicts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conflict: %w", err)
	}
	return requireAffected(result)
}

// CountConflictsByStatus returns conflict counts per status, fleet-wide
// when propertyID is empty.
func (db *DB) CountConflictsByStatus(propertyID string) (map[ConflictStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM conflicts`
	var args []any
	if propertyID != "" {
		query += ` WHERE property_id = ?`
		args = append(args, propertyID)
	}
	query += ` GROUP BY status`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count conflicts: %w", err)
	}
	defer rows.Close()

	counts := make(map[ConflictStatus]int)
	for rows.Next() {
		var status ConflictStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan conflict count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflict counts: %w", err)
	}
	return counts, nil
}

// queryConflicts runs a conflict query and scans all rows.
func (db *DB) queryConflicts(query string, args ...any) ([]*Conflict, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*Conflict
	for rows.Next() {
		c, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return conflicts, nil
}

func scanConflict(scan func(dest ...any) error) (*Conflict, error) {
	c := &Conflict{}
	var eventIDs string
	var resolvedAt sql.NullTime
	var resolution sql.NullString

	err := scan(&c.ID, &c.PropertyID, &eventIDs, &c.Type, &c.Severity, &c.Status,
		&c.DetectedAt, &resolvedAt, &resolution)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(eventIDs), &c.EventIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event ids: %w", err)
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		c.ResolvedAt = &t
	}
	if resolution.Valid && resolution.String != "" {
		res := &Resolution{}
		if err := json.Unmarshal([]byte(resolution.String), res); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resolution: %w", err)
		}
		c.Resolution = res
	}
	c.DetectedAt = c.DetectedAt.UTC()
	return c, nil
}
