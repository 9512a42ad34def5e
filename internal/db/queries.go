package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateProperty creates a new property record.
func (db *DB) CreateProperty(p *Property) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt

	query := `INSERT INTO properties (id, name, min_turnover_hours, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`
	_, err := db.conn.Exec(query, p.ID, p.Name, p.MinTurnoverHours, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create property: %w", err)
	}
	return nil
}

// GetPropertyByID returns a property by its ID.
func (db *DB) GetPropertyByID(id string) (*Property, error) {
	query := `SELECT id, name, min_turnover_hours, created_at, updated_at FROM properties WHERE id = ?`
	row := db.conn.QueryRow(query, id)

	p := &Property{}
	err := row.Scan(&p.ID, &p.Name, &p.MinTurnoverHours, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get property: %w", err)
	}
	return p, nil
}

// ListProperties returns all properties ordered by name.
func (db *DB) ListProperties() ([]*Property, error) {
	query := `SELECT id, name, min_turnover_hours, created_at, updated_at FROM properties ORDER BY name`
	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	defer rows.Close()

	var properties []*Property
	for rows.Next() {
		p := &Property{}
		if err := rows.Scan(&p.ID, &p.Name, &p.MinTurnoverHours, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		properties = append(properties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating properties: %w", err)
	}
	return properties, nil
}

// UpdateProperty updates an existing property.
func (db *DB) UpdateProperty(p *Property) error {
	p.UpdatedAt = time.Now().UTC()

	query := `UPDATE properties SET name = ?, min_turnover_hours = ?, updated_at = ? WHERE id = ?`
	result, err := db.conn.Exec(query, p.Name, p.MinTurnoverHours, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update property: %w", err)
	}
	return requireAffected(result)
}

// DeleteProperty deletes a property and, via cascade, its connections,
// events, conflicts and sync state.
func (db *DB) DeleteProperty(id string) error {
	result, err := db.conn.Exec(`DELETE FROM properties WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete property: %w", err)
	}
	return requireAffected(result)
}

// GetPropertyIDsWithConnections returns the IDs of all properties that
// have at least one connection.
func (db *DB) GetPropertyIDsWithConnections() ([]string, error) {
	rows, err := db.conn.Query(`SELECT DISTINCT property_id FROM connections`)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties with connections: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan property id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating property ids: %w", err)
	}
	return ids, nil
}

// CreateConnection creates a new feed connection.
func (db *DB) CreateConnection(c *Connection) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = ConnectionActive
	}
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt

	query := `INSERT INTO connections (id, property_id, platform, feed_url, sync_frequency, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.Exec(query, c.ID, c.PropertyID, c.Platform, c.FeedURL,
		c.SyncFrequency, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

const connectionColumns = `id, property_id, platform, feed_url, sync_frequency, status,
	last_synced, last_error_message, last_error_time, created_at, updated_at`

// GetConnectionByID returns a connection by its ID.
func (db *DB) GetConnectionByID(id string) (*Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = ?`
	return scanConnection(db.conn.QueryRow(query, id))
}

// GetConnectionsByProperty returns all connections for a property.
func (db *DB) GetConnectionsByProperty(propertyID string) ([]*Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE property_id = ? ORDER BY platform`
	return db.queryConnections(query, propertyID)
}

// GetSyncableConnections returns a property's connections that should be
// synced: everything except those explicitly disabled by an operator.
func (db *DB) GetSyncableConnections(propertyID string) ([]*Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections
		WHERE property_id = ? AND status != ? ORDER BY platform`
	return db.queryConnections(query, propertyID, ConnectionInactive)
}

// ListConnections returns all connections.
func (db *DB) ListConnections() ([]*Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections ORDER BY property_id, platform`
	return db.queryConnections(query)
}

// GetConnectionsByStatus returns connections with the given status.
// Error connections come back most-recently-failed first.
func (db *DB) GetConnectionsByStatus(status ConnectionStatus, limit int) ([]*Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE status = ?
		ORDER BY COALESCE(last_error_time, created_at) DESC LIMIT ?`
	return db.queryConnections(query, status, limit)
}

// UpdateConnection updates operator-editable connection fields.
func (db *DB) UpdateConnection(c *Connection) error {
	c.UpdatedAt = time.Now().UTC()

	query := `UPDATE connections SET platform = ?, feed_url = ?, sync_frequency = ?, status = ?, updated_at = ?
		WHERE id = ?`
	result, err := db.conn.Exec(query, c.Platform, c.FeedURL, c.SyncFrequency, c.Status, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	return requireAffected(result)
}

// MarkConnectionSyncing flags a connection as having a sync in flight.
func (db *DB) MarkConnectionSyncing(id string) error {
	now := time.Now().UTC()
	query := `UPDATE connections SET status = ?, updated_at = ? WHERE id = ?`
	result, err := db.conn.Exec(query, ConnectionSyncing, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark connection syncing: %w", err)
	}
	return requireAffected(result)
}

// MarkConnectionSynced records a successful sync: the connection returns
// to active and any previous error is cleared.
func (db *DB) MarkConnectionSynced(id string, at time.Time) error {
	query := `UPDATE connections SET status = ?, last_synced = ?, last_error_message = NULL,
		last_error_time = NULL, updated_at = ? WHERE id = ?`
	result, err := db.conn.Exec(query, ConnectionActive, at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark connection synced: %w", err)
	}
	return requireAffected(result)
}

// MarkConnectionError records a failed sync attempt. The message is kept
// until the next successful sync clears it.
func (db *DB) MarkConnectionError(id, message string, at time.Time) error {
	query := `UPDATE connections SET status = ?, last_error_message = ?, last_error_time = ?, updated_at = ?
		WHERE id = ?`
	result, err := db.conn.Exec(query, ConnectionError, message, at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark connection error: %w", err)
	}
	return requireAffected(result)
}

// DeleteConnection deletes a connection and cascades to its events and logs.
func (db *DB) DeleteConnection(id string) error {
	result, err := db.conn.Exec(`DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return requireAffected(result)
}

// CountConnectionsByStatus returns the number of connections per status.
func (db *DB) CountConnectionsByStatus() (map[ConnectionStatus]int, error) {
	rows, err := db.conn.Query(`SELECT status, COUNT(*) FROM connections GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count connections: %w", err)
	}
	defer rows.Close()

	counts := make(map[ConnectionStatus]int)
	for rows.Next() {
		var status ConnectionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan connection count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connection counts: %w", err)
	}
	return counts, nil
}

// CreateSyncLog creates a new sync log entry.
func (db *DB) CreateSyncLog(l *SyncLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.CreatedAt = time.Now().UTC()

	query := `INSERT INTO sync_logs (id, connection_id, success, message,
		events_synced, events_created, events_updated, events_cancelled, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.Exec(query, l.ID, l.ConnectionID, l.Success, l.Message,
		l.EventsSynced, l.EventsCreated, l.EventsUpdated, l.EventsCancelled,
		l.Duration.Milliseconds(), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}
	return nil
}

// GetSyncLogs returns the most recent sync logs for a connection.
func (db *DB) GetSyncLogs(connectionID string, limit int) ([]*SyncLog, error) {
	query := `SELECT id, connection_id, success, message,
		events_synced, events_created, events_updated, events_cancelled, duration_ms, created_at
		FROM sync_logs WHERE connection_id = ? ORDER BY created_at DESC LIMIT ?`

	rows, err := db.conn.Query(query, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		l := &SyncLog{}
		var msg sql.NullString
		var durationMs int64
		err := rows.Scan(&l.ID, &l.ConnectionID, &l.Success, &msg,
			&l.EventsSynced, &l.EventsCreated, &l.EventsUpdated, &l.EventsCancelled,
			&durationMs, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		l.Message = msg.String
		l.Duration = time.Duration(durationMs) * time.Millisecond
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}
	return logs, nil
}

// CountSyncLogsSince returns total and failed sync attempts since the given time.
func (db *DB) CountSyncLogsSince(since time.Time) (total, failed int, err error) {
	query := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0)
		FROM sync_logs WHERE created_at >= ?`
	row := db.conn.QueryRow(query, since.UTC())
	if err := row.Scan(&total, &failed); err != nil {
		return 0, 0, fmt.Errorf("failed to count sync logs: %w", err)
	}
	return total, failed, nil
}

// CleanOldSyncLogs deletes sync logs older than the given time.
func (db *DB) CleanOldSyncLogs(olderThan time.Time) (int64, error) {
	result, err := db.conn.Exec(`DELETE FROM sync_logs WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean old sync logs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// AcquireSyncLock takes the per-property sync lease. A live lease held by
// another holder returns ErrLocked; expired leases are stolen.
func (db *DB) AcquireSyncLock(propertyID, holder string, ttl time.Duration) error {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	return db.withTx(func(tx *sql.Tx) error {
		var existingHolder string
		var expiresAt time.Time
		row := tx.QueryRow(`SELECT holder, expires_at FROM sync_locks WHERE property_id = ?`, propertyID)
		err := row.Scan(&existingHolder, &expiresAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err := tx.Exec(`INSERT INTO sync_locks (property_id, holder, locked_at, expires_at) VALUES (?, ?, ?, ?)`,
				propertyID, holder, now, expires)
			if err != nil {
				return fmt.Errorf("failed to insert sync lock: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("failed to query sync lock: %w", err)
		}

		if existingHolder != holder && expiresAt.After(now) {
			return ErrLocked
		}

		_, err = tx.Exec(`UPDATE sync_locks SET holder = ?, locked_at = ?, expires_at = ? WHERE property_id = ?`,
			holder, now, expires, propertyID)
		if err != nil {
			return fmt.Errorf("failed to update sync lock: %w", err)
		}
		return nil
	})
}

// ReleaseSyncLock releases the lease if the caller still holds it.
func (db *DB) ReleaseSyncLock(propertyID, holder string) error {
	_, err := db.conn.Exec(`DELETE FROM sync_locks WHERE property_id = ? AND holder = ?`, propertyID, holder)
	if err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}

// queryConnections runs a connection query and scans all rows.
func (db *DB) queryConnections(query string, args ...any) ([]*Connection, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var connections []*Connection
	for rows.Next() {
		conn, err := scanConnectionFromRows(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return connections, nil
}

// scanConnection scans a single row into a Connection struct.
func scanConnection(row *sql.Row) (*Connection, error) {
	c := &Connection{}
	var lastSynced, lastErrorTime sql.NullTime
	var lastErrorMessage sql.NullString

	err := row.Scan(&c.ID, &c.PropertyID, &c.Platform, &c.FeedURL, &c.SyncFrequency, &c.Status,
		&lastSynced, &lastErrorMessage, &lastErrorTime, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	applyConnectionNulls(c, lastSynced, lastErrorMessage, lastErrorTime)
	return c, nil
}

// scanConnectionFromRows scans a row from sql.Rows into a Connection struct.
func scanConnectionFromRows(rows *sql.Rows) (*Connection, error) {
	c := &Connection{}
	var lastSynced, lastErrorTime sql.NullTime
	var lastErrorMessage sql.NullString

	err := rows.Scan(&c.ID, &c.PropertyID, &c.Platform, &c.FeedURL, &c.SyncFrequency, &c.Status,
		&lastSynced, &lastErrorMessage, &lastErrorTime, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	applyConnectionNulls(c, lastSynced, lastErrorMessage, lastErrorTime)
	return c, nil
}

func applyConnectionNulls(c *Connection, lastSynced sql.NullTime, lastErrorMessage sql.NullString, lastErrorTime sql.NullTime) {
	if lastSynced.Valid {
		t := lastSynced.Time.UTC()
		c.LastSynced = &t
	}
	c.LastErrorMessage = lastErrorMessage.String
	if lastErrorTime.Valid {
		t := lastErrorTime.Time.UTC()
		c.LastErrorTime = &t
	}
}

// requireAffected converts a zero-row update into ErrNotFound.
func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
