package db

import (
	"time"
)

// Platform identifies the booking platform publishing an iCal feed.
type Platform string

const (
	PlatformAirbnb      Platform = "airbnb"
	PlatformBooking     Platform = "booking"
	PlatformExpedia     Platform = "expedia"
	PlatformTripAdvisor Platform = "tripadvisor"
	PlatformVrbo        Platform = "vrbo"
	PlatformManual      Platform = "manual"
)

// ValidPlatforms contains all valid platform values.
var ValidPlatforms = map[Platform]bool{
	PlatformAirbnb:      true,
	PlatformBooking:     true,
	PlatformExpedia:     true,
	PlatformTripAdvisor: true,
	PlatformVrbo:        true,
	PlatformManual:      true,
}

// IsValid returns true if the platform is a known valid value.
func (p Platform) IsValid() bool {
	return ValidPlatforms[p]
}

// ConnectionStatus represents the health of a feed connection.
type ConnectionStatus string

const (
	ConnectionActive   ConnectionStatus = "active"
	ConnectionInactive ConnectionStatus = "inactive"
	ConnectionError    ConnectionStatus = "error"
	ConnectionSyncing  ConnectionStatus = "syncing"
)

// EventType classifies what a calendar event blocks the property for.
type EventType string

const (
	EventTypeBooking     EventType = "booking"
	EventTypeBlocked     EventType = "blocked"
	EventTypeMaintenance EventType = "maintenance"
)

// EventStatus mirrors the iCal STATUS of an event.
type EventStatus string

const (
	EventConfirmed EventStatus = "confirmed"
	EventCancelled EventStatus = "cancelled"
	EventTentative EventStatus = "tentative"
)

// ConflictType classifies how the member events collide.
type ConflictType string

const (
	ConflictOverlap  ConflictType = "overlap"
	ConflictAdjacent ConflictType = "adjacent"
	ConflictTurnover ConflictType = "turnover"
)

// ConflictSeverity grades a conflict for operator triage.
type ConflictSeverity string

const (
	SeverityLow    ConflictSeverity = "low"
	SeverityMedium ConflictSeverity = "medium"
	SeverityHigh   ConflictSeverity = "high"
)

// ConflictStatus represents the lifecycle state of a conflict.
type ConflictStatus string

const (
	ConflictActive       ConflictStatus = "active"
	ConflictAcknowledged ConflictStatus = "acknowledged"
	ConflictResolved     ConflictStatus = "resolved"
	ConflictIgnored      ConflictStatus = "ignored"
)

// ValidConflictStatuses contains all valid conflict status values.
var ValidConflictStatuses = map[ConflictStatus]bool{
	ConflictActive:       true,
	ConflictAcknowledged: true,
	ConflictResolved:     true,
	ConflictIgnored:      true,
}

// IsValid returns true if the conflict status is a known valid value.
func (cs ConflictStatus) IsValid() bool {
	return ValidConflictStatuses[cs]
}

// ResolutionStrategy records how a conflict was resolved.
type ResolutionStrategy string

const (
	ResolutionManual ResolutionStrategy = "manual"
	ResolutionAuto   ResolutionStrategy = "auto"
)

// Property is the anchor record connections and events hang off.
// Full property metadata lives in the property-management service; only
// what synchronization needs is kept here.
type Property struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	MinTurnoverHours int       `json:"min_turnover_hours"` // 0 = no turnover policy
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Connection links a property to one external iCal feed.
type Connection struct {
	ID               string           `json:"id"`
	PropertyID       string           `json:"property_id"`
	Platform         Platform         `json:"platform"`
	FeedURL          string           `json:"feed_url"`
	SyncFrequency    int              `json:"sync_frequency_minutes"`
	Status           ConnectionStatus `json:"status"`
	LastSynced       *time.Time       `json:"last_synced"`
	LastErrorMessage string           `json:"last_error_message,omitempty"`
	LastErrorTime    *time.Time       `json:"last_error_time,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// NextSyncDue returns when the connection should next be synced.
// A connection that has never synced is due immediately.
func (c *Connection) NextSyncDue() time.Time {
	if c.LastSynced == nil {
		return time.Time{}
	}
	return c.LastSynced.Add(time.Duration(c.SyncFrequency) * time.Minute)
}

// CalendarEvent is a normalized event reconciled from a feed.
// (connection_id, external_uid) is the natural key among active events.
type CalendarEvent struct {
	ID           string      `json:"id"`
	PropertyID   string      `json:"property_id"`
	ConnectionID string      `json:"connection_id"`
	ExternalUID  string      `json:"external_uid"`
	Platform     Platform    `json:"platform"`
	Summary      string      `json:"summary"`
	Description  string      `json:"description,omitempty"`
	StartDate    time.Time   `json:"start_date"`
	EndDate      time.Time   `json:"end_date"`
	EventType    EventType   `json:"event_type"`
	Status       EventStatus `json:"status"`
	Active       bool        `json:"active"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Duration returns the booked span of the event.
func (e *CalendarEvent) Duration() time.Duration {
	return e.EndDate.Sub(e.StartDate)
}

// Conflict is a group of >=2 events for one property whose date ranges
// overlap or violate the turnover policy. Conflicts are never silently
// deleted; resolution and ignoring keep the row for audit.
type Conflict struct {
	ID         string           `json:"id"`
	PropertyID string           `json:"property_id"`
	EventIDs   []string         `json:"event_ids"`
	Type       ConflictType     `json:"conflict_type"`
	Severity   ConflictSeverity `json:"severity"`
	Status     ConflictStatus   `json:"status"`
	DetectedAt time.Time        `json:"detected_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
	Resolution *Resolution      `json:"resolution,omitempty"`
}

// Resolution is the audit record of how a conflict was settled.
type Resolution struct {
	Strategy   ResolutionStrategy `json:"strategy"`
	KeptIDs    []string           `json:"kept_event_ids"`
	RemovedIDs []string           `json:"removed_event_ids"`
}

// SyncLog records one sync attempt for a connection.
type SyncLog struct {
	ID              string        `json:"id"`
	ConnectionID    string        `json:"connection_id"`
	Success         bool          `json:"success"`
	Message         string        `json:"message"`
	EventsSynced    int           `json:"events_synced"`
	EventsCreated   int           `json:"events_created"`
	EventsUpdated   int           `json:"events_updated"`
	EventsCancelled int           `json:"events_cancelled"`
	Duration        time.Duration `json:"duration"`
	CreatedAt       time.Time     `json:"created_at"`
}

// SyncLock is a lease serializing sync and resolution work for a property.
type SyncLock struct {
	PropertyID string    `json:"property_id"`
	Holder     string    `json:"holder"`
	LockedAt   time.Time `json:"locked_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
