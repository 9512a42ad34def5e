package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/staybridge/channelsync/internal/db"
	"github.com/staybridge/channelsync/internal/engine"
	"github.com/staybridge/channelsync/internal/feed"
	"github.com/staybridge/channelsync/internal/notify"
	"github.com/staybridge/channelsync/internal/validator"
)

// sanitizeError returns a user-safe error message without exposing internal details.
// Internal error details are logged but not returned to the client.
func sanitizeError(err error, userMessage string) string {
	if err != nil {
		log.Printf("Error: %s - Details: %v", userMessage, err)
	}
	return userMessage
}

// abortForError maps domain errors onto HTTP statuses. Anything
// unrecognized becomes a sanitized 500.
func abortForError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, engine.ErrInvalidSelection):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Sync already in progress"})
	case errors.Is(err, engine.ErrConflictClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "Conflict is already closed"})
	case errors.Is(err, feed.ErrFetch), errors.Is(err, feed.ErrParse):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, validator.ErrInvalidURL), errors.Is(err, validator.ErrPrivateIP):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, fallback)})
	}
}

// --- Properties ---

type propertyRequest struct {
	Name             string `json:"name" binding:"required"`
	MinTurnoverHours int    `json:"min_turnover_hours"`
}

// APICreateProperty creates a property.
func (h *Handlers) APICreateProperty(c *gin.Context) {
	var req propertyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.MinTurnoverHours < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_turnover_hours cannot be negative"})
		return
	}

	property := &db.Property{
		Name:             req.Name,
		MinTurnoverHours: req.MinTurnoverHours,
	}
	if err := h.db.CreateProperty(property); err != nil {
		abortForError(c, err, "Failed to create property")
		return
	}
	c.JSON(http.StatusCreated, property)
}

// APIListProperties lists all properties.
func (h *Handlers) APIListProperties(c *gin.Context) {
	properties, err := h.db.ListProperties()
	if err != nil {
		abortForError(c, err, "Failed to load properties")
		return
	}
	c.JSON(http.StatusOK, gin.H{"properties": properties})
}

// APIGetProperty returns one property.
func (h *Handlers) APIGetProperty(c *gin.Context) {
	property, err := h.db.GetPropertyByID(c.Param("id"))
	if err != nil {
		abortForError(c, err, "Failed to load property")
		return
	}
	c.JSON(http.StatusOK, property)
}

// APIUpdateProperty updates a property's name and turnover policy.
func (h *Handlers) APIUpdateProperty(c *gin.Context) {
	property, err := h.db.GetPropertyByID(c.Param("id"))
	if err != nil {
		abortForError(c, err, "Failed to load property")
		return
	}

	var req propertyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.MinTurnoverHours < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_turnover_hours cannot be negative"})
		return
	}

	property.Name = req.Name
	property.MinTurnoverHours = req.MinTurnoverHours
	if err := h.db.UpdateProperty(property); err != nil {
		abortForError(c, err, "Failed to update property")
		return
	}
	c.JSON(http.StatusOK, property)
}

// APIDeleteProperty deletes a property and everything attached to it.
func (h *Handlers) APIDeleteProperty(c *gin.Context) {
	if err := h.db.DeleteProperty(c.Param("id")); err != nil {
		abortForError(c, err, "Failed to delete property")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Property deleted"})
}

// APIPropertyStatus returns the property's connections, event count, and
// conflict breakdown.
func (h *Handlers) APIPropertyStatus(c *gin.Context) {
	status, err := h.coordinator.PropertyStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortForError(c, err, "Failed to load property status")
		return
	}
	c.JSON(http.StatusOK, status)
}

// APIPropertyEvents lists the property's active events.
func (h *Handlers) APIPropertyEvents(c *gin.Context) {
	if _, err := h.db.GetPropertyByID(c.Param("id")); err != nil {
		abortForError(c, err, "Failed to load property")
		return
	}
	events, err := h.db.GetActiveEventsByProperty(c.Param("id"))
	if err != nil {
		abortForError(c, err, "Failed to load events")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// APISyncProperty triggers a sync for one property. The sync runs in the
// background and a 202 is returned; pass ?wait=true to block until it
// finishes and receive the summary.
func (h *Handlers) APISyncProperty(c *gin.Context) {
	propertyID := c.Param("id")
	if _, err := h.db.GetPropertyByID(propertyID); err != nil {
		abortForError(c, err, "Failed to load property")
		return
	}

	if c.Query("wait") == "true" {
		summary, err := h.orchestrator.SyncProperty(c.Request.Context(), propertyID)
		if err != nil {
			abortForError(c, err, "Sync failed")
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}

	h.scheduler.TriggerSync(propertyID)
	c.JSON(http.StatusAccepted, gin.H{"message": "Sync started"})
}

// APIDetectConflicts runs conflict detection for a property on demand.
func (h *Handlers) APIDetectConflicts(c *gin.Context) {
	conflicts, err := h.detector.Detect(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortForError(c, err, "Conflict detection failed")
		return
	}
	if conflicts == nil {
		conflicts = []*db.Conflict{}
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
}

// --- Connections ---

type createConnectionRequest struct {
	PropertyID    string `json:"property_id"`
	Platform      string `json:"platform" binding:"required"`
	FeedURL       string `json:"feed_url" binding:"required"`
	SyncFrequency int    `json:"sync_frequency_minutes"`
}

type updateConnectionRequest struct {
	FeedURL       string `json:"feed_url"`
	SyncFrequency int    `json:"sync_frequency_minutes"`
	Status        string `json:"status"`
}

// APICreateConnection registers a platform feed for a property. The
// property comes from the nested route when present, or from the body.
func (h *Handlers) APICreateConnection(c *gin.Context) {
	var req createConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if propertyID := c.Param("id"); propertyID != "" {
		req.PropertyID = propertyID
	}
	if req.PropertyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "property_id is required"})
		return
	}

	platform := db.Platform(req.Platform)
	if !platform.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown platform"})
		return
	}
	if _, err := h.db.GetPropertyByID(req.PropertyID); err != nil {
		abortForError(c, err, "Failed to load property")
		return
	}
	if err := h.validator.ValidateFeedURL(req.FeedURL); err != nil {
		abortForError(c, err, "Invalid feed URL")
		return
	}

	conn := &db.Connection{
		PropertyID:    req.PropertyID,
		Platform:      platform,
		FeedURL:       validator.NormalizeFeedURL(req.FeedURL),
		SyncFrequency: h.cfg.ClampFrequency(req.SyncFrequency),
		Status:        db.ConnectionActive,
	}
	if err := h.db.CreateConnection(conn); err != nil {
		abortForError(c, err, "Failed to create connection")
		return
	}
	c.JSON(http.StatusCreated, conn)
}

// APIListConnections lists connections, filtered to one property on the
// nested route or via ?property_id.
func (h *Handlers) APIListConnections(c *gin.Context) {
	propertyID := c.Param("id")
	if propertyID == "" {
		propertyID = c.Query("property_id")
	}

	var (
		connections []*db.Connection
		err         error
	)
	if propertyID != "" {
		connections, err = h.db.GetConnectionsByProperty(propertyID)
	} else {
		connections, err = h.db.ListConnections()
	}
	if err != nil {
		abortForError(c, err, "Failed to load connections")
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": connections})
}

// APIGetConnection returns one connection.
func (h *Handlers) APIGetConnection(c *gin.Context) {
	conn, err := h.db.GetConnectionByID(c.Param("id"))
	if err != nil {
		abortForError(c, err, "Failed to load connection")
		return
	}
	c.JSON(http.StatusOK, conn)
}

// APIUpdateConnection updates a connection's feed URL, frequency, or status.
func (h *Handlers) APIUpdateConnection(c *gin.Context) {
	conn, err := h.db.GetConnectionByID(c.Param("id"))
	if err != nil {
		abortForError(c, err, "Failed to load connection")
		return
	}

	var req updateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.FeedURL != "" {
		if err := h.validator.ValidateFeedURL(req.FeedURL); err != nil {
			abortForError(c, err, "Invalid feed URL")
			return
		}
		conn.FeedURL = validator.NormalizeFeedURL(req.FeedURL)
	}
	if req.SyncFrequency > 0 {
		conn.SyncFrequency = h.cfg.ClampFrequency(req.SyncFrequency)
	}
	if req.Status != "" {
		status := db.ConnectionStatus(req.Status)
		if status != db.ConnectionActive && status != db.ConnectionInactive {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Status must be active or inactive"})
			return
		}
		conn.Status = status
	}

	if err := h.db.UpdateConnection(conn); err != nil {
		abortForError(c, err, "Failed to update connection")
		return
	}
	c.JSON(http.StatusOK, conn)
}

// APIDeleteConnection deletes a connection and deactivates its events.
func (h *Handlers) APIDeleteConnection(c *gin.Context) {
	connectionID := c.Param("id")
	if err := h.db.DeleteConnection(connectionID); err != nil {
		abortForError(c, err, "Failed to delete connection")
		return
	}
	h.notifier.ClearState(connectionID)
	c.JSON(http.StatusOK, gin.H{"message": "Connection deleted"})
}

// APITestConnection fetches the connection's feed once and reports how
// many events it contains, without touching stored data.
func (h *Handlers) APITestConnection(c *gin.Context) {
	conn, err := h.db.GetConnectionByID(c.Param("id"))
	if err != nil {
		abortForError(c, err, "Failed to load connection")
		return
	}

	count, err := h.fetcher.Test(c.Request.Context(), conn.FeedURL)
	if err != nil {
		abortForError(c, err, "Feed test failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reachable": true, "event_count": count})
}

// APITestFeedURL validates and fetches an arbitrary feed URL once,
// without creating a connection.
func (h *Handlers) APITestFeedURL(c *gin.Context) {
	var req struct {
		FeedURL string `json:"feed_url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feed_url is required"})
		return
	}
	if err := h.validator.ValidateFeedURL(req.FeedURL); err != nil {
		abortForError(c, err, "Invalid feed URL")
		return
	}

	count, err := h.fetcher.Test(c.Request.Context(), validator.NormalizeFeedURL(req.FeedURL))
	if err != nil {
		abortForError(c, err, "Feed test failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reachable": true, "event_count": count})
}

// APISyncConnection syncs a single connection and returns the result.
func (h *Handlers) APISyncConnection(c *gin.Context) {
	result, err := h.orchestrator.SyncConnection(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortForError(c, err, "Sync failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

// APIConnectionLogs returns recent sync logs for a connection.
func (h *Handlers) APIConnectionLogs(c *gin.Context) {
	if _, err := h.db.GetConnectionByID(c.Param("id")); err != nil {
		abortForError(c, err, "Failed to load connection")
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = parsed
	}

	logs, err := h.db.GetSyncLogs(c.Param("id"), limit)
	if err != nil {
		abortForError(c, err, "Failed to load sync logs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// --- Conflicts ---

// conflictID returns the conflict id from either the nested route
// (/properties/:id/conflicts/:cid) or the flat one (/conflicts/:id).
func conflictID(c *gin.Context) string {
	if cid := c.Param("cid"); cid != "" {
		return cid
	}
	return c.Param("id")
}

// APIListConflicts lists conflicts for a property, optionally filtered
// by status.
func (h *Handlers) APIListConflicts(c *gin.Context) {
	propertyID := c.Param("id")
	if propertyID == "" {
		propertyID = c.Query("property_id")
	}
	if propertyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "property_id is required"})
		return
	}

	var status db.ConflictStatus
	if s := c.Query("status"); s != "" {
		status = db.ConflictStatus(s)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown conflict status"})
			return
		}
	}

	conflicts, err := h.db.GetConflictsByProperty(propertyID, status)
	if err != nil {
		abortForError(c, err, "Failed to load conflicts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
}

// APIGetConflict returns one conflict with its events.
func (h *Handlers) APIGetConflict(c *gin.Context) {
	conflict, err := h.db.GetConflictByID(conflictID(c))
	if err != nil {
		abortForError(c, err, "Failed to load conflict")
		return
	}
	events, err := h.db.GetEventsByIDs(conflict.EventIDs)
	if err != nil {
		abortForError(c, err, "Failed to load conflict events")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflict": conflict, "events": events})
}

type resolveConflictRequest struct {
	Strategy     string   `json:"strategy"`
	KeepEventIDs []string `json:"keep_event_ids"`
}

// APIResolveConflict resolves a conflict. With strategy "auto" the
// longest event survives; otherwise keep_event_ids selects the survivors.
func (h *Handlers) APIResolveConflict(c *gin.Context) {
	var req resolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var (
		result *engine.ResolutionResult
		err    error
	)
	if req.Strategy == "auto" {
		result, err = h.resolver.AutoResolve(c.Request.Context(), conflictID(c))
	} else {
		result, err = h.resolver.Resolve(c.Request.Context(), conflictID(c), req.KeepEventIDs)
	}
	if err != nil {
		abortForError(c, err, "Failed to resolve conflict")
		return
	}
	c.JSON(http.StatusOK, result)
}

// APIAcknowledgeConflict marks a conflict as seen without resolving it.
func (h *Handlers) APIAcknowledgeConflict(c *gin.Context) {
	h.setConflictStatus(c, db.ConflictAcknowledged)
}

// APIIgnoreConflict closes a conflict without removing any events.
func (h *Handlers) APIIgnoreConflict(c *gin.Context) {
	h.setConflictStatus(c, db.ConflictIgnored)
}

func (h *Handlers) setConflictStatus(c *gin.Context, status db.ConflictStatus) {
	conflict, err := h.db.GetConflictByID(conflictID(c))
	if err != nil {
		abortForError(c, err, "Failed to load conflict")
		return
	}
	if conflict.Status == db.ConflictResolved {
		c.JSON(http.StatusConflict, gin.H{"error": "Conflict is already resolved"})
		return
	}
	if err := h.db.UpdateConflictStatus(conflict.ID, status); err != nil {
		abortForError(c, err, "Failed to update conflict")
		return
	}
	conflict.Status = status
	c.JSON(http.StatusOK, conflict)
}

// APIDeleteConflict dismisses a conflict. By default the record is kept
// for audit and marked ignored; ?preserve_history=false drops the
// conflict row itself (events are untouched either way).
func (h *Handlers) APIDeleteConflict(c *gin.Context) {
	if c.Query("preserve_history") == "false" {
		if err := h.db.DeleteConflict(conflictID(c)); err != nil {
			abortForError(c, err, "Failed to delete conflict")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Conflict deleted"})
		return
	}
	h.setConflictStatus(c, db.ConflictIgnored)
}

// --- Global sync ---

// APISyncAll triggers a sync of every property. The pass runs in the
// background and a 202 is returned; pass ?wait=true to block for the
// summary.
func (h *Handlers) APISyncAll(c *gin.Context) {
	if c.Query("wait") == "true" {
		summary, err := h.coordinator.SyncAll(c.Request.Context())
		if err != nil {
			abortForError(c, err, "Global sync failed")
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}

	if h.coordinator.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "Sync already in progress"})
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := h.coordinator.SyncAll(ctx); err != nil {
			log.Printf("Background global sync failed: %v", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"message": "Global sync started"})
}

// APISyncStatus returns the service-wide sync health report.
func (h *Handlers) APISyncStatus(c *gin.Context) {
	status, err := h.coordinator.Status(c.Request.Context())
	if err != nil {
		abortForError(c, err, "Failed to load sync status")
		return
	}
	c.JSON(http.StatusOK, status)
}

// APIDashboardStats returns dashboard statistics.
func (h *Handlers) APIDashboardStats(c *gin.Context) {
	status, err := h.coordinator.Status(c.Request.Context())
	if err != nil {
		abortForError(c, err, "Failed to load stats")
		return
	}

	properties, err := h.db.ListProperties()
	if err != nil {
		abortForError(c, err, "Failed to load properties")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_properties":  len(properties),
		"total_connections": status.TotalConnections,
		"health_percentage": status.HealthPercentage,
		"syncs_last_24h":    status.SyncsLast24h,
		"failures_last_24h": status.FailuresLast24h,
	})
}

// --- Webhooks ---

type testWebhookRequest struct {
	URL string `json:"url" binding:"required"`
}

// APITestWebhook sends a test message to a webhook URL.
func (h *Handlers) APITestWebhook(c *gin.Context) {
	var req testWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.notifier.SendTestWebhook(c.Request.Context(), req.URL); err != nil {
		if verr := notify.ValidateWebhookURL(req.URL); verr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": sanitizeError(err, "Webhook delivery failed")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Test webhook sent"})
}
