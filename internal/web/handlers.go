package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/staybridge/channelsync/internal/config"
	"github.com/staybridge/channelsync/internal/db"
	"github.com/staybridge/channelsync/internal/engine"
	"github.com/staybridge/channelsync/internal/feed"
	"github.com/staybridge/channelsync/internal/notify"
	"github.com/staybridge/channelsync/internal/scheduler"
	"github.com/staybridge/channelsync/internal/validator"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	cfg          *config.Config
	db           *db.DB
	fetcher      *feed.Fetcher
	validator    *validator.Validator
	orchestrator *engine.Orchestrator
	coordinator  *engine.Coordinator
	resolver     *engine.Resolver
	detector     *engine.Detector
	scheduler    *scheduler.Scheduler
	notifier     *notify.Notifier

	startedAt time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	cfg *config.Config,
	database *db.DB,
	fetcher *feed.Fetcher,
	urlValidator *validator.Validator,
	orchestrator *engine.Orchestrator,
	coordinator *engine.Coordinator,
	resolver *engine.Resolver,
	detector *engine.Detector,
	sched *scheduler.Scheduler,
	notifier *notify.Notifier,
) *Handlers {
	return &Handlers{
		cfg:          cfg,
		db:           database,
		fetcher:      fetcher,
		validator:    urlValidator,
		orchestrator: orchestrator,
		coordinator:  coordinator,
		resolver:     resolver,
		detector:     detector,
		scheduler:    sched,
		notifier:     notifier,
		startedAt:    time.Now(),
	}
}

// HealthCheck returns a health report including database reachability.
func (h *Handlers) HealthCheck(c *gin.Context) {
	status := http.StatusOK
	dbStatus := "ok"
	if err := h.db.Ping(); err != nil {
		status = http.StatusServiceUnavailable
		dbStatus = "unreachable"
	}
	c.JSON(status, gin.H{
		"status":         dbStatus,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// Liveness returns a simple liveness check.
func (h *Handlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Readiness checks all dependencies.
func (h *Handlers) Readiness(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
