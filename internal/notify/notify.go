package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/staybridge/channelsync/internal/db"
)

// AlertType represents the type of alert.
type AlertType string

const (
	AlertTypeSyncFailure AlertType = "sync_failure"
	AlertTypeRecovery    AlertType = "recovery"
	AlertTypeConflict    AlertType = "conflict"
)

// Alert represents a notification alert.
type Alert struct {
	Type       AlertType
	PropertyID string
	Subject    string
	Message    string
	Details    string
	Timestamp  time.Time
}

// Config holds notification configuration.
type Config struct {
	WebhookEnabled bool
	WebhookURL     string

	// CooldownPeriod suppresses repeat alerts for the same subject.
	CooldownPeriod time.Duration
}

// Notifier sends webhook alerts for sync failures, recoveries, and newly
// detected conflicts. Repeat failure alerts for the same connection are
// suppressed for the cooldown period; recovery clears the suppression.
type Notifier struct {
	cfg        *Config
	httpClient *http.Client

	mu             sync.Mutex
	lastAlertTimes map[string]time.Time
	failedState    map[string]bool
}

// New creates a new Notifier.
func New(cfg *Config) *Notifier {
	return &Notifier{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		lastAlertTimes: make(map[string]time.Time),
		failedState:    make(map[string]bool),
	}
}

// ValidateConfig validates the notification configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.WebhookEnabled {
		if cfg.WebhookURL == "" {
			return fmt.Errorf("webhook URL is required when webhook is enabled")
		}
		if err := validateWebhookURL(cfg.WebhookURL); err != nil {
			return fmt.Errorf("invalid webhook URL: %w", err)
		}
	}
	if cfg.CooldownPeriod < time.Minute {
		return fmt.Errorf("cooldown period must be at least 1 minute")
	}
	return nil
}

// validateWebhookURL validates that the webhook URL is safe to use.
func validateWebhookURL(webhookURL string) error {
	parsed, err := url.Parse(webhookURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	// Only allow HTTPS for webhooks (security requirement)
	if parsed.Scheme != "https" {
		return fmt.Errorf("webhook URL must use HTTPS")
	}

	// Block localhost and private IP ranges to prevent SSRF
	host := strings.ToLower(parsed.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return fmt.Errorf("webhook URL cannot point to localhost")
	}

	// Block common internal hostnames
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("webhook URL cannot point to internal hosts")
	}

	if isPrivateHost(host) {
		return fmt.Errorf("webhook URL cannot point to private IP addresses")
	}

	return nil
}

// isPrivateHost checks the RFC 1918 ranges by prefix.
func isPrivateHost(host string) bool {
	if strings.HasPrefix(host, "10.") || strings.HasPrefix(host, "192.168.") {
		return true
	}
	for i := 16; i <= 31; i++ {
		if strings.HasPrefix(host, fmt.Sprintf("172.%d.", i)) {
			return true
		}
	}
	return false
}

// IsEnabled returns true if webhook notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	return n.cfg.WebhookEnabled && n.cfg.WebhookURL != ""
}

// SyncFailure sends an alert for a failed connection sync. Repeat alerts
// for the same connection respect the cooldown period.
func (n *Notifier) SyncFailure(conn *db.Connection, syncErr error) {
	if !n.IsEnabled() {
		return
	}

	n.mu.Lock()
	if n.failedState[conn.ID] {
		lastAlert, exists := n.lastAlertTimes[conn.ID]
		if exists && time.Since(lastAlert) < n.cfg.CooldownPeriod {
			n.mu.Unlock()
			return
		}
	}
	n.failedState[conn.ID] = true
	n.lastAlertTimes[conn.ID] = time.Now()
	n.mu.Unlock()

	alert := Alert{
		Type:       AlertTypeSyncFailure,
		PropertyID: conn.PropertyID,
		Subject:    conn.ID,
		Message:    fmt.Sprintf("Sync failed for %s feed on property %s", conn.Platform, conn.PropertyID),
		Details:    syncErr.Error(),
		Timestamp:  time.Now(),
	}
	go n.send(alert)
}

// SyncRecovered sends a recovery alert for a connection that previously
// failed, and clears its cooldown state.
func (n *Notifier) SyncRecovered(conn *db.Connection) {
	n.mu.Lock()
	wasFailed := n.failedState[conn.ID]
	if wasFailed {
		delete(n.failedState, conn.ID)
		delete(n.lastAlertTimes, conn.ID)
	}
	n.mu.Unlock()

	if !wasFailed || !n.IsEnabled() {
		return
	}

	alert := Alert{
		Type:       AlertTypeRecovery,
		PropertyID: conn.PropertyID,
		Subject:    conn.ID,
		Message:    fmt.Sprintf("%s feed on property %s has recovered", conn.Platform, conn.PropertyID),
		Details:    "Connection is syncing normally again",
		Timestamp:  time.Now(),
	}
	go n.send(alert)
}

// ConflictDetected sends an alert for a newly detected booking conflict.
// Conflict alerts are never suppressed; each new conflict group fires once.
func (n *Notifier) ConflictDetected(conflict *db.Conflict) {
	if !n.IsEnabled() {
		return
	}

	alert := Alert{
		Type:       AlertTypeConflict,
		PropertyID: conflict.PropertyID,
		Subject:    conflict.ID,
		Message:    fmt.Sprintf("%s %s conflict detected on property %s", conflict.Severity, conflict.Type, conflict.PropertyID),
		Details:    fmt.Sprintf("%d events involved: %s", len(conflict.EventIDs), strings.Join(conflict.EventIDs, ", ")),
		Timestamp:  time.Now(),
	}
	go n.send(alert)
}

// ClearState drops the cooldown state for a connection (used on deletion).
func (n *Notifier) ClearState(connectionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.failedState, connectionID)
	delete(n.lastAlertTimes, connectionID)
}

// send delivers the alert to the configured webhook.
func (n *Notifier) send(alert Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := n.sendWebhookToURL(ctx, alert, n.cfg.WebhookURL); err != nil {
		log.Printf("[Notify] Webhook error: %v", err)
	}
}

// WebhookPayload is the JSON payload sent to webhooks.
type WebhookPayload struct {
	AlertType  string `json:"alert_type"`
	PropertyID string `json:"property_id"`
	Subject    string `json:"subject"`
	Message    string `json:"message"`
	Details    string `json:"details"`
	Timestamp  string `json:"timestamp"`
	// Slack-compatible fields
	Text string `json:"text,omitempty"`
}

func (n *Notifier) sendWebhookToURL(ctx context.Context, alert Alert, webhookURL string) error {
	emoji := ""
	switch alert.Type {
	case AlertTypeSyncFailure:
		emoji = ":x:"
	case AlertTypeRecovery:
		emoji = ":white_check_mark:"
	case AlertTypeConflict:
		emoji = ":warning:"
	}

	payload := WebhookPayload{
		AlertType:  string(alert.Type),
		PropertyID: alert.PropertyID,
		Subject:    alert.Subject,
		Message:    alert.Message,
		Details:    alert.Details,
		Timestamp:  alert.Timestamp.Format(time.RFC3339),
		Text:       fmt.Sprintf("%s *%s*\n%s", emoji, alert.Message, alert.Details),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	log.Printf("[Notify] Webhook sent: %s", alert.Message)
	return nil
}

// SendTestWebhook sends a test message to a webhook URL.
func (n *Notifier) SendTestWebhook(ctx context.Context, webhookURL string) error {
	if err := validateWebhookURL(webhookURL); err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}

	alert := Alert{
		Type:      "test",
		Subject:   "test",
		Message:   "Test webhook from ChannelSync",
		Details:   "This is a test message to verify your webhook configuration",
		Timestamp: time.Now(),
	}
	return n.sendWebhookToURL(ctx, alert, webhookURL)
}

// ValidateWebhookURL validates that a webhook URL is safe to use (exported for API use).
func ValidateWebhookURL(webhookURL string) error {
	return validateWebhookURL(webhookURL)
}
