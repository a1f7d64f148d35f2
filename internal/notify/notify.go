// Package notify delivers operator alerts for backup, validation, and
// failover events through configurable outbound channels.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"drguard/internal/logging"
)

// EventType categorizes operator alerts
type EventType string

const (
	EventBackupFailed      EventType = "backup_failed"
	EventValidationFailed  EventType = "validation_failed"
	EventFailoverStarted   EventType = "failover_started"
	EventFailoverCompleted EventType = "failover_completed"
	EventFailoverAborted   EventType = "failover_aborted"
	EventFailbackCompleted EventType = "failback_completed"
	EventRetentionDeletion EventType = "retention_deletion"
	EventLegalHoldChanged  EventType = "legal_hold_changed"
)

// Severity ranks alert urgency
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var severityLevels = map[Severity]int{
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityCritical: 3,
}

// Event is one operator alert
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Severity  Severity               `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Target    string                 `json:"target,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event stamped with an ID and the current time
func NewEvent(eventType EventType, severity Severity, title, message string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Channel is one outbound notification transport
type Channel interface {
	Send(ctx context.Context, event Event) error
	GetType() string
	IsEnabled() bool
}

// Filters limit which events produce notifications
type Filters struct {
	MinSeverity  Severity    `json:"min_severity" yaml:"min_severity"`
	ExcludeTypes []EventType `json:"exclude_types,omitempty" yaml:"exclude_types,omitempty"`
}

// Config configures the notifier and its channels
type Config struct {
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	Webhook  *WebhookConfig `json:"webhook,omitempty" yaml:"webhook,omitempty"`
	Slack    *SlackConfig   `json:"slack,omitempty" yaml:"slack,omitempty"`
	Filters  Filters        `json:"filters" yaml:"filters"`
	Cooldown time.Duration  `json:"cooldown" yaml:"cooldown"`
}

// Notifier fans events out to all enabled channels
type Notifier struct {
	logger   *logging.Logger
	config   Config
	channels []Channel

	mu       sync.Mutex
	lastSent map[EventType]time.Time
}

// NewNotifier creates a notifier with channels built from config
func NewNotifier(logger *logging.Logger, config Config) *Notifier {
	n := &Notifier{
		logger:   logger,
		config:   config,
		lastSent: make(map[EventType]time.Time),
	}
	if config.Webhook != nil {
		n.channels = append(n.channels, NewWebhookChannel(logger, *config.Webhook))
	}
	if config.Slack != nil {
		n.channels = append(n.channels, NewSlackChannel(logger, *config.Slack))
	}
	return n
}

// AddChannel registers an additional outbound channel
func (n *Notifier) AddChannel(ch Channel) {
	n.channels = append(n.channels, ch)
}

// Notify delivers the event through every enabled channel. Channel
// failures are logged; the call fails only if all channels fail.
func (n *Notifier) Notify(ctx context.Context, event Event) error {
	if !n.config.Enabled {
		return nil
	}
	if !n.shouldNotify(event) {
		n.logger.WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": string(event.Type),
			"severity":   string(event.Severity),
		}).Debug("Event filtered out, not sending notification")
		return nil
	}
	if n.inCooldown(event) {
		n.logger.WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": string(event.Type),
		}).Warn("Notification cooldown active, skipping")
		return nil
	}

	var failures []string
	successCount := 0
	for _, channel := range n.channels {
		if !channel.IsEnabled() {
			continue
		}
		if err := channel.Send(ctx, event); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", channel.GetType(), err))
			n.logger.WithFields(map[string]interface{}{
				"channel":  channel.GetType(),
				"event_id": event.ID,
				"error":    err.Error(),
			}).Error("Failed to send notification")
			continue
		}
		successCount++
	}

	if len(failures) > 0 && successCount == 0 {
		return fmt.Errorf("all notification channels failed: %s", strings.Join(failures, "; "))
	}

	n.mu.Lock()
	n.lastSent[event.Type] = time.Now()
	n.mu.Unlock()
	return nil
}

func (n *Notifier) shouldNotify(event Event) bool {
	if min, ok := severityLevels[n.config.Filters.MinSeverity]; ok {
		level, known := severityLevels[event.Severity]
		if !known || level < min {
			return false
		}
	}
	for _, excluded := range n.config.Filters.ExcludeTypes {
		if event.Type == excluded {
			return false
		}
	}
	return true
}

func (n *Notifier) inCooldown(event Event) bool {
	if n.config.Cooldown <= 0 {
		return false
	}
	// Critical events always go out
	if event.Severity == SeverityCritical {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.lastSent[event.Type]
	return ok && time.Since(last) < n.config.Cooldown
}

// severityColor maps severity to a display color for chat channels
func severityColor(severity Severity) string {
	switch severity {
	case SeverityCritical:
		return "#ff0000"
	case SeverityWarning:
		return "#ff9900"
	default:
		return "#36a64f"
	}
}
