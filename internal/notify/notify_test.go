package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drguard/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewDefaultLogger()
}

func TestWebhookChannelSend(t *testing.T) {
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewWebhookChannel(testLogger(), WebhookConfig{URL: server.URL})
	event := NewEvent(EventBackupFailed, SeverityCritical, "Backup failed", "full backup could not be uploaded")

	require.NoError(t, channel.Send(context.Background(), event))
	assert.Equal(t, EventBackupFailed, received.Type)
	assert.Equal(t, event.ID, received.ID)
}

func TestWebhookChannelErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	channel := NewWebhookChannel(testLogger(), WebhookConfig{URL: server.URL})
	err := channel.Send(context.Background(), NewEvent(EventBackupFailed, SeverityCritical, "t", "m"))
	assert.Error(t, err)
}

func TestSlackChannelSend(t *testing.T) {
	var payload slackPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewSlackChannel(testLogger(), SlackConfig{WebhookURL: server.URL, Channel: "#dr-alerts"})
	event := NewEvent(EventFailoverCompleted, SeverityWarning, "Failover completed", "traffic moved")
	event.Target = "us-west-2"
	event.Reason = "primary unhealthy"

	require.NoError(t, channel.Send(context.Background(), event))
	require.Len(t, payload.Attachments, 1)
	assert.Equal(t, "#dr-alerts", payload.Channel)
	assert.Equal(t, "Failover completed", payload.Attachments[0].Title)
	assert.Contains(t, payload.Attachments[0].Text, "us-west-2")
}

func TestNotifierSeverityFilter(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewNotifier(testLogger(), Config{
		Enabled: true,
		Webhook: &WebhookConfig{URL: server.URL},
		Filters: Filters{MinSeverity: SeverityWarning},
	})
	ctx := context.Background()

	require.NoError(t, notifier.Notify(ctx, NewEvent(EventRetentionDeletion, SeverityInfo, "deleted", "")))
	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))

	require.NoError(t, notifier.Notify(ctx, NewEvent(EventBackupFailed, SeverityCritical, "failed", "")))
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestNotifierDisabled(t *testing.T) {
	notifier := NewNotifier(testLogger(), Config{Enabled: false})
	err := notifier.Notify(context.Background(), NewEvent(EventBackupFailed, SeverityCritical, "t", "m"))
	assert.NoError(t, err)
}

func TestNotifierCooldownSkipsRepeats(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewNotifier(testLogger(), Config{
		Enabled:  true,
		Webhook:  &WebhookConfig{URL: server.URL},
		Cooldown: time.Hour,
	})
	ctx := context.Background()

	require.NoError(t, notifier.Notify(ctx, NewEvent(EventValidationFailed, SeverityWarning, "first", "")))
	require.NoError(t, notifier.Notify(ctx, NewEvent(EventValidationFailed, SeverityWarning, "repeat", "")))
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	// Critical events bypass the cooldown
	require.NoError(t, notifier.Notify(ctx, NewEvent(EventValidationFailed, SeverityCritical, "urgent", "")))
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}
