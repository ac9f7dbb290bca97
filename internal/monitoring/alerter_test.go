package monitoring

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

	"github.com/tbcare/adherence-cli/internal/config"
)

func recentSnapshot() *MetricsSnapshot {
	now := time.Date(2016, 1, 21, 6, 0, 0, 0, time.UTC)
	last := now.Add(-4 * time.Hour)
	return &MetricsSnapshot{
		RunsTotal:         3,
		RunsComplete:      3,
		EpisodesProcessed: 300,
		EpisodesUpdated:   120,
		EpisodesFailed:    3,
		EpisodeFailRate:   0.01,
		LastCompleteAt:    &last,
		LookbackHours:     24,
		CollectedAt:       now,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold:        0.0,
		EpisodeFailureRateThreshold: 0.05,
		StaleAfterHours:             36,
	})

	alerts := a.Evaluate(recentSnapshot())
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_RunFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.0, EpisodeFailureRateThreshold: 0.05})

	snap := recentSnapshot()
	snap.RunsFailed = 1
	snap.RunsComplete = 3
	snap.RunFailRate = 0.25

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "25.0%")
	assert.Contains(t, alerts[0].Message, "1 failed / 4 finished")
}

func TestAlerter_Evaluate_EpisodeFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{EpisodeFailureRateThreshold: 0.05})

	snap := recentSnapshot()
	snap.EpisodesFailed = 30
	snap.EpisodeFailRate = 0.10

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertEpisodeFailureRate, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "30 of 300 episodes")
}

func TestAlerter_Evaluate_EpisodeMinimumProcessed(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{EpisodeFailureRateThreshold: 0.05})

	snap := recentSnapshot()
	snap.EpisodesProcessed = 4
	snap.EpisodesFailed = 2
	snap.EpisodeFailRate = 0.5

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_StaleUpdates(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{StaleAfterHours: 36, EpisodeFailureRateThreshold: 1})

	snap := recentSnapshot()
	old := snap.CollectedAt.Add(-48 * time.Hour)
	snap.LastCompleteAt = &old

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleUpdates, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "48.0h ago")

	snap.LastCompleteAt = nil
	alerts = a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "No update run has completed")
}

func TestAlerter_Evaluate_StaleDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{StaleAfterHours: 0, EpisodeFailureRateThreshold: 1})

	snap := recentSnapshot()
	snap.LastCompleteAt = nil
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		EpisodeFailureRateThreshold: 0.05,
		StaleAfterHours:             36,
	})

	snap := recentSnapshot()
	snap.RunsFailed = 2
	snap.RunFailRate = 0.4
	snap.EpisodeFailRate = 0.2
	snap.LastCompleteAt = nil

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertRunFailureRate])
	assert.True(t, types[AlertEpisodeFailureRate])
	assert.True(t, types[AlertStaleUpdates])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertStaleUpdates, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailureRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}
