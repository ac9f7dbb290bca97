package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tbcare/adherence-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate     AlertType = "run_failure_rate"
	AlertEpisodeFailureRate AlertType = "episode_failure_rate"
	AlertStaleUpdates       AlertType = "stale_updates"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Whole runs failing.
	finished := snap.RunsComplete + snap.RunsFailed
	if finished > 0 && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Update run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	// Individual episodes failing inside otherwise complete runs.
	if snap.EpisodesProcessed >= 10 && snap.EpisodeFailRate > a.cfg.EpisodeFailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertEpisodeFailureRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d of %d episodes (%.1f%%) failed to update in last %dh",
				snap.EpisodesFailed, snap.EpisodesProcessed, snap.EpisodeFailRate*100, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.EpisodeFailRate,
				"threshold":    a.cfg.EpisodeFailureRateThreshold,
				"failed":       snap.EpisodesFailed,
				"processed":    snap.EpisodesProcessed,
			},
			Timestamp: now,
		})
	}

	// No successful write pass recently.
	if a.cfg.StaleAfterHours > 0 {
		age := snap.HoursSinceComplete()
		if age < 0 || age > float64(a.cfg.StaleAfterHours) {
			msg := "No update run has completed yet"
			if age >= 0 {
				msg = fmt.Sprintf("Last completed update run was %.1fh ago (threshold %dh)", age, a.cfg.StaleAfterHours)
			}
			alerts = append(alerts, Alert{
				Type:     AlertStaleUpdates,
				Severity: "high",
				Message:  msg,
				Details: map[string]any{
					"hours_since_complete": age,
					"threshold_hours":      a.cfg.StaleAfterHours,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
