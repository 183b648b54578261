package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertContactFailureRate AlertType = "contact_failure_rate"
	AlertFailedJobDepth     AlertType = "failed_job_depth"
	AlertCircuitOpen        AlertType = "circuit_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
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
// The failure-rate check only fires once at least five contacts have
// finished, so a single early failure does not page anyone.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.ContactsCompleted + snap.ContactsFailed
	if finished >= 5 && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertContactFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Contact failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.ContactsFailed, finished,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.ContactsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.FailedJobThreshold > 0 && snap.JobsFailed >= a.cfg.FailedJobThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailedJobDepth,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d failed job(s) awaiting requeue, threshold is %d",
				snap.JobsFailed, a.cfg.FailedJobThreshold,
			),
			Details: map[string]any{
				"failed_jobs": snap.JobsFailed,
				"threshold":   a.cfg.FailedJobThreshold,
				"queued_jobs": snap.JobsQueued,
			},
			Timestamp: now,
		})
	}

	if len(snap.OpenCircuits) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertCircuitOpen,
			Severity: "warning",
			Message: fmt.Sprintf(
				"Circuit open for: %s", strings.Join(snap.OpenCircuits, ", "),
			),
			Details: map[string]any{
				"services": snap.OpenCircuits,
			},
			Timestamp: now,
		})
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
