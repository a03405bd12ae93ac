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

	"github.com/sells-group/txn-audit/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStuckFile      AlertType = "stuck_file"
	AlertFailureBacklog AlertType = "failure_backlog"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a StatusSnapshot against configured thresholds
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
// Each stuck file gets its own alert.
func (a *Alerter) Evaluate(snap *StatusSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.StuckAttempts > 0 {
		for _, f := range snap.Failures {
			if f.Attempts < a.cfg.StuckAttempts {
				continue
			}
			alerts = append(alerts, Alert{
				Type:     AlertStuckFile,
				Severity: "high",
				Message: fmt.Sprintf(
					"%s has failed %d times at stage %s: %s",
					f.Name, f.Attempts, f.Stage, f.Error,
				),
				Details: map[string]any{
					"file":     f.Name,
					"checksum": f.Checksum,
					"stage":    string(f.Stage),
					"attempts": f.Attempts,
				},
				Timestamp: now,
			})
		}
	}

	if a.cfg.FailureBacklog > 0 && snap.FailingFiles >= a.cfg.FailureBacklog {
		alerts = append(alerts, Alert{
			Type:     AlertFailureBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d input files are failing (threshold %d)",
				snap.FailingFiles, a.cfg.FailureBacklog,
			),
			Details: map[string]any{
				"failing_files": snap.FailingFiles,
				"threshold":     a.cfg.FailureBacklog,
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
