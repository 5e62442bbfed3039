package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/config"
	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLowGradeShare   AlertType = "low_grade_share"
	AlertHighRejectShare AlertType = "high_reject_share"
	AlertRunFailure      AlertType = "run_failure"
)

// minDriftSample is the minimum aggregated lead count before grade-share
// alerts fire.
const minDriftSample = 50

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against the configured distribution
// targets and sends alerts via webhook when they are breached.
type Alerter struct {
	cfg     config.QualityConfig
	client  *http.Client
	breaker *resilience.Breaker
}

// NewAlerter creates a new Alerter with the given quality config.
func NewAlerter(cfg config.QualityConfig) *Alerter {
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: resilience.NewBreaker("quality-webhook", 3, time.Minute),
	}
}

// Evaluate checks the snapshot against the targets and returns any alerts.
// Share comparisons match the run report: a share equal to its minimum is
// below target, a share equal to its ceiling is above it.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.LeadsIngested >= minDriftSample {
		if snap.GradeAShare <= a.cfg.MinGradeAShare {
			alerts = append(alerts, Alert{
				Type:     AlertLowGradeShare,
				Severity: "warning",
				Message: fmt.Sprintf(
					"Grade A share %.1f%% is below the %.1f%% target (%d leads, %s)",
					snap.GradeAShare*100, a.cfg.MinGradeAShare*100,
					snap.LeadsIngested, snap.window(),
				),
				Details: map[string]any{
					"grade":  string(model.GradeA),
					"share":  snap.GradeAShare,
					"target": a.cfg.MinGradeAShare,
					"leads":  snap.LeadsIngested,
				},
				Timestamp: now,
			})
		}
		if snap.GradeBShare <= a.cfg.MinGradeBShare {
			alerts = append(alerts, Alert{
				Type:     AlertLowGradeShare,
				Severity: "warning",
				Message: fmt.Sprintf(
					"Grade B share %.1f%% is below the %.1f%% target (%d leads, %s)",
					snap.GradeBShare*100, a.cfg.MinGradeBShare*100,
					snap.LeadsIngested, snap.window(),
				),
				Details: map[string]any{
					"grade":  string(model.GradeB),
					"share":  snap.GradeBShare,
					"target": a.cfg.MinGradeBShare,
					"leads":  snap.LeadsIngested,
				},
				Timestamp: now,
			})
		}
		if snap.RejectShare >= a.cfg.MaxRejectShare {
			alerts = append(alerts, Alert{
				Type:     AlertHighRejectShare,
				Severity: "high",
				Message: fmt.Sprintf(
					"Reject share %.1f%% exceeds the %.1f%% ceiling (%d leads, %s)",
					snap.RejectShare*100, a.cfg.MaxRejectShare*100,
					snap.LeadsIngested, snap.window(),
				),
				Details: map[string]any{
					"share":   snap.RejectShare,
					"ceiling": a.cfg.MaxRejectShare,
					"leads":   snap.LeadsIngested,
				},
				Timestamp: now,
			})
		}
	}

	if snap.RunsFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailure,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d pipeline run(s) failed (%s)",
				snap.RunsFailed, snap.window(),
			),
			Details: map[string]any{
				"failed_runs": snap.RunsFailed,
				"total_runs":  snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// window describes the snapshot's time span for alert messages.
func (s *MetricsSnapshot) window() string {
	if s.LookbackHours > 0 {
		return fmt.Sprintf("last %dh", s.LookbackHours)
	}
	return "latest run"
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent. A webhook endpoint
// that keeps failing trips the circuit breaker, which drops the
// remaining alerts until the cooldown passes.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := a.breaker.Execute(ctx, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if eris.Is(err, resilience.ErrCircuitOpen) {
			zap.L().Warn("quality: webhook breaker open, dropping remaining alerts",
				zap.Int("dropped", len(alerts)-sent),
			)
			break
		}
		if err != nil {
			zap.L().Error("quality: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("quality: alert sent",
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
		return eris.Wrap(err, "quality: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "quality: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "quality: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("quality: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
