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

	"github.com/sells-group/underwrite-cli/internal/config"
	"github.com/sells-group/underwrite-cli/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertGateRegression    AlertType = "gate_regression"
	AlertGateAdvance       AlertType = "gate_advance"
	AlertSourceUnavailable AlertType = "source_unavailable"
)

// Alert is one webhook payload.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	DealID    string         `json:"deal_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns a Snapshot into alerts and delivers them via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter returns an Alerter posting to cfg.WebhookURL.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns one alert per gate transition that moved into ADVANCE or
// out of ADVANCE into KILL, plus one when no deal could be refreshed.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	now := time.Now().UTC()
	var alerts []Alert
	for _, t := range snap.Transitions {
		if alert, ok := a.forTransition(t); ok {
			alert.Timestamp = now
			alerts = append(alerts, alert)
		}
	}

	if snap.DealsChecked > 0 && snap.SourceErrors == snap.DealsChecked {
		alerts = append(alerts, Alert{
			Type:     AlertSourceUnavailable,
			Severity: "high",
			Message: fmt.Sprintf("Runs could not be refreshed for any of %d deals; gate states may be stale",
				snap.DealsChecked),
			Details: map[string]any{
				"deals_checked": snap.DealsChecked,
				"source_errors": snap.SourceErrors,
			},
			Timestamp: now,
		})
	}
	return alerts
}

func (a *Alerter) forTransition(t model.GateTransition) (Alert, bool) {
	alert := Alert{
		DealID: t.DealID,
		Details: map[string]any{
			"from":   t.From,
			"to":     t.To,
			"run_id": t.RunID,
			"at":     t.CreatedAt,
		},
	}
	switch {
	case t.From == model.GateStateAdvance && t.To == model.GateStateKill:
		alert.Type, alert.Severity = AlertGateRegression, "high"
		alert.Message = fmt.Sprintf("Deal %s dropped from ADVANCE to KILL (run %s)", t.DealID, t.RunID)
	case t.To == model.GateStateAdvance && a.cfg.NotifyAdvance:
		alert.Type, alert.Severity = AlertGateAdvance, "info"
		alert.Message = fmt.Sprintf("Deal %s now clears the BOE gate (run %s)", t.DealID, t.RunID)
	default:
		return Alert{}, false
	}
	return alert, true
}

// SendAlerts posts each alert to the webhook and returns how many were
// accepted. Failures are logged and skipped.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}
	var sent int
	for _, alert := range alerts {
		log := zap.L().With(zap.String("type", string(alert.Type)), zap.String("deal_id", alert.DealID))
		if err := a.post(ctx, alert); err != nil {
			log.Error("monitoring: alert not delivered", zap.Error(err))
			continue
		}
		log.Info("monitoring: alert sent", zap.String("severity", alert.Severity))
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= http.StatusBadRequest {
		return eris.Errorf("monitoring: webhook answered %d", resp.StatusCode)
	}
	return nil
}
