package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/underwrite-cli/internal/config"
)

// Checker runs periodic gate checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	since time.Time
	// OnAlerts, when set, receives every non-empty alert batch.
	OnAlerts func([]Alert)
}

// NewChecker creates a background gate checker. The first check looks back
// LookbackWindowHours.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	lookback := cfg.LookbackWindowHours
	if lookback <= 0 {
		lookback = 24
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		since:     time.Now().UTC().Add(-time.Duration(lookback) * time.Hour),
	}
}

// Run checks once immediately and then on every tick. It blocks until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("gate checker started", zap.Duration("interval", interval), zap.Time("since", c.since))
	defer log.Info("gate checker stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for ctx.Err() == nil {
		c.Check(ctx)
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// Check runs a single collect, evaluate and send cycle and returns the
// alerts it raised. The next check reads transitions recorded after this
// one finished collecting.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.since)
	if err != nil {
		log.Error("monitoring: failed to collect gate activity", zap.Error(err))
		return nil
	}
	c.since = time.Now().UTC()

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered", zap.Int("deals_checked", snap.DealsChecked))
		return nil
	}
	if c.OnAlerts != nil {
		c.OnAlerts(alerts)
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: gate check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
