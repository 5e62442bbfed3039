package quality

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/config"
)

// Checker runs periodic quality checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.QualityConfig
}

// NewChecker creates a background quality checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.QualityConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "quality.checker"))
	log.Info("starting quality checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("quality checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackHours)
	if err != nil {
		log.Error("quality: failed to collect metrics", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("quality: all targets met")
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("quality: check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}
