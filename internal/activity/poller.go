package activity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/clock"
	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// Poller samples the OS idle timer and records "now - idle" as activity.
type Poller struct {
	probe    domain.IdleProbe
	tracker  *Tracker
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger

	failures int
}

// NewPoller creates an idle-time poller feeding tracker.
func NewPoller(probe domain.IdleProbe, tracker *Tracker, clk clock.Clock, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		probe:    probe,
		tracker:  tracker,
		clock:    clk,
		interval: interval,
		logger:   logger,
	}
}

// Run samples until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Debug("activity poller started", zap.Duration("interval", p.interval))
	for {
		p.Sample(ctx)
		if err := clock.Sleep(ctx, p.clock, p.interval); err != nil {
			p.logger.Debug("activity poller stopping")
			return
		}
	}
}

// Sample takes one idle reading. Only the first failure in a row is logged
// at warn level; the probe tends to fail the same way every time.
func (p *Poller) Sample(ctx context.Context) {
	idle, err := p.probe.IdleTime(ctx)
	if err != nil {
		p.failures++
		if p.failures == 1 {
			p.logger.Warn("idle time unavailable, activity gating degraded", zap.Error(err))
		} else {
			p.logger.Debug("idle time unavailable", zap.Int("failures", p.failures), zap.Error(err))
		}
		return
	}

	if p.failures > 0 {
		p.logger.Info("idle time available again", zap.Int("after_failures", p.failures))
		p.failures = 0
	}
	if idle < 0 {
		idle = 0
	}
	p.tracker.Record(p.clock.Now().Add(-idle))
}
