package platform

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// NoopActions logs instead of acting. Used for --dry-run.
type NoopActions struct {
	logger       *zap.Logger
	locks        atomic.Int64
	idlePrevents atomic.Int64
}

// NewNoopActions creates a dry-run variant.
func NewNoopActions(logger *zap.Logger) *NoopActions {
	return &NoopActions{logger: logger}
}

func (n *NoopActions) Name() string { return "noop" }

// Lock records that a lock would have happened.
func (n *NoopActions) Lock(ctx context.Context) error {
	n.locks.Add(1)
	n.logger.Info("dry-run: would lock session")
	return nil
}

// PreventIdle records that idle prevention would have happened.
func (n *NoopActions) PreventIdle(ctx context.Context) error {
	n.idlePrevents.Add(1)
	n.logger.Debug("dry-run: would prevent idle")
	return nil
}

// Locks returns how many locks were requested.
func (n *NoopActions) Locks() int64 { return n.locks.Load() }

// IdlePrevents returns how many idle preventions were requested.
func (n *NoopActions) IdlePrevents() int64 { return n.idlePrevents.Load() }

// Ensure NoopActions implements domain.PlatformActions.
var _ domain.PlatformActions = (*NoopActions)(nil)
