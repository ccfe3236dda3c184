//go:build !linux && !darwin && !windows

package platform

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// unsupportedActions fails every action.
type unsupportedActions struct{}

func newNativeActions(_ CommandRunner, logger *zap.Logger) domain.PlatformActions {
	logger.Warn("no native platform actions for this OS", zap.String("os", runtime.GOOS))
	return unsupportedActions{}
}

func (unsupportedActions) Name() string { return runtime.GOOS }

func (unsupportedActions) Lock(ctx context.Context) error { return ErrUnsupported }

func (unsupportedActions) PreventIdle(ctx context.Context) error { return ErrUnsupported }

type unsupportedIdleProbe struct{}

func newNativeIdleProbe(_ CommandRunner, _ *zap.Logger) domain.IdleProbe {
	return unsupportedIdleProbe{}
}

func (unsupportedIdleProbe) IdleTime(ctx context.Context) (time.Duration, error) {
	return 0, ErrUnsupported
}
