//go:build darwin

package platform

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// DarwinActions uses the stock macOS command line tools.
type DarwinActions struct {
	runner CommandRunner
	logger *zap.Logger
}

func newNativeActions(runner CommandRunner, logger *zap.Logger) domain.PlatformActions {
	return NewDarwinActions(runner, logger)
}

// NewDarwinActions creates the macOS variant.
func NewDarwinActions(runner CommandRunner, logger *zap.Logger) *DarwinActions {
	return &DarwinActions{runner: runner, logger: logger}
}

func (d *DarwinActions) Name() string { return "darwin" }

// Lock locks the session. Ctrl+Cmd+Q is the system lock shortcut.
func (d *DarwinActions) Lock(ctx context.Context) error {
	return firstSuccess(ctx, d.logger, "lock", []attempt{
		runAttempt(d.runner, "osascript", "-e",
			`tell application "System Events" to keystroke "q" using {control down, command down}`),
		runAttempt(d.runner, "pmset", "displaysleepnow"),
	})
}

// PreventIdle declares user activity for one second.
func (d *DarwinActions) PreventIdle(ctx context.Context) error {
	return firstSuccess(ctx, d.logger, "prevent-idle", []attempt{
		runAttempt(d.runner, "caffeinate", "-u", "-t", "1"),
	})
}

// DarwinIdleProbe reads HIDIdleTime from ioreg.
type DarwinIdleProbe struct {
	runner CommandRunner
}

func newNativeIdleProbe(runner CommandRunner, _ *zap.Logger) domain.IdleProbe {
	return &DarwinIdleProbe{runner: runner}
}

// IdleTime returns how long the user has been idle.
func (p *DarwinIdleProbe) IdleTime(ctx context.Context) (time.Duration, error) {
	out, err := p.runner.Output(ctx, "ioreg", "-c", "IOHIDSystem")
	if err != nil {
		return 0, fmt.Errorf("ioreg: %w", err)
	}
	return parseHIDIdleTime(out)
}

var (
	_ domain.PlatformActions = (*DarwinActions)(nil)
	_ domain.IdleProbe       = (*DarwinIdleProbe)(nil)
)
