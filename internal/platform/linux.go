//go:build linux

package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// busCallFunc calls a method on the session bus and returns the reply body.
type busCallFunc func(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...interface{}) ([]interface{}, error)

// sessionBusCall uses the shared session bus connection.
func sessionBusCall(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...interface{}) ([]interface{}, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	call := conn.Object(dest, path).CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		return nil, call.Err
	}
	return call.Body, nil
}

const (
	fdoScreenSaver     = "org.freedesktop.ScreenSaver"
	fdoScreenSaverPath = dbus.ObjectPath("/org/freedesktop/ScreenSaver")
	gnomeScreenSaver   = "org.gnome.ScreenSaver"
	gnomeScreenPath    = dbus.ObjectPath("/org/gnome/ScreenSaver")
	mutterIdleMonitor  = "org.gnome.Mutter.IdleMonitor"
	mutterIdlePath     = dbus.ObjectPath("/org/gnome/Mutter/IdleMonitor/Core")
)

// LinuxActions locks and nudges the session through the desktop's D-Bus
// screensaver interfaces, falling back to command line tools.
type LinuxActions struct {
	runner CommandRunner
	call   busCallFunc
	logger *zap.Logger
}

func newNativeActions(runner CommandRunner, logger *zap.Logger) domain.PlatformActions {
	return NewLinuxActions(runner, sessionBusCall, logger)
}

// NewLinuxActions creates the Linux variant with an injectable bus.
func NewLinuxActions(runner CommandRunner, call busCallFunc, logger *zap.Logger) *LinuxActions {
	return &LinuxActions{runner: runner, call: call, logger: logger}
}

func (l *LinuxActions) Name() string { return "linux" }

// Lock locks the session.
func (l *LinuxActions) Lock(ctx context.Context) error {
	return firstSuccess(ctx, l.logger, "lock", []attempt{
		l.busAttempt("dbus-freedesktop", fdoScreenSaver, fdoScreenSaverPath, fdoScreenSaver+".Lock"),
		l.busAttempt("dbus-gnome", gnomeScreenSaver, gnomeScreenPath, gnomeScreenSaver+".Lock"),
		runAttempt(l.runner, "loginctl", "lock-session"),
		runAttempt(l.runner, "xdg-screensaver", "lock"),
	})
}

// PreventIdle resets the idle timer.
func (l *LinuxActions) PreventIdle(ctx context.Context) error {
	return firstSuccess(ctx, l.logger, "prevent-idle", []attempt{
		l.busAttempt("dbus-freedesktop", fdoScreenSaver, fdoScreenSaverPath, fdoScreenSaver+".SimulateUserActivity"),
		runAttempt(l.runner, "xdg-screensaver", "reset"),
		runAttempt(l.runner, "xdotool", "key", "--clearmodifiers", "shift"),
	})
}

func (l *LinuxActions) busAttempt(name, dest string, path dbus.ObjectPath, method string) attempt {
	return attempt{
		name: name,
		run: func(ctx context.Context) error {
			_, err := l.call(ctx, dest, path, method)
			return err
		},
	}
}

// LinuxIdleProbe reads idle time from Mutter, then xprintidle.
type LinuxIdleProbe struct {
	runner CommandRunner
	call   busCallFunc
	logger *zap.Logger
}

func newNativeIdleProbe(runner CommandRunner, logger *zap.Logger) domain.IdleProbe {
	return NewLinuxIdleProbe(runner, sessionBusCall, logger)
}

// NewLinuxIdleProbe creates the Linux idle probe with an injectable bus.
func NewLinuxIdleProbe(runner CommandRunner, call busCallFunc, logger *zap.Logger) *LinuxIdleProbe {
	return &LinuxIdleProbe{runner: runner, call: call, logger: logger}
}

// IdleTime returns how long the user has been idle.
func (p *LinuxIdleProbe) IdleTime(ctx context.Context) (time.Duration, error) {
	body, busErr := p.call(ctx, mutterIdleMonitor, mutterIdlePath, mutterIdleMonitor+".GetIdletime")
	if busErr == nil {
		if len(body) == 1 {
			if ms, ok := body[0].(uint64); ok {
				return time.Duration(ms) * time.Millisecond, nil
			}
		}
		busErr = fmt.Errorf("unexpected GetIdletime reply: %v", body)
	}

	out, err := p.runner.Output(ctx, "xprintidle")
	if err != nil {
		return 0, fmt.Errorf("idle time: mutter: %v; xprintidle: %w", busErr, err)
	}
	return parseMillis(out)
}

// Ensure implementations satisfy the domain interfaces.
var (
	_ domain.PlatformActions = (*LinuxActions)(nil)
	_ domain.IdleProbe       = (*LinuxIdleProbe)(nil)
)
