// Package platform implements the OS-specific actions the presence monitor
// needs: locking the session, nudging the idle timer and reading idle time.
//
// Each OS is a variant selected once at startup; the monitor only sees
// domain.PlatformActions.
package platform

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// ErrUnsupported is returned by variants that cannot act on this OS.
var ErrUnsupported = errors.New("not supported on this platform")

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner executes real system commands.
type ExecRunner struct{}

// Run executes a command and waits for it to complete.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Output executes a command and returns its stdout.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Factory builds a variant.
type Factory func(runner CommandRunner, logger *zap.Logger) domain.PlatformActions

// Registry holds the available action variants by ID.
type Registry struct {
	factories map[string]Factory
	runner    CommandRunner
	logger    *zap.Logger
}

// NewRegistry creates a registry with the native variant for this OS
// (registered as "native" and under runtime.GOOS) and "noop".
func NewRegistry(runner CommandRunner, logger *zap.Logger) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		runner:    runner,
		logger:    logger,
	}
	r.Register("native", newNativeActions)
	r.Register(runtime.GOOS, newNativeActions)
	r.Register("noop", func(_ CommandRunner, logger *zap.Logger) domain.PlatformActions {
		return NewNoopActions(logger)
	})
	return r
}

// Register adds or replaces a variant.
func (r *Registry) Register(id string, f Factory) {
	r.factories[id] = f
}

// Get builds the variant registered under id.
func (r *Registry) Get(id string) (domain.PlatformActions, error) {
	f, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("unknown platform variant %q (available: %s)", id, strings.Join(r.List(), ", "))
	}
	return f(r.runner, r.logger), nil
}

// List returns the registered variant IDs, sorted.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Select returns the native variant, or noop in dry-run mode.
func (r *Registry) Select(dryRun bool) domain.PlatformActions {
	id := "native"
	if dryRun {
		id = "noop"
	}
	actions, _ := r.Get(id)
	return actions
}

// NewIdleProbe returns the idle-time probe for this OS.
func NewIdleProbe(runner CommandRunner, logger *zap.Logger) domain.IdleProbe {
	return newNativeIdleProbe(runner, logger)
}

// attempt is one way of performing an action.
type attempt struct {
	name string
	run  func(ctx context.Context) error
}

// firstSuccess tries each attempt in order and stops at the first that works.
// When all fail, the joined errors are returned.
func firstSuccess(ctx context.Context, logger *zap.Logger, action string, attempts []attempt) error {
	var errs []error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := a.run(ctx)
		if err == nil {
			logger.Debug("platform action done", zap.String("action", action), zap.String("method", a.name))
			return nil
		}
		logger.Debug("platform action method failed",
			zap.String("action", action),
			zap.String("method", a.name),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", a.name, err))
	}
	return fmt.Errorf("%s failed: %w", action, errors.Join(errs...))
}

// runAttempt wraps a command as an attempt.
func runAttempt(runner CommandRunner, name string, args ...string) attempt {
	return attempt{
		name: name,
		run: func(ctx context.Context) error {
			return runner.Run(ctx, name, args...)
		},
	}
}
