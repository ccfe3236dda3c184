// Package daemon runs monitoring sessions for the lifetime of the process.
package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/clock"
	"github.com/eliteGoblin/focusd/face_mon/internal/usecase"
)

// SessionRunner runs one monitoring session.
type SessionRunner interface {
	Run(ctx context.Context) (*usecase.SessionResult, error)
}

// SupervisorConfig holds supervisor configuration.
type SupervisorConfig struct {
	RestartDelay time.Duration // Pause between a finished session and the next
	Once         bool          // Stop after the first session
}

// DefaultSupervisorConfig returns default supervisor configuration.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		RestartDelay: 30 * time.Second,
	}
}

// Supervisor runs sessions back to back until the context is canceled,
// a session fails to start, or (with Once) the first session ends.
type Supervisor struct {
	config SupervisorConfig
	runner SessionRunner
	clock  clock.Clock
	logger *zap.Logger

	sessions atomic.Int64
	locks    atomic.Int64
}

// NewSupervisor creates a supervisor.
func NewSupervisor(config SupervisorConfig, runner SessionRunner, clk clock.Clock, logger *zap.Logger) *Supervisor {
	if clk == nil {
		clk = clock.Real()
	}
	return &Supervisor{
		config: config,
		runner: runner,
		clock:  clk,
		logger: logger,
	}
}

// Run blocks until supervision ends. Only a session setup failure is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started",
		zap.Bool("once", s.config.Once),
		zap.Duration("restart_delay", s.config.RestartDelay))

	for {
		res, err := s.runner.Run(ctx)
		sessions := s.sessions.Add(1)
		if err != nil {
			s.logger.Error("session failed to start", zap.Int64("session", sessions), zap.Error(err))
			return err
		}
		if res != nil && res.Locked {
			s.locks.Add(1)
		}

		if ctx.Err() != nil || (res != nil && res.Canceled) {
			s.logger.Info("supervisor stopping", zap.Int64("sessions", sessions), zap.Int64("locks", s.locks.Load()))
			return nil
		}
		if s.config.Once {
			s.logger.Info("single session finished", zap.Int64("locks", s.locks.Load()))
			return nil
		}

		s.logger.Info("session ended, starting next",
			zap.Int64("sessions", sessions),
			zap.Duration("delay", s.config.RestartDelay))
		if err := clock.Sleep(ctx, s.clock, s.config.RestartDelay); err != nil {
			s.logger.Info("supervisor stopping", zap.Int64("sessions", sessions), zap.Int64("locks", s.locks.Load()))
			return nil
		}
	}
}

// Sessions returns how many sessions have run.
func (s *Supervisor) Sessions() int { return int(s.sessions.Load()) }

// Locks returns how many sessions ended in a lock.
func (s *Supervisor) Locks() int { return int(s.locks.Load()) }
