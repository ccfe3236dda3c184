package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/clock"
	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
	"github.com/eliteGoblin/focusd/face_mon/internal/usecase"
)

// mockRunner returns scripted session results.
type mockRunner struct {
	results []*usecase.SessionResult
	errs    []error
	calls   int
	onRun   func(n int)
}

func (m *mockRunner) Run(ctx context.Context) (*usecase.SessionResult, error) {
	n := m.calls
	m.calls++
	if m.onRun != nil {
		m.onRun(n)
	}
	var err error
	if n < len(m.errs) {
		err = m.errs[n]
	}
	if n < len(m.results) {
		return m.results[n], err
	}
	return &usecase.SessionResult{Locked: true}, err
}

func TestDefaultSupervisorConfig(t *testing.T) {
	cfg := DefaultSupervisorConfig()
	assert.Equal(t, 30*time.Second, cfg.RestartDelay)
	assert.False(t, cfg.Once)
}

func TestSupervisor_Once(t *testing.T) {
	runner := &mockRunner{}
	clk := clock.Fake(time.Now())
	s := NewSupervisor(SupervisorConfig{RestartDelay: time.Second, Once: true}, runner, clk, zap.NewNop())

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 1, s.Locks())
	assert.Empty(t, clk.Sleeps())
}

func TestSupervisor_RestartsUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &mockRunner{onRun: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	runner.results = []*usecase.SessionResult{{Locked: true}, {Locked: true}, {Canceled: true}}
	clk := clock.Fake(time.Now())
	s := NewSupervisor(SupervisorConfig{RestartDelay: 30 * time.Second}, runner, clk, zap.NewNop())

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 3, s.Sessions())
	assert.Equal(t, 2, s.Locks())
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, clk.Sleeps())
}

func TestSupervisor_SetupErrorStops(t *testing.T) {
	runner := &mockRunner{
		results: []*usecase.SessionResult{{Locked: true}, {}},
		errs:    []error{nil, domain.ErrNoCameras},
	}
	s := NewSupervisor(SupervisorConfig{RestartDelay: time.Second}, runner, clock.Fake(time.Now()), zap.NewNop())

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoCameras)
	assert.Equal(t, 2, runner.calls)
}

func TestSupervisor_CanceledDuringRestartDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &mockRunner{}
	s := NewSupervisor(SupervisorConfig{RestartDelay: time.Hour}, runner, clock.Real(), zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Sessions() >= 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal(errors.New("supervisor did not stop"))
	}
	assert.Equal(t, 1, runner.calls)
}
