// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/clock"
	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// MonitorConfig holds the thresholds and timings of a monitoring session.
type MonitorConfig struct {
	CheckInterval            time.Duration // Wait after a matching tick
	RetryDelay               time.Duration // Wait after a mismatching tick
	PacingDelay              time.Duration // Extra wait after every tick that did not lock
	MaxConsecutiveMismatches int
	IdleThreshold            time.Duration // Idle longer than this on a match triggers PreventIdle
	Tolerance                float64
	StartupRefresh           bool          // Confirm and refresh a stored reference at startup
	RefreshInterval          time.Duration // Refresh the reference when older than this; 0 disables
	CooldownWindow           time.Duration
	CooldownDuration         time.Duration
}

// DefaultMonitorConfig returns the default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CheckInterval:            12 * time.Second,
		RetryDelay:               3 * time.Second,
		PacingDelay:              2 * time.Second,
		MaxConsecutiveMismatches: 3,
		IdleThreshold:            10 * time.Second,
		Tolerance:                1.0,
		StartupRefresh:           true,
		CooldownWindow:           time.Minute,
		CooldownDuration:         3 * time.Minute,
	}
}

// MonitorDeps are the collaborators of a PresenceMonitor.
type MonitorDeps struct {
	Cameras  domain.CameraPool
	Matcher  domain.FaceMatcher
	Store    domain.ReferenceStore
	Actions  domain.PlatformActions
	Activity domain.ActivitySource
	History  domain.LockHistory // Optional
	Window   *LockWindow        // Shared across sessions; created if nil
	Clock    clock.Clock        // Real clock if nil
}

// TickResult describes one monitoring tick.
type TickResult struct {
	Matched       bool
	Locked        bool
	Canceled      bool
	IdlePrevented bool
	Refreshed     bool
	Wait          time.Duration // Wait before pacing; zero when locked or canceled
	Event         *domain.LockEvent
}

// SessionResult describes a finished monitoring session.
type SessionResult struct {
	SessionID  string
	Ticks      int
	Locked     bool
	CooledDown bool
	Canceled   bool
	Event      *domain.LockEvent
}

// PresenceMonitor runs the face presence state machine:
// awaiting reference, monitoring, locked/cooldown, terminated.
type PresenceMonitor struct {
	config MonitorConfig
	deps   MonitorDeps
	clock  clock.Clock
	window *LockWindow
	logger *zap.Logger

	mu           sync.Mutex
	sessionID    string
	phase        domain.State
	mismatches   int
	screenLocked bool
}

// NewPresenceMonitor creates a monitor.
func NewPresenceMonitor(config MonitorConfig, deps MonitorDeps, logger *zap.Logger) *PresenceMonitor {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	window := deps.Window
	if window == nil {
		window = NewLockWindow(3)
	}
	return &PresenceMonitor{
		config: config,
		deps:   deps,
		clock:  clk,
		window: window,
		logger: logger,
		phase:  domain.StateTerminated,
	}
}

// Window returns the lock window.
func (m *PresenceMonitor) Window() *LockWindow {
	return m.window
}

// Snapshot returns the current state.
func (m *PresenceMonitor) Snapshot() domain.MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last time.Time
	if m.deps.Activity != nil {
		last = m.deps.Activity.LastActivity()
	}
	return domain.MonitorState{
		Phase:         m.phase,
		MismatchCount: m.mismatches,
		ScreenLocked:  m.screenLocked,
		LockTimes:     m.window.Times(),
		LastActivity:  last,
	}
}

// Run executes one session until it locks, is canceled or fails to set up.
// Only setup failures are returned as errors; cancellation is a clean end.
func (m *PresenceMonitor) Run(ctx context.Context) (*SessionResult, error) {
	sessionID := uuid.NewString()
	m.mu.Lock()
	m.sessionID = sessionID
	m.mismatches = 0
	m.screenLocked = false
	m.mu.Unlock()

	logger := m.logger.With(zap.String("session", sessionID))
	res := &SessionResult{SessionID: sessionID}
	defer m.setPhase(domain.StateTerminated)

	m.setPhase(domain.StateAwaitingReference)
	if err := m.awaitReference(ctx, logger); err != nil {
		if ctx.Err() != nil {
			res.Canceled = true
			return res, nil
		}
		logger.Error("monitoring session could not start", zap.Error(err))
		return res, err
	}

	m.setPhase(domain.StateMonitoring)
	logger.Info("monitoring started",
		zap.Duration("check_interval", m.config.CheckInterval),
		zap.Int("max_mismatches", m.config.MaxConsecutiveMismatches))

	for {
		tr := m.Tick(ctx)
		if tr.Canceled {
			res.Canceled = true
			logger.Info("monitoring stopped")
			return res, nil
		}
		res.Ticks++
		if tr.Locked {
			res.Locked = true
			res.Event = tr.Event
			break
		}
		if err := clock.Sleep(ctx, m.clock, tr.Wait); err != nil {
			res.Canceled = true
			return res, nil
		}
		if err := clock.Sleep(ctx, m.clock, m.config.PacingDelay); err != nil {
			res.Canceled = true
			return res, nil
		}
	}

	m.setPhase(domain.StateLockedCooldown)
	cooled, err := m.coolDown(ctx, logger)
	res.CooledDown = cooled
	if err != nil {
		res.Canceled = true
	}
	logger.Info("monitoring session ended", zap.Int("ticks", res.Ticks), zap.Bool("cooled_down", cooled))
	return res, nil
}

// Enroll captures a fresh reference and persists it, replacing any stored one.
func (m *PresenceMonitor) Enroll(ctx context.Context) (*domain.ReferenceIdentity, error) {
	if err := m.deps.Store.Prepare(); err != nil {
		return nil, fmt.Errorf("prepare reference directory: %w", err)
	}
	if _, err := m.deps.Cameras.Enumerate(ctx); err != nil {
		return nil, fmt.Errorf("enumerate cameras: %w", err)
	}
	return m.enroll(ctx, m.logger)
}

// Tick performs one capture-and-compare step. Capture and match errors count
// as a mismatch; a canceled context is reported without counting.
func (m *PresenceMonitor) Tick(ctx context.Context) TickResult {
	matched := m.checkPresence(ctx)
	if ctx.Err() != nil {
		return TickResult{Canceled: true}
	}
	if !matched {
		return m.onMismatch(ctx)
	}
	return m.onMatch(ctx)
}

func (m *PresenceMonitor) checkPresence(ctx context.Context) bool {
	frame, err := m.deps.Cameras.Capture(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("capture failed, counting as mismatch", zap.Error(err))
		}
		return false
	}

	matched, err := m.deps.Matcher.Match(ctx, frame, m.deps.Store.Current(), m.config.Tolerance)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("face match failed, counting as mismatch", zap.Int("camera", frame.Camera), zap.Error(err))
		}
		return false
	}
	return matched
}

func (m *PresenceMonitor) onMismatch(ctx context.Context) TickResult {
	m.mu.Lock()
	m.mismatches++
	count := m.mismatches
	m.mu.Unlock()

	m.logger.Info("face not recognized", zap.Int("mismatches", count))
	if count >= m.config.MaxConsecutiveMismatches {
		event := m.lock(ctx, count)
		return TickResult{Locked: true, Event: event}
	}
	return TickResult{Wait: m.config.RetryDelay}
}

func (m *PresenceMonitor) onMatch(ctx context.Context) TickResult {
	m.mu.Lock()
	if m.mismatches > 0 {
		m.logger.Info("face recognized again", zap.Int("cleared_mismatches", m.mismatches))
	}
	m.mismatches = 0
	m.mu.Unlock()

	res := TickResult{Matched: true, Wait: m.config.CheckInterval}
	now := m.clock.Now()

	if m.deps.Activity != nil {
		idle := now.Sub(m.deps.Activity.LastActivity())
		if idle > m.config.IdleThreshold {
			if err := m.deps.Actions.PreventIdle(ctx); err != nil {
				m.logger.Warn("failed to prevent idle", zap.Error(err))
			} else {
				m.logger.Debug("idle prevented", zap.Duration("idle", idle))
			}
			res.IdlePrevented = true
		}
	}

	if m.config.RefreshInterval > 0 {
		if ref := m.deps.Store.Current(); ref != nil && now.Sub(ref.CreatedAt) >= m.config.RefreshInterval {
			res.Refreshed = m.refresh(ctx, m.logger)
		}
	}
	return res
}

func (m *PresenceMonitor) lock(ctx context.Context, mismatches int) *domain.LockEvent {
	if err := m.deps.Actions.Lock(ctx); err != nil {
		m.logger.Warn("failed to lock session", zap.String("platform", m.deps.Actions.Name()), zap.Error(err))
	}

	now := m.clock.Now()
	m.mu.Lock()
	m.screenLocked = true
	sessionID := m.sessionID
	m.mu.Unlock()
	m.window.Add(now)

	event := domain.LockEvent{
		ID:         uuid.NewString(),
		LockedAt:   now,
		Reason:     domain.ReasonMismatchThreshold,
		Mismatches: mismatches,
		SessionID:  sessionID,
	}
	if m.deps.History != nil {
		if err := m.deps.History.Append(event); err != nil {
			m.logger.Warn("failed to record lock event", zap.Error(err))
		}
	}

	m.logger.Info("session locked",
		zap.String("lock_id", event.ID),
		zap.Int("mismatches", mismatches),
		zap.Int("recent_locks", m.window.Len()))
	return &event
}

// coolDown sleeps when too many locks happened within the cooldown window.
func (m *PresenceMonitor) coolDown(ctx context.Context, logger *zap.Logger) (bool, error) {
	if !m.window.ShouldCoolDown(m.clock.Now(), m.config.CooldownWindow) {
		return false, nil
	}
	logger.Info("too many locks, cooling down",
		zap.Int("locks", m.window.Len()),
		zap.Duration("window", m.config.CooldownWindow),
		zap.Duration("duration", m.config.CooldownDuration))
	if err := clock.Sleep(ctx, m.clock, m.config.CooldownDuration); err != nil {
		return true, err
	}
	return true, nil
}

// awaitReference makes a reference identity active. The startup
// self-confirm only runs for a reference loaded from disk; a freshly
// enrolled one was just captured and is not checked again.
func (m *PresenceMonitor) awaitReference(ctx context.Context, logger *zap.Logger) error {
	if err := m.deps.Store.Prepare(); err != nil {
		return fmt.Errorf("prepare reference directory: %w", err)
	}

	// Cameras are enumerated once per session.
	if r, ok := m.deps.Cameras.(interface{ Reset() }); ok {
		r.Reset()
	}
	cameras, err := m.deps.Cameras.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("enumerate cameras: %w", err)
	}
	logger.Debug("cameras ready", zap.Ints("cameras", cameras))

	if _, err := m.deps.Store.Load(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Info("no usable stored reference, capturing a new one", zap.Error(err))
		if _, err := m.enroll(ctx, logger); err != nil {
			return err
		}
		return nil
	}

	if m.config.StartupRefresh {
		m.confirmAndRefresh(ctx, logger)
	}
	return nil
}

func (m *PresenceMonitor) enroll(ctx context.Context, logger *zap.Logger) (*domain.ReferenceIdentity, error) {
	id, err := m.deps.Store.CaptureAndBuild(ctx, m.deps.Cameras.Capture)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, domain.ErrNoUsableReference) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrNoUsableReference, err)
	}
	if err := m.deps.Store.Replace(ctx, id); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrNoUsableReference, err)
	}
	logger.Info("reference enrolled")
	return m.deps.Store.Current(), nil
}

// confirmAndRefresh checks the stored reference against a live frame and,
// if the user is recognized, replaces it with fresh images.
func (m *PresenceMonitor) confirmAndRefresh(ctx context.Context, logger *zap.Logger) {
	if !m.checkPresence(ctx) {
		if ctx.Err() == nil {
			logger.Info("startup check did not recognize the user, keeping stored reference")
		}
		return
	}
	m.refresh(ctx, logger)
}

// refresh rebuilds the reference from frames that still show the current
// identity. On failure the current one stays.
func (m *PresenceMonitor) refresh(ctx context.Context, logger *zap.Logger) bool {
	ref := m.deps.Store.Current()
	if ref == nil {
		return false
	}
	id, err := m.deps.Store.CaptureAndBuild(ctx, m.recognizedCapture(ref))
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("reference refresh failed, keeping current reference", zap.Error(err))
		}
		return false
	}
	if err := m.deps.Store.Replace(ctx, id); err != nil {
		logger.Warn("failed to store refreshed reference, keeping current reference", zap.Error(err))
		return false
	}
	logger.Info("reference refreshed")
	return true
}

// recognizedCapture captures frames and rejects any in which ref is not
// recognized.
func (m *PresenceMonitor) recognizedCapture(ref *domain.ReferenceIdentity) domain.CaptureFunc {
	return func(ctx context.Context) (*domain.Frame, error) {
		frame, err := m.deps.Cameras.Capture(ctx)
		if err != nil {
			return nil, err
		}
		matched, err := m.deps.Matcher.Match(ctx, frame, ref, m.config.Tolerance)
		if err != nil {
			return nil, err
		}
		if !matched {
			return nil, fmt.Errorf("%w: camera %d", domain.ErrNotRecognized, frame.Camera)
		}
		return frame, nil
	}
}

func (m *PresenceMonitor) setPhase(s domain.State) {
	m.mu.Lock()
	prev := m.phase
	m.phase = s
	m.mu.Unlock()
	if prev != s {
		m.logger.Debug("state changed", zap.String("from", string(prev)), zap.String("to", string(s)))
	}
}
