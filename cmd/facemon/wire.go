package main

import (
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/activity"
	"github.com/eliteGoblin/focusd/face_mon/internal/clock"
	"github.com/eliteGoblin/focusd/face_mon/internal/config"
	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
	"github.com/eliteGoblin/focusd/face_mon/internal/infra"
	"github.com/eliteGoblin/focusd/face_mon/internal/infra/gocvcam"
	"github.com/eliteGoblin/focusd/face_mon/internal/platform"
	"github.com/eliteGoblin/focusd/face_mon/internal/usecase"
)

// app holds the wired components of a running monitor.
type app struct {
	store   *infra.FileReferenceStore
	cameras *infra.CameraPool
	monitor *usecase.PresenceMonitor
	poller  *activity.Poller
	actions domain.PlatformActions
	history *infra.EncryptedLockHistory // nil when unavailable
}

// Close releases resources held by the app.
func (a *app) Close() {
	if a.history != nil {
		_ = a.history.Close()
	}
}

// monitorConfig maps file configuration onto the state machine's settings.
func monitorConfig(cfg *config.Config) usecase.MonitorConfig {
	return usecase.MonitorConfig{
		CheckInterval:            cfg.Monitor.CheckInterval,
		RetryDelay:               cfg.Monitor.RetryDelay,
		PacingDelay:              cfg.Monitor.PacingDelay,
		MaxConsecutiveMismatches: cfg.Monitor.MaxConsecutiveMismatches,
		IdleThreshold:            cfg.Monitor.IdleThreshold,
		Tolerance:                cfg.Matcher.Tolerance,
		StartupRefresh:           cfg.Monitor.StartupRefresh,
		RefreshInterval:          cfg.Monitor.RefreshInterval,
		CooldownWindow:           cfg.Cooldown.Window,
		CooldownDuration:         cfg.Cooldown.Duration,
	}
}

// buildApp wires the production components.
func buildApp(cfg *config.Config, logger *zap.Logger, dryRun bool) *app {
	clk := clock.Real()

	runner := platform.ExecRunner{}
	actions := platform.NewRegistry(runner, logger).Select(dryRun)
	tracker := activity.NewTracker(clk.Now())
	poller := activity.NewPoller(platform.NewIdleProbe(runner, logger), tracker, clk, cfg.Activity.PollInterval, logger)

	client := infra.NewEmbeddingClient(cfg.Matcher.URL, cfg.Matcher.Timeout)
	matcher := infra.NewRemoteFaceMatcher(client, infra.FramePreprocessor{
		MaxSize:        cfg.Matcher.MaxImageSize,
		BrightnessGain: cfg.Matcher.BrightnessGain,
	}, logger)
	cameras := infra.NewCameraPool(gocvcam.Opener{}, cfg.Camera.MaxProbe, clk, logger)
	store := infra.NewFileReferenceStore(cfg.ReferenceDir(), matcher, clk, cfg.Reference.CaptureInterval, logger)

	window := usecase.NewLockWindow(cfg.Cooldown.MaxLocks)
	a := &app{store: store, cameras: cameras, poller: poller, actions: actions}

	var history domain.LockHistory
	if h, err := infra.OpenLockHistory(cfg.DataDir); err != nil {
		logger.Warn("lock history unavailable, cooldown will not survive restarts", zap.Error(err))
	} else {
		a.history = h
		history = h
		seedWindow(window, h, cfg.Cooldown.MaxLocks, logger)
	}

	a.monitor = usecase.NewPresenceMonitor(monitorConfig(cfg), usecase.MonitorDeps{
		Cameras:  cameras,
		Matcher:  matcher,
		Store:    store,
		Actions:  actions,
		Activity: tracker,
		History:  history,
		Window:   window,
		Clock:    clk,
	}, logger)

	logger.Info("components ready",
		zap.String("platform", actions.Name()),
		zap.String("reference_dir", store.Dir()),
		zap.String("matcher", cfg.Matcher.URL),
		zap.Bool("dry_run", dryRun))
	return a
}

// seedWindow restores recent lock times so cooldown spans restarts.
func seedWindow(window *usecase.LockWindow, history domain.LockHistory, n int, logger *zap.Logger) {
	events, err := history.Recent(n)
	if err != nil {
		logger.Warn("failed to read lock history", zap.Error(err))
		return
	}
	times := make([]time.Time, 0, len(events))
	for _, e := range events {
		times = append(times, e.LockedAt)
	}
	window.Seed(times)
	if len(times) > 0 {
		logger.Debug("lock window restored", zap.Int("locks", len(times)))
	}
}
