//go:build integration

package integration

import (
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/activity"
	"github.com/eliteGoblin/focusd/face_mon/internal/clock"
	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
	"github.com/eliteGoblin/focusd/face_mon/internal/infra"
	"github.com/eliteGoblin/focusd/face_mon/internal/platform"
	"github.com/eliteGoblin/focusd/face_mon/internal/usecase"
	"github.com/eliteGoblin/focusd/face_mon/test/fixtures"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// rig is one facemon "process": real store, camera pool, matcher and
// history on a temp dir, with a fake camera, fake clock and noop platform.
type rig struct {
	dataDir string
	clock   *clock.FakeClock
	camera  *fixtures.FakeCamera
	server  *fixtures.EmbeddingServer

	store   *infra.FileReferenceStore
	cameras *infra.CameraPool
	actions *platform.NoopActions
	tracker *activity.Tracker
	history *infra.EncryptedLockHistory
	window  *usecase.LockWindow
	monitor *usecase.PresenceMonitor
	config  usecase.MonitorConfig
}

func testMonitorConfig() usecase.MonitorConfig {
	cfg := usecase.DefaultMonitorConfig()
	cfg.StartupRefresh = false
	return cfg
}

// newRig wires a process against dataDir. Passing the same dataDir, camera
// and server to a second rig simulates a restart.
func newRig(dataDir string, clk *clock.FakeClock, camera *fixtures.FakeCamera, server *fixtures.EmbeddingServer, cfg usecase.MonitorConfig) *rig {
	logger := zap.NewNop()
	r := &rig{
		dataDir: dataDir,
		clock:   clk,
		camera:  camera,
		server:  server,
		config:  cfg,
	}

	matcher := infra.NewRemoteFaceMatcher(infra.NewEmbeddingClient(server.URL, 5*time.Second), infra.FramePreprocessor{}, logger)
	r.cameras = infra.NewCameraPool(camera, infra.DefaultMaxProbe, clk, logger)
	r.store = infra.NewFileReferenceStore(dataDir+"/reference", matcher, clk, infra.DefaultCaptureInterval, logger)
	r.actions = platform.NewNoopActions(logger)
	r.tracker = activity.NewTracker(clk.Now())
	r.window = usecase.NewLockWindow(3)

	h, err := infra.OpenLockHistory(dataDir)
	Expect(err).NotTo(HaveOccurred())
	r.history = h
	events, err := h.Recent(3)
	Expect(err).NotTo(HaveOccurred())
	times := make([]time.Time, 0, len(events))
	for _, e := range events {
		times = append(times, e.LockedAt)
	}
	r.window.Seed(times)

	r.monitor = usecase.NewPresenceMonitor(cfg, usecase.MonitorDeps{
		Cameras:  r.cameras,
		Matcher:  matcher,
		Store:    r.store,
		Actions:  r.actions,
		Activity: r.tracker,
		History:  h,
		Window:   r.window,
		Clock:    clk,
	}, logger)
	return r
}

func (r *rig) Close() {
	if r.history != nil {
		_ = r.history.Close()
	}
}

// lockCount returns how many lock events are persisted.
func (r *rig) lockCount() int {
	n, err := r.history.Count()
	Expect(err).NotTo(HaveOccurred())
	return n
}

// enrollScenes is what the camera sees during a three image enrollment.
func enrollScenes() []fixtures.Scene {
	return []fixtures.Scene{fixtures.SceneUser, fixtures.SceneUser, fixtures.SceneUser}
}

func stateOf(r *rig) domain.State {
	return r.monitor.Snapshot().Phase
}
