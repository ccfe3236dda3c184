//go:build integration

package integration

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/clock"
	"github.com/eliteGoblin/focusd/face_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/face_mon/test/fixtures"
)

var _ = Describe("Lock Cooldown", func() {
	var (
		tmpDir string
		clk    *clock.FakeClock
		camera *fixtures.FakeCamera
		server *fixtures.EmbeddingServer
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "facemon-cooldown-*")
		Expect(err).NotTo(HaveOccurred())

		clk = clock.Fake(epoch)
		camera = fixtures.NewFakeCamera(1, fixtures.SceneStranger)
		camera.Script(enrollScenes()...)
		server = fixtures.NewEmbeddingServer()
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
		server.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("Supervisor", func() {
		Context("when the user is away for several sessions", func() {
			It("should cool down after the third lock within a minute", func() {
				r := newRig(tmpDir, clk, camera, server, testMonitorConfig())
				defer r.Close()
				camera.OnFrame(func(int, fixtures.Scene) {
					if r.actions.Locks() >= 3 {
						cancel()
					}
				})

				sup := daemon.NewSupervisor(daemon.SupervisorConfig{RestartDelay: time.Second}, r.monitor, clk, zap.NewNop())
				Expect(sup.Run(ctx)).To(Succeed())

				Expect(sup.Sessions()).To(Equal(4))
				Expect(sup.Locks()).To(Equal(3))
				Expect(r.lockCount()).To(Equal(3))
				Expect(clk.Sleeps()).To(ContainElement(3 * time.Minute))

				// Locks at 20s, 31s and 42s, then three minutes of cooldown.
				times := r.window.Times()
				Expect(times).To(HaveLen(3))
				Expect(times[0]).To(BeTemporally("==", epoch.Add(20*time.Second)))
				Expect(times[2]).To(BeTemporally("==", epoch.Add(42*time.Second)))
			})
		})

		Context("when running a single session", func() {
			It("should stop after the first lock", func() {
				r := newRig(tmpDir, clk, camera, server, testMonitorConfig())
				defer r.Close()

				sup := daemon.NewSupervisor(daemon.SupervisorConfig{RestartDelay: time.Second, Once: true}, r.monitor, clk, zap.NewNop())
				Expect(sup.Run(ctx)).To(Succeed())
				Expect(sup.Sessions()).To(Equal(1))
				Expect(sup.Locks()).To(Equal(1))
			})
		})
	})

	Describe("lock history", func() {
		Context("when the process restarts between locks", func() {
			It("should still count earlier locks toward the cooldown", func() {
				first := newRig(tmpDir, clk, camera, server, testMonitorConfig())
				for i := 0; i < 2; i++ {
					res, err := first.monitor.Run(ctx)
					Expect(err).NotTo(HaveOccurred())
					Expect(res.Locked).To(BeTrue())
					Expect(res.CooledDown).To(BeFalse())
				}
				first.Close()

				second := newRig(tmpDir, clk, camera, server, testMonitorConfig())
				defer second.Close()
				Expect(second.window.Len()).To(Equal(2))

				res, err := second.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Locked).To(BeTrue())
				Expect(res.CooledDown).To(BeTrue())
				Expect(clk.Sleeps()[len(clk.Sleeps())-1]).To(Equal(3 * time.Minute))
			})
		})

		Context("when the earlier locks are older than the window", func() {
			It("should not cool down", func() {
				first := newRig(tmpDir, clk, camera, server, testMonitorConfig())
				for i := 0; i < 2; i++ {
					_, err := first.monitor.Run(ctx)
					Expect(err).NotTo(HaveOccurred())
				}
				first.Close()

				clk.Advance(time.Hour)
				second := newRig(tmpDir, clk, camera, server, testMonitorConfig())
				defer second.Close()

				res, err := second.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Locked).To(BeTrue())
				Expect(res.CooledDown).To(BeFalse())
				Expect(second.lockCount()).To(Equal(3))
			})
		})
	})
})
