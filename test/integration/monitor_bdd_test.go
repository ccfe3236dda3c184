//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eliteGoblin/focusd/face_mon/internal/clock"
	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
	"github.com/eliteGoblin/focusd/face_mon/internal/infra"
	"github.com/eliteGoblin/focusd/face_mon/test/fixtures"
)

var _ = Describe("Presence Monitor", func() {
	var (
		tmpDir string
		clk    *clock.FakeClock
		camera *fixtures.FakeCamera
		server *fixtures.EmbeddingServer
		r      *rig
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "facemon-integration-*")
		Expect(err).NotTo(HaveOccurred())

		clk = clock.Fake(epoch)
		camera = fixtures.NewFakeCamera(1, fixtures.SceneStranger)
		server = fixtures.NewEmbeddingServer()
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
		if r != nil {
			r.Close()
			r = nil
		}
		server.Close()
		os.RemoveAll(tmpDir)
	})

	cancelAtFrame := func(n int) {
		camera.OnFrame(func(frame int, _ fixtures.Scene) {
			if frame == n {
				cancel()
			}
		})
	}

	Describe("first run", func() {
		Context("when nothing is enrolled and the user then walks away", func() {
			It("should enroll, lock after three mismatches and record the lock", func() {
				camera.Script(enrollScenes()...)
				camera.Script(fixtures.SceneUser)
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())

				res, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Locked).To(BeTrue())
				Expect(res.Ticks).To(Equal(4))
				Expect(res.CooledDown).To(BeFalse())
				Expect(r.actions.Locks()).To(Equal(int64(1)))

				Expect(clk.Sleeps()).To(Equal([]time.Duration{
					5 * time.Second, 5 * time.Second, // enrollment captures
					12 * time.Second, 2 * time.Second, // match
					3 * time.Second, 2 * time.Second, // mismatch 1
					3 * time.Second, 2 * time.Second, // mismatch 2
				}))

				Expect(res.Event).NotTo(BeNil())
				Expect(res.Event.LockedAt).To(BeTemporally("==", epoch.Add(34*time.Second)))
				Expect(res.Event.Mismatches).To(Equal(3))

				events, err := r.history.Recent(5)
				Expect(err).NotTo(HaveOccurred())
				Expect(events).To(HaveLen(1))
				Expect(events[0].ID).To(Equal(res.Event.ID))
				Expect(events[0].SessionID).To(Equal(res.SessionID))
				Expect(events[0].Reason).To(Equal(domain.ReasonMismatchThreshold))

				Expect(stateOf(r)).To(Equal(domain.StateTerminated))
				Expect(camera.OpenDevices()).To(BeZero())
			})

			It("should persist three images and a manifest", func() {
				camera.Script(enrollScenes()...)
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())

				_, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())

				for i := 0; i < domain.ReferenceSize; i++ {
					data, err := os.ReadFile(filepath.Join(r.store.Dir(), infra.ImageFileName(i)))
					Expect(err).NotTo(HaveOccurred())
					Expect(fixtures.SceneOf(data)).To(Equal(fixtures.SceneUser))
				}
				manifest, err := r.store.Manifest()
				Expect(err).NotTo(HaveOccurred())
				Expect(manifest.Generation).To(Equal(int64(1)))
				Expect(manifest.CreatedAt).To(BeTemporally("==", epoch.Add(10*time.Second)))
			})
		})

		Context("when nobody is in front of the camera", func() {
			It("should fail to start without storing anything", func() {
				camera.SetFallback(fixtures.SceneEmpty)
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())

				res, err := r.monitor.Run(ctx)
				Expect(err).To(MatchError(domain.ErrNoUsableReference))
				Expect(res.Locked).To(BeFalse())
				Expect(r.actions.Locks()).To(BeZero())

				_, err = os.Stat(filepath.Join(r.store.Dir(), infra.ManifestFileName))
				Expect(os.IsNotExist(err)).To(BeTrue())
			})
		})

		Context("when two people are in front of the camera", func() {
			It("should refuse the crowded image as a reference", func() {
				camera.SetFallback(fixtures.SceneCrowd)
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())

				_, err := r.monitor.Run(ctx)
				Expect(err).To(MatchError(domain.ErrNoUsableReference))
				Expect(r.store.Current()).To(BeNil())
			})
		})

		Context("when no camera is attached", func() {
			It("should fail to start", func() {
				camera = fixtures.NewFakeCamera(0, fixtures.SceneUser)
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())

				_, err := r.monitor.Run(ctx)
				Expect(err).To(MatchError(domain.ErrNoCameras))
			})
		})
	})

	Describe("monitoring", func() {
		BeforeEach(func() {
			camera.Script(enrollScenes()...)
		})

		Context("when the user comes back between mismatches", func() {
			It("should reset the mismatch count", func() {
				camera.Script(
					fixtures.SceneStranger, fixtures.SceneStranger,
					fixtures.SceneUser,
					fixtures.SceneStranger, fixtures.SceneStranger, fixtures.SceneStranger,
				)
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())

				res, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Locked).To(BeTrue())
				Expect(res.Ticks).To(Equal(6))
				Expect(r.actions.Locks()).To(Equal(int64(1)))
			})
		})

		Context("when the user stays and does not touch the keyboard", func() {
			It("should prevent idling once idle time exceeds the threshold", func() {
				camera.SetFallback(fixtures.SceneUser)
				cancelAtFrame(6)
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())

				res, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Canceled).To(BeTrue())
				Expect(res.Locked).To(BeFalse())
				Expect(res.Ticks).To(Equal(2))
				// First match is exactly at the threshold, second is past it.
				Expect(r.actions.IdlePrevents()).To(Equal(int64(1)))
				Expect(r.actions.Locks()).To(BeZero())
			})
		})

		Context("when the user stays and is typing", func() {
			It("should leave the idle timer alone", func() {
				camera.SetFallback(fixtures.SceneUser)
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())
				camera.OnFrame(func(frame int, _ fixtures.Scene) {
					r.tracker.Record(clk.Now())
					if frame == 8 {
						cancel()
					}
				})

				res, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Ticks).To(Equal(4))
				Expect(r.actions.IdlePrevents()).To(BeZero())
			})
		})

		Context("when someone joins the user", func() {
			It("should still recognize the user in the crowd", func() {
				camera.SetFallback(fixtures.SceneCrowd)
				cancelAtFrame(7)
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())

				res, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Canceled).To(BeTrue())
				Expect(res.Ticks).To(Equal(3))
				Expect(r.actions.Locks()).To(BeZero())
			})
		})

		Context("when the camera stops producing frames", func() {
			It("should count failed captures as mismatches and lock", func() {
				camera.SetFallback(fixtures.SceneDark)
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())

				res, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Locked).To(BeTrue())
				Expect(res.Ticks).To(Equal(3))
				Expect(camera.OpenDevices()).To(BeZero())
			})
		})

		Context("when the first camera fails but a second one works", func() {
			It("should use the second camera", func() {
				camera = fixtures.NewFakeCamera(2, fixtures.SceneStranger)
				camera.Script(enrollScenes()...)
				camera.Script(fixtures.SceneDark, fixtures.SceneUser)
				cancelAtFrame(6)
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())

				res, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Canceled).To(BeTrue())
				Expect(res.Ticks).To(Equal(1))
				Expect(r.actions.Locks()).To(BeZero())
				Expect(camera.OpenDevices()).To(BeZero())
			})
		})

		Context("when the embedding service goes down", func() {
			It("should count failed matches as mismatches and lock", func() {
				camera.SetFallback(fixtures.SceneUser)
				camera.OnFrame(func(frame int, _ fixtures.Scene) {
					if frame == 4 {
						server.SetFailing(true)
					}
				})
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())

				res, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Locked).To(BeTrue())
				Expect(res.Ticks).To(Equal(3))
			})
		})
	})

	Describe("restart", func() {
		BeforeEach(func() {
			camera.Script(enrollScenes()...)
			first := newRig(tmpDir, clk, camera, server, testMonitorConfig())
			res, err := first.monitor.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Locked).To(BeTrue())
			first.Close()
		})

		Context("when a reference is stored", func() {
			It("should load it without capturing a new one", func() {
				before := camera.Frames()
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())

				res, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Locked).To(BeTrue())
				Expect(camera.Frames() - before).To(Equal(3))
				Expect(r.store.Current().Generation).To(Equal(int64(1)))
				Expect(r.lockCount()).To(Equal(2))
			})
		})

		Context("when startup refresh is enabled and the user is present", func() {
			It("should replace the stored reference", func() {
				camera.Script(fixtures.SceneUser)
				camera.Script(enrollScenes()...)
				cfg := testMonitorConfig()
				cfg.StartupRefresh = true
				r = newRig(tmpDir, clk, camera, server, cfg)

				res, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Locked).To(BeTrue())
				Expect(res.Ticks).To(Equal(3))

				manifest, err := r.store.Manifest()
				Expect(err).NotTo(HaveOccurred())
				Expect(manifest.Generation).To(Equal(int64(2)))
			})
		})

		Context("when startup refresh is enabled and a stranger is present", func() {
			It("should keep the stored reference", func() {
				cfg := testMonitorConfig()
				cfg.StartupRefresh = true
				r = newRig(tmpDir, clk, camera, server, cfg)

				res, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Locked).To(BeTrue())

				manifest, err := r.store.Manifest()
				Expect(err).NotTo(HaveOccurred())
				Expect(manifest.Generation).To(Equal(int64(1)))
			})
		})

		Context("when the user steps away during the startup refresh", func() {
			It("should not store the stranger", func() {
				camera.Script(fixtures.SceneUser, fixtures.SceneUser)
				cfg := testMonitorConfig()
				cfg.StartupRefresh = true
				r = newRig(tmpDir, clk, camera, server, cfg)

				res, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Locked).To(BeTrue())

				manifest, err := r.store.Manifest()
				Expect(err).NotTo(HaveOccurred())
				Expect(manifest.Generation).To(Equal(int64(1)))
			})
		})

		Context("when a stranger sits down during a periodic refresh", func() {
			It("should keep the stored reference and lock", func() {
				// One recognized tick starts the refresh, the stranger spoils it.
				camera.Script(fixtures.SceneUser, fixtures.SceneUser)
				cfg := testMonitorConfig()
				cfg.RefreshInterval = time.Second
				r = newRig(tmpDir, clk, camera, server, cfg)

				res, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Locked).To(BeTrue())
				Expect(res.Ticks).To(Equal(4))

				manifest, err := r.store.Manifest()
				Expect(err).NotTo(HaveOccurred())
				Expect(manifest.Generation).To(Equal(int64(1)))
				Expect(r.store.Current().Generation).To(Equal(int64(1)))
			})
		})

		Context("when a stored image was removed", func() {
			It("should enroll again", func() {
				Expect(os.Remove(filepath.Join(tmpDir, "reference", infra.ImageFileName(1)))).To(Succeed())
				camera.Script(enrollScenes()...)
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())

				res, err := r.monitor.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Locked).To(BeTrue())
				Expect(r.store.Current().Generation).To(Equal(int64(2)))
			})
		})

		Context("when another process enrolls a new reference", func() {
			It("should pick up the change on reload", func() {
				r = newRig(tmpDir, clk, camera, server, testMonitorConfig())
				_, err := r.store.Load(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(r.store.ReloadIfChanged(ctx)).To(BeFalse())

				other := newRig(tmpDir, clk, camera, server, testMonitorConfig())
				defer other.Close()
				_, err = other.store.Load(ctx)
				Expect(err).NotTo(HaveOccurred())
				camera.Script(enrollScenes()...)
				id, err := other.monitor.Enroll(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(id.Generation).To(Equal(int64(2)))

				Expect(r.store.ReloadIfChanged(ctx)).To(BeTrue())
				Expect(r.store.Current().Generation).To(Equal(int64(2)))
			})
		})
	})
})
