// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// Scene is what a fake camera sees.
type Scene string

const (
	SceneUser     Scene = "user"     // The enrolled user alone
	SceneStranger Scene = "stranger" // Someone else
	SceneEmpty    Scene = "empty"    // Nobody in front of the camera
	SceneCrowd    Scene = "crowd"    // More than one face
	SceneDark     Scene = "dark"     // The device opens but returns no frame
)

const framePrefix = "scene:"

// SceneOf extracts the scene from a frame produced by FakeCamera.
func SceneOf(frame []byte) Scene {
	s := string(frame)
	if !strings.HasPrefix(s, framePrefix) {
		return ""
	}
	s = strings.TrimPrefix(s, framePrefix)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	return Scene(s)
}

// FakeCamera is a scripted domain.DeviceOpener. Each read consumes the next
// scripted scene; once the script runs out the fallback scene is returned.
type FakeCamera struct {
	mu       sync.Mutex
	devices  int
	script   []Scene
	fallback Scene
	frames   int
	opens    int
	open     int
	onFrame  func(n int, scene Scene)
}

// NewFakeCamera creates a camera rig with the given number of devices.
func NewFakeCamera(devices int, fallback Scene) *FakeCamera {
	return &FakeCamera{devices: devices, fallback: fallback}
}

// Script queues scenes for the next reads.
func (c *FakeCamera) Script(scenes ...Scene) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, scenes...)
}

// SetFallback changes the scene returned once the script is exhausted.
func (c *FakeCamera) SetFallback(s Scene) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = s
}

// OnFrame registers a hook called after every frame is produced.
func (c *FakeCamera) OnFrame(fn func(n int, scene Scene)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = fn
}

// Frames returns how many frames were read.
func (c *FakeCamera) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Opens returns how many times a device was opened.
func (c *FakeCamera) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// OpenDevices returns how many devices are currently held open.
func (c *FakeCamera) OpenDevices() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Open implements domain.DeviceOpener.
func (c *FakeCamera) Open(index int) (domain.FrameSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= c.devices {
		return nil, fmt.Errorf("no device at index %d", index)
	}
	c.opens++
	c.open++
	return &fakeDevice{camera: c, index: index}, nil
}

func (c *FakeCamera) next() ([]byte, error) {
	c.mu.Lock()
	scene := c.fallback
	if len(c.script) > 0 {
		scene = c.script[0]
		c.script = c.script[1:]
	}
	c.frames++
	n := c.frames
	hook := c.onFrame
	c.mu.Unlock()

	if hook != nil {
		hook(n, scene)
	}
	if scene == SceneDark {
		return nil, errors.New("device returned no frame")
	}
	return []byte(fmt.Sprintf("%s%s#%d", framePrefix, scene, n)), nil
}

type fakeDevice struct {
	camera *FakeCamera
	index  int
	closed bool
}

func (d *fakeDevice) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.camera.next()
}

func (d *fakeDevice) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.camera.mu.Lock()
	d.camera.open--
	d.camera.mu.Unlock()
	return nil
}
