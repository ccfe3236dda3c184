package infra

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/clock"
	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// DefaultMaxProbe bounds how many device indices Enumerate tries.
const DefaultMaxProbe = 10

// CameraPool captures frames from whichever camera works first.
// Devices are enumerated once per session; every capture opens, reads and
// releases a device so no handle outlives a tick.
type CameraPool struct {
	opener   domain.DeviceOpener
	maxProbe int
	clock    clock.Clock
	logger   *zap.Logger

	mu      sync.Mutex
	cameras []int
	probed  bool
}

// NewCameraPool creates a pool over opener.
func NewCameraPool(opener domain.DeviceOpener, maxProbe int, clk clock.Clock, logger *zap.Logger) *CameraPool {
	if maxProbe <= 0 {
		maxProbe = DefaultMaxProbe
	}
	return &CameraPool{
		opener:   opener,
		maxProbe: maxProbe,
		clock:    clk,
		logger:   logger,
	}
}

// Enumerate probes indices from 0 and stops at the first one that fails to open.
// The result is cached; later calls return the cached list.
func (p *CameraPool) Enumerate(ctx context.Context) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.probed {
		var found []int
		for i := 0; i < p.maxProbe; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			src, err := p.opener.Open(i)
			if err != nil {
				p.logger.Debug("camera probe stopped", zap.Int("index", i), zap.Error(err))
				break
			}
			if err := src.Close(); err != nil {
				p.logger.Debug("failed to release probed camera", zap.Int("index", i), zap.Error(err))
			}
			found = append(found, i)
		}
		p.cameras = found
		p.probed = true
		p.logger.Info("cameras enumerated", zap.Ints("cameras", found))
	}

	if len(p.cameras) == 0 {
		return nil, domain.ErrNoCameras
	}
	return append([]int(nil), p.cameras...), nil
}

// Reset forgets the cached enumeration so the next session probes again.
func (p *CameraPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cameras = nil
	p.probed = false
}

// Open opens one camera.
func (p *CameraPool) Open(id int) (domain.FrameSource, error) {
	src, err := p.opener.Open(id)
	if err != nil {
		return nil, fmt.Errorf("%w: camera %d: %v", domain.ErrCameraUnavailable, id, err)
	}
	return src, nil
}

// Capture walks the enumerated cameras in order and returns the first frame read.
// A camera that fails to open or to read is skipped.
func (p *CameraPool) Capture(ctx context.Context) (*domain.Frame, error) {
	cameras, err := p.Enumerate(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoCameras) {
			return nil, fmt.Errorf("%w: %v", domain.ErrAllCamerasFailed, err)
		}
		return nil, err
	}

	var errs []error
	for _, id := range cameras {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := p.readOnce(ctx, id)
		if err != nil {
			p.logger.Debug("camera skipped", zap.Int("camera", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		return &domain.Frame{Data: data, Camera: id, CapturedAt: p.clock.Now()}, nil
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrAllCamerasFailed, errors.Join(errs...))
}

func (p *CameraPool) readOnce(ctx context.Context, id int) ([]byte, error) {
	src, err := p.Open(id)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			p.logger.Debug("failed to release camera", zap.Int("camera", id), zap.Error(cerr))
		}
	}()

	data, err := src.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: camera %d: %v", domain.ErrFrameRead, id, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: camera %d: empty frame", domain.ErrFrameRead, id)
	}
	return data, nil
}

// Ensure CameraPool implements domain.CameraPool.
var _ domain.CameraPool = (*CameraPool)(nil)
