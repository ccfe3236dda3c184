// Package gocvcam captures frames from local cameras through OpenCV.
package gocvcam

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// Opener opens cameras through OpenCV.
type Opener struct{}

// Open opens the device at index.
func (Opener) Open(index int) (domain.FrameSource, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("device %d did not open", index)
	}
	return &gocvSource{vc: vc, index: index}, nil
}

type gocvSource struct {
	vc    *gocv.VideoCapture
	index int
}

// Read grabs one frame and encodes it as JPEG.
func (s *gocvSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := s.vc.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("device %d returned no frame", s.index)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// The native buffer is freed on Close.
	return append([]byte(nil), buf.GetBytes()...), nil
}

func (s *gocvSource) Close() error {
	return s.vc.Close()
}

var _ domain.DeviceOpener = Opener{}
