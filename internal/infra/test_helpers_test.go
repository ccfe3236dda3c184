package infra

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// fakeSource is a test double for domain.FrameSource.
type fakeSource struct {
	frame   []byte
	readErr error
	closed  *int
}

func (s *fakeSource) Read(ctx context.Context) ([]byte, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.frame, nil
}

func (s *fakeSource) Close() error {
	if s.closed != nil {
		*s.closed++
	}
	return nil
}

// fakeOpener is a test double for domain.DeviceOpener.
// Indices missing from frames fail to open.
type fakeOpener struct {
	frames   map[int][]byte
	readErrs map[int]error
	opens    []int
	closes   int
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		frames:   make(map[int][]byte),
		readErrs: make(map[int]error),
	}
}

func (o *fakeOpener) Open(index int) (domain.FrameSource, error) {
	o.opens = append(o.opens, index)
	frame, ok := o.frames[index]
	if !ok {
		return nil, errors.New("no such device")
	}
	return &fakeSource{frame: frame, readErr: o.readErrs[index], closed: &o.closes}, nil
}

// fakeMatcher encodes images by content. An image whose text starts with
// "noface" has no face, "crowd" has two; anything else encodes to a
// one-element vector holding its length.
type fakeMatcher struct {
	encodeCalls int
}

func (m *fakeMatcher) Encode(ctx context.Context, img []byte) (domain.Encoding, error) {
	m.encodeCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := string(img)
	switch {
	case strings.HasPrefix(s, "noface"):
		return nil, domain.ErrNoFaceFound
	case strings.HasPrefix(s, "crowd"):
		return nil, domain.ErrMultipleFaces
	}
	return domain.Encoding{float32(len(img))}, nil
}

func (m *fakeMatcher) Match(ctx context.Context, frame *domain.Frame, ref *domain.ReferenceIdentity, tolerance float64) (bool, error) {
	enc, err := m.Encode(ctx, frame.Data)
	if err != nil {
		return false, nil
	}
	for _, r := range ref.Encodings {
		if EuclideanDistance(enc, r) <= tolerance {
			return true, nil
		}
	}
	return false, nil
}

// fakeDetector is a test double for FaceDetector.
type fakeDetector struct {
	resp  *FaceResponse
	err   error
	sizes []int
}

func (d *fakeDetector) DetectFaces(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	d.sizes = append(d.sizes, len(imageData))
	if d.err != nil {
		return nil, d.err
	}
	return d.resp, nil
}

// testJPEG returns a w x h JPEG filled with c.
func testJPEG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}
