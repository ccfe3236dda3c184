package infra

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// FaceDetector finds faces and their embeddings in an image.
type FaceDetector interface {
	DetectFaces(ctx context.Context, imageData []byte) (*FaceResponse, error)
}

// RemoteFaceMatcher matches faces using embeddings from the embedding service.
type RemoteFaceMatcher struct {
	detector FaceDetector
	prep     FramePreprocessor
	logger   *zap.Logger
}

// NewRemoteFaceMatcher creates a matcher. Images pass through prep before upload.
func NewRemoteFaceMatcher(detector FaceDetector, prep FramePreprocessor, logger *zap.Logger) *RemoteFaceMatcher {
	return &RemoteFaceMatcher{detector: detector, prep: prep, logger: logger}
}

// Encode returns the embedding of the only face in image.
func (m *RemoteFaceMatcher) Encode(ctx context.Context, image []byte) (domain.Encoding, error) {
	faces, err := m.detect(ctx, image)
	if err != nil {
		return nil, err
	}
	switch len(faces) {
	case 0:
		return nil, domain.ErrNoFaceFound
	case 1:
		return domain.Encoding(faces[0].Embedding), nil
	default:
		return nil, fmt.Errorf("%w: %d faces", domain.ErrMultipleFaces, len(faces))
	}
}

// Match reports whether any face in frame lies within tolerance of any
// reference encoding. A frame without faces does not match.
func (m *RemoteFaceMatcher) Match(ctx context.Context, frame *domain.Frame, ref *domain.ReferenceIdentity, tolerance float64) (bool, error) {
	if ref == nil {
		return false, domain.ErrReferenceAbsent
	}
	faces, err := m.detect(ctx, frame.Data)
	if err != nil {
		return false, err
	}
	if len(faces) == 0 {
		m.logger.Debug("no face in frame", zap.Int("camera", frame.Camera))
		return false, nil
	}

	best := math.Inf(1)
	for _, f := range faces {
		for _, enc := range ref.Encodings {
			if d := EuclideanDistance(f.Embedding, enc); d < best {
				best = d
			}
		}
	}
	m.logger.Debug("face distance",
		zap.Int("faces", len(faces)),
		zap.Float64("distance", best),
		zap.Float64("tolerance", tolerance))
	return best <= tolerance, nil
}

func (m *RemoteFaceMatcher) detect(ctx context.Context, image []byte) ([]FaceDetection, error) {
	data, err := m.prep.Process(image)
	if err != nil {
		return nil, fmt.Errorf("preprocess image: %w", err)
	}
	resp, err := m.detector.DetectFaces(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	faces := make([]FaceDetection, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.Embedding) > 0 {
			faces = append(faces, f)
		}
	}
	return faces, nil
}

// EuclideanDistance returns the L2 distance between a and b.
// Vectors of different length are infinitely far apart.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Ensure RemoteFaceMatcher implements domain.FaceMatcher.
var _ domain.FaceMatcher = (*RemoteFaceMatcher)(nil)
