package infra

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/clock"
	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

const (
	// ManifestFileName records the generation and hashes of the stored images.
	ManifestFileName = "reference.json"

	manifestVersion = 1

	// DefaultCaptureInterval separates the captures of a fresh reference.
	DefaultCaptureInterval = 5 * time.Second
)

// ImageFileName returns the file name of reference image i (0-based).
func ImageFileName(i int) string {
	return fmt.Sprintf("photo%d.jpg", i+1)
}

// ReferenceManifest is written after the images; a mismatch between its
// hashes and the images on disk means a replacement was interrupted.
type ReferenceManifest struct {
	Version    int                          `json:"version"`
	Generation int64                        `json:"generation"`
	CreatedAt  time.Time                    `json:"created_at"`
	Hashes     [domain.ReferenceSize]string `json:"hashes"`
}

// FileReferenceStore keeps the reference images in a directory and the active
// identity in memory.
type FileReferenceStore struct {
	dir             string
	matcher         domain.FaceMatcher
	clock           clock.Clock
	captureInterval time.Duration
	logger          *zap.Logger

	current atomic.Pointer[domain.ReferenceIdentity]

	mu      sync.Mutex // serializes disk access
	written [domain.ReferenceSize]string
}

// NewFileReferenceStore creates a store rooted at dir.
func NewFileReferenceStore(dir string, matcher domain.FaceMatcher, clk clock.Clock, captureInterval time.Duration, logger *zap.Logger) *FileReferenceStore {
	return &FileReferenceStore{
		dir:             dir,
		matcher:         matcher,
		clock:           clk,
		captureInterval: captureInterval,
		logger:          logger,
	}
}

// Dir returns the reference directory.
func (s *FileReferenceStore) Dir() string {
	return s.dir
}

// Prepare makes sure the reference directory is usable.
func (s *FileReferenceStore) Prepare() error {
	return EnsureWritable(s.dir, s.logger)
}

// Current returns the active identity.
func (s *FileReferenceStore) Current() *domain.ReferenceIdentity {
	return s.current.Load()
}

// Load reads and encodes the stored images and activates the result.
// Any missing, unreadable or unusable image makes the whole set absent.
func (s *FileReferenceStore) Load(ctx context.Context) (*domain.ReferenceIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	images, hashes, err := s.readImages()
	if err != nil {
		return nil, err
	}

	manifest, err := s.readManifest()
	switch {
	case errors.Is(err, os.ErrNotExist):
		manifest = nil
	case err != nil:
		return nil, fmt.Errorf("%w: %v", domain.ErrReferenceAbsent, err)
	default:
		if manifest.Hashes != hashes {
			return nil, fmt.Errorf("%w: images do not match manifest", domain.ErrReferenceAbsent)
		}
	}

	encodings := make([]domain.Encoding, domain.ReferenceSize)
	for i, img := range images {
		enc, err := s.matcher.Encode(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrReferenceAbsent, ImageFileName(i), err)
		}
		encodings[i] = enc
	}

	createdAt := s.clock.Now()
	if manifest != nil {
		createdAt = manifest.CreatedAt
	}
	id, err := domain.NewReferenceIdentity(encodings, images[:], createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrReferenceAbsent, err)
	}
	if manifest != nil {
		id.Generation = manifest.Generation
	}

	s.current.Store(id)
	s.written = hashes
	s.logger.Info("reference loaded",
		zap.String("dir", s.dir),
		zap.Int64("generation", id.Generation),
		zap.Bool("manifest", manifest != nil))
	return id, nil
}

// CaptureAndBuild captures and encodes a fresh set of images. Nothing is
// written or activated; any failure yields ErrNoUsableReference.
func (s *FileReferenceStore) CaptureAndBuild(ctx context.Context, capture domain.CaptureFunc) (*domain.ReferenceIdentity, error) {
	encodings := make([]domain.Encoding, 0, domain.ReferenceSize)
	images := make([][]byte, 0, domain.ReferenceSize)

	for i := 0; i < domain.ReferenceSize; i++ {
		if i > 0 {
			if err := clock.Sleep(ctx, s.clock, s.captureInterval); err != nil {
				return nil, err
			}
		}

		frame, err := capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: capture %d: %v", domain.ErrNoUsableReference, i+1, err)
		}
		enc, err := s.matcher.Encode(ctx, frame.Data)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: image %d: %v", domain.ErrNoUsableReference, i+1, err)
		}
		s.logger.Debug("reference image captured", zap.Int("index", i+1), zap.Int("camera", frame.Camera))
		encodings = append(encodings, enc)
		images = append(images, frame.Data)
	}

	id, err := domain.NewReferenceIdentity(encodings, images, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoUsableReference, err)
	}
	return id, nil
}

// Replace writes id to disk and then activates it. Images go to temp files
// that are synced before being renamed into place; the manifest is written
// last. If anything fails the previous identity stays active in memory;
// a failure after the first rename is logged as a torn set on disk.
func (s *FileReferenceStore) Replace(ctx context.Context, id *domain.ReferenceIdentity) error {
	if id == nil {
		return errors.New("nil reference identity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Generations keep growing across processes sharing the directory.
	next := *id
	var base int64
	if cur := s.current.Load(); cur != nil {
		base = cur.Generation
	}
	if m, err := s.readManifest(); err == nil && m.Generation > base {
		base = m.Generation
	}
	if next.Generation <= base {
		next.Generation = base + 1
	}

	var hashes [domain.ReferenceSize]string
	temps := make([]string, 0, domain.ReferenceSize)
	cleanup := func() {
		for _, t := range temps {
			_ = os.Remove(t)
		}
	}

	for i, img := range next.Images {
		tmp, err := writeTemp(s.dir, ImageFileName(i), img)
		if err != nil {
			cleanup()
			return fmt.Errorf("write reference image %d: %w", i+1, err)
		}
		temps = append(temps, tmp)
		hashes[i] = hashImage(img)
	}

	// Once an image is renamed the on-disk set no longer matches the manifest
	// until the new manifest lands.
	torn := func(installed int, err error) {
		s.logger.Warn("reference set on disk is torn, it will be enrolled again on next start",
			zap.String("dir", s.dir),
			zap.Int("images_installed", installed),
			zap.Error(err))
	}

	for i, tmp := range temps {
		if err := os.Rename(tmp, filepath.Join(s.dir, ImageFileName(i))); err != nil {
			cleanup()
			if i > 0 {
				torn(i, err)
			}
			return fmt.Errorf("install reference image %d: %w", i+1, err)
		}
	}

	manifest := ReferenceManifest{
		Version:    manifestVersion,
		Generation: next.Generation,
		CreatedAt:  next.CreatedAt,
		Hashes:     hashes,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		torn(len(temps), err)
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp, err := writeTemp(s.dir, ManifestFileName, data)
	if err != nil {
		torn(len(temps), err)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, ManifestFileName)); err != nil {
		_ = os.Remove(tmp)
		torn(len(temps), err)
		return fmt.Errorf("install manifest: %w", err)
	}
	syncDir(s.dir)

	s.written = hashes
	s.current.Store(&next)
	s.logger.Info("reference replaced",
		zap.String("dir", s.dir),
		zap.Int64("generation", next.Generation))
	return nil
}

// Manifest returns the stored manifest.
func (s *FileReferenceStore) Manifest() (*ReferenceManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readManifest()
}

// changedOnDisk reports whether the images differ from what this store last
// loaded or wrote.
func (s *FileReferenceStore) changedOnDisk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, hashes, err := s.readImages()
	if err != nil {
		return true
	}
	return hashes != s.written
}

func (s *FileReferenceStore) readImages() ([domain.ReferenceSize][]byte, [domain.ReferenceSize]string, error) {
	var images [domain.ReferenceSize][]byte
	var hashes [domain.ReferenceSize]string
	for i := range images {
		data, err := os.ReadFile(filepath.Join(s.dir, ImageFileName(i)))
		if err != nil {
			return images, hashes, fmt.Errorf("%w: %v", domain.ErrReferenceAbsent, err)
		}
		if len(data) == 0 {
			return images, hashes, fmt.Errorf("%w: %s is empty", domain.ErrReferenceAbsent, ImageFileName(i))
		}
		images[i] = data
		hashes[i] = hashImage(data)
	}
	return images, hashes, nil
}

func (s *FileReferenceStore) readManifest() (*ReferenceManifest, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, ManifestFileName))
	if err != nil {
		return nil, err
	}
	var m ReferenceManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

func hashImage(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeTemp writes data to a synced hidden temp file next to name.
func writeTemp(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Chmod(tmp, 0600); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// syncDir flushes directory entries. Not every platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Ensure FileReferenceStore implements domain.ReferenceStore.
var _ domain.ReferenceStore = (*FileReferenceStore)(nil)
