package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCameraUnavailable is returned when a capture device cannot be opened.
	ErrCameraUnavailable = errors.New("camera unavailable")

	// ErrFrameRead is returned when an opened device produces no frame.
	ErrFrameRead = errors.New("failed to read frame")

	// ErrNoCameras is returned when enumeration finds no usable device.
	ErrNoCameras = errors.New("no cameras available")

	// ErrAllCamerasFailed is returned when no camera produced a frame this tick.
	ErrAllCamerasFailed = errors.New("no camera produced a frame")

	// ErrNoFaceFound is returned when an image contains no face.
	ErrNoFaceFound = errors.New("no face found")

	// ErrMultipleFaces is returned when a reference image contains more than one face.
	ErrMultipleFaces = errors.New("more than one face found")

	// ErrNotRecognized is returned when a frame does not show the enrolled user.
	ErrNotRecognized = errors.New("face not recognized")

	// ErrReferenceAbsent is returned when no complete reference identity is stored.
	ErrReferenceAbsent = errors.New("reference identity absent")

	// ErrNoUsableReference is returned when a fresh reference could not be built.
	ErrNoUsableReference = errors.New("no usable reference")

	// ErrDirNotWritable is returned when the reference directory cannot be written.
	ErrDirNotWritable = errors.New("directory not writable")
)

// FrameSource is an opened capture device. It is owned by a single
// open -> read -> close cycle and never held across a sleep.
type FrameSource interface {
	// Read grabs one frame and returns it JPEG encoded.
	Read(ctx context.Context) ([]byte, error)

	// Close releases the device.
	Close() error
}

// DeviceOpener opens capture devices by index.
// Implementation: OpenCV (gocv) in production, fakes in tests.
type DeviceOpener interface {
	Open(index int) (FrameSource, error)
}

// CameraPool enumerates capture devices and captures frames with fallback.
type CameraPool interface {
	// Enumerate probes device indices from 0 until the first one fails to open.
	Enumerate(ctx context.Context) ([]int, error)

	// Open opens a single camera by index.
	Open(id int) (FrameSource, error)

	// Capture returns a frame from the first camera that opens and reads.
	Capture(ctx context.Context) (*Frame, error)
}

// CaptureFunc produces a frame on demand.
type CaptureFunc func(ctx context.Context) (*Frame, error)

// FaceMatcher is the biometric capability: encode a reference image and
// compare a live frame against a reference identity.
type FaceMatcher interface {
	// Encode returns the encoding of the single face in image.
	Encode(ctx context.Context, image []byte) (Encoding, error)

	// Match reports whether any face in frame is within tolerance of the reference.
	Match(ctx context.Context, frame *Frame, ref *ReferenceIdentity, tolerance float64) (bool, error)
}

// ReferenceStore owns the active reference identity and its persisted images.
type ReferenceStore interface {
	// Prepare makes sure the reference directory exists and is writable.
	Prepare() error

	// Load reads the persisted images and activates them when all encode.
	// Returns ErrReferenceAbsent when the set is missing or incomplete.
	Load(ctx context.Context) (*ReferenceIdentity, error)

	// CaptureAndBuild captures ReferenceSize images and encodes them.
	// Nothing is persisted or activated.
	CaptureAndBuild(ctx context.Context, capture CaptureFunc) (*ReferenceIdentity, error)

	// Replace persists and activates a new identity. On error the previous
	// identity stays active.
	Replace(ctx context.Context, id *ReferenceIdentity) error

	// Current returns the active identity, or nil.
	Current() *ReferenceIdentity
}

// PlatformActions are best-effort OS actions. Errors are for logging only.
type PlatformActions interface {
	// Name identifies the variant (e.g., "linux", "darwin", "noop").
	Name() string

	// Lock locks the user session.
	Lock(ctx context.Context) error

	// PreventIdle nudges the OS idle timer so the screensaver does not start.
	PreventIdle(ctx context.Context) error
}

// IdleProbe reports how long the user has been away from input devices.
type IdleProbe interface {
	IdleTime(ctx context.Context) (time.Duration, error)
}

// ActivitySource exposes the time of the last observed user input.
type ActivitySource interface {
	LastActivity() time.Time
}

// LockHistory persists lock events across restarts.
// Implementation: SQLCipher encrypted database in the data directory.
type LockHistory interface {
	// Append stores a lock event.
	Append(event LockEvent) error

	// Recent returns up to n most recent events, oldest first.
	Recent(n int) ([]LockEvent, error)

	// Close releases resources.
	Close() error
}
