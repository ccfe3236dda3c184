// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// ReferenceSize is the number of images (and encodings) backing a reference identity.
const ReferenceSize = 3

// Encoding is a face descriptor produced by a FaceMatcher.
type Encoding []float32

// ReferenceIdentity is the set of accepted encodings treated as "the authorized user".
// It is immutable once built: refreshes replace it wholesale, never merge.
type ReferenceIdentity struct {
	Encodings  [ReferenceSize]Encoding
	Images     [ReferenceSize][]byte // JPEG source images, index-aligned with Encodings
	CreatedAt  time.Time
	Generation int64 // Bumped on every persisted replacement
}

// NewReferenceIdentity builds an identity from exactly ReferenceSize encodings and images.
// A partial identity is never constructed.
func NewReferenceIdentity(encodings []Encoding, images [][]byte, createdAt time.Time) (*ReferenceIdentity, error) {
	if len(encodings) != ReferenceSize || len(images) != ReferenceSize {
		return nil, fmt.Errorf("reference needs %d encodings and images, got %d and %d",
			ReferenceSize, len(encodings), len(images))
	}

	id := &ReferenceIdentity{CreatedAt: createdAt}
	for i := 0; i < ReferenceSize; i++ {
		if len(encodings[i]) == 0 {
			return nil, fmt.Errorf("reference encoding %d is empty", i+1)
		}
		if len(images[i]) == 0 {
			return nil, fmt.Errorf("reference image %d is empty", i+1)
		}
		id.Encodings[i] = encodings[i]
		id.Images[i] = images[i]
	}
	return id, nil
}

// Frame is a single still captured from a camera, JPEG encoded.
type Frame struct {
	Data       []byte
	Camera     int // Device index the frame came from
	CapturedAt time.Time
}

// State is a phase of the presence monitor state machine.
type State string

const (
	StateAwaitingReference State = "awaiting_reference"
	StateMonitoring        State = "monitoring"
	StateLockedCooldown    State = "locked_cooldown"
	StateTerminated        State = "terminated"
)

// LockReason explains why a lock was triggered.
type LockReason string

const (
	ReasonMismatchThreshold LockReason = "mismatch_threshold"
)

// LockEvent records a single lock triggered by the monitor.
type LockEvent struct {
	ID         string
	LockedAt   time.Time
	Reason     LockReason
	Mismatches int    // Consecutive mismatches that led to the lock
	SessionID  string // Monitoring session that issued the lock
}

// MonitorState is a snapshot of the presence monitor's bookkeeping.
type MonitorState struct {
	Phase         State
	MismatchCount int
	ScreenLocked  bool
	LockTimes     []time.Time // Oldest first, bounded by the cooldown lock count
	LastActivity  time.Time
}
