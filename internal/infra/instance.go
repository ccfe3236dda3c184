package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrAlreadyRunning is returned when another live monitor owns the data dir.
var ErrAlreadyRunning = errors.New("another facemon instance is running")

const instanceFileName = "facemon.pid.json"

// InstanceInfo is the content of the instance file.
type InstanceInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
	DryRun    bool      `json:"dry_run"`
}

// PIDChecker reports whether a process exists.
type PIDChecker func(pid int) bool

// GopsutilPIDExists checks liveness through gopsutil.
func GopsutilPIDExists(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// InstanceGuard keeps a single monitor per data directory.
type InstanceGuard struct {
	path  string
	alive PIDChecker
}

// NewInstanceGuard creates a guard for dataDir.
func NewInstanceGuard(dataDir string) *InstanceGuard {
	return NewInstanceGuardWithPath(filepath.Join(dataDir, instanceFileName), GopsutilPIDExists)
}

// NewInstanceGuardWithPath creates a guard at a specific path (for testing).
func NewInstanceGuardWithPath(path string, alive PIDChecker) *InstanceGuard {
	return &InstanceGuard{path: path, alive: alive}
}

// Path returns the instance file path.
func (g *InstanceGuard) Path() string {
	return g.path
}

// Acquire records info as the running instance. A file left by a process
// that is no longer running is replaced. The file is published with a hard
// link so two starting instances cannot both win.
func (g *InstanceGuard) Acquire(info InstanceInfo) error {
	for attempt := 0; attempt < 3; attempt++ {
		err := g.createExclusive(info)
		if err == nil {
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}

		existing, err := g.Read()
		switch {
		case err == nil:
			if existing.PID == info.PID {
				return g.atomicWrite(info)
			}
			if g.alive(existing.PID) {
				return fmt.Errorf("%w (pid %d since %s)", ErrAlreadyRunning,
					existing.PID, existing.StartedAt.Format(time.RFC3339))
			}
		case errors.Is(err, os.ErrNotExist):
			continue
		default:
			// Unreadable file: treat as stale.
		}
		if err := os.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale instance file: %w", err)
		}
	}
	return fmt.Errorf("%w: instance file keeps changing", ErrAlreadyRunning)
}

// createExclusive writes info to a temp file and links it into place.
// Link fails with os.ErrExist when the instance file is already there.
func (g *InstanceGuard) createExclusive(info InstanceInfo) error {
	tmpPath, err := g.writeTemp(info)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)
	return os.Link(tmpPath, g.path)
}

// Read returns the recorded instance.
func (g *InstanceGuard) Read() (*InstanceInfo, error) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return nil, err
	}
	var info InstanceInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse instance file: %w", err)
	}
	return &info, nil
}

// Running returns the recorded instance if its process is alive.
func (g *InstanceGuard) Running() (*InstanceInfo, bool) {
	info, err := g.Read()
	if err != nil {
		return nil, false
	}
	return info, g.alive(info.PID)
}

// Release removes the instance file if it still belongs to pid.
func (g *InstanceGuard) Release(pid int) error {
	info, err := g.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.PID != pid {
		return nil
	}
	return os.Remove(g.path)
}

func (g *InstanceGuard) atomicWrite(info InstanceInfo) error {
	tmpPath, err := g.writeTemp(info)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, g.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (g *InstanceGuard) writeTemp(info InstanceInfo) (string, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(g.path), 0700); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(filepath.Dir(g.path), "."+filepath.Base(g.path)+".*.tmp")
	if err != nil {
		return "", err
	}
	tmpPath := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return tmpPath, nil
}
