//go:build windows

package platform

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procLockWorkStation         = user32.NewProc("LockWorkStation")
	procGetLastInputInfo        = user32.NewProc("GetLastInputInfo")
	procSetThreadExecutionState = kernel32.NewProc("SetThreadExecutionState")
	procGetTickCount            = kernel32.NewProc("GetTickCount")
)

const (
	esSystemRequired  = 0x00000001
	esDisplayRequired = 0x00000002
)

type lastInputInfo struct {
	cbSize uint32
	dwTime uint32
}

// WindowsActions calls user32/kernel32 directly.
type WindowsActions struct {
	logger *zap.Logger
}

func newNativeActions(_ CommandRunner, logger *zap.Logger) domain.PlatformActions {
	return &WindowsActions{logger: logger}
}

func (w *WindowsActions) Name() string { return "windows" }

// Lock locks the workstation.
func (w *WindowsActions) Lock(ctx context.Context) error {
	r, _, err := procLockWorkStation.Call()
	if r == 0 {
		return fmt.Errorf("LockWorkStation: %w", err)
	}
	return nil
}

// PreventIdle resets the system and display idle timers.
func (w *WindowsActions) PreventIdle(ctx context.Context) error {
	r, _, err := procSetThreadExecutionState.Call(uintptr(esSystemRequired | esDisplayRequired))
	if r == 0 {
		return fmt.Errorf("SetThreadExecutionState: %w", err)
	}
	return nil
}

// WindowsIdleProbe uses GetLastInputInfo.
type WindowsIdleProbe struct{}

func newNativeIdleProbe(_ CommandRunner, _ *zap.Logger) domain.IdleProbe {
	return WindowsIdleProbe{}
}

// IdleTime returns how long the user has been idle.
func (WindowsIdleProbe) IdleTime(ctx context.Context) (time.Duration, error) {
	info := lastInputInfo{cbSize: uint32(unsafe.Sizeof(lastInputInfo{}))}
	r, _, err := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&info)))
	if r == 0 {
		return 0, fmt.Errorf("GetLastInputInfo: %w", err)
	}
	tick, _, _ := procGetTickCount.Call()
	// Both counters wrap at 2^32 ms; unsigned subtraction handles the wrap.
	idle := uint32(tick) - info.dwTime
	return time.Duration(idle) * time.Millisecond, nil
}

var (
	_ domain.PlatformActions = (*WindowsActions)(nil)
	_ domain.IdleProbe       = WindowsIdleProbe{}
)
