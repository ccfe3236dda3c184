package infra

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// EnsureWritable creates dir if needed and checks it can be written.
// If the check fails, the owner permissions are repaired once and checked again.
func EnsureWritable(dir string, logger *zap.Logger) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrDirNotWritable, dir, err)
	}
	err := checkWritable(dir)
	if err == nil {
		return nil
	}
	logger.Warn("directory not writable, repairing permissions", zap.String("dir", dir), zap.Error(err))

	if err := os.Chmod(dir, 0700); err != nil {
		return fmt.Errorf("%w: %s: chmod: %v", domain.ErrDirNotWritable, dir, err)
	}
	if err := checkWritable(dir); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrDirNotWritable, dir, err)
	}
	logger.Info("directory permissions repaired", zap.String("dir", dir))
	return nil
}
