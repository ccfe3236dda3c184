//go:build !windows

package infra

import "golang.org/x/sys/unix"

func checkWritable(dir string) error {
	return unix.Access(dir, unix.W_OK|unix.X_OK)
}
