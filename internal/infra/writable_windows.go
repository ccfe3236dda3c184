//go:build windows

package infra

import "os"

// Windows has no access(2); probe with a throwaway file.
func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".facemon-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
