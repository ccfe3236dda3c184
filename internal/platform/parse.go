package platform

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// hidIdleRe matches the HIDIdleTime line of `ioreg -c IOHIDSystem`.
var hidIdleRe = regexp.MustCompile(`"HIDIdleTime"\s*=\s*(\d+)`)

// parseHIDIdleTime extracts the idle time (reported in nanoseconds) from ioreg output.
func parseHIDIdleTime(out []byte) (time.Duration, error) {
	m := hidIdleRe.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("HIDIdleTime not found in ioreg output")
	}
	ns, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse HIDIdleTime: %w", err)
	}
	return time.Duration(ns), nil
}

// parseMillis parses a bare millisecond count such as xprintidle prints.
func parseMillis(out []byte) (time.Duration, error) {
	s := strings.TrimSpace(string(bytes.TrimSpace(out)))
	if s == "" {
		return 0, fmt.Errorf("empty idle output")
	}
	ms, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse idle milliseconds %q: %w", s, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
