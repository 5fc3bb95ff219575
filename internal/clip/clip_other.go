//go:build !linux && !darwin && !windows

package clip

import "time"

// New returns a no-op backend; this platform has no supported clipboard.
func New(time.Duration) Backend { return Headless() }
