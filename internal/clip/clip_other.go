//go:build !darwin && !linux

package clip

// New returns a no-op backend; this platform has no clipboard support.
func New() Backend {
	return Headless()
}
