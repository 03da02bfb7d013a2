//go:build plan9

package posix

import "time"

// lChtimes is a no-op on platforms with no symlink-aware utimes call.
func lChtimes(name string, atime, mtime time.Time) error {
	return nil
}
