//go:build !windows && !plan9

package posix

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// lChtimes changes the access and modification times of the named link,
// similar to the Unix utime()/utimes() functions, without following a
// final symlink component.
func lChtimes(name string, atime, mtime time.Time) error {
	var utimes [2]unix.Timespec
	utimes[0] = unix.NsecToTimespec(atime.UnixNano())
	utimes[1] = unix.NsecToTimespec(mtime.UnixNano())
	if e := unix.UtimesNanoAt(unix.AT_FDCWD, name, utimes[0:], unix.AT_SYMLINK_NOFOLLOW); e != nil {
		return &os.PathError{Op: "lchtimes", Path: name, Err: e}
	}
	return nil
}
