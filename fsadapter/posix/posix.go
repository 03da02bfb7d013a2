//go:build !windows

// Package posix implements fsadapter.Adapter for POSIX filesystems,
// grounded on the teacher's backend/local: hard-link detection via
// syscall.Stat_t's (dev, ino) pair, symlinks as the reparse-point
// capability, and named streams emulated through extended attributes via
// github.com/pkg/xattr.
package posix

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/xattr"

	"github.com/wimimage/wimcore/fsadapter"
	"github.com/wimimage/wimcore/wimerr"
	"github.com/wimimage/wimcore/wimlog"
)

// xattrADSPrefix namespaces the ADS emulation so it can't collide with
// unrelated user xattrs already on the file.
const xattrADSPrefix = "user.wimcore.ads."

// Adapter is a POSIX fsadapter.Adapter rooted at nothing in particular -
// every method takes an absolute path, mirroring the teacher's local.Fs
// which is itself just a thin rooted wrapper over os/syscall calls.
type Adapter struct {
	// xattrSupported is lazily disabled the first time the underlying
	// filesystem reports ENOTSUP, mirroring backend/local's
	// xattrIsNotSupported/xattrSupported flag.
	xattrSupported bool
}

// New returns a POSIX adapter assuming xattr support until proven
// otherwise.
func New() *Adapter {
	return &Adapter{xattrSupported: xattr.XATTR_SUPPORTED}
}

func (a *Adapter) Capabilities() fsadapter.Capability {
	caps := fsadapter.CapSymlinks | fsadapter.CapHardLinks
	if a.xattrSupported {
		caps |= fsadapter.CapADS
	}
	return caps
}

type fileHandle struct {
	f    *os.File
	path string
}

type dirHandle struct {
	path string
}

func (a *Adapter) Stat(path string, followSymlink bool) (fsadapter.Meta, error) {
	var fi os.FileInfo
	var err error
	if followSymlink {
		fi, err = os.Stat(path)
	} else {
		fi, err = os.Lstat(path)
	}
	if err != nil {
		return fsadapter.Meta{}, wimerr.New(wimerr.Stat, "stat", path, err)
	}
	m := fsadapter.Meta{
		IsDir:      fi.IsDir(),
		IsSymlink:  fi.Mode()&os.ModeSymlink != 0,
		IsRegular:  fi.Mode().IsRegular(),
		Size:       fi.Size(),
		Mode:       uint32(fi.Mode().Perm()),
		LastWrite:  fi.ModTime(),
		Creation:   fi.ModTime(),
		LastAccess: fi.ModTime(),
	}
	if m.IsSymlink {
		m.IsReparse = true
	}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		m.Dev = uint64(st.Dev)
		m.Ino = st.Ino
		m.Uid = st.Uid
		m.Gid = st.Gid
		m.LastAccess = time.Unix(st.Atim.Unix())
		m.Creation = time.Unix(st.Ctim.Unix())
	} else {
		wimlog.Debugf(path, "stat didn't return Stat_t as expected")
	}
	return m, nil
}

func (a *Adapter) ListChildren(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, wimerr.New(wimerr.Read, "list-children", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (a *Adapter) ReadLink(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", wimerr.New(wimerr.ReadLink, "read-link", path, err)
	}
	return target, nil
}

func (a *Adapter) OpenForRead(path string) (fsadapter.Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wimerr.New(wimerr.Open, "open-for-read", path, err)
	}
	return &fileHandle{f: f, path: path}, nil
}

func (a *Adapter) ReadFile(h fsadapter.Handle, offset int64, buf []byte) (int, error) {
	fh := h.(*fileHandle)
	return fh.f.ReadAt(buf, offset)
}

func (a *Adapter) ShortNameOf(path string) (string, error) {
	return "", wimerr.New(wimerr.Unsupported, "short-name", path, errNoShortNames)
}

func (a *Adapter) ReadSecurity(path string) ([]byte, error) {
	return nil, wimerr.New(wimerr.Unsupported, "read-security", path, errNoSecurity)
}

// ListStreams enumerates the emulated ADS set: user.wimcore.ads.<name>
// xattrs (§4.4 "stream-capable adapter"). The unnamed stream is not
// reported here - callers learn its size from Stat.
func (a *Adapter) ListStreams(path string) ([]fsadapter.StreamMeta, error) {
	if !a.xattrSupported {
		return nil, nil
	}
	names, err := xattr.LList(path)
	if err != nil {
		if a.disableIfUnsupported(err) {
			return nil, nil
		}
		return nil, wimerr.New(wimerr.Read, "list-streams", path, err)
	}
	var out []fsadapter.StreamMeta
	for _, n := range names {
		if !strings.HasPrefix(n, xattrADSPrefix) {
			continue
		}
		v, err := xattr.LGet(path, n)
		if err != nil {
			continue
		}
		out = append(out, fsadapter.StreamMeta{
			Name: strings.TrimPrefix(n, xattrADSPrefix),
			Size: int64(len(v)),
		})
	}
	return out, nil
}

func (a *Adapter) OpenStreamForRead(path, streamName string) (io.ReadCloser, error) {
	if streamName == "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, wimerr.New(wimerr.Open, "open-stream", path, err)
		}
		return f, nil
	}
	v, err := xattr.LGet(path, xattrADSPrefix+streamName)
	if err != nil {
		return nil, wimerr.New(wimerr.Open, "open-stream", path+":"+streamName, err)
	}
	return readCloserFromBytes(v), nil
}

func (a *Adapter) ReadReparse(h fsadapter.Handle, buf []byte) (int, error) {
	fh, ok := h.(*fileHandle)
	if !ok {
		return 0, wimerr.New(wimerr.Unsupported, "read-reparse", "", errNoReparse)
	}
	target, err := os.Readlink(fh.path)
	if err != nil {
		return 0, wimerr.New(wimerr.ReadLink, "read-reparse", fh.path, err)
	}
	n := copy(buf, target)
	return n, nil
}

// Close releases h. Closing a file handle whose *os.File was already
// closed (by the unnamed-stream writer, or by SetReparse) is not an error.
func (a *Adapter) Close(h fsadapter.Handle) error {
	if fh, ok := h.(*fileHandle); ok {
		if err := fh.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}
	}
	return nil
}

// --- write side ---

func (a *Adapter) CreateDirectory(parent fsadapter.Handle, name string) (fsadapter.Handle, error) {
	dir := parent.(*dirHandle)
	full := filepath.Join(dir.path, name)
	if err := os.Mkdir(full, 0o777); err != nil && !os.IsExist(err) {
		return nil, wimerr.New(wimerr.Write, "create-directory", full, err)
	}
	return &dirHandle{path: full}, nil
}

func (a *Adapter) CreateFile(parent fsadapter.Handle, name string, kindHint fsadapter.Meta) (fsadapter.Handle, error) {
	dir := parent.(*dirHandle)
	full := filepath.Join(dir.path, name)
	f, err := os.OpenFile(full, os.O_CREATE|os.O_TRUNC|os.O_RDWR, fs.FileMode(kindHint.Mode|0o600))
	if err != nil {
		return nil, wimerr.New(wimerr.Write, "create-file", full, err)
	}
	return &fileHandle{f: f, path: full}, nil
}

type adsWriter struct {
	path, name string
	buf        []byte
}

func (w *adsWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *adsWriter) Close() error {
	if w.name == "" {
		return nil
	}
	return xattr.LSet(w.path, xattrADSPrefix+w.name, w.buf)
}

func (a *Adapter) OpenStream(h fsadapter.Handle, name string) (io.WriteCloser, error) {
	fh, ok := h.(*fileHandle)
	if !ok {
		return nil, wimerr.New(wimerr.Unsupported, "open-stream", "", errNoReparse)
	}
	if name == "" {
		return fh.f, nil
	}
	if !a.xattrSupported {
		return nopWriteCloser{}, nil
	}
	return &adsWriter{path: fh.path, name: name}, nil
}

func (a *Adapter) SetAttributes(h fsadapter.Handle, attr uint32) error {
	return nil // POSIX has no analogue of FILE_ATTRIBUTE_* bits beyond mode, set at create time
}

func (a *Adapter) SetSecurity(h fsadapter.Handle, descriptor []byte, selection fsadapter.SecuritySelection) error {
	return wimerr.New(wimerr.Unsupported, "set-security", "", errNoSecurity)
}

// SetReparse replaces the file behind h with a symlink whose target is the
// payload that follows buf's 8-byte {tag, length, reserved} header.
func (a *Adapter) SetReparse(h fsadapter.Handle, buf []byte) error {
	fh, ok := h.(*fileHandle)
	if !ok {
		return wimerr.New(wimerr.Unsupported, "set-reparse", "", errNoReparse)
	}
	if len(buf) < 8 {
		return wimerr.New(wimerr.InvalidParam, "set-reparse", fh.path, nil)
	}
	target := string(buf[8:])
	_ = fh.f.Close()
	if err := os.Remove(fh.path); err != nil && !os.IsNotExist(err) {
		return wimerr.New(wimerr.Write, "set-reparse", fh.path, err)
	}
	if err := os.Symlink(target, fh.path); err != nil {
		return wimerr.New(wimerr.Write, "set-reparse", fh.path, err)
	}
	return nil
}

func (a *Adapter) HardLink(target fsadapter.Handle, parent fsadapter.Handle, name string) error {
	tfh, ok := target.(*fileHandle)
	if !ok {
		return wimerr.New(wimerr.Unsupported, "hard-link", name, errNoHardLinkTarget)
	}
	dir := parent.(*dirHandle)
	full := filepath.Join(dir.path, name)
	if err := os.Link(tfh.path, full); err != nil {
		return wimerr.New(wimerr.Write, "hard-link", full, err)
	}
	return nil
}

func (a *Adapter) SetShortName(h fsadapter.Handle, parent fsadapter.Handle, shortName string) error {
	return wimerr.New(wimerr.Unsupported, "set-short-name", shortName, errNoShortNames)
}

func (a *Adapter) SetTimes(h fsadapter.Handle, creation, lastWrite, lastAccess time.Time) error {
	path := handlePath(h)
	if path == "" {
		return nil
	}
	if err := lChtimes(path, lastAccess, lastWrite); err != nil {
		return wimerr.New(wimerr.Write, "set-times", path, err)
	}
	return nil
}

func (a *Adapter) PathToInode(path string) (fsadapter.Handle, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, wimerr.New(wimerr.Stat, "path-to-inode", path, err)
	}
	if fi.IsDir() {
		return &dirHandle{path: path}, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, wimerr.New(wimerr.Open, "path-to-inode", path, err)
	}
	return &fileHandle{f: f, path: path}, nil
}

func handlePath(h fsadapter.Handle) string {
	switch v := h.(type) {
	case *fileHandle:
		return v.path
	case *dirHandle:
		return v.path
	default:
		return ""
	}
}

// NewRootHandle exposes the target directory handle capture/apply use
// as the recursion seed, since CreateDirectory/CreateFile require one.
func NewRootHandle(path string) fsadapter.Handle {
	return &dirHandle{path: path}
}

func (a *Adapter) disableIfUnsupported(err error) bool {
	xerr, ok := err.(*xattr.Error)
	if !ok {
		return false
	}
	if xerr.Err == syscall.ENOTSUP || xerr.Err == syscall.EINVAL || xerr.Err == xattr.ENOATTR {
		a.xattrSupported = false
		return true
	}
	return false
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

func readCloserFromBytes(b []byte) io.ReadCloser {
	return io.NopCloser(sliceReader{b: b})
}

type sliceReader struct{ b []byte }

func (s sliceReader) Read(p []byte) (int, error) {
	n := copy(p, s.b)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

var (
	errNoShortNames      = plainError("POSIX adapter has no short-name capability")
	errNoSecurity        = plainError("POSIX adapter has no security-descriptor capability")
	errNoReparse         = plainError("handle does not support reparse operations")
	errNoHardLinkTarget  = plainError("hard-link target handle is not a regular file")
)

type plainError string

func (e plainError) Error() string { return string(e) }
