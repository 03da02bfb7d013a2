package lookuptable

import (
	"bytes"
	"io"
	"os"

	"github.com/wimimage/wimcore/wimerr"
)

// Residence is the tagged-union ("sum type", Design Note §9) describing
// where a StreamEntry's bytes actually live. Implementations must be
// comparable-free value types so a StreamEntry can be copied freely.
type Residence interface {
	// Open returns a fresh reader positioned at the start of the
	// stream. Callers are responsible for closing it.
	Open() (io.ReadCloser, error)
	kind() residenceKind
}

type residenceKind int

const (
	kindSourceFile residenceKind = iota
	kindNamedStreamOfFile
	kindInWim
	kindInMemory
	kindAbsent
)

// SourceFile is IN_SOURCE_FILE(path): content lives at an on-disk path on
// the capture source. It stores only the path, never an open handle
// (§5, "Resource policy for the capture engine").
type SourceFile struct{ Path string }

func (r SourceFile) Open() (io.ReadCloser, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return nil, wimerr.New(wimerr.Open, "open-source-file", r.Path, err)
	}
	return f, nil
}
func (SourceFile) kind() residenceKind { return kindSourceFile }

// NamedStreamOfFile is IN_NAMED_STREAM_OF(path, streamName): content is an
// alternate data stream of a file on the capture source.
type NamedStreamOfFile struct {
	Path       string
	StreamName string
	// Opener is supplied by the capability adapter that knows how to
	// address a named stream on its platform (NTFS "path:stream", xattr
	// emulation, etc).
	Opener func(path, streamName string) (io.ReadCloser, error)
}

func (r NamedStreamOfFile) Open() (io.ReadCloser, error) {
	if r.Opener == nil {
		return nil, wimerr.New(wimerr.Unsupported, "open-named-stream", r.Path, errNoOpener)
	}
	return r.Opener(r.Path, r.StreamName)
}
func (NamedStreamOfFile) kind() residenceKind { return kindNamedStreamOfFile }

var errNoOpener = errorString("named-stream residence has no opener bound")

// InWim is IN_WIM(wimHandle, resourceDescriptor): content already lives in
// a WIM container (§6 is an external collaborator, so this residence only
// carries an opaque reader factory supplied by that layer).
type InWim struct {
	WimHandle          any
	ResourceDescriptor any
	Opener             func(handle, descriptor any) (io.ReadCloser, error)
}

func (r InWim) Open() (io.ReadCloser, error) {
	if r.Opener == nil {
		return nil, wimerr.New(wimerr.Unsupported, "open-in-wim", "", errNoOpener)
	}
	return r.Opener(r.WimHandle, r.ResourceDescriptor)
}
func (InWim) kind() residenceKind { return kindInWim }

// InMemory is IN_MEMORY(buf): content is held directly (e.g. the UNIX-data
// ADS or a synthesized reparse payload).
type InMemory struct{ Buf []byte }

func (r InMemory) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(r.Buf)), nil
}
func (InMemory) kind() residenceKind { return kindInMemory }

// Absent marks a StreamEntry whose content is not currently reachable.
type Absent struct{}

func (Absent) Open() (io.ReadCloser, error) {
	return nil, wimerr.New(wimerr.Read, "open-absent-stream", "", errAbsent)
}
func (Absent) kind() residenceKind { return kindAbsent }

var errAbsent = errorString("stream residence is absent")

type errorString string

func (e errorString) Error() string { return string(e) }
