// Package wimerr defines the capture/apply engine's error taxonomy.
package wimerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the non-overlapping error kinds the engine can report.
type Kind int

const (
	NoMem Kind = iota
	InvalidParam
	InvalidCaptureConfig
	InvalidOverlay
	InvalidDentry
	InvalidResourceHash
	InvalidUTF8
	IconvNotAvailable
	Stat
	NotDir
	SpecialFile
	Open
	Read
	Write
	ReadLink
	ImageNameCollision
	SplitUnsupported
	Unsupported
	NtfsBackendFailure
)

func (k Kind) String() string {
	switch k {
	case NoMem:
		return "NoMem"
	case InvalidParam:
		return "InvalidParam"
	case InvalidCaptureConfig:
		return "InvalidCaptureConfig"
	case InvalidOverlay:
		return "InvalidOverlay"
	case InvalidDentry:
		return "InvalidDentry"
	case InvalidResourceHash:
		return "InvalidResourceHash"
	case InvalidUTF8:
		return "InvalidUtf8"
	case IconvNotAvailable:
		return "IconvNotAvailable"
	case Stat:
		return "Stat"
	case NotDir:
		return "NotDir"
	case SpecialFile:
		return "SpecialFile"
	case Open:
		return "Open"
	case Read:
		return "Read"
	case Write:
		return "Write"
	case ReadLink:
		return "ReadLink"
	case ImageNameCollision:
		return "ImageNameCollision"
	case SplitUnsupported:
		return "SplitUnsupported"
	case Unsupported:
		return "Unsupported"
	case NtfsBackendFailure:
		return "NtfsBackendFailure"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type surfaced by the capture and apply
// engines. It names the operation and path involved, per §7's
// "user-visible messages include a single line naming the operation and
// the path involved".
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error, always wrapping err with errors.WithStack so that
// the call site survives %+v formatting. A nil err is replaced by an error
// naming kind.
func New(kind Kind, op, path string, err error) *Error {
	if err == nil {
		err = errors.New(kind.String())
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: errors.WithStack(err)}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
