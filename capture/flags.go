// Package capture implements the capture engine (§4.4): buildDentryTree,
// the multi-source driver addImage/addImageMultisource, and branch
// attachment/overlay for multi-source captures.
package capture

import "github.com/wimimage/wimcore/capconfig"

// Flags is the public capture bitfield (§6). Most callers should prefer
// the typed capconfig.Options and AddImageWithOptions/
// AddImageMultisourceWithOptions; Flags remains the engine's internal
// representation and the wire format Options.Bits()/FromBits() convert
// through.
type Flags uint32

const (
	Boot Flags = 1 << iota
	Verbose
	Dereference
	UnixData
	Ntfs

	// root and source are internal-only markers (§6).
	root
	source
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Options converts the public bits of f (i.e. excluding the internal
// root/source markers) to a typed capconfig.Options.
func (f Flags) Options() capconfig.Options {
	return capconfig.FromBits(uint32(f) &^ uint32(root|source))
}

// FromOptions is the bitmask adapter AddImageWithOptions uses to turn a
// typed capconfig.Options into the Flags bitfield the engine runs on.
func FromOptions(o capconfig.Options) Flags {
	return Flags(o.Bits())
}

// Source pairs one on-disk subtree with its target path inside the image
// (§3 "Capture source").
type Source struct {
	Path           string
	WimTargetPath  string
}

// EventKind identifies a progress-callback message (§6).
type EventKind int

const (
	ScanBegin EventKind = iota
	ScanDentry
	ScanEnd
)

// Event is delivered synchronously from the engine goroutine (§9,
// "Cooperative progress callbacks"); callbacks must not mutate engine
// state.
type Event struct {
	Kind     EventKind
	Source   string
	Target   string
	CurPath  string
	Excluded bool
}

// ProgressFunc receives capture progress events.
type ProgressFunc func(Event)
