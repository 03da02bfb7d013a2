// Package apply implements the apply engine (§4.5): a two-pass tree walk
// that reconstructs a captured dentry tree onto a target filesystem with
// correct ordering (hard-link primary selection, DOS-name-first
// extraction, reparse-data reconstruction, timestamp post-pass).
package apply

// Flags is the public apply bitfield (§6).
type Flags uint32

const (
	Verbose Flags = 1 << iota
	Symlink
	Hardlink
)

// EventKind identifies an apply progress-callback message.
type EventKind int

const (
	ExtractBegin EventKind = iota
	ExtractDentry
	ExtractEnd
)

// Event is delivered synchronously from the engine goroutine (§9).
type Event struct {
	Kind    EventKind
	Path    string
	IsLink  bool
}

// ProgressFunc receives apply progress events.
type ProgressFunc func(Event)
