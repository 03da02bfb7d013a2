// Package dentry implements the in-memory directory-entry tree and inode
// graph (§3), using the arena-based redesign from Design Note §9: inodes
// live in a dense arena keyed by InodeID, and a Dentry holds an InodeID
// rather than a pointer, so hard-link groups never need a cyclic
// structure.
package dentry

import (
	"time"

	"github.com/wimimage/wimcore/lookuptable"
)

// Attr is the inode attribute bitfield (§3).
type Attr uint32

const (
	AttrDirectory Attr = 1 << iota
	AttrReparsePoint
	AttrNormal
	AttrReadonly
	AttrHidden
	AttrSystem
	AttrArchive
	AttrCompressed
	AttrEncrypted
	AttrSparseFile
)

// FileTime is a Windows FILETIME-style tick count: 100-ns ticks since
// 1601-01-01 UTC (§3).
type FileTime uint64

const ticksPerSecond = 10_000_000
const unixToWindowsEpochSeconds = 11644473600

// FromTime converts a time.Time to FileTime.
func FromTime(t time.Time) FileTime {
	secs := t.Unix() + unixToWindowsEpochSeconds
	ticks := secs*ticksPerSecond + int64(t.Nanosecond())/100
	return FileTime(ticks)
}

// Time converts a FileTime back to a time.Time (UTC).
func (f FileTime) Time() time.Time {
	total := int64(f)
	secs := total/ticksPerSecond - unixToWindowsEpochSeconds
	nsec := (total % ticksPerSecond) * 100
	return time.Unix(secs, nsec).UTC()
}

// InodeID is a dense, per-build arena index. Zero is never a valid
// allocated ID so the zero value of InodeID can mean "unset".
type InodeID uint32

// NamedStream is one alternate data stream bound to an inode (§3).
type NamedStream struct {
	Name  string // UTF-16 source name kept as a Go string
	Entry *lookuptable.StreamEntry
}

// Inode is the file object named by one or more dentries (§3).
type Inode struct {
	ID InodeID

	Attributes Attr
	Creation   FileTime
	LastWrite  FileTime
	LastAccess FileTime

	ReparseTag   uint32
	ReparseValid bool

	SecurityID int32 // -1 = no ACL (S2)

	// DeviceIno is the opaque (device, inode) pair reported by the
	// capture-source filesystem, used only during capture to detect
	// hard links (Design Note §9: scoped per capture source).
	DeviceIno DevIno

	Unnamed      *lookuptable.StreamEntry
	NamedStreams []NamedStream

	// LinkedDentries replaces wimlib's intrusive circular dentry list
	// (Design Note §9): every dentry currently bound to this inode.
	LinkedDentries []*Dentry

	// Number is a dense per-image inode number assigned during the
	// post-capture hard-link fixup pass (§4.4 step 7).
	Number uint64

	Resolved bool
}

// DevIno identifies a file on its source filesystem for hard-link
// detection (Design Note §9).
type DevIno struct {
	Dev uint64
	Ino uint64
}

// IsDir reports whether the inode is a directory.
func (n *Inode) IsDir() bool { return n.Attributes&AttrDirectory != 0 }

// IsReparsePoint reports whether the inode is a reparse point.
func (n *Inode) IsReparsePoint() bool { return n.Attributes&AttrReparsePoint != 0 }

// AddStream binds entry as the unnamed stream (name == "") or appends it
// as a named ADS.
func (n *Inode) AddStream(name string, entry *lookuptable.StreamEntry) {
	if name == "" {
		n.Unnamed = entry
		return
	}
	n.NamedStreams = append(n.NamedStreams, NamedStream{Name: name, Entry: entry})
}

// Stream returns the stream entry bound under name (empty for unnamed),
// or nil.
func (n *Inode) Stream(name string) *lookuptable.StreamEntry {
	if name == "" {
		return n.Unnamed
	}
	for _, s := range n.NamedStreams {
		if s.Name == name {
			return s.Entry
		}
	}
	return nil
}

// Arena owns every Inode allocated during one capture/apply build.
type Arena struct {
	inodes []*Inode
}

// NewArena returns an empty inode arena.
func NewArena() *Arena {
	return &Arena{}
}

// New allocates a fresh Inode and returns it, already registered in the
// arena under a dense ID.
func (a *Arena) New() *Inode {
	id := InodeID(len(a.inodes) + 1) // 0 stays reserved for "unset"
	n := &Inode{ID: id, SecurityID: -1}
	a.inodes = append(a.inodes, n)
	return n
}

// Get returns the inode for id, or nil if id is unset/out of range.
func (a *Arena) Get(id InodeID) *Inode {
	if id == 0 || int(id) > len(a.inodes) {
		return nil
	}
	return a.inodes[id-1]
}

// Len reports how many inodes the arena currently owns.
func (a *Arena) Len() int { return len(a.inodes) }

// Each calls fn for every inode in allocation order.
func (a *Arena) Each(fn func(*Inode)) {
	for _, n := range a.inodes {
		fn(n)
	}
}
