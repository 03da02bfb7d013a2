package dentry

import (
	"sort"
	"strings"

	"github.com/wimimage/wimcore/wimerr"
)

// Dentry is a name binding: one directory-entry naming an Inode (§3).
// Multiple dentries may share an inode (hard links).
type Dentry struct {
	Name      string // UTF-16 source name kept as a Go string, case-preserving
	ShortName string // DOS/short name, <= 24 bytes encoded as UTF-16, may be ""

	InodeID InodeID
	arena   *Arena

	Parent   *Dentry
	children map[string]*Dentry // keyed by case-folded name (I3)
	order    []string           // case-folded keys, insertion order

	// path caches the full path; invalidated (cleared) whenever the
	// dentry is reparented.
	path string
}

// NewRoot returns a fresh root dentry (I5: empty name) bound to a new
// directory inode allocated from arena.
func NewRoot(arena *Arena) *Dentry {
	inode := arena.New()
	inode.Attributes |= AttrDirectory
	d := &Dentry{InodeID: inode.ID, arena: arena, children: make(map[string]*Dentry)}
	inode.LinkedDentries = append(inode.LinkedDentries, d)
	return d
}

// New allocates a dentry named name bound to a fresh inode from arena.
// The caller is responsible for attaching it to a parent.
func New(arena *Arena, name string) *Dentry {
	inode := arena.New()
	d := &Dentry{Name: name, InodeID: inode.ID, arena: arena, children: make(map[string]*Dentry)}
	inode.LinkedDentries = append(inode.LinkedDentries, d)
	return d
}

// NewLinked allocates a dentry named name bound to the already-existing
// inode id (a hard link to content captured earlier in this build).
func NewLinked(arena *Arena, id InodeID, name string) *Dentry {
	d := &Dentry{Name: name, InodeID: id, arena: arena, children: make(map[string]*Dentry)}
	if inode := arena.Get(id); inode != nil {
		inode.LinkedDentries = append(inode.LinkedDentries, d)
	}
	return d
}

// Inode returns the inode this dentry names.
func (d *Dentry) Inode() *Inode {
	return d.arena.Get(d.InodeID)
}

func foldName(name string) string {
	return strings.ToLower(name)
}

// AddChild attaches child under d, keyed by its case-folded name (I3). It
// is an error for d not to be a directory (I2), or for a
// case-insensitive name collision to occur.
func (d *Dentry) AddChild(child *Dentry) error {
	inode := d.Inode()
	if inode == nil || !inode.IsDir() {
		return wimerr.New(wimerr.InvalidDentry, "add-child", d.FullPath(), errNotDir)
	}
	key := foldName(child.Name)
	if _, exists := d.children[key]; exists {
		return wimerr.New(wimerr.InvalidOverlay, "add-child", d.FullPath()+"/"+child.Name, errCollision)
	}
	child.Parent = d
	child.path = ""
	d.children[key] = child
	d.order = append(d.order, key)
	return nil
}

// RemoveChild detaches the child named name (case-folded) from d, if
// present, and returns it.
func (d *Dentry) RemoveChild(name string) *Dentry {
	key := foldName(name)
	child, ok := d.children[key]
	if !ok {
		return nil
	}
	delete(d.children, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	child.Parent = nil
	child.path = ""
	return child
}

// Child looks up a child by case-insensitive name.
func (d *Dentry) Child(name string) *Dentry {
	return d.children[foldName(name)]
}

// Children returns the child dentries in enumeration order (insertion
// order, matching "within one directory, child creation order is the
// dentry-child enumeration order", §5).
func (d *Dentry) Children() []*Dentry {
	out := make([]*Dentry, 0, len(d.order))
	for _, k := range d.order {
		out = append(out, d.children[k])
	}
	return out
}

// SortChildrenByName reorders Children() output deterministically by
// case-folded name; used when an adapter's enumeration order is not
// itself deterministic (§8 R2).
func (d *Dentry) SortChildrenByName() {
	sort.Strings(d.order)
}

// FullPath returns the cached (or freshly computed) full path of d,
// forward-slash separated, root having path "".
func (d *Dentry) FullPath() string {
	if d.path != "" || d.Parent == nil {
		if d.Parent == nil {
			return ""
		}
		return d.path
	}
	parentPath := d.Parent.FullPath()
	if parentPath == "" {
		d.path = d.Name
	} else {
		d.path = parentPath + "/" + d.Name
	}
	return d.path
}

// InvalidatePath clears the cached full path for d and every descendant,
// e.g. after a rename or overlay move.
func (d *Dentry) InvalidatePath() {
	d.path = ""
	for _, c := range d.Children() {
		c.InvalidatePath()
	}
}

// IsRoot reports whether d has no parent (I5).
func (d *Dentry) IsRoot() bool { return d.Parent == nil }

var errNotDir = plainError("parent dentry's inode is not a directory")
var errCollision = plainError("case-insensitive name collision")

type plainError string

func (e plainError) Error() string { return string(e) }
