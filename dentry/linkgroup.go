package dentry

import "github.com/wimimage/wimcore/wimerr"

// LinkGroup returns every dentry currently bound to d's inode (the
// "intrusive circular list" of Design Note §9, realized here as a plain
// slice read off the inode).
func (d *Dentry) LinkGroup() []*Dentry {
	inode := d.Inode()
	if inode == nil {
		return nil
	}
	return inode.LinkedDentries
}

// SiblingWithShortName scans d's link group for a sibling dentry that (a)
// shares d's parent and (b) carries a non-empty short name (§4.5 step
// 5a). At most one such sibling may exist per I4; a second one is
// InvalidDentry.
func (d *Dentry) SiblingWithShortName() (*Dentry, error) {
	var found *Dentry
	for _, other := range d.LinkGroup() {
		if other == d || other.Parent != d.Parent {
			continue
		}
		if other.ShortName == "" {
			continue
		}
		if found != nil || d.ShortName != "" {
			return nil, wimerr.New(wimerr.InvalidDentry, "dos-name-preapply", d.FullPath(), errTwoShortNames)
		}
		found = other
	}
	return found, nil
}

var errTwoShortNames = plainError("two dentries in one hard-link group within a directory carry a short name")
