// Package imagemeta implements the Image Metadata Registry (§3, §4.4
// step 6): an append-only array of image descriptors, each owning a root
// dentry, a SecuritySet, and a metadata-stream handle in the
// LookupTable.
package imagemeta

import (
	"crypto/rand"

	"github.com/google/uuid"

	"github.com/wimimage/wimcore/dentry"
	"github.com/wimimage/wimcore/digest"
	"github.com/wimimage/wimcore/lookuptable"
	"github.com/wimimage/wimcore/security"
	"github.com/wimimage/wimcore/wimerr"
)

// Descriptor is one ImageDescriptor (§3).
type Descriptor struct {
	Name          string
	Root          *dentry.Dentry
	Security      *security.Set
	MetadataEntry *lookuptable.StreamEntry
	Modified      bool
}

// Registry is the append-only Image Metadata Registry. Images are
// created by AddImage and destroyed only on library teardown; mutating
// an existing image requires setting Modified (§3).
type Registry struct {
	images []*Descriptor
	boot   int // 1-based index, 0 = no boot image

	// GUID identifies this WIM file (the wimHeader.WIMGuid field the
	// on-disk format carries); generated once, stable for the registry's
	// lifetime.
	GUID uuid.UUID
}

// New returns an empty registry with a freshly generated WIM GUID.
func New() *Registry {
	return &Registry{GUID: uuid.New()}
}

// AddImage appends a fresh ImageDescriptor for root/sec to the registry,
// allocating a metadata-stream placeholder with a random digest flagged
// as metadata (§4.4 step 6), and registers name in the XML image list
// (out of scope here beyond name-collision checking, §1/§6).
func (r *Registry) AddImage(lookup *lookuptable.Table, name string, root *dentry.Dentry, sec *security.Set, boot bool) (*Descriptor, error) {
	if name != "" {
		for _, img := range r.images {
			if img.Name == name {
				return nil, wimerr.New(wimerr.ImageNameCollision, "add-image", name, errNameCollision)
			}
		}
	}
	entry := &lookuptable.StreamEntry{
		Digest:     randomDigest(),
		Refcount:   1,
		IsMetadata: true,
		Residence:  lookuptable.Absent{},
	}
	lookup.Insert(entry)

	desc := &Descriptor{
		Name:          name,
		Root:          root,
		Security:      sec,
		MetadataEntry: entry,
		Modified:      true,
	}
	r.images = append(r.images, desc)
	if boot {
		r.boot = len(r.images)
	}
	return desc, nil
}

// Image returns the 1-based image index, or nil if out of range.
func (r *Registry) Image(index int) *Descriptor {
	if index < 1 || index > len(r.images) {
		return nil
	}
	return r.images[index-1]
}

// Len reports the number of images currently registered.
func (r *Registry) Len() int { return len(r.images) }

// BootIndex returns the 1-based boot image index, or 0 if none is set.
func (r *Registry) BootIndex() int { return r.boot }

func randomDigest() digest.SHA1 {
	var d digest.SHA1
	_, _ = rand.Read(d[:])
	return d
}

var errNameCollision = plainError("image name already exists in this WIM")

type plainError string

func (e plainError) Error() string { return string(e) }
