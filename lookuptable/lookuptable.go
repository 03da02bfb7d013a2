// Package lookuptable implements the content-addressed stream table (§3,
// §4.2): a map from 20-byte SHA-1 digest to a deduplicated StreamEntry.
//
// No concurrency guarantees are made here (§5): mutation must be
// serialized externally by the engine that owns one capture or apply
// invocation.
package lookuptable

import (
	"github.com/wimimage/wimcore/digest"
)

// StreamEntry is one deduplicated content-addressed stream (§3).
type StreamEntry struct {
	Digest       digest.SHA1
	Size         int64
	Refcount     uint32
	Residence    Residence
	IsMetadata   bool // flagged metadata stream (§4.4 step 6)
}

// Table is the LookupTable: digest -> *StreamEntry.
type Table struct {
	byDigest map[digest.SHA1]*StreamEntry
}

// New returns an empty LookupTable.
func New() *Table {
	return &Table{byDigest: make(map[digest.SHA1]*StreamEntry)}
}

// Lookup returns the entry for digest, or nil if absent.
func (t *Table) Lookup(d digest.SHA1) *StreamEntry {
	return t.byDigest[d]
}

// Insert places entry in the table keyed by its digest. It does not dedup
// - callers must Lookup first (§4.2).
func (t *Table) Insert(entry *StreamEntry) {
	t.byDigest[entry.Digest] = entry
}

// RefUp increments entry's refcount (L2: refcount tracks live references
// from resolved inodes and ADS slots).
func (t *Table) RefUp(entry *StreamEntry) {
	entry.Refcount++
}

// RefDown decrements entry's refcount; at zero it is removed from the
// table and its residence is released (L4: delete requires refcount 0).
func (t *Table) RefDown(entry *StreamEntry) {
	if entry.Refcount == 0 {
		return
	}
	entry.Refcount--
	if entry.Refcount == 0 {
		delete(t.byDigest, entry.Digest)
		entry.Residence = Absent{}
	}
}

// Iterate calls fn for every entry currently in the table. fn must not
// mutate the table.
func (t *Table) Iterate(fn func(*StreamEntry)) {
	for _, e := range t.byDigest {
		fn(e)
	}
}

// Len reports the number of distinct streams currently tracked.
func (t *Table) Len() int {
	return len(t.byDigest)
}
