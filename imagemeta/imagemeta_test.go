package imagemeta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wimimage/wimcore/dentry"
	"github.com/wimimage/wimcore/lookuptable"
	"github.com/wimimage/wimcore/security"
)

func newRootAndSec() (*dentry.Dentry, *security.Set) {
	arena := dentry.NewArena()
	return dentry.NewRoot(arena), security.New()
}

func TestNewRegistryGeneratesGUID(t *testing.T) {
	r := New()
	assert.NotEqual(t, r.GUID.String(), New().GUID.String(), "each registry gets its own generated GUID")
}

func TestAddImageAppendsDescriptor(t *testing.T) {
	r := New()
	lookup := lookuptable.New()
	root, sec := newRootAndSec()

	desc, err := r.AddImage(lookup, "first", root, sec, false)
	require.NoError(t, err)
	assert.Equal(t, "first", desc.Name)
	assert.True(t, desc.Modified)
	assert.Equal(t, 1, r.Len())
	assert.Same(t, desc, r.Image(1))
}

func TestAddImageAllocatesMetadataStreamEntry(t *testing.T) {
	r := New()
	lookup := lookuptable.New()
	root, sec := newRootAndSec()

	desc, err := r.AddImage(lookup, "img", root, sec, false)
	require.NoError(t, err)
	require.NotNil(t, desc.MetadataEntry)
	assert.True(t, desc.MetadataEntry.IsMetadata)
	assert.Equal(t, 1, lookup.Len())
}

func TestAddImageRejectsDuplicateName(t *testing.T) {
	r := New()
	lookup := lookuptable.New()
	root1, sec1 := newRootAndSec()
	root2, sec2 := newRootAndSec()

	_, err := r.AddImage(lookup, "dup", root1, sec1, false)
	require.NoError(t, err)
	_, err = r.AddImage(lookup, "dup", root2, sec2, false)
	assert.Error(t, err)
	assert.Equal(t, 1, r.Len(), "a rejected image must not be appended")
}

func TestAddImageAllowsRepeatedEmptyName(t *testing.T) {
	r := New()
	lookup := lookuptable.New()
	root1, sec1 := newRootAndSec()
	root2, sec2 := newRootAndSec()

	_, err := r.AddImage(lookup, "", root1, sec1, false)
	require.NoError(t, err)
	_, err = r.AddImage(lookup, "", root2, sec2, false)
	assert.NoError(t, err, "unnamed images are not subject to the name-collision check")
	assert.Equal(t, 2, r.Len())
}

func TestBootIndexTracksMostRecentlyFlaggedImage(t *testing.T) {
	r := New()
	lookup := lookuptable.New()
	root1, sec1 := newRootAndSec()
	root2, sec2 := newRootAndSec()

	_, err := r.AddImage(lookup, "one", root1, sec1, false)
	require.NoError(t, err)
	assert.Equal(t, 0, r.BootIndex(), "no boot image set yet")

	_, err = r.AddImage(lookup, "two", root2, sec2, true)
	require.NoError(t, err)
	assert.Equal(t, 2, r.BootIndex())
}

func TestImageOutOfRangeReturnsNil(t *testing.T) {
	r := New()
	assert.Nil(t, r.Image(0))
	assert.Nil(t, r.Image(1))

	lookup := lookuptable.New()
	root, sec := newRootAndSec()
	_, err := r.AddImage(lookup, "solo", root, sec, false)
	require.NoError(t, err)
	assert.Nil(t, r.Image(2))
	assert.Nil(t, r.Image(-1))
}
