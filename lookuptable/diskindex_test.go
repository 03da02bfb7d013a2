package lookuptable

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskIndexStoreLookup(t *testing.T) {
	idx, err := OpenDiskIndex(filepath.Join(t.TempDir(), "fingerprints.db"))
	require.NoError(t, err)
	defer idx.Close()

	mtime := time.Unix(1700000000, 0)
	d := digestOf(9)

	_, hit := idx.Lookup("/src/a.txt", mtime, 123)
	assert.False(t, hit, "empty index must miss")

	idx.Store("/src/a.txt", mtime, 123, d)
	got, hit := idx.Lookup("/src/a.txt", mtime, 123)
	require.True(t, hit)
	assert.Equal(t, d, got)
}

func TestDiskIndexMissOnChangedFingerprint(t *testing.T) {
	idx, err := OpenDiskIndex(filepath.Join(t.TempDir(), "fingerprints.db"))
	require.NoError(t, err)
	defer idx.Close()

	mtime := time.Unix(1700000000, 0)
	idx.Store("/src/a.txt", mtime, 123, digestOf(1))

	_, hit := idx.Lookup("/src/a.txt", mtime, 456)
	assert.False(t, hit, "size change must invalidate the cached fingerprint")

	_, hit = idx.Lookup("/src/a.txt", mtime.Add(time.Second), 123)
	assert.False(t, hit, "mtime change must invalidate the cached fingerprint")
}

func TestNilDiskIndexAlwaysMisses(t *testing.T) {
	var idx *DiskIndex
	_, hit := idx.Lookup("/any/path", time.Now(), 10)
	assert.False(t, hit)
	idx.Store("/any/path", time.Now(), 10, digestOf(1)) // must not panic
	assert.NoError(t, idx.Close())
}
