package apply_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wimimage/wimcore/apply"
	"github.com/wimimage/wimcore/capconfig"
	"github.com/wimimage/wimcore/capture"
	"github.com/wimimage/wimcore/fsadapter/posix"
	"github.com/wimimage/wimcore/lookuptable"
)

// buildSource lays out a small tree exercising a regular file, a
// subdirectory, a symlink and a hard link, matching the shape of §8's
// worked scenarios.
func buildSource(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "nested.txt"), []byte("nested content"), 0o644))
	require.NoError(t, os.Symlink("hello.txt", filepath.Join(root, "link-to-hello")))
	require.NoError(t, os.Link(filepath.Join(root, "hello.txt"), filepath.Join(root, "hello-alias.txt")))
	return root
}

func TestCaptureThenApplyRoundTrip(t *testing.T) {
	src := buildSource(t)
	adapter := posix.New()
	lookup := lookuptable.New()
	cfg := capconfig.Default()

	result, err := capture.AddImage(adapter, lookup, src, cfg, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, result.Root)

	dst := t.TempDir()
	rootHandle := posix.NewRootHandle(dst)
	err = apply.ApplyImage(adapter, rootHandle, result.Root, result.Security, 0, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dst, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	got, err = os.ReadFile(filepath.Join(dst, "sub", "nested.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested content", string(got))

	target, err := os.Readlink(filepath.Join(dst, "link-to-hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", target)

	origInfo, err := os.Stat(filepath.Join(dst, "hello.txt"))
	require.NoError(t, err)
	aliasInfo, err := os.Stat(filepath.Join(dst, "hello-alias.txt"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(origInfo, aliasInfo), "hard-linked names must resolve to the same applied inode")
}

func TestCaptureDedupsIdenticalContentAcrossFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("same bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("same bytes"), 0o644))

	adapter := posix.New()
	lookup := lookuptable.New()
	_, err := capture.AddImage(adapter, lookup, root, capconfig.Default(), 0, nil)
	require.NoError(t, err)

	// Two distinct, non-hard-linked files with identical content must
	// collapse onto one LookupTable entry with refcount 2 (§4.2 dedup).
	assert.Equal(t, 1, lookup.Len())
	var refcount uint32
	lookup.Iterate(func(e *lookuptable.StreamEntry) { refcount = e.Refcount })
	assert.Equal(t, uint32(2), refcount)
}

func TestApplyDetectsCorruptedStreamContent(t *testing.T) {
	src := buildSource(t)
	adapter := posix.New()
	lookup := lookuptable.New()
	result, err := capture.AddImage(adapter, lookup, src, capconfig.Default(), 0, nil)
	require.NoError(t, err)

	// Corrupt the recorded digest of every stream so apply's
	// hash-verification step must fail closed rather than silently
	// writing mismatched content (§7: "silent correction is forbidden").
	lookup.Iterate(func(e *lookuptable.StreamEntry) {
		e.Digest[0] ^= 0xFF
	})

	dst := t.TempDir()
	err = apply.ApplyImage(adapter, posix.NewRootHandle(dst), result.Root, result.Security, 0, nil)
	assert.Error(t, err)
}
