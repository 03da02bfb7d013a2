package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wimimage/wimcore/capconfig"
	"github.com/wimimage/wimcore/fsadapter/posix"
	"github.com/wimimage/wimcore/lookuptable"
)

func TestFlagsOptionsRoundTrip(t *testing.T) {
	f := Boot | UnixData | Ntfs
	opts := f.Options()
	assert.True(t, opts.Boot)
	assert.False(t, opts.Verbose)
	assert.False(t, opts.Dereference)
	assert.True(t, opts.UnixData)
	assert.True(t, opts.Ntfs)

	back := FromOptions(opts)
	assert.Equal(t, f, back)
}

func TestFlagsOptionsExcludesInternalMarkers(t *testing.T) {
	f := root | source | Boot
	opts := f.Options()
	assert.Equal(t, uint32(Boot), opts.Bits(), "root/source internal markers must not surface in the typed Options")
}

func TestAddImageWithOptionsMatchesFlagsEntryPoint(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))

	result, err := AddImageWithOptions(posix.New(), lookuptable.New(), src, capconfig.Default(), capconfig.Options{Verbose: true}, nil)
	require.NoError(t, err)
	assert.NotNil(t, result.Root.Child("a.txt"))
}

func TestAddImageMultisourceWithOptionsMatchesFlagsEntryPoint(t *testing.T) {
	srcA := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcA, "a.txt"), []byte("a"), 0o644))

	result, err := AddImageMultisourceWithOptions(posix.New(), lookuptable.New(),
		[]Source{{Path: srcA, WimTargetPath: ""}}, capconfig.Default(), capconfig.Options{}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, result.Root.Child("a.txt"))
}
