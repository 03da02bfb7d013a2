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

func TestCaptureNormalizesDecomposedNamesToNFC(t *testing.T) {
	root := t.TempDir()
	// "e" followed by a combining acute accent (U+0301), NFD form - what
	// HFS+ hands back for a file named with the precomposed character.
	decomposedName := "é.txt"
	require.NoError(t, os.WriteFile(filepath.Join(root, decomposedName), []byte("x"), 0o644))

	result, err := AddImage(posix.New(), lookuptable.New(), root, capconfig.Default(), 0, nil)
	require.NoError(t, err)

	precomposedName := "é.txt"
	d := result.Root.Child(precomposedName)
	require.NotNil(t, d, "capture must normalize the decomposed on-disk name to NFC")
	assert.Equal(t, precomposedName, d.Name)
}
