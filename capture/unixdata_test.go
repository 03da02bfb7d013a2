package capture

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wimimage/wimcore/capconfig"
	"github.com/wimimage/wimcore/fsadapter/posix"
	"github.com/wimimage/wimcore/lookuptable"
)

func TestUnixDataEncodesRealOwnerAndGroup(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o640))

	adapter := posix.New()
	meta, err := adapter.Stat(path, false)
	require.NoError(t, err)

	lookup := lookuptable.New()
	result, err := AddImage(adapter, lookup, root, capconfig.Default(), UnixData, nil)
	require.NoError(t, err)

	d := result.Root.Child("f.txt")
	require.NotNil(t, d)
	entry := d.Inode().Stream(unixDataStreamName)
	require.NotNil(t, entry, "UnixData flag must bind the $$__wimlib_UNIX_data stream")

	rc, err := entry.Residence.Open()
	require.NoError(t, err)
	defer rc.Close()
	buf, err := io.ReadAll(rc)
	require.NoError(t, err)

	mode, uid, gid, ok := DecodeUnixData(buf)
	require.True(t, ok)
	assert.Equal(t, meta.Uid, uid, "captured uid must match the real file owner, not a hardcoded 0")
	assert.Equal(t, meta.Gid, gid, "captured gid must match the real file group, not a hardcoded 0")
	assert.Equal(t, meta.Mode, mode)
}
