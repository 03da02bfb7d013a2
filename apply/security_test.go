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
	"github.com/wimimage/wimcore/fsadapter"
	"github.com/wimimage/wimcore/fsadapter/posix"
	"github.com/wimimage/wimcore/lookuptable"
)

// securityCapturingAdapter wraps the real POSIX adapter but intercepts
// SetSecurity, which posix.Adapter always reports Unsupported for, so the
// real descriptor bytes apply hands it can be asserted on directly.
type securityCapturingAdapter struct {
	*posix.Adapter
	calls [][]byte
}

func (a *securityCapturingAdapter) SetSecurity(h fsadapter.Handle, descriptor []byte, selection fsadapter.SecuritySelection) error {
	a.calls = append(a.calls, append([]byte(nil), descriptor...))
	return nil
}

func TestApplyAppliesCapturedSecurityDescriptor(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "f.txt"), []byte("x"), 0o644))

	adapter := &securityCapturingAdapter{Adapter: posix.New()}
	result, err := capture.AddImage(adapter, lookuptable.New(), src, capconfig.Default(), 0, nil)
	require.NoError(t, err)

	// POSIX carries no CapSecurityDescriptors, so capture never assigns a
	// SecurityID; inject one directly to exercise apply's lookup path the
	// way a real security-capable adapter's capture would.
	fileDentry := result.Root.Child("f.txt")
	require.NotNil(t, fileDentry)
	want := []byte("fake-descriptor-bytes")
	fileDentry.Inode().SecurityID = int32(result.Security.AddDescriptor(want))

	dst := t.TempDir()
	err = apply.ApplyImage(adapter, posix.NewRootHandle(dst), result.Root, result.Security, 0, nil)
	require.NoError(t, err)

	require.Len(t, adapter.calls, 1)
	assert.Equal(t, want, adapter.calls[0])
}

func TestApplySkipsSecurityWhenSecuritySetIsNil(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "f.txt"), []byte("x"), 0o644))

	adapter := &securityCapturingAdapter{Adapter: posix.New()}
	result, err := capture.AddImage(adapter, lookuptable.New(), src, capconfig.Default(), 0, nil)
	require.NoError(t, err)

	fileDentry := result.Root.Child("f.txt")
	require.NotNil(t, fileDentry)
	fileDentry.Inode().SecurityID = int32(result.Security.AddDescriptor([]byte("ignored")))

	dst := t.TempDir()
	err = apply.ApplyImage(adapter, posix.NewRootHandle(dst), result.Root, nil, 0, nil)
	require.NoError(t, err)

	assert.Empty(t, adapter.calls, "a nil SecuritySet must not be able to apply a descriptor")
}
