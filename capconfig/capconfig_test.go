package capconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `[ExclusionList]
*.tmp
/pagefile.sys
System Volume Information

[ExclusionException]
\important.tmp

[CompressionExclusionList]
*.mp3

[AlignmentList]
*.dll
`

func TestParseAndExclude(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.True(t, cfg.Exclude("/src/foo.tmp", false))
	assert.True(t, cfg.Exclude("/src/deep/bar.TMP", false), "matching must be case-insensitive")
	assert.False(t, cfg.Exclude("/src/foo.txt", false))

	// ExclusionException overrides ExclusionList for an otherwise
	// matching path.
	assert.False(t, cfg.Exclude("/important.tmp", false))

	// A rooted pattern only matches at the capture-source root.
	assert.True(t, cfg.Exclude("/pagefile.sys", false))
	assert.False(t, cfg.Exclude("/sub/pagefile.sys", false))

	assert.True(t, cfg.CompressionExcluded("/music/track.mp3"))
	assert.False(t, cfg.CompressionExcluded("/music/track.wav"))
	assert.True(t, cfg.Aligned("/bin/lib.dll"))
}

func TestExcludeStripsPrefix(t *testing.T) {
	cfg, err := Parse([]byte("[ExclusionList]\n/pagefile.sys\n"))
	require.NoError(t, err)
	cfg.SetPrefix("/mnt/capture")

	assert.True(t, cfg.Exclude("/mnt/capture/pagefile.sys", true))
	assert.False(t, cfg.Exclude("/mnt/capture/sub/pagefile.sys", true))
}

func TestParseRejectsLineBeforeSection(t *testing.T) {
	_, err := Parse([]byte("*.tmp\n[ExclusionList]\n*.log\n"))
	assert.Error(t, err)
}

func TestParseRejectsUnknownSection(t *testing.T) {
	_, err := Parse([]byte("[NotASection]\nfoo\n"))
	assert.Error(t, err)
}

func TestParseIgnoresBlankLinesAndCRLF(t *testing.T) {
	cfg, err := Parse([]byte("[ExclusionList]\r\n*.tmp\r\n\r\n*.bak\r\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Exclude("/a.tmp", false))
	assert.True(t, cfg.Exclude("/a.bak", false))
}

func TestParseBackslashAndDriveLetterNormalization(t *testing.T) {
	cfg, err := Parse([]byte(`[ExclusionList]
C:\Windows\Temp
`))
	require.NoError(t, err)
	assert.True(t, cfg.Exclude("/Windows/Temp", false))
}

func TestDefaultConfigParses(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	// The default config always excludes the paging file wherever it
	// appears at a capture-source root.
	assert.True(t, cfg.Exclude("/pagefile.sys", false))
}
