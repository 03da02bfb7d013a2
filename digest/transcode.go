package digest

import (
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/unicode/norm"
)

// utf16LE is the codec wimlib on-disk names use: little-endian UTF-16,
// no BOM.
var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// UTF8ToUTF16 encodes s (UTF-8) as little-endian UTF-16 bytes, the wire
// form used for dentry file names and short names (§3).
func UTF8ToUTF16(s string) ([]byte, error) {
	return utf16LE.NewEncoder().Bytes([]byte(s))
}

// UTF16ToUTF8 decodes little-endian UTF-16 bytes back to a UTF-8 string.
func UTF16ToUTF8(b []byte) (string, error) {
	out, err := utf16LE.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NormalizeNFC applies Unicode NFC normalization, mirroring the teacher's
// optional --local-unicode-normalization behavior for names read from a
// filesystem that may hand back NFD-decomposed names (macOS HFS+).
func NormalizeNFC(s string) string {
	return norm.NFC.String(s)
}
