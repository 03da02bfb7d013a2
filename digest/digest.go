// Package digest provides the streaming SHA-1 hashing, chunked copy, and
// UTF-8/UTF-16 transcoding primitives shared by the capture and apply
// engines.
package digest

import (
	"crypto/sha1"
	"hash"
	"io"
)

// Size is the length in bytes of a digest (SHA-1).
const Size = sha1.Size

// ChunkSize is the I/O chunk size used by streaming hash and copy
// operations (§2, "chunked copy (32 KiB)").
const ChunkSize = 32 * 1024

// SHA1 is a 20-byte SHA-1 digest, used as the LookupTable key.
type SHA1 [Size]byte

// Zero reports whether d is the all-zero digest.
func (d SHA1) Zero() bool {
	return d == SHA1{}
}

// HashReader streams r through SHA-1 in ChunkSize pieces, returning the
// digest and the number of bytes read.
func HashReader(r io.Reader) (SHA1, int64, error) {
	h := sha1.New()
	n, err := copyChunked(h, r)
	if err != nil {
		return SHA1{}, n, err
	}
	var d SHA1
	copy(d[:], h.Sum(nil))
	return d, n, nil
}

// CopyChunked copies from src to dst in ChunkSize pieces, optionally also
// feeding every chunk to hasher (may be nil) so callers can verify content
// against a recorded digest while writing it out (§4.5 step 5d).
func CopyChunked(dst io.Writer, src io.Reader, hasher hash.Hash) (int64, error) {
	if hasher == nil {
		return copyChunked(dst, src)
	}
	return copyChunked(io.MultiWriter(dst, hasher), src)
}

func copyChunked(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	return io.CopyBuffer(dst, src, buf)
}

// VerifyDigest compares want against the SHA-1 of everything read from r.
// A mismatch is the caller's InvalidResourceHash condition (§4.5, §7).
func VerifyDigest(want SHA1, r io.Reader) (bool, error) {
	got, _, err := HashReader(r)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
