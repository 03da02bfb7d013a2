package capture

import (
	"crypto/sha1"
	"encoding/binary"
	"io"

	"github.com/wimimage/wimcore/digest"
	"github.com/wimimage/wimcore/fsadapter"
)

// ReparseTagSymlink is IO_REPARSE_TAG_SYMLINK, the tag the engine assigns
// to a captured POSIX symlink (§4.4).
const ReparseTagSymlink = 0xA000000C

// maxReparseDataSize bounds a single reparse read (§4.4: "≤ 16 KiB").
const maxReparseDataSize = 16 * 1024

// maxShortNameBytes bounds a short/DOS name, UTF-16 encoded (§3).
const maxShortNameBytes = 24

func hashFile(a fsadapter.ReadAdapter, path string) (digest.SHA1, int64, error) {
	h, err := a.OpenForRead(path)
	if err != nil {
		return digest.SHA1{}, 0, err
	}
	defer a.Close(h)
	return hashHandle(func(off int64, buf []byte) (int, error) {
		return a.ReadFile(h, off, buf)
	})
}

func hashNamedStream(a fsadapter.ReadAdapter, path, name string) (digest.SHA1, int64, error) {
	rc, err := a.OpenStreamForRead(path, name)
	if err != nil {
		return digest.SHA1{}, 0, err
	}
	defer rc.Close()
	return digest.HashReader(rc)
}

func hashHandle(readAt func(off int64, buf []byte) (int, error)) (digest.SHA1, int64, error) {
	h := sha1.New()
	buf := make([]byte, digest.ChunkSize)
	var total int64
	var offset int64
	for {
		n, err := readAt(offset, buf)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
			offset += int64(n)
		}
		if err == io.EOF || n == 0 {
			break
		}
		if err != nil {
			return digest.SHA1{}, total, err
		}
	}
	var d digest.SHA1
	copy(d[:], h.Sum(nil))
	return d, total, nil
}

func shaSum(b []byte) [20]byte {
	return sha1.Sum(b)
}

// encodeUnixData packs uid/gid/mode into the fixed 16-byte
// $$__wimlib_UNIX_data layout (§4.4 step 4): u32 uid, u32 gid, u32 mode,
// u32 rdev.
func encodeUnixData(mode uint32, uid, gid uint32) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], uid)
	binary.LittleEndian.PutUint32(buf[4:8], gid)
	binary.LittleEndian.PutUint32(buf[8:12], mode)
	binary.LittleEndian.PutUint32(buf[12:16], 0)
	return buf
}

// DecodeUnixData unpacks the fixed 16-byte layout back into uid/gid/mode.
func DecodeUnixData(buf []byte) (mode, uid, gid uint32, ok bool) {
	if len(buf) < 16 {
		return 0, 0, 0, false
	}
	uid = binary.LittleEndian.Uint32(buf[0:4])
	gid = binary.LittleEndian.Uint32(buf[4:8])
	mode = binary.LittleEndian.Uint32(buf[8:12])
	return mode, uid, gid, true
}
