package lookuptable

import (
	"encoding/binary"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wimimage/wimcore/digest"
	"github.com/wimimage/wimcore/wimerr"
)

var bucketName = []byte("fingerprints")

// DiskIndex persists a (path, mtime, size) -> digest fingerprint cache
// across capture runs, the same role the teacher's backend/hasher/kv.go
// fills for cached checksums: avoid rehashing a file whose fingerprint
// hasn't changed since the last capture. It is optional - a capture
// Engine with a nil DiskIndex just hashes everything every time.
type DiskIndex struct {
	db *bbolt.DB
}

// OpenDiskIndex opens (creating if absent) a bbolt-backed fingerprint
// cache at path.
func OpenDiskIndex(path string) (*DiskIndex, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, wimerr.New(wimerr.Open, "disk-index-open", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, wimerr.New(wimerr.Open, "disk-index-init", path, err)
	}
	return &DiskIndex{db: db}, nil
}

// Close releases the underlying bbolt.DB.
func (idx *DiskIndex) Close() error {
	if idx == nil || idx.db == nil {
		return nil
	}
	return idx.db.Close()
}

// Lookup returns the cached digest for sourcePath if its recorded mtime
// and size still match, reporting a cache hit.
func (idx *DiskIndex) Lookup(sourcePath string, mtime time.Time, size int64) (digest.SHA1, bool) {
	if idx == nil {
		return digest.SHA1{}, false
	}
	var d digest.SHA1
	hit := false
	_ = idx.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(sourcePath))
		if len(v) != recordSize {
			return nil
		}
		recMtime := int64(binary.BigEndian.Uint64(v[0:8]))
		recSize := int64(binary.BigEndian.Uint64(v[8:16]))
		if recMtime != mtime.UnixNano() || recSize != size {
			return nil
		}
		copy(d[:], v[16:])
		hit = true
		return nil
	})
	return d, hit
}

// Store records sourcePath's current (mtime, size, digest) fingerprint.
func (idx *DiskIndex) Store(sourcePath string, mtime time.Time, size int64, d digest.SHA1) {
	if idx == nil {
		return
	}
	rec := make([]byte, recordSize)
	binary.BigEndian.PutUint64(rec[0:8], uint64(mtime.UnixNano()))
	binary.BigEndian.PutUint64(rec[8:16], uint64(size))
	copy(rec[16:], d[:])
	_ = idx.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(sourcePath), rec)
	})
}

const recordSize = 8 + 8 + digest.Size
