package capture

import (
	"path/filepath"
	"strings"

	"github.com/wimimage/wimcore/capconfig"
	"github.com/wimimage/wimcore/dentry"
	"github.com/wimimage/wimcore/digest"
	"github.com/wimimage/wimcore/fsadapter"
	"github.com/wimimage/wimcore/lookuptable"
	"github.com/wimimage/wimcore/security"
	"github.com/wimimage/wimcore/wimerr"
	"github.com/wimimage/wimcore/wimlog"
)

// unixDataStreamName is the fixed ADS name the UnixData flag stores
// uid/gid/mode under (§4.4 step 4).
const unixDataStreamName = "$$__wimlib_UNIX_data"

// Engine runs buildDentryTree/addImage against one shared LookupTable,
// SecuritySet and Arena. A single Engine must not be driven concurrently
// from more than one goroutine (§5).
type Engine struct {
	Arena    *dentry.Arena
	Lookup   *lookuptable.Table
	Security *security.Set
	Adapter  fsadapter.ReadAdapter
	Config   *capconfig.Config
	Progress ProgressFunc

	// DiskIndex, if set, caches (mtime, size) -> digest fingerprints
	// across capture runs so an unchanged file is never rehashed twice
	// (grounded on the teacher's backend/hasher cached-checksum model).
	DiskIndex *lookuptable.DiskIndex

	errored bool // suppresses further progress events after the first error (§7)

	// inodeByDevIno detects hard links within this Engine's capture
	// source only (Design Note §9: "capture_inode_map ... scoped
	// per-source"). A fresh Engine is used per capture source by
	// AddImageMultisource, so this map's lifetime is exactly one source.
	inodeByDevIno map[dentry.DevIno]dentry.InodeID
}

func (e *Engine) emit(ev Event) {
	if e.Progress == nil || e.errored {
		return
	}
	e.Progress(ev)
}

func (e *Engine) fail(err error) error {
	e.errored = true
	return err
}

// BuildDentryTree walks sourcePath and returns a Dentry rooted at its
// basename, or nil if the node was excluded (§4.4).
func (e *Engine) BuildDentryTree(sourcePath string, flags Flags) (*dentry.Dentry, error) {
	wimlog.Debugf(sourcePath, "buildDentryTree")

	// 1. Filter.
	if e.Config.Exclude(sourcePath, true) {
		if flags.has(root) {
			return nil, e.fail(wimerr.New(wimerr.InvalidCaptureConfig, "build-dentry-tree", sourcePath, errExcludedRoot))
		}
		e.emit(Event{Kind: ScanDentry, CurPath: sourcePath, Excluded: true})
		return nil, nil
	}
	e.emit(Event{Kind: ScanDentry, CurPath: sourcePath})

	// 2. Stat.
	deref := flags.has(Dereference)
	if flags.has(root) {
		// "if the source root is a symlink and ROOT is set, dereference once"
		lm, err := e.Adapter.Stat(sourcePath, false)
		if err != nil {
			return nil, e.fail(err)
		}
		if lm.IsSymlink {
			deref = true
		}
	}
	meta, err := e.Adapter.Stat(sourcePath, deref)
	if err != nil {
		return nil, e.fail(err)
	}
	if flags.has(root) && deref && !meta.IsDir {
		return nil, e.fail(wimerr.New(wimerr.NotDir, "build-dentry-tree", sourcePath, errRootNotDir))
	}
	caps := e.Adapter.Capabilities()
	streamCapable := caps.Has(fsadapter.CapADS) || caps.Has(fsadapter.CapShortNames)
	if !meta.IsRegular && !meta.IsDir && !meta.IsSymlink && !streamCapable {
		return nil, e.fail(wimerr.New(wimerr.SpecialFile, "build-dentry-tree", sourcePath, errSpecialFile))
	}

	// 3. Create dentry + inode, or bind a new dentry to an
	// already-known inode when (dev, ino) marks this as a hard link to
	// something already captured from this same source (Design Note §9).
	devIno := dentry.DevIno{Dev: meta.Dev, Ino: meta.Ino}
	// NFC-normalize the name: a source tree read off macOS HFS+ hands
	// back NFD-decomposed names, and two dentries that only differ by
	// normalization form must not be treated as distinct (§4.1/I3).
	name := digest.NormalizeNFC(filepath.Base(sourcePath))
	if !meta.IsDir && devIno.Ino != 0 {
		if e.inodeByDevIno == nil {
			e.inodeByDevIno = make(map[dentry.DevIno]dentry.InodeID)
		}
		if existingID, ok := e.inodeByDevIno[devIno]; ok {
			d := dentry.NewLinked(e.Arena, existingID, name)
			// Every dentry naming a stream counts as a live
			// reference (L2), even when several dentries share
			// one inode via a hard link (§8 scenario 2).
			if inode := e.Arena.Get(existingID); inode != nil {
				if inode.Unnamed != nil {
					e.Lookup.RefUp(inode.Unnamed)
				}
				for _, ns := range inode.NamedStreams {
					e.Lookup.RefUp(ns.Entry)
				}
			}
			return d, nil
		}
	}

	d := dentry.New(e.Arena, name)
	inode := d.Inode()
	inode.Creation = dentry.FromTime(meta.Creation)
	inode.LastWrite = dentry.FromTime(meta.LastWrite)
	inode.LastAccess = dentry.FromTime(meta.LastAccess)
	inode.DeviceIno = devIno
	if meta.IsDir {
		inode.Attributes |= dentry.AttrDirectory
	} else {
		inode.Attributes |= dentry.AttrNormal
	}
	inode.Resolved = true
	if !meta.IsDir && devIno.Ino != 0 {
		e.inodeByDevIno[devIno] = inode.ID
	}

	// 4. UNIX-data mode.
	if flags.has(UnixData) {
		buf := encodeUnixData(meta.Mode, meta.Uid, meta.Gid)
		e.bindMemoryStream(inode, unixDataStreamName, buf)
	}

	// 5. Kind dispatch.
	switch {
	case meta.IsDir:
		if err := e.captureDirectory(d, sourcePath); err != nil {
			return nil, e.fail(err)
		}
	case meta.IsSymlink && !deref:
		if err := e.captureSymlink(d, sourcePath); err != nil {
			return nil, e.fail(err)
		}
	case streamCapable:
		if err := e.captureStreamCapable(d, sourcePath, meta); err != nil {
			return nil, e.fail(err)
		}
	default:
		if err := e.captureRegular(d, sourcePath, meta); err != nil {
			return nil, e.fail(err)
		}
	}
	return d, nil
}

func (e *Engine) captureRegular(d *dentry.Dentry, sourcePath string, meta fsadapter.Meta) error {
	if meta.Size == 0 {
		return nil
	}
	sum, cached := e.DiskIndex.Lookup(sourcePath, meta.LastWrite, meta.Size)
	n := meta.Size
	if !cached {
		var err error
		sum, n, err = hashFile(e.Adapter, sourcePath)
		if err != nil {
			return wimerr.New(wimerr.Read, "capture-regular", sourcePath, err)
		}
		e.DiskIndex.Store(sourcePath, meta.LastWrite, meta.Size, sum)
	}
	entry := e.Lookup.Lookup(sum)
	if entry != nil {
		e.Lookup.RefUp(entry)
	} else {
		entry = &lookuptable.StreamEntry{
			Digest:    sum,
			Size:      n,
			Refcount:  1,
			Residence: lookuptable.SourceFile{Path: sourcePath},
		}
		e.Lookup.Insert(entry)
	}
	d.Inode().AddStream("", entry)
	return nil
}

func (e *Engine) captureDirectory(d *dentry.Dentry, sourcePath string) error {
	names, err := e.Adapter.ListChildren(sourcePath)
	if err != nil {
		return wimerr.New(wimerr.Read, "capture-directory", sourcePath, err)
	}
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		child, err := e.BuildDentryTree(filepath.Join(sourcePath, name), 0)
		if err != nil {
			return err
		}
		if child == nil {
			continue
		}
		if err := d.AddChild(child); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) captureSymlink(d *dentry.Dentry, sourcePath string) error {
	target, err := e.Adapter.ReadLink(sourcePath)
	if err != nil {
		return err
	}
	inode := d.Inode()
	inode.Attributes |= dentry.AttrReparsePoint
	inode.ReparseTag = ReparseTagSymlink
	inode.ReparseValid = true

	if targetMeta, err := e.Adapter.Stat(sourcePath, true); err == nil && targetMeta.IsDir {
		inode.Attributes |= dentry.AttrDirectory
	}
	e.bindMemoryStream(inode, "", []byte(normalizeSymlinkTarget(target)))
	return nil
}

// normalizeSymlinkTarget never emits a junction or drive-letter-qualified
// path (§4.4: "never a junction, never drive-letter-qualified").
func normalizeSymlinkTarget(target string) string {
	t := strings.ReplaceAll(target, `\`, "/")
	if len(t) >= 2 && t[1] == ':' {
		t = t[2:]
	}
	return t
}

func (e *Engine) captureStreamCapable(d *dentry.Dentry, sourcePath string, meta fsadapter.Meta) error {
	caps := e.Adapter.Capabilities()
	inode := d.Inode()

	if caps.Has(fsadapter.CapShortNames) {
		if sn, err := e.Adapter.ShortNameOf(sourcePath); err == nil && sn != "" {
			wide, err := digest.UTF8ToUTF16(sn)
			if err != nil {
				return e.fail(wimerr.New(wimerr.InvalidUTF8, "capture-short-name", sourcePath, err))
			}
			if len(wide) > maxShortNameBytes {
				return e.fail(wimerr.New(wimerr.InvalidDentry, "capture-short-name", sourcePath, errShortNameTooLong))
			}
			d.ShortName = sn
		}
	}
	if caps.Has(fsadapter.CapSecurityDescriptors) {
		if sd, err := e.Adapter.ReadSecurity(sourcePath); err == nil && len(sd) > 0 {
			inode.SecurityID = int32(e.Security.AddDescriptor(sd))
		}
	}

	if meta.IsReparse && caps.Has(fsadapter.CapReparsePoints) {
		h, err := e.Adapter.OpenForRead(sourcePath)
		if err != nil {
			return err
		}
		defer e.Adapter.Close(h)
		buf := make([]byte, maxReparseDataSize)
		n, err := e.Adapter.ReadReparse(h, buf)
		if err != nil {
			return err
		}
		inode.Attributes |= dentry.AttrReparsePoint
		inode.ReparseValid = true
		e.bindMemoryStream(inode, "", append([]byte(nil), buf[:n]...))
		return nil
	}

	if meta.Size > 0 {
		if err := e.captureRegular(d, sourcePath, meta); err != nil {
			return err
		}
	}

	streams, err := e.Adapter.ListStreams(sourcePath)
	if err != nil {
		return err
	}
	for _, sm := range streams {
		if sm.Name == "" || sm.Size == 0 {
			continue
		}
		sum, n, err := hashNamedStream(e.Adapter, sourcePath, sm.Name)
		if err != nil {
			return err
		}
		entry := e.Lookup.Lookup(sum)
		if entry != nil {
			e.Lookup.RefUp(entry)
		} else {
			entry = &lookuptable.StreamEntry{
				Digest:   sum,
				Size:     n,
				Refcount: 1,
				Residence: lookuptable.NamedStreamOfFile{
					Path:       sourcePath,
					StreamName: sm.Name,
					Opener:     e.Adapter.OpenStreamForRead,
				},
			}
			e.Lookup.Insert(entry)
		}
		inode.AddStream(sm.Name, entry)
	}
	return nil
}

func (e *Engine) bindMemoryStream(inode *dentry.Inode, name string, buf []byte) {
	entry := &lookuptable.StreamEntry{
		Digest:    digest.SHA1(shaSum(buf)),
		Size:      int64(len(buf)),
		Refcount:  1,
		Residence: lookuptable.InMemory{Buf: buf},
	}
	if existing := e.Lookup.Lookup(entry.Digest); existing != nil {
		e.Lookup.RefUp(existing)
		inode.AddStream(name, existing)
		return
	}
	e.Lookup.Insert(entry)
	inode.AddStream(name, entry)
}

var (
	errExcludedRoot     = plainError("cannot exclude the root of capture")
	errRootNotDir       = plainError("dereferenced capture-source root is not a directory")
	errSpecialFile      = plainError("source entry is neither regular, directory, symlink, nor stream-capable")
	errShortNameTooLong = plainError("short name exceeds 24 bytes encoded as UTF-16")
)

type plainError string

func (e plainError) Error() string { return string(e) }
