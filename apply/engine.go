package apply

import (
	"crypto/sha1"
	"io"

	"github.com/wimimage/wimcore/dentry"
	"github.com/wimimage/wimcore/digest"
	"github.com/wimimage/wimcore/fsadapter"
	"github.com/wimimage/wimcore/lookuptable"
	"github.com/wimimage/wimcore/security"
	"github.com/wimimage/wimcore/wimerr"
	"github.com/wimimage/wimcore/wimlog"
)

const maxReparseDataSize = 0xFFFE // §6: "length must be <= 0xFFFE"

// state is the apply-time bookkeeping for one Dentry, replacing the
// wimlib fields `extracted_file`/`is_hardlink` that the teacher's model
// would otherwise carry directly on the dentry.
type state struct {
	extractedPath string
	isHardlink    bool
	handle        fsadapter.Handle
	done          bool
}

// Engine drives one applyImage invocation against one target adapter. A
// single Engine must not be driven concurrently (§5).
type Engine struct {
	Adapter  fsadapter.WriteAdapter
	Progress ProgressFunc

	// Security is the image's SecuritySet, the same one capture built
	// (capture.Result.Security / imagemeta.Descriptor.Security). A nil
	// Security means no descriptor is ever applied, even when a dentry
	// carries a SecurityID - the caller opted out rather than the
	// engine silently skipping it.
	Security *security.Set

	states map[*dentry.Dentry]*state
}

func (e *Engine) emit(ev Event) {
	if e.Progress != nil {
		e.Progress(ev)
	}
}

func (e *Engine) stateFor(d *dentry.Dentry) *state {
	if e.states == nil {
		e.states = make(map[*dentry.Dentry]*state)
	}
	s, ok := e.states[d]
	if !ok {
		s = &state{}
		e.states[d] = s
	}
	return s
}

// ApplyImage reconstructs root onto the target filesystem through
// Adapter, rooted at rootHandle (§4.5). Strong property: on success, the
// target is observationally equivalent to the captured tree modulo what
// the target cannot represent.
func ApplyImage(adapter fsadapter.WriteAdapter, rootHandle fsadapter.Handle, root *dentry.Dentry, secSet *security.Set, flags Flags, progress ProgressFunc) error {
	e := &Engine{Adapter: adapter, Security: secSet, Progress: progress}

	// Pass 1: populate, pre-order.
	if err := e.populate(root, rootHandle, flags); err != nil {
		return err
	}
	// Pass 2: timestamps, post-order.
	if err := e.applyTimestamps(root); err != nil {
		return err
	}
	return nil
}

func (e *Engine) populate(d *dentry.Dentry, parentHandle fsadapter.Handle, flags Flags) error {
	st := e.stateFor(d)
	if st.done {
		return nil
	}

	if d.IsRoot() {
		st.handle = parentHandle
		st.done = true
		return e.applyAttributesAndSecurity(d, parentHandle)
	}

	inode := d.Inode()
	wimlog.Debugf(d.FullPath(), "apply populate")
	e.emit(Event{Kind: ExtractDentry, Path: d.FullPath()})

	if inode.IsDir() {
		h, err := e.Adapter.CreateDirectory(parentHandle, d.Name)
		if err != nil {
			return wimerr.New(wimerr.Write, "apply-populate", d.FullPath(), err)
		}
		st.handle = h
		st.extractedPath = d.FullPath()
		st.done = true
		if err := e.applyAttributesAndSecurity(d, h); err != nil {
			return err
		}
		for _, child := range d.Children() {
			if err := e.populate(child, h, flags); err != nil {
				return err
			}
		}
		return nil
	}

	// 5a. DOS-name preapply.
	sibling, err := d.SiblingWithShortName()
	if err != nil {
		return err
	}
	if sibling != nil {
		sibSt := e.stateFor(sibling)
		if !sibSt.done {
			if err := e.populate(sibling, parentHandle, flags); err != nil {
				return err
			}
			// The adapter may have invalidated the previous
			// parent handle; re-resolve it.
			if fresh, err := e.Adapter.PathToInode(d.Parent.FullPath()); err == nil {
				parentHandle = fresh
			}
		}
	}

	// 5b. Hard-link resolve.
	for _, other := range d.LinkGroup() {
		if other == d {
			continue
		}
		otherSt := e.stateFor(other)
		if otherSt.extractedPath != "" {
			if err := e.Adapter.HardLink(otherSt.handle, parentHandle, d.Name); err != nil {
				return wimerr.New(wimerr.Write, "apply-hardlink", d.FullPath(), err)
			}
			st.isHardlink = true
			st.extractedPath = d.FullPath()
			st.done = true
			e.emit(Event{Kind: ExtractDentry, Path: d.FullPath(), IsLink: true})
			if d.ShortName != "" {
				if err := e.preapplyShortName(d, st, parentHandle); err != nil {
					return err
				}
			}
			return nil
		}
	}

	// 5c. New file.
	h, err := e.Adapter.CreateFile(parentHandle, d.Name, fsadapter.Meta{Mode: uint32(inode.Attributes)})
	if err != nil {
		return wimerr.New(wimerr.Write, "apply-create-file", d.FullPath(), err)
	}
	st.handle = h
	st.extractedPath = d.FullPath()
	st.done = true

	// 5d. Write streams.
	if err := e.writeStreams(d, h); err != nil {
		return err
	}

	// 5e. Attributes + security.
	if err := e.applyAttributesAndSecurity(d, h); err != nil {
		return err
	}

	// 5f. Reparse.
	if inode.IsReparsePoint() {
		if err := e.applyReparse(d, h); err != nil {
			return err
		}
	}

	// 5g. Short name.
	if d.ShortName != "" {
		if err := e.Adapter.SetShortName(h, parentHandle, d.ShortName); err != nil {
			return wimerr.New(wimerr.Write, "apply-short-name", d.FullPath(), err)
		}
	}
	return nil
}

func (e *Engine) preapplyShortName(d *dentry.Dentry, st *state, parentHandle fsadapter.Handle) error {
	// "If is_hardlink, close and re-open the parent & the newly-created
	// inode handles to satisfy the adapter's ordering requirement before
	// setting the DOS name" (§4.5 step 5g).
	_ = e.Adapter.Close(st.handle)
	fresh, err := e.Adapter.PathToInode(st.extractedPath)
	if err != nil {
		return wimerr.New(wimerr.Open, "apply-short-name-reopen", st.extractedPath, err)
	}
	st.handle = fresh
	if err := e.Adapter.SetShortName(fresh, parentHandle, d.ShortName); err != nil {
		return wimerr.New(wimerr.Write, "apply-short-name", d.FullPath(), err)
	}
	return nil
}

func (e *Engine) applyAttributesAndSecurity(d *dentry.Dentry, h fsadapter.Handle) error {
	inode := d.Inode()
	if err := e.Adapter.SetAttributes(h, uint32(inode.Attributes)); err != nil {
		return wimerr.New(wimerr.Write, "apply-attributes", d.FullPath(), err)
	}
	if inode.SecurityID >= 0 && e.Security != nil {
		descriptor := e.Security.Get(int(inode.SecurityID))
		if err := e.Adapter.SetSecurity(h, descriptor, 0); err != nil && !wimerr.Is(err, wimerr.Unsupported) {
			return wimerr.New(wimerr.Write, "apply-security", d.FullPath(), err)
		}
	}
	return nil
}

func (e *Engine) writeStreams(d *dentry.Dentry, h fsadapter.Handle) error {
	inode := d.Inode()
	if inode.Unnamed != nil {
		if err := e.writeOneStream(d, h, "", inode.Unnamed); err != nil {
			return err
		}
	}
	for _, ns := range inode.NamedStreams {
		if err := e.writeOneStream(d, h, ns.Name, ns.Entry); err != nil {
			return err
		}
	}
	return nil
}

// writeOneStream opens streamHandle, copies the StreamEntry's content
// through it in digest.ChunkSize pieces while hashing it, and fails with
// InvalidResourceHash on a mismatch (§4.5 step 5d, §7: "silent
// correction is forbidden").
func (e *Engine) writeOneStream(d *dentry.Dentry, h fsadapter.Handle, name string, entry *lookuptable.StreamEntry) error {
	if entry == nil {
		return nil
	}
	src, err := entry.Residence.Open()
	if err != nil {
		return wimerr.New(wimerr.Read, "apply-open-stream", d.FullPath(), err)
	}
	defer src.Close()

	dst, err := e.Adapter.OpenStream(h, name)
	if err != nil {
		return wimerr.New(wimerr.Open, "apply-open-stream", d.FullPath(), err)
	}
	defer dst.Close()

	sum := sha1New()
	if _, err := digest.CopyChunked(dst, src, sum); err != nil {
		return wimerr.New(wimerr.Write, "apply-write-stream", d.FullPath(), err)
	}
	var got digest.SHA1
	copy(got[:], sum.Sum(nil))
	if got != entry.Digest {
		return wimerr.New(wimerr.InvalidResourceHash, "apply-write-stream", d.FullPath(), errHashMismatch)
	}
	return nil
}

func (e *Engine) applyReparse(d *dentry.Dentry, h fsadapter.Handle) error {
	inode := d.Inode()
	payload := inode.Stream("")
	var payloadLen int
	if payload != nil {
		payloadLen = int(payload.Size)
	}
	if payloadLen > maxReparseDataSize {
		return wimerr.New(wimerr.InvalidDentry, "apply-reparse", d.FullPath(), errReparseTooLarge)
	}
	buf := make([]byte, 8+payloadLen)
	putU32(buf[0:4], inode.ReparseTag)
	putU16(buf[4:6], uint16(payloadLen))
	// buf[6:8] stays zero (reserved).
	if payload != nil {
		rc, err := payload.Residence.Open()
		if err != nil {
			return wimerr.New(wimerr.Read, "apply-reparse", d.FullPath(), err)
		}
		defer rc.Close()
		if _, err := io.ReadFull(rc, buf[8:]); err != nil {
			return wimerr.New(wimerr.Read, "apply-reparse", d.FullPath(), err)
		}
	}
	if err := e.Adapter.SetReparse(h, buf); err != nil {
		return wimerr.New(wimerr.Write, "apply-reparse", d.FullPath(), err)
	}
	return nil
}

func (e *Engine) applyTimestamps(d *dentry.Dentry) error {
	for _, child := range d.Children() {
		if err := e.applyTimestamps(child); err != nil {
			return err
		}
	}
	st := e.stateFor(d)
	if st.handle == nil {
		return nil
	}
	inode := d.Inode()
	if err := e.Adapter.SetTimes(st.handle, inode.Creation.Time(), inode.LastWrite.Time(), inode.LastAccess.Time()); err != nil {
		return wimerr.New(wimerr.Write, "apply-timestamps", d.FullPath(), err)
	}
	return e.Adapter.Close(st.handle)
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func sha1New() interface {
	io.Writer
	Sum(b []byte) []byte
} {
	return sha1.New()
}

var errReparseTooLarge = plainError("reparse payload exceeds 0xFFFE bytes")
var errHashMismatch = plainError("stream content does not match its recorded digest")

type plainError string

func (e plainError) Error() string { return string(e) }
