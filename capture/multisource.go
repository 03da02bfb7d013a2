package capture

import (
	"path"
	"sort"
	"strings"

	"github.com/wimimage/wimcore/capconfig"
	"github.com/wimimage/wimcore/dentry"
	"github.com/wimimage/wimcore/fsadapter"
	"github.com/wimimage/wimcore/lookuptable"
	"github.com/wimimage/wimcore/security"
	"github.com/wimimage/wimcore/wimerr"
	"github.com/wimimage/wimcore/wimlog"
)

// Result is what AddImageMultisource hands back: a fully linked dentry
// tree plus its own SecuritySet, ready for an ImageMetadataRegistry to
// adopt (§4.4 step 6).
type Result struct {
	Root     *dentry.Dentry
	Security *security.Set
	Arena    *dentry.Arena
}

// AddImage is the single-source convenience wrapper (§6).
func AddImage(adapter fsadapter.ReadAdapter, lookup *lookuptable.Table, sourcePath string, cfg *capconfig.Config, flags Flags, progress ProgressFunc) (*Result, error) {
	return AddImageMultisource(adapter, lookup, []Source{{Path: sourcePath, WimTargetPath: ""}}, cfg, flags, progress, nil)
}

// AddImageWithOptions is AddImage's typed-options entry point (§2
// "configopts"): it takes the public capture knobs as a capconfig.Options
// struct instead of a raw Flags bitmask and converts through
// FromOptions, the engine's bitmask adapter.
func AddImageWithOptions(adapter fsadapter.ReadAdapter, lookup *lookuptable.Table, sourcePath string, cfg *capconfig.Config, opts capconfig.Options, progress ProgressFunc) (*Result, error) {
	return AddImage(adapter, lookup, sourcePath, cfg, FromOptions(opts), progress)
}

// AddImageMultisourceWithOptions is AddImageMultisource's typed-options
// entry point; see AddImageWithOptions.
func AddImageMultisourceWithOptions(adapter fsadapter.ReadAdapter, lookup *lookuptable.Table, sources []Source, cfg *capconfig.Config, opts capconfig.Options, progress ProgressFunc, diskIndex *lookuptable.DiskIndex) (*Result, error) {
	return AddImageMultisource(adapter, lookup, sources, cfg, FromOptions(opts), progress, diskIndex)
}

// AddImageMultisource builds one image's dentry tree from possibly many
// capture sources (§4.4 "Multi-source driver"). diskIndex is optional
// (nil disables the fingerprint cache) and is shared across every
// source's Engine so a rescan of the same tree skips unchanged files.
func AddImageMultisource(adapter fsadapter.ReadAdapter, lookup *lookuptable.Table, sources []Source, cfg *capconfig.Config, flags Flags, progress ProgressFunc, diskIndex *lookuptable.DiskIndex) (*Result, error) {
	if cfg == nil {
		cfg = capconfig.Default()
	}
	if len(sources) == 0 {
		return nil, wimerr.New(wimerr.InvalidParam, "add-image", "", errNoSources)
	}

	// 1. Canonicalize each target path.
	canon := make([]Source, len(sources))
	for i, s := range sources {
		canon[i] = Source{Path: s.Path, WimTargetPath: strings.Trim(strings.ReplaceAll(s.WimTargetPath, `\`, "/"), "/")}
	}

	// 2. Sort lexicographically so enclosing targets precede enclosed ones.
	sort.SliceStable(canon, func(i, j int) bool { return canon[i].WimTargetPath < canon[j].WimTargetPath })

	// 3. Validate NTFS single-source-at-root constraint.
	if flags.has(Ntfs) {
		if len(canon) != 1 || canon[0].WimTargetPath != "" {
			return nil, wimerr.New(wimerr.InvalidParam, "add-image", "", errNtfsSingleRoot)
		}
	}

	arena := dentry.NewArena()
	secSet := security.New()
	var rootDentry *dentry.Dentry

	for _, src := range canon {
		wimlog.Debugf(src.Path, "capture source -> target %q", src.WimTargetPath)
		eng := &Engine{
			Arena:     arena,
			Lookup:    lookup,
			Security:  secSet,
			Adapter:   adapter,
			Config:    cfg,
			Progress:  progress,
			DiskIndex: diskIndex,
		}
		eng.emit(Event{Kind: ScanBegin, Source: src.Path, Target: src.WimTargetPath})
		cfg.SetPrefix(src.Path)

		sourceFlags := root | source
		if flags.has(Dereference) {
			sourceFlags |= Dereference
		}
		if flags.has(UnixData) {
			sourceFlags |= UnixData
		}
		branch, err := eng.BuildDentryTree(src.Path, sourceFlags)
		if err != nil {
			return nil, err
		}
		eng.emit(Event{Kind: ScanEnd, Source: src.Path, Target: src.WimTargetPath})
		if branch == nil {
			continue
		}
		// A root-targeted source (WimTargetPath == "") must produce a
		// root dentry with an empty Name (I5); attachBranch's
		// targetPath == "" case adopts branch directly as *rootPtr
		// without renaming it, so the empty name has to be set here.
		if src.WimTargetPath == "" {
			branch.Name = ""
		} else {
			branch.Name = path.Base("/" + src.WimTargetPath)
		}
		if err := attachBranch(&rootDentry, arena, branch, src.WimTargetPath); err != nil {
			return nil, err
		}
	}

	if rootDentry == nil {
		rootDentry = dentry.NewRoot(arena)
	}

	// 5. Compute full paths for every dentry.
	rootDentry.InvalidatePath()

	// 7. Hard-link fixup, scoped per capture source (Design Note §9).
	fixupHardLinks(arena)

	return &Result{Root: rootDentry, Security: secSet, Arena: arena}, nil
}

// attachBranch walks targetPath component by component under *rootPtr,
// creating filler directories as needed, then replaces or overlays at the
// final component (§4.4).
func attachBranch(rootPtr **dentry.Dentry, arena *dentry.Arena, branch *dentry.Dentry, targetPath string) error {
	if targetPath == "" {
		if *rootPtr == nil {
			*rootPtr = branch
			return nil
		}
		return overlay(*rootPtr, branch)
	}
	if *rootPtr == nil {
		*rootPtr = dentry.NewRoot(arena)
	}
	cur := *rootPtr
	parts := strings.Split(targetPath, "/")
	for _, comp := range parts[:len(parts)-1] {
		child := cur.Child(comp)
		if child == nil {
			child = fillerDirectory(arena, comp)
			if err := cur.AddChild(child); err != nil {
				return err
			}
		}
		cur = child
	}
	last := parts[len(parts)-1]
	if existing := cur.Child(last); existing != nil {
		return overlay(existing, branch)
	}
	branch.Name = last
	return cur.AddChild(branch)
}

// fillerDirectory synthesizes a directory inode with no stream,
// security_id = -1, inode number 0 (§4.4).
func fillerDirectory(arena *dentry.Arena, name string) *dentry.Dentry {
	d := dentry.New(arena, name)
	inode := d.Inode()
	inode.Attributes |= dentry.AttrDirectory
	inode.SecurityID = -1
	return d
}

// overlay moves every child of branch into target, which must be a
// directory; a case-insensitive name collision is InvalidOverlay (§4.4).
func overlay(target, branch *dentry.Dentry) error {
	inode := target.Inode()
	if inode == nil || !inode.IsDir() {
		return wimerr.New(wimerr.InvalidOverlay, "overlay", target.FullPath(), errOverlayNotDir)
	}
	for _, child := range branch.Children() {
		branch.RemoveChild(child.Name)
		if err := target.AddChild(child); err != nil {
			return err
		}
	}
	return nil
}

// fixupHardLinks assigns dense per-image inode numbers (§4.4 step 7).
// Hard-link grouping itself already happened live during capture: each
// Engine (one per capture source) binds a new Dentry to an
// already-known Inode when it recognizes a repeated (dev, ino) pair, so
// distinct sources never get linked against one another even if their
// device/inode numbers happen to coincide (Design Note §9, Open
// Question).
func fixupHardLinks(arena *dentry.Arena) {
	var next uint64 = 1
	arena.Each(func(n *dentry.Inode) {
		if n.Number == 0 {
			n.Number = next
			next++
		}
	})
}

var (
	errNoSources      = plainError("addImageMultisource requires at least one source")
	errNtfsSingleRoot = plainError("NTFS capture requires exactly one source targeting the image root")
	errOverlayNotDir  = plainError("overlay target is not a directory")
)
