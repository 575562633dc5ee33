// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package metadir implements the meta-directory store: the on-disk
// representation of a scanned tree, one directory per scanned file, holding
// its parsed info, unpacked children, and carved spans.
package metadir

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/opencarve/opencarve/internal/pathintern"
)

const (
	infoFileName    = "info.mpk"
	pathFileName    = "pathname"
	contentFileName = "content"
	relDir          = "rel"
	absDir          = "abs"
	extractedDir    = "extracted"
)

// State tracks an MD through the lifecycle spec.md §3 describes: queued →
// open → closed → done.
type State int

const (
	StateQueued State = iota
	StateOpen
	StateClosed
	StateDone
)

// Store owns every MD beneath one unpack root.
type Store struct {
	root  string
	dedup *dedupIndex

	tlsh        TLSHHasher
	tlshMaximum int64

	minFreeBytes int64
}

// Options configures a Store beyond the mandatory unpack root path.
type Options struct {
	// TLSH, if non-nil, is used to compute a fuzzy hash for files at or
	// below TLSHMaximum bytes. Nil means no TLSH support is wired in.
	TLSH        TLSHHasher
	TLSHMaximum int64

	// MinFreeBytes is the floor on the unpack root filesystem's available
	// space; materialising a carved child is refused once free space drops
	// under it. Zero disables the check.
	MinFreeBytes int64
}

// Open creates (if necessary) and opens the unpack root directory at
// rootPath, along with its dedup index.
func Open(rootPath string, opts Options) (*Store, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("metadir: create unpack root: %w", err)
	}
	idx, err := openDedupIndex(filepath.Join(rootPath, ".index.pebble"))
	if err != nil {
		return nil, fmt.Errorf("metadir: open dedup index: %w", err)
	}
	return &Store{
		root:         rootPath,
		dedup:        idx,
		tlsh:         opts.TLSH,
		tlshMaximum:  opts.TLSHMaximum,
		minFreeBytes: opts.MinFreeBytes,
	}, nil
}

// Close releases the store's resources (the dedup index). Every open MD
// must already be closed.
func (s *Store) Close() error {
	return s.dedup.Close()
}

// MD is one meta-directory: the state of a single scanned file. Every MD,
// root or not, has its own top-level directory under the unpack root named
// by UDPath, holding its own info.mpk, content (if any), and rel/abs/
// extracted subdirectories for whatever it is found to contain.
type MD struct {
	store  *Store
	UDPath string
	dir    string

	mu    sync.Mutex
	state State
	info  Info
}

// CreateRoot allocates the root MD, using the fixed name "root" per
// spec.md §4.A. The root's bytes are the original scanned input and are
// read from its own filesystem path rather than duplicated into a content
// file; Info.FilePath (and the pathname file) records that path for the
// scheduler.
func (s *Store) CreateRoot(filePath string) (*MD, error) {
	return s.create("root", filePath)
}

// CreateChild allocates a fresh, uniquely named non-root MD. filePath is
// the logical path this MD is known by (used for display/show only; the
// parent→child edge itself lives in the parent's Info).
func (s *Store) CreateChild(filePath string) (*MD, error) {
	return s.create(uuid.New().String(), filePath)
}

func (s *Store) create(udPath, filePath string) (*MD, error) {
	dir := filepath.Join(s.root, udPath)
	for _, sub := range [...]string{relDir, absDir, extractedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("metadir: create %s: %w", udPath, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, pathFileName), []byte(filePath), 0o644); err != nil {
		return nil, fmt.Errorf("metadir: write pathname for %s: %w", udPath, err)
	}
	info := newInfo()
	info.FilePath = filePath
	md := &MD{store: s, UDPath: udPath, dir: dir, state: StateQueued, info: info}
	return md, nil
}

// Open loads the MD's info.mpk if it already exists on disk (re-opening a
// previously scanned MD), otherwise leaves the freshly created Info as-is.
// Per spec.md §4.A, re-opening an already-scanned MD must not permit
// mutating its labels/metadata; callers should treat a returned MD whose
// Info() already carries labels as read-only (see ApplyParseResult).
func (md *MD) Open() error {
	md.mu.Lock()
	defer md.mu.Unlock()

	b, err := os.ReadFile(filepath.Join(md.dir, infoFileName))
	if err == nil {
		info, derr := decodeInfo(b)
		if derr != nil {
			return derr
		}
		md.info = info
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("metadir: open %s: %w", md.UDPath, err)
	}
	md.state = StateOpen
	return nil
}

// Close persists Info to disk.
func (md *MD) Close() error {
	md.mu.Lock()
	defer md.mu.Unlock()

	b, err := encodeInfo(md.info)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(md.dir, infoFileName), b, 0o644); err != nil {
		return fmt.Errorf("metadir: close %s: %w", md.UDPath, err)
	}
	md.state = StateClosed
	return nil
}

// MarkDone transitions a closed MD to done, meaning every child it produced
// has been enqueued.
func (md *MD) MarkDone() {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.state = StateDone
}

// State reports the MD's current lifecycle position.
func (md *MD) State() State {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.state
}

// Info returns a copy of the MD's current persisted record.
func (md *MD) Info() Info {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.info
}

// ContentPath is the absolute filesystem path of this MD's own bytes, for
// any MD other than the root (whose bytes live at its original input
// path instead).
func (md *MD) ContentPath() string {
	return filepath.Join(md.dir, contentFileName)
}

// OpenContent opens this MD's own bytes for reading.
func (md *MD) OpenContent() (*os.File, error) {
	return os.Open(md.ContentPath())
}

// SetSizeAndHashes records the results of a hashing pass (spec.md §4.E
// step 2).
func (md *MD) SetSizeAndHashes(size int64, h Hashes) {
	md.mu.Lock()
	defer md.mu.Unlock()
	if limit := md.store.tlshMaximum; limit > 0 && size > limit {
		h.TLSH = ""
	}
	md.info.Size = size
	md.info.Hashes = h
}

// HashContent runs the store's configured hashing pass over r and records
// the result on md via SetSizeAndHashes. Every non-root MD already gets
// this for free from the sink that wrote its content (see
// regularFileSink.Close and FinalizeNoOpenFile); HashContent exists for the
// root MD, whose bytes live at the original scan input path rather than
// under the store, so nothing else computes its size and hashes.
func (md *MD) HashContent(r io.Reader) error {
	h, size, err := newHashingPass(md.store.tlsh).run(r)
	if err != nil {
		return fmt.Errorf("metadir: hash %s: %w", md.UDPath, err)
	}
	md.SetSizeAndHashes(size, h)
	return nil
}

// alreadyScanned implements spec.md's "labels and metadata are written
// exactly once per MD" invariant: the presence of any label is the signal,
// since a genuinely unscanned MD never has one (even "empty" is a label
// assigned once, at the end of the one pass that discovers it).
func (md *MD) alreadyScanned() bool {
	return len(md.info.Labels) > 0
}

// ApplyParseResult records the labels and metadata a successful parser (or
// the scheduler's empty-file shortcut) produced. Per spec.md's write-once
// invariant, a second call on an already-scanned MD is a no-op.
func (md *MD) ApplyParseResult(labels []string, metadata map[string]any) {
	md.mu.Lock()
	defer md.mu.Unlock()
	if md.alreadyScanned() {
		return
	}
	md.info.Labels = append(md.info.Labels, labels...)
	if md.info.Metadata == nil && len(metadata) > 0 {
		md.info.Metadata = map[string]any{}
	}
	for k, v := range metadata {
		md.info.Metadata[k] = v
	}
}

// AddLabels appends additional tags without the write-once guard, for the
// identification/labelling pass (component F), which augments rather than
// replaces whatever the parser already set.
func (md *MD) AddLabels(labels ...string) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.info.Labels = append(md.info.Labels, labels...)
}

// SetPropagated stashes context a parser wants handed down to whichever
// parser processes this MD's children next (e.g. a suggested filename).
func (md *MD) SetPropagated(key string, value any) {
	md.mu.Lock()
	defer md.mu.Unlock()
	if md.info.Propagated == nil {
		md.info.Propagated = map[string]any{}
	}
	md.info.Propagated[key] = value
}

// ExtractedFilename returns the deterministic logical name for a span
// carved at [offset, offset+length), per spec.md §4.A.
func (md *MD) ExtractedFilename(offset, length int64) string {
	return fmt.Sprintf("%s/%016x-%016x", extractedDir, offset, length)
}

// cleanLogicalPath validates and normalises a logical path a parser wants
// to write to, enforcing spec.md's "never address anything outside the
// unpack root" invariant via fs.ValidPath, which rejects ".." components,
// empty segments and absolute-looking relative paths by construction.
func cleanLogicalPath(logical string) (cleaned string, absolute bool, err error) {
	absolute = strings.HasPrefix(logical, "/")
	trimmed := strings.TrimPrefix(path.Clean(logical), "/")
	if trimmed == "." || trimmed == "" {
		return "", false, fmt.Errorf("metadir: empty logical path")
	}
	if !fs.ValidPath(trimmed) {
		return "", false, fmt.Errorf("metadir: logical path %q escapes the unpack root", logical)
	}
	// Route the validated path through pathintern so the enormous number of
	// repeated path components across a deep archive tree (rel/, abs/,
	// extracted/<offset>-<size>, and the same directory names recurring at
	// every level) share one interned backing value per component, the same
	// hash-consing the teacher's own internpath package provides.
	return pathintern.New(trimmed).String(), absolute, nil
}

func (md *MD) subdirFor(absolute bool) string {
	if absolute {
		return absDir
	}
	return relDir
}

func (md *MD) recordEdge(logical string, absolute bool, childUDPath string) {
	if absolute {
		md.info.UnpackedAbsoluteFiles[logical] = childUDPath
	} else {
		md.info.UnpackedRelativeFiles[logical] = childUDPath
	}
}

// linkChild drops a relative symlink at <md.dir>/<subdir>/<logical>
// pointing at the child's own MD directory, purely for human/WebDAV
// browsability of the tree by logical path; the canonical reference is
// always the ud_path recorded in info.mpk.
func (md *MD) linkChild(subdir, logical string, child *MD) error {
	linkPath := filepath.Join(md.dir, subdir, logical)
	if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		return err
	}
	rel, err := filepath.Rel(filepath.Dir(linkPath), child.dir)
	if err != nil {
		return err
	}
	return os.Symlink(rel, linkPath)
}

// regularFileSink is the io.WriteCloser handed back by UnpackRegularFile:
// it streams into the child's on-disk content file while hashing it, then
// finalises the child MD's size/hash fields on Close.
type regularFileSink struct {
	f     *os.File
	hp    *hashingPass
	child *MD
}

func (w *regularFileSink) Write(p []byte) (int, error) {
	w.hp.Write(p)
	return w.f.Write(p)
}

func (w *regularFileSink) Close() error {
	if err := w.f.Close(); err != nil {
		return err
	}
	h, size := w.hp.finish()
	w.child.SetSizeAndHashes(size, h)
	return nil
}

// UnpackRegularFile creates a child MD, records the parent→child edge, and
// returns an open handle the parser streams bytes into. It is the
// in-process counterpart to UnpackRegularFileNoOpen.
func (md *MD) UnpackRegularFile(logicalPath string) (*MD, io.WriteCloser, error) {
	cleaned, absolute, err := cleanLogicalPath(logicalPath)
	if err != nil {
		return nil, nil, err
	}

	if err := md.store.ensureFreeSpace(); err != nil {
		return nil, nil, err
	}
	child, err := md.store.CreateChild(logicalPath)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Create(child.ContentPath())
	if err != nil {
		return nil, nil, fmt.Errorf("metadir: create content for %s: %w", logicalPath, err)
	}

	md.mu.Lock()
	md.recordEdge(cleaned, absolute, child.UDPath)
	linkErr := md.linkChild(md.subdirFor(absolute), cleaned, child)
	md.mu.Unlock()
	if linkErr != nil {
		f.Close()
		return nil, nil, fmt.Errorf("metadir: link %s: %w", logicalPath, linkErr)
	}

	sink := &regularFileSink{f: f, hp: newHashingPass(md.store.tlsh), child: child}
	return child, sink, nil
}

// UnpackRegularFileNoOpen is the same as UnpackRegularFile but returns a
// plain filesystem path instead of an open handle, for parsers that hand
// the destination to an external tool (spec.md §4.A). The caller is
// responsible for calling FinalizeNoOpenFile once the external tool has
// finished writing.
func (md *MD) UnpackRegularFileNoOpen(logicalPath string) (*MD, string, error) {
	cleaned, absolute, err := cleanLogicalPath(logicalPath)
	if err != nil {
		return nil, "", err
	}
	if err := md.store.ensureFreeSpace(); err != nil {
		return nil, "", err
	}
	child, err := md.store.CreateChild(logicalPath)
	if err != nil {
		return nil, "", err
	}

	md.mu.Lock()
	md.recordEdge(cleaned, absolute, child.UDPath)
	linkErr := md.linkChild(md.subdirFor(absolute), cleaned, child)
	md.mu.Unlock()
	if linkErr != nil {
		return nil, "", fmt.Errorf("metadir: link %s: %w", logicalPath, linkErr)
	}

	return child, child.ContentPath(), nil
}

// FinalizeNoOpenFile hashes and sizes a file an external tool has finished
// writing to the path previously returned by UnpackRegularFileNoOpen.
func (md *MD) FinalizeNoOpenFile(child *MD, contentPath string) error {
	f, err := os.Open(contentPath)
	if err != nil {
		return fmt.Errorf("metadir: finalize %s: %w", contentPath, err)
	}
	defer f.Close()
	h, size, err := newHashingPass(md.store.tlsh).run(f)
	if err != nil {
		return err
	}
	child.SetSizeAndHashes(size, h)
	return nil
}

// UnpackDirectory records a structural directory entry with no backing
// child MD.
func (md *MD) UnpackDirectory(logicalPath string) error {
	cleaned, absolute, err := cleanLogicalPath(logicalPath)
	if err != nil {
		return err
	}
	dest := filepath.Join(md.dir, md.subdirFor(absolute), cleaned)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("metadir: mkdir %s: %w", logicalPath, err)
	}
	md.mu.Lock()
	defer md.mu.Unlock()
	md.info.Directories[cleaned] = true
	return nil
}

// UnpackSymlink records a symlink entry without following it, per spec.md's
// explicit "symlinks are not followed during extraction" rule.
func (md *MD) UnpackSymlink(logicalPath, target string) error {
	cleaned, _, err := cleanLogicalPath(logicalPath)
	if err != nil {
		return err
	}
	md.mu.Lock()
	defer md.mu.Unlock()
	md.info.Symlinks[cleaned] = target
	return nil
}

// UnpackHardlink records a hardlink entry, keeping the link itself as
// metadata rather than materialising a filesystem hardlink (which would
// defeat the "one MD, one file" invariant if the target spans MDs).
func (md *MD) UnpackHardlink(logicalPath, target string) error {
	cleaned, _, err := cleanLogicalPath(logicalPath)
	if err != nil {
		return err
	}
	md.mu.Lock()
	defer md.mu.Unlock()
	md.info.Hardlinks[cleaned] = target
	return nil
}

// RecordExtracted creates a child MD for a carved span (or gap) and
// records it under ExtractedFiles, returning a handle the carve pipeline
// streams the span's bytes into.
func (md *MD) RecordExtracted(offset, length int64, logicalName string) (*MD, io.WriteCloser, error) {
	if err := md.store.ensureFreeSpace(); err != nil {
		return nil, nil, err
	}
	child, err := md.store.CreateChild(logicalName)
	if err != nil {
		return nil, nil, err
	}
	key := md.ExtractedFilename(offset, length)
	f, err := os.Create(child.ContentPath())
	if err != nil {
		return nil, nil, fmt.Errorf("metadir: create extracted span %s: %w", key, err)
	}

	md.mu.Lock()
	md.info.ExtractedFiles[key] = child.UDPath
	linkErr := md.linkChild("", key, child)
	md.mu.Unlock()
	if linkErr != nil {
		f.Close()
		return nil, nil, fmt.Errorf("metadir: link extracted span %s: %w", key, linkErr)
	}

	sink := &regularFileSink{f: f, hp: newHashingPass(md.store.tlsh), child: child}
	return child, sink, nil
}

// Dedup consults the store's sha256 index for this MD's already-computed
// hash, returning the canonical ud_path if these exact bytes have been seen
// before. If this is the first time, it registers this MD as the
// canonical one for its hash.
func (md *MD) Dedup() (canonical string, isAlias bool, err error) {
	md.mu.Lock()
	sha := md.info.Hashes.SHA256
	udPath := md.UDPath
	md.mu.Unlock()
	if sha == "" {
		return "", false, fmt.Errorf("metadir: Dedup called before hashing")
	}

	existing, err := md.store.dedup.lookup(sha)
	if err != nil {
		return "", false, err
	}
	if existing != "" && existing != udPath {
		md.mu.Lock()
		md.info.CanonicalUDPath = existing
		md.mu.Unlock()
		return existing, true, nil
	}
	if err := md.store.dedup.record(sha, udPath); err != nil {
		return "", false, err
	}
	return udPath, false, nil
}
