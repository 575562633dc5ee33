package metadir

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateRootAndHashContent(t *testing.T) {
	store := openStore(t)
	md, err := store.CreateRoot("/tmp/input.bin")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if err := md.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := md.HashContent(bytes.NewReader([]byte("hello world"))); err != nil {
		t.Fatalf("HashContent: %v", err)
	}
	info := md.Info()
	if info.Size != 11 {
		t.Errorf("Size = %d, want 11", info.Size)
	}
	if info.Hashes.SHA256 == "" {
		t.Errorf("Hashes.SHA256 is empty")
	}

	md.ApplyParseResult([]string{"text"}, map[string]any{"k": "v"})
	if err := md.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	md.MarkDone()
	if md.State() != StateDone {
		t.Errorf("State() = %v, want StateDone", md.State())
	}
}

func TestApplyParseResultIsWriteOnce(t *testing.T) {
	store := openStore(t)
	md, err := store.CreateRoot("/tmp/input.bin")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	md.ApplyParseResult([]string{"text"}, nil)
	md.ApplyParseResult([]string{"binary"}, nil)
	if got := md.Info().Labels; len(got) != 1 || got[0] != "text" {
		t.Fatalf("Labels after second ApplyParseResult = %v, want [text] unchanged", got)
	}
}

func TestUnpackRegularFileLinksChildAndHashes(t *testing.T) {
	store := openStore(t)
	root, err := store.CreateRoot("/tmp/archive.tar")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}

	child, w, err := root.UnpackRegularFile("a/b.txt")
	if err != nil {
		t.Fatalf("UnpackRegularFile: %v", err)
	}
	if _, err := io.Copy(w, bytes.NewReader([]byte("contents"))); err != nil {
		t.Fatalf("write child content: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close child sink: %v", err)
	}

	if child.Info().Size != 8 {
		t.Errorf("child Size = %d, want 8", child.Info().Size)
	}
	if root.Info().UnpackedRelativeFiles["a/b.txt"] != child.UDPath {
		t.Errorf("root did not record the a/b.txt -> child edge")
	}

	linkPath := filepath.Join(root.dir, relDir, "a", "b.txt")
	if fi, err := os.Lstat(linkPath); err != nil || fi.Mode()&os.ModeSymlink == 0 {
		t.Errorf("expected a symlink at %s: fi=%v err=%v", linkPath, fi, err)
	}
}

func TestUnpackRegularFileRejectsEscapingPath(t *testing.T) {
	store := openStore(t)
	root, err := store.CreateRoot("/tmp/archive.tar")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if _, _, err := root.UnpackRegularFile("../escape.txt"); err == nil {
		t.Fatalf("UnpackRegularFile(../escape.txt): want error, got nil")
	}
}

func TestUnpackAbsolutePathGoesUnderAbsDir(t *testing.T) {
	store := openStore(t)
	root, err := store.CreateRoot("/tmp/archive.tar")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	child, w, err := root.UnpackRegularFile("/etc/passwd")
	if err != nil {
		t.Fatalf("UnpackRegularFile(/etc/passwd): %v", err)
	}
	w.Close()

	if root.Info().UnpackedAbsoluteFiles["etc/passwd"] != child.UDPath {
		t.Errorf("absolute path was not recorded under UnpackedAbsoluteFiles")
	}
	if _, err := os.Lstat(filepath.Join(root.dir, absDir, "etc", "passwd")); err != nil {
		t.Errorf("expected abs-dir link: %v", err)
	}
}

func TestRecordExtractedUsesSpanKey(t *testing.T) {
	store := openStore(t)
	root, err := store.CreateRoot("/tmp/blob.bin")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	child, w, err := root.RecordExtracted(16, 32, root.ExtractedFilename(16, 32))
	if err != nil {
		t.Fatalf("RecordExtracted: %v", err)
	}
	if _, err := io.Copy(w, bytes.NewReader(make([]byte, 32))); err != nil {
		t.Fatalf("write extracted span: %v", err)
	}
	w.Close()

	wantKey := "extracted/0000000000000010-0000000000000020"
	if root.Info().ExtractedFiles[wantKey] != child.UDPath {
		t.Errorf("ExtractedFiles[%q] missing or wrong, got %v", wantKey, root.Info().ExtractedFiles)
	}
}

func TestDedupDetectsRepeatedContent(t *testing.T) {
	store := openStore(t)

	first, err := store.CreateChild("one.bin")
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	if err := first.HashContent(bytes.NewReader([]byte("same bytes"))); err != nil {
		t.Fatalf("HashContent: %v", err)
	}
	canonical, isAlias, err := first.Dedup()
	if err != nil {
		t.Fatalf("Dedup: %v", err)
	}
	if isAlias {
		t.Fatalf("first MD with these bytes should not be an alias")
	}
	if canonical != first.UDPath {
		t.Fatalf("canonical = %q, want %q", canonical, first.UDPath)
	}

	second, err := store.CreateChild("two.bin")
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	if err := second.HashContent(bytes.NewReader([]byte("same bytes"))); err != nil {
		t.Fatalf("HashContent: %v", err)
	}
	canonical2, isAlias2, err := second.Dedup()
	if err != nil {
		t.Fatalf("Dedup: %v", err)
	}
	if !isAlias2 {
		t.Fatalf("second MD with identical bytes should be an alias")
	}
	if canonical2 != first.UDPath {
		t.Fatalf("canonical2 = %q, want %q", canonical2, first.UDPath)
	}
}

func TestEnsureFreeSpaceRejectsBelowFloor(t *testing.T) {
	store, err := Open(t.TempDir(), Options{MinFreeBytes: 1 << 62})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	root, err := store.CreateRoot("/tmp/archive.tar")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if _, _, err := root.UnpackRegularFile("a.txt"); err == nil {
		t.Fatalf("UnpackRegularFile with an impossible MinFreeBytes floor: want error, got nil")
	}
}

func TestUnpackRegularFileNoOpenFinalizes(t *testing.T) {
	store := openStore(t)
	root, err := store.CreateRoot("/tmp/archive.7z")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}

	// Simulates a parser that hands its destination path to an external
	// tool instead of writing through an io.Writer itself (spec.md §4.A).
	child, contentPath, err := root.UnpackRegularFileNoOpen("payload.bin")
	if err != nil {
		t.Fatalf("UnpackRegularFileNoOpen: %v", err)
	}
	if err := os.WriteFile(contentPath, []byte("written by an external tool"), 0o644); err != nil {
		t.Fatalf("simulate external tool write: %v", err)
	}
	if err := root.FinalizeNoOpenFile(child, contentPath); err != nil {
		t.Fatalf("FinalizeNoOpenFile: %v", err)
	}

	if child.Info().Size != int64(len("written by an external tool")) {
		t.Errorf("child Size = %d, want %d", child.Info().Size, len("written by an external tool"))
	}
	if child.Info().Hashes.SHA256 == "" {
		t.Errorf("child Hashes.SHA256 is empty after FinalizeNoOpenFile")
	}
	if root.Info().UnpackedRelativeFiles["payload.bin"] != child.UDPath {
		t.Errorf("root did not record the payload.bin -> child edge")
	}
}

func TestUnpackDirectoryAndSymlinkAreStructuralOnly(t *testing.T) {
	store := openStore(t)
	root, err := store.CreateRoot("/tmp/archive.tar")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if err := root.UnpackDirectory("a/dir"); err != nil {
		t.Fatalf("UnpackDirectory: %v", err)
	}
	if err := root.UnpackSymlink("a/link", "dir/target"); err != nil {
		t.Fatalf("UnpackSymlink: %v", err)
	}
	if !root.Info().Directories["a/dir"] {
		t.Errorf("directory entry not recorded")
	}
	if root.Info().Symlinks["a/link"] != "dir/target" {
		t.Errorf("symlink entry not recorded")
	}
}
