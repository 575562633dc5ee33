package fswalk

import (
	"bytes"
	"io"
	"testing"
	"testing/fstest"

	"github.com/opencarve/opencarve/internal/singlefilefs"
)

type recordingSink struct {
	dirs  []string
	files map[string]string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{files: map[string]string{}}
}

func (s *recordingSink) WriteRegularFile(logicalPath string, data io.Reader) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.files[logicalPath] = string(b)
	return nil
}

func (s *recordingSink) WriteDirectory(logicalPath string) error {
	s.dirs = append(s.dirs, logicalPath)
	return nil
}

func (s *recordingSink) WriteSymlink(logicalPath, target string) error { return nil }

func TestWalkSingleFileFS(t *testing.T) {
	fsys := &singlefilefs.FS{
		Name:       "decompressed",
		FileOpener: func() (io.Reader, error) { return bytes.NewReader([]byte("payload bytes")), nil },
	}

	sink := newRecordingSink()
	if err := Walk(fsys, sink); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if sink.files["decompressed"] != "payload bytes" {
		t.Fatalf("files = %v, want decompressed entry", sink.files)
	}
}

func TestWalkNestedDirectories(t *testing.T) {
	fsys := fstest.MapFS{
		"a/one.txt":     &fstest.MapFile{Data: []byte("one")},
		"a/b/two.txt":   &fstest.MapFile{Data: []byte("two")},
		"top.txt":       &fstest.MapFile{Data: []byte("top")},
	}

	sink := newRecordingSink()
	if err := Walk(fsys, sink); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := map[string]string{"a/one.txt": "one", "a/b/two.txt": "two", "top.txt": "top"}
	for name, content := range want {
		if sink.files[name] != content {
			t.Errorf("file %q = %q, want %q", name, sink.files[name], content)
		}
	}
	foundDirs := map[string]bool{}
	for _, d := range sink.dirs {
		foundDirs[d] = true
	}
	if !foundDirs["a"] || !foundDirs["a/b"] {
		t.Errorf("dirs = %v, want a and a/b recorded", sink.dirs)
	}
}
