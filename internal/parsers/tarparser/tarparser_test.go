package tarparser

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"

	"github.com/opencarve/opencarve/internal/parser"
)

func makeTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	for name, content := range files {
		hdr := &tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(content)),
		}
		if err := w.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestParseAndUnpack(t *testing.T) {
	files := map[string]string{"one.txt": "one", "two.txt": "two and a bit more"}
	data := makeTar(t, files)

	p := &tarParser{}
	res, err := p.Parse(parser.Input{
		Parent:     bytes.NewReader(data),
		ParentSize: int64(len(data)),
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.UnpackedSize <= 0 || res.UnpackedSize > int64(len(data)) {
		t.Fatalf("UnpackedSize = %d out of bounds for %d-byte archive", res.UnpackedSize, len(data))
	}

	got := map[string]string{}
	sink := sinkFunc(func(logicalPath string, r io.Reader) error {
		b, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		got[logicalPath] = string(b)
		return nil
	})
	if err := p.Unpack(sink); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	for name, want := range files {
		if got[name] != want {
			t.Errorf("entry %q = %q, want %q", name, got[name], want)
		}
	}
}

func TestExactLengthExcludesTrailingData(t *testing.T) {
	data := makeTar(t, map[string]string{"a": "x"})
	trailer := []byte("trailing garbage that is not part of the tar stream")
	combined := append(append([]byte{}, data...), trailer...)

	p := &tarParser{}
	res, err := p.Parse(parser.Input{
		Parent:     bytes.NewReader(combined),
		ParentSize: int64(len(combined)),
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.UnpackedSize != int64(len(data)) {
		t.Fatalf("UnpackedSize = %d, want exactly %d (excluding trailing data)", res.UnpackedSize, len(data))
	}
}

func TestRejectsGarbage(t *testing.T) {
	p := &tarParser{}
	garbage := bytes.Repeat([]byte("not a tar header at all!"), 30)
	_, err := p.Parse(parser.Input{
		Parent:     bytes.NewReader(garbage),
		ParentSize: int64(len(garbage)),
	})
	if !parser.IsRejection(err) {
		t.Fatalf("expected a rejection, got %v", err)
	}
}

type sinkFunc func(logicalPath string, data io.Reader) error

func (f sinkFunc) WriteRegularFile(logicalPath string, data io.Reader) error {
	return f(logicalPath, data)
}
func (sinkFunc) WriteDirectory(string) error       { return nil }
func (sinkFunc) WriteSymlink(string, string) error { return nil }
