package xzparser

import (
	"bytes"
	"io"
	"os/exec"
	"testing"

	"github.com/opencarve/opencarve/internal/parser"
)

// xzFixture shells out to the xz binary, since therootcompany/xz (and the
// standard library) only decode xz, never encode it. Skips if unavailable.
func xzFixture(t *testing.T, payload []byte) []byte {
	t.Helper()
	path, err := exec.LookPath("xz")
	if err != nil {
		t.Skip("xz binary not available")
	}
	cmd := exec.Command(path, "-z", "-c", "-6")
	cmd.Stdin = bytes.NewReader(payload)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		t.Fatalf("xz -z: %v", err)
	}
	return out.Bytes()
}

func TestParseAndUnpack(t *testing.T) {
	payload := bytes.Repeat([]byte("opencarve carving test payload\n"), 200)
	data := xzFixture(t, payload)

	p := &xzParser{}
	res, err := p.Parse(parser.Input{
		Parent:     bytes.NewReader(data),
		Offset:     0,
		ParentSize: int64(len(data)),
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.UnpackedSize != int64(len(data)) {
		t.Fatalf("UnpackedSize = %d, want %d", res.UnpackedSize, len(data))
	}

	var got []byte
	sink := sinkFunc(func(logicalPath string, r io.Reader) error {
		b, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		got = b
		return nil
	})
	if err := p.Unpack(sink); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("unpacked content mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestRejectsGarbage(t *testing.T) {
	p := &xzParser{}
	_, err := p.Parse(parser.Input{
		Parent:     bytes.NewReader([]byte("definitely not an xz stream, padded out")),
		ParentSize: 40,
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
