package bzip2parser

import (
	"bytes"
	"io"
	"os/exec"
	"testing"

	"github.com/opencarve/opencarve/internal/parser"
)

// bzip2Fixture returns a real bzip2 stream for payload, shelling out to the
// bzip2 binary since compress/bzip2 provides no encoder. Skips the test if
// the binary isn't available in this environment.
func bzip2Fixture(t *testing.T, payload []byte) []byte {
	t.Helper()
	path, err := exec.LookPath("bzip2")
	if err != nil {
		t.Skip("bzip2 binary not available")
	}
	cmd := exec.Command(path, "-z", "-c")
	cmd.Stdin = bytes.NewReader(payload)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		t.Fatalf("bzip2 -z: %v", err)
	}
	return out.Bytes()
}

func TestParseAndUnpack(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 50)
	data := bzip2Fixture(t, payload)

	p := &bzip2Parser{}
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
	p := &bzip2Parser{}
	_, err := p.Parse(parser.Input{
		Parent:     bytes.NewReader([]byte("definitely not a bzip2 stream")),
		ParentSize: 30,
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
