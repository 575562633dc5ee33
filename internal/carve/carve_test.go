package carve

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencarve/opencarve/internal/metadir"
	"github.com/opencarve/opencarve/internal/parser"
	"github.com/opencarve/opencarve/internal/registry"
)

// fixedParser claims a fixed-length span starting wherever it's offered,
// regardless of content, so tests can drive the pipeline without a real
// format decoder.
type fixedParser struct {
	name   string
	claim  int64
	labels []string
}

func (f *fixedParser) PrettyName() string { return f.name }

func (f *fixedParser) Parse(in parser.Input) (parser.Result, error) {
	if f.claim > in.ParentSize-in.Offset {
		return parser.Result{}, parser.Reject(f.name, "not enough room", nil)
	}
	return parser.Result{UnpackedSize: f.claim, Labels: f.labels}, nil
}

func descriptorFor(p *fixedParser, pattern []byte) *parser.Descriptor {
	d := &parser.Descriptor{
		PrettyName: p.name,
		New:        func() parser.Parser { return p },
	}
	if pattern != nil {
		d.Signatures = []parser.Signature{{Pattern: pattern}}
	}
	return d
}

func newMD(t *testing.T) *metadir.MD {
	t.Helper()
	md, _ := newMDWithRoot(t)
	return md
}

func newMDWithRoot(t *testing.T) (*metadir.MD, string) {
	t.Helper()
	root := t.TempDir()
	store, err := metadir.Open(root, metadir.Options{})
	if err != nil {
		t.Fatalf("metadir.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	md, err := store.CreateRoot("/tmp/input.bin")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	return md, root
}

// childInfo loads a child MD's persisted info.mpk directly off disk by its
// ud_path, the same way the "show" CLI command reads an already-closed MD.
func childInfo(t *testing.T, root, udPath string) metadir.Info {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(root, udPath, "info.mpk"))
	if err != nil {
		t.Fatalf("read info.mpk for %s: %v", udPath, err)
	}
	info, err := metadir.DecodeInfo(raw)
	if err != nil {
		t.Fatalf("decode info.mpk for %s: %v", udPath, err)
	}
	return info
}

func TestRunEmptyFileIsLabelledEmpty(t *testing.T) {
	reg := registry.New(nil)
	p := New(reg, Config{})
	md := newMD(t)

	if err := p.Run(md, bytes.NewReader(nil), 0, "empty.bin", func(*metadir.MD) {}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := md.Info().Labels; len(got) != 1 || got[0] != "empty" {
		t.Fatalf("Labels = %v, want [empty]", got)
	}
}

func TestRunWholeFileMatchConsumesEverything(t *testing.T) {
	data := []byte("0123456789")
	fp := &fixedParser{name: "whole", claim: int64(len(data)), labels: []string{"whole"}}
	reg := registry.New([]*parser.Descriptor{descriptorFor(fp, []byte("01"))})
	p := New(reg, Config{})
	md := newMD(t)

	if err := p.Run(md, bytes.NewReader(data), int64(len(data)), "f.bin", func(*metadir.MD) {}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The parser's own "whole" label survives untouched, and component F's
	// identification pass augments it with "text" since the matched bytes
	// are themselves printable ASCII, and with "base64" since every one of
	// them ("0"-"9") is also in the base64 alphabet.
	got := md.Info().Labels
	wantWhole, wantText, wantBase64 := false, false, false
	for _, l := range got {
		if l == "whole" {
			wantWhole = true
		}
		if l == "text" {
			wantText = true
		}
		if l == "base64" {
			wantBase64 = true
		}
	}
	if len(got) != 3 || !wantWhole || !wantText || !wantBase64 {
		t.Fatalf("Labels = %v, want [whole text base64] (parser label plus component F augmentation)", got)
	}
	if len(md.Info().ExtractedFiles) != 0 {
		t.Fatalf("ExtractedFiles = %v, want none for a whole-file match", md.Info().ExtractedFiles)
	}
}

func TestRunCarvesEmbeddedSpanAndLabelsGaps(t *testing.T) {
	prefix := bytes.Repeat([]byte{0x00}, 8)
	embedded := []byte("MAGICxxxx")
	suffix := bytes.Repeat([]byte{0xff}, 8)
	data := append(append(append([]byte{}, prefix...), embedded...), suffix...)

	fp := &fixedParser{name: "embedded", claim: int64(len(embedded)), labels: []string{"embedded"}}
	reg := registry.New([]*parser.Descriptor{descriptorFor(fp, []byte("MAGIC"))})
	p := New(reg, Config{})
	md, root := newMDWithRoot(t)

	var children []*metadir.MD
	if err := p.Run(md, bytes.NewReader(data), int64(len(data)), "f.bin", func(c *metadir.MD) {
		children = append(children, c)
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	info := md.Info()
	if len(info.ExtractedFiles) != 3 {
		t.Fatalf("ExtractedFiles = %v, want 3 spans (leading gap, embedded match, trailing gap)", info.ExtractedFiles)
	}

	leadingKey := md.ExtractedFilename(0, int64(len(prefix)))
	middleKey := md.ExtractedFilename(int64(len(prefix)), int64(len(embedded)))
	trailingKey := md.ExtractedFilename(int64(len(prefix)+len(embedded)), int64(len(suffix)))
	for _, key := range []string{leadingKey, middleKey, trailingKey} {
		if _, ok := info.ExtractedFiles[key]; !ok {
			t.Errorf("missing extracted span %q in %v", key, info.ExtractedFiles)
		}
	}

	// Both gaps are a single repeated byte, so each is labelled "padding".
	for _, key := range []string{leadingKey, trailingKey} {
		udPath, ok := info.ExtractedFiles[key]
		if !ok {
			continue
		}
		gapInfo := childInfo(t, root, udPath)
		if len(gapInfo.Labels) != 1 || gapInfo.Labels[0] != "padding" {
			t.Errorf("gap %q Labels = %v, want [padding]", key, gapInfo.Labels)
		}
	}
}

func TestRunSynthesizedGapGetsIdentificationLabels(t *testing.T) {
	data := []byte("plain printable text, nothing here matches any signature\n")

	reg := registry.New(nil)
	p := New(reg, Config{})
	md, root := newMDWithRoot(t)

	if err := p.Run(md, bytes.NewReader(data), int64(len(data)), "f.bin", func(*metadir.MD) {}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	info := md.Info()
	if len(info.ExtractedFiles) != 1 {
		t.Fatalf("ExtractedFiles = %v, want a single gap span", info.ExtractedFiles)
	}
	var udPath string
	for _, v := range info.ExtractedFiles {
		udPath = v
	}

	gapInfo := childInfo(t, root, udPath)
	wantSynth, wantText := false, false
	for _, l := range gapInfo.Labels {
		if l == "synthesized" {
			wantSynth = true
		}
		if l == "text" {
			wantText = true
		}
	}
	if !wantSynth || !wantText {
		t.Fatalf("Labels = %v, want both synthesized and text (component F augmenting the gap)", gapInfo.Labels)
	}
}

func TestRunWithNoMatchProducesOneSynthesizedGap(t *testing.T) {
	data := []byte("variedcontent123nothingmatcheshere")

	reg := registry.New(nil)
	p := New(reg, Config{})
	md := newMD(t)

	if err := p.Run(md, bytes.NewReader(data), int64(len(data)), "f.bin", func(*metadir.MD) {}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// No parser matched at all, so the whole file becomes a single gap span
	// covering [0, len(data)).
	info := md.Info()
	if len(info.ExtractedFiles) != 1 {
		t.Fatalf("ExtractedFiles = %v, want a single gap span", info.ExtractedFiles)
	}
	wantKey := md.ExtractedFilename(0, int64(len(data)))
	if _, ok := info.ExtractedFiles[wantKey]; !ok {
		t.Fatalf("missing gap span %q in %v", wantKey, info.ExtractedFiles)
	}
}
