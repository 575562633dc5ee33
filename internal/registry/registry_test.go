package registry

import (
	"testing"

	"github.com/opencarve/opencarve/internal/parser"
)

func descriptor(name string, pattern []byte, extensions ...string) *parser.Descriptor {
	d := &parser.Descriptor{
		PrettyName: name,
		Extensions: extensions,
		New:        func() parser.Parser { return nil },
	}
	if pattern != nil {
		d.Signatures = []parser.Signature{{Pattern: pattern}}
	}
	return d
}

func TestResolveTranslatesHitToStartOffset(t *testing.T) {
	gzip := descriptor("gzip", []byte("\x1f\x8b"))
	reg := New([]*parser.Descriptor{gzip})

	var hit Hit
	reg.Matcher().Scan([]byte("noise\x1f\x8btail"), 0, func(h Hit) { hit = h })

	start, cand := reg.Resolve(hit)
	if start != 5 {
		t.Fatalf("Resolve start = %d, want 5", start)
	}
	if cand.Descriptor != gzip {
		t.Fatalf("Resolve descriptor = %v, want gzip", cand.Descriptor)
	}
}

func TestResolveHonoursOffsetWithinPattern(t *testing.T) {
	// tar's ustar marker sits 0x101 bytes into the archive; an archive
	// starting at absolute offset 1000 puts the marker's bytes at 1257.
	tar := &parser.Descriptor{
		PrettyName: "tar",
		Signatures: []parser.Signature{{OffsetWithinPattern: 0x101, Pattern: []byte("ustar")}},
		New:        func() parser.Parser { return nil },
	}
	reg := New([]*parser.Descriptor{tar})

	var hit Hit
	reg.Matcher().Scan([]byte("ustar"), 1257, func(h Hit) { hit = h })

	start, _ := reg.Resolve(hit)
	if start != 1000 {
		t.Fatalf("Resolve start = %d, want 1000", start)
	}
}

func TestExtensionCandidatesMatchesCaseInsensitively(t *testing.T) {
	gzip := descriptor("gzip", nil, "*.gz", "*.tgz")
	reg := New([]*parser.Descriptor{gzip})

	got := reg.ExtensionCandidates("Archive.GZ")
	if len(got) != 1 || got[0] != gzip {
		t.Fatalf("ExtensionCandidates(Archive.GZ) = %v, want [gzip]", got)
	}
	if got := reg.ExtensionCandidates("archive.zip"); len(got) != 0 {
		t.Fatalf("ExtensionCandidates(archive.zip) = %v, want none", got)
	}
}

func TestFeaturelessOnlyListsOptedInDescriptors(t *testing.T) {
	raw := &parser.Descriptor{PrettyName: "raw", ScanIfFeatureless: true, New: func() parser.Parser { return nil }}
	gzip := descriptor("gzip", []byte("\x1f\x8b"))
	reg := New([]*parser.Descriptor{gzip, raw})

	got := reg.Featureless()
	if len(got) != 1 || got[0] != raw {
		t.Fatalf("Featureless() = %v, want [raw]", got)
	}
}

func TestAllReturnsRegistrationOrder(t *testing.T) {
	a := descriptor("a", nil)
	b := descriptor("b", nil)
	reg := New([]*parser.Descriptor{a, b})
	all := reg.All()
	if len(all) != 2 || all[0] != a || all[1] != b {
		t.Fatalf("All() = %v, want [a b] in order", all)
	}
}
