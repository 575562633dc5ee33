package registry

import "testing"

func TestScanFindsEachPattern(t *testing.T) {
	m := NewMatcher([][]byte{[]byte("PK\x03\x04"), []byte("\x1f\x8b"), []byte("BZh")})

	buf := []byte("leading noise\x1f\x8bmore PK\x03\x04 trailing BZh")
	var hits []Hit
	m.Scan(buf, 0, func(h Hit) { hits = append(hits, h) })

	if len(hits) != 3 {
		t.Fatalf("Scan found %d hits, want 3: %+v", len(hits), hits)
	}
	for i, want := range []int{1, 0, 2} {
		if hits[i].PatternIndex != want {
			t.Errorf("hit %d pattern index = %d, want %d", i, hits[i].PatternIndex, want)
		}
	}
}

func TestScanRespectsBaseOffset(t *testing.T) {
	m := NewMatcher([][]byte{[]byte("abc")})
	var hits []Hit
	m.Scan([]byte("xxabc"), 100, func(h Hit) { hits = append(hits, h) })
	if len(hits) != 1 || hits[0].End != 105 {
		t.Fatalf("Scan with baseOffset: hits=%+v, want End=105", hits)
	}
}

func TestScanHandlesOverlappingPrefixPatterns(t *testing.T) {
	// "he" is a proper prefix of "hers" and "she" shares a suffix with "he":
	// the classic Aho-Corasick worked example.
	m := NewMatcher([][]byte{[]byte("he"), []byte("she"), []byte("his"), []byte("hers")})
	var found []int
	m.Scan([]byte("ushers"), 0, func(h Hit) { found = append(found, h.PatternIndex) })

	want := map[int]bool{0: true, 1: true, 3: true}
	for _, idx := range found {
		if !want[idx] {
			t.Errorf("unexpected pattern index %d in %v", idx, found)
		}
		delete(want, idx)
	}
	if len(want) != 0 {
		t.Errorf("missing expected pattern indices: %v", want)
	}
}

func TestMaxPatternLen(t *testing.T) {
	m := NewMatcher([][]byte{[]byte("ab"), []byte("abcde"), []byte("x")})
	if got := m.MaxPatternLen(); got != 5 {
		t.Fatalf("MaxPatternLen() = %d, want 5", got)
	}
}
