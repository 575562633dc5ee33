package pathintern

import "testing"

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"a", "a/b/c", "rel/extracted/0000000000000000-0000000000000010"} {
		if got := New(name).String(); got != name {
			t.Errorf("New(%q).String() = %q, want %q", name, got, name)
		}
	}
}

func TestSameStringInternsEqual(t *testing.T) {
	a := New("a/b/c")
	b := New("a/b/c")
	if a != b {
		t.Fatalf("interned paths for the same string compared unequal")
	}
}

func TestBaseAndDir(t *testing.T) {
	p := New("a/b/c")
	if p.Base() != "c" {
		t.Fatalf("Base() = %q, want %q", p.Base(), "c")
	}
	if p.Dir().String() != "a/b" {
		t.Fatalf("Dir().String() = %q, want %q", p.Dir().String(), "a/b")
	}
	if New(".").Base() != "." {
		t.Fatalf("Base() of root = %q, want %q", New(".").Base(), ".")
	}
}

func TestIsWithin(t *testing.T) {
	root := New(".")
	child := New("a/b/c")
	if !child.IsWithin(root) {
		t.Fatalf("every path should be within the root")
	}
	if !child.IsWithin(New("a/b")) {
		t.Fatalf("a/b/c should be within a/b")
	}
	if child.IsWithin(New("x/y")) {
		t.Fatalf("a/b/c should not be within an unrelated path")
	}
}

func TestJoinClampsDotDotAtRoot(t *testing.T) {
	p := New(".").Join("..").Join("..").Join("etc")
	if p.String() != "etc" {
		t.Fatalf("Join with excess .. = %q, want clamped to %q", p.String(), "etc")
	}
}
