package pathindex

import "testing"

func TestPrefixSetMatches(t *testing.T) {
	ps := NewPrefixSet("/etc", "/var/lib/pkg")
	if !ps.Matches("/etc/foo.conf") {
		t.Fatal("expected /etc prefix match")
	}
	if ps.Matches("/usr/bin/foo") {
		t.Fatal("did not expect a match outside the prefix set")
	}
}

func TestOwnerIndexAddRemove(t *testing.T) {
	oi := NewOwnerIndex()
	if n := oi.AddOwner("/usr/bin/foo", "pkgA"); n != 1 {
		t.Fatalf("expected 1 owner, got %d", n)
	}
	if n := oi.AddOwner("/usr/bin/foo", "pkgB"); n != 2 {
		t.Fatalf("expected 2 owners, got %d", n)
	}
	owners, ok := oi.Owners("/usr/bin/foo")
	if !ok || len(owners) != 2 {
		t.Fatalf("got %+v", owners)
	}
	if n := oi.RemoveOwner("/usr/bin/foo", "pkgA"); n != 1 {
		t.Fatalf("expected 1 owner remaining, got %d", n)
	}
	if n := oi.RemoveOwner("/usr/bin/foo", "pkgB"); n != 0 {
		t.Fatalf("expected 0 owners remaining, got %d", n)
	}
	if _, ok := oi.Owners("/usr/bin/foo"); ok {
		t.Fatal("expected path to be removed once unowned")
	}
}
