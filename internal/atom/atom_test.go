package atom

import "testing"

func TestParseBareAtom(t *testing.T) {
	a, err := Parse("x/y")
	if err != nil {
		t.Fatal(err)
	}
	if a.Category != "x" || a.Name != "y" {
		t.Fatalf("got %+v", a)
	}
	if a.Op != OpNone || a.Version != "" {
		t.Fatalf("bare atom should have no operator/version, got %+v", a)
	}
}

func TestParseVersionedAtom(t *testing.T) {
	a, err := Parse(">=dev-lang/python-3.8")
	if err != nil {
		t.Fatal(err)
	}
	if a.Op != OpGTE {
		t.Fatalf("expected >=, got %v", a.Op)
	}
	if a.Category != "dev-lang" || a.Name != "python" || a.Version != "3.8" {
		t.Fatalf("got %+v", a)
	}
}

func TestParseSlotTagRevisionUse(t *testing.T) {
	a, err := Parse("=x/y-1.2:3~4#stable[+ssl,-doc]")
	if err != nil {
		t.Fatal(err)
	}
	if a.Op != OpEq || a.Version != "1.2" {
		t.Fatalf("op/version: %+v", a)
	}
	if a.Slot != "3" {
		t.Fatalf("slot: %+v", a)
	}
	if !a.HasRevision || a.Revision != 4 {
		t.Fatalf("revision: %+v", a)
	}
	if a.Tag != "stable" {
		t.Fatalf("tag: %+v", a)
	}
	if len(a.UseDeps) != 2 || a.UseDeps[0] != (UseDep{Flag: "ssl", Enabled: true}) || a.UseDeps[1] != (UseDep{Flag: "doc", Enabled: false}) {
		t.Fatalf("usedeps: %+v", a.UseDeps)
	}
}

func TestParseConflictAtom(t *testing.T) {
	a, err := Parse("!a/b")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Conflict {
		t.Fatal("expected conflict flag")
	}
	if a.Key() != "a/b" {
		t.Fatalf("got key %q", a.Key())
	}
}

func TestParseEqStar(t *testing.T) {
	a, err := Parse("=x/y-1.2*")
	if err != nil {
		t.Fatal(err)
	}
	if a.Op != OpEqStar || a.Version != "1.2*" {
		t.Fatalf("got %+v", a)
	}
}

func TestParseOrGroup(t *testing.T) {
	a, err := Parse("a/b;c/d?")
	if err != nil {
		t.Fatal(err)
	}
	if !a.IsGroup() || len(a.Or) != 2 {
		t.Fatalf("got %+v", a)
	}
	if a.Or[0].Key() != "a/b" || a.Or[1].Key() != "c/d" {
		t.Fatalf("got %+v", a.Or)
	}
}

func TestParseMissingVersionWithOperatorErrors(t *testing.T) {
	if _, err := Parse(">=a/b"); err == nil {
		t.Fatal("expected error for operator atom with no version")
	}
}

func TestParseMissingCategoryErrors(t *testing.T) {
	if _, err := Parse("noslash"); err == nil {
		t.Fatal("expected error for atom missing category/name separator")
	}
}

func TestMatchesOperators(t *testing.T) {
	c := Candidate{Category: "x", Name: "y", Version: "1.2-r1", Slot: "0"}

	eq, _ := Parse("=x/y-1.2-r1")
	if !eq.Matches(c) {
		t.Fatal("expected exact match including revision")
	}

	gte, _ := Parse(">=x/y-1.0")
	if !gte.Matches(c) {
		t.Fatal("expected >= match")
	}

	tilde, _ := Parse("~x/y-1.2")
	if !tilde.Matches(c) {
		t.Fatal("expected ~ match ignoring revision with candidate rev >= requested")
	}

	star, _ := Parse("=x/y-1.2*")
	if !star.Matches(c) {
		t.Fatal("expected prefix match")
	}

	slotted, _ := Parse("x/y:1")
	if slotted.Matches(c) {
		t.Fatal("slot mismatch should not match")
	}
}

func TestMatchesUseDeps(t *testing.T) {
	c := Candidate{Category: "x", Name: "y", Version: "1.0", EnabledUse: map[string]bool{"ssl": true, "doc": false}}
	a, _ := Parse("x/y[+ssl,-doc]")
	if !a.Matches(c) {
		t.Fatal("expected use-dep match")
	}
	bad, _ := Parse("x/y[-ssl]")
	if bad.Matches(c) {
		t.Fatal("expected use-dep mismatch to fail")
	}
}

func TestCompareTieBreak(t *testing.T) {
	a := Candidate{Version: "1.2", Tag: ""}
	b := Candidate{Version: "1.2", Tag: "k"}
	if Compare(a, b, "") <= 0 {
		t.Fatal("untagged candidate should be preferred over tagged when no tag requested")
	}
}
