package solver

import (
	"github.com/ashang/entropy/internal/installed"
	"github.com/ashang/entropy/internal/pkgrecord"
	"testing"
)

func upsertInstalled(t *testing.T, reg *installed.Registry, rec pkgrecord.InstalledRecord) pkgrecord.ID {
	t.Helper()
	var id pkgrecord.ID
	err := reg.Update(func(txn *installed.Txn) error {
		var err error
		id, err = txn.Upsert(&rec)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestReverseWalksOneLevel(t *testing.T) {
	reg := openTestInstalled(t)

	depID := upsertInstalled(t, reg, pkgrecord.InstalledRecord{
		Record: pkgrecord.Record{Scope: pkgrecord.Scope{Category: "x", Name: "dep", Version: "1.0", Slot: "0"}},
	})
	upsertInstalled(t, reg, pkgrecord.InstalledRecord{
		Record: pkgrecord.Record{Scope: pkgrecord.Scope{Category: "x", Name: "consumer", Version: "1.0", Slot: "0"},
			Dependencies: []pkgrecord.Dependency{{Atom: "x/dep", Kind: pkgrecord.DepRuntime}}},
	})

	plan := Reverse(reg, []pkgrecord.ID{depID}, ReverseOptions{})

	if len(plan.Matches[0]) != 1 || plan.Matches[0][0].Result.PackageID != depID {
		t.Fatalf("depth 0 = %+v", plan.Matches[0])
	}
	if len(plan.Matches[1]) != 1 {
		t.Fatalf("depth 1 = %+v", plan.Matches[1])
	}
}

func TestReverseProtectedExcluded(t *testing.T) {
	reg := openTestInstalled(t)

	depID := upsertInstalled(t, reg, pkgrecord.InstalledRecord{
		Record: pkgrecord.Record{Scope: pkgrecord.Scope{Category: "x", Name: "dep", Version: "1.0", Slot: "0"}},
	})
	consumerID := upsertInstalled(t, reg, pkgrecord.InstalledRecord{
		Record: pkgrecord.Record{Scope: pkgrecord.Scope{Category: "x", Name: "consumer", Version: "1.0", Slot: "0"},
			Dependencies: []pkgrecord.Dependency{{Atom: "x/dep", Kind: pkgrecord.DepRuntime}}},
	})

	plan := Reverse(reg, []pkgrecord.ID{depID}, ReverseOptions{Protected: map[pkgrecord.ID]bool{consumerID: true}})

	if len(plan.Matches[1]) != 0 {
		t.Fatalf("expected protected consumer excluded, got %+v", plan.Matches[1])
	}
}

func TestReverseSystemPackageRootRestriction(t *testing.T) {
	reg := openTestInstalled(t)

	depID := upsertInstalled(t, reg, pkgrecord.InstalledRecord{
		Record: pkgrecord.Record{Scope: pkgrecord.Scope{Category: "x", Name: "dep", Version: "1.0", Slot: "0"}},
	})
	upsertInstalled(t, reg, pkgrecord.InstalledRecord{
		Record: pkgrecord.Record{Scope: pkgrecord.Scope{Category: "x", Name: "consumer", Version: "1.0", Slot: "0"},
			Dependencies: []pkgrecord.Dependency{{Atom: "x/dep", Kind: pkgrecord.DepRuntime}},
			System:       true},
	})

	plan := Reverse(reg, []pkgrecord.ID{depID}, ReverseOptions{})

	if len(plan.Matches[1]) != 0 {
		t.Fatalf("expected system consumer excluded from removal, got %+v", plan.Matches[1])
	}
}

func TestReverseDeepOrphanFallback(t *testing.T) {
	reg := openTestInstalled(t)

	libID := upsertInstalled(t, reg, pkgrecord.InstalledRecord{
		Record: pkgrecord.Record{Scope: pkgrecord.Scope{Category: "x", Name: "lib", Version: "1.0", Slot: "0"}},
	})
	appID := upsertInstalled(t, reg, pkgrecord.InstalledRecord{
		Record: pkgrecord.Record{Scope: pkgrecord.Scope{Category: "x", Name: "app", Version: "1.0", Slot: "0"},
			Dependencies: []pkgrecord.Dependency{{Atom: "x/lib", Kind: pkgrecord.DepRuntime}}},
	})

	plan := Reverse(reg, []pkgrecord.ID{appID}, ReverseOptions{Deep: true})

	if len(plan.Matches[0]) != 1 || plan.Matches[0][0].Result.PackageID != appID {
		t.Fatalf("depth 0 = %+v", plan.Matches[0])
	}
	found := false
	for _, m := range plan.Matches[1] {
		if m.Result.PackageID == libID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected orphaned lib at depth 1, got %+v", plan.Matches[1])
	}
}

func TestReverseDedupeUpwardKeepsShallowest(t *testing.T) {
	levels := [][]pkgrecord.ID{
		{1},
		{2, 3},
		{3},
	}
	dedupeUpward(levels)

	if len(levels[2]) != 0 {
		t.Fatalf("expected id 3 stripped from depth 2, got %+v", levels[2])
	}
	if len(levels[1]) != 2 {
		t.Fatalf("expected depth 1 unchanged, got %+v", levels[1])
	}
}
