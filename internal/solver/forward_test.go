package solver

import (
	"path/filepath"
	"testing"

	"github.com/ashang/entropy/internal/installed"
	"github.com/ashang/entropy/internal/mask"
	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/ashang/entropy/internal/registry"
	"github.com/ashang/entropy/internal/resolver"
)

func buildTestResolver(t *testing.T, recs []*pkgrecord.Record) *resolver.Resolver {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repo1.db")
	if err := registry.Build(path, 1, "c1", recs); err != nil {
		t.Fatal(err)
	}
	rd, err := registry.Open(path, "repo1")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rd.Close() })

	policy := mask.NewPolicy()
	policy.AcceptedKeywords["amd64"] = true
	repo := resolver.Repository{ID: "repo1", Reader: rd, Mask: mask.NewEngine(policy, 1000)}
	return resolver.New([]resolver.Repository{repo}, nil)
}

func openTestInstalled(t *testing.T) *installed.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "installed.db")
	reg, err := installed.Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestForwardPullsRuntimeDependency(t *testing.T) {
	recs := []*pkgrecord.Record{
		{PackageID: 1, Scope: pkgrecord.Scope{Category: "x", Name: "a", Version: "1.0", Slot: "0"},
			Build:        pkgrecord.BuildMetadata{Keywords: []string{"amd64"}},
			Dependencies: []pkgrecord.Dependency{{Atom: "x/b", Kind: pkgrecord.DepRuntime}}},
		{PackageID: 2, Scope: pkgrecord.Scope{Category: "x", Name: "b", Version: "1.0", Slot: "0"},
			Build: pkgrecord.BuildMetadata{Keywords: []string{"amd64"}}},
	}
	res := buildTestResolver(t, recs)
	reg := openTestInstalled(t)

	root, err := res.Resolve("x/a", "", nil, true)
	if err != nil {
		t.Fatal(err)
	}

	plan, err := Forward(res, reg, []Root{{PackageID: root.PackageID, RepositoryID: root.RepositoryID}}, ForwardOptions{UseFilter: true})
	if err != nil {
		t.Fatal(err)
	}

	if len(plan.Matches[0]) != 1 || plan.Matches[0][0].Result.PackageID != 1 {
		t.Fatalf("got depth 0: %+v", plan.Matches[0])
	}
	if len(plan.Matches[1]) != 1 || plan.Matches[1][0].Result.PackageID != 2 {
		t.Fatalf("got depth 1: %+v", plan.Matches[1])
	}
}

func TestForwardSkipsAlreadySatisfiedDependency(t *testing.T) {
	recs := []*pkgrecord.Record{
		{PackageID: 1, Scope: pkgrecord.Scope{Category: "x", Name: "a", Version: "1.0", Slot: "0"},
			Build:        pkgrecord.BuildMetadata{Keywords: []string{"amd64"}},
			Dependencies: []pkgrecord.Dependency{{Atom: "x/b", Kind: pkgrecord.DepRuntime}}},
		{PackageID: 2, Scope: pkgrecord.Scope{Category: "x", Name: "b", Version: "1.0", Slot: "0"},
			Build: pkgrecord.BuildMetadata{Keywords: []string{"amd64"}}},
	}
	res := buildTestResolver(t, recs)
	reg := openTestInstalled(t)

	err := reg.Update(func(txn *installed.Txn) error {
		_, err := txn.Upsert(&pkgrecord.InstalledRecord{
			Record: pkgrecord.Record{Scope: pkgrecord.Scope{Category: "x", Name: "b", Version: "1.0", Slot: "0"}},
		})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	root, err := res.Resolve("x/a", "", nil, true)
	if err != nil {
		t.Fatal(err)
	}

	plan, err := Forward(res, reg, []Root{{PackageID: root.PackageID, RepositoryID: root.RepositoryID}}, ForwardOptions{UseFilter: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Matches[1]) != 0 {
		t.Fatalf("expected already-satisfied dependency to be skipped, got %+v", plan.Matches[1])
	}
}

func TestForwardDeepDepsRevisitsStaleInstalledDependency(t *testing.T) {
	recs := []*pkgrecord.Record{
		{PackageID: 1, Scope: pkgrecord.Scope{Category: "x", Name: "a", Version: "1.0", Slot: "0"},
			Build:        pkgrecord.BuildMetadata{Keywords: []string{"amd64"}},
			Dependencies: []pkgrecord.Dependency{{Atom: "x/b", Kind: pkgrecord.DepRuntime}}},
		{PackageID: 2, Scope: pkgrecord.Scope{Category: "x", Name: "b", Version: "2.0", Slot: "0"},
			Build: pkgrecord.BuildMetadata{Keywords: []string{"amd64"}}},
	}
	res := buildTestResolver(t, recs)
	reg := openTestInstalled(t)

	err := reg.Update(func(txn *installed.Txn) error {
		_, err := txn.Upsert(&pkgrecord.InstalledRecord{
			Record: pkgrecord.Record{Scope: pkgrecord.Scope{Category: "x", Name: "b", Version: "1.0", Slot: "0"}},
		})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	root, err := res.Resolve("x/a", "", nil, true)
	if err != nil {
		t.Fatal(err)
	}

	shallow, err := Forward(res, reg, []Root{{PackageID: root.PackageID, RepositoryID: root.RepositoryID}}, ForwardOptions{UseFilter: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(shallow.Matches[1]) != 0 {
		t.Fatalf("expected DeepDeps=false to accept the stale installed dependency, got %+v", shallow.Matches[1])
	}

	deep, err := Forward(res, reg, []Root{{PackageID: root.PackageID, RepositoryID: root.RepositoryID}}, ForwardOptions{UseFilter: true, DeepDeps: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(deep.Matches[1]) != 1 || deep.Matches[1][0].Result.PackageID != 2 {
		t.Fatalf("expected DeepDeps=true to re-push the stale dependency onto the worklist, got %+v", deep.Matches[1])
	}
}

func TestForwardReportsMissingDependency(t *testing.T) {
	recs := []*pkgrecord.Record{
		{PackageID: 1, Scope: pkgrecord.Scope{Category: "x", Name: "a", Version: "1.0", Slot: "0"},
			Build:        pkgrecord.BuildMetadata{Keywords: []string{"amd64"}},
			Dependencies: []pkgrecord.Dependency{{Atom: "x/missing", Kind: pkgrecord.DepRuntime}}},
	}
	res := buildTestResolver(t, recs)
	reg := openTestInstalled(t)

	root, err := res.Resolve("x/a", "", nil, true)
	if err != nil {
		t.Fatal(err)
	}

	plan, err := Forward(res, reg, []Root{{PackageID: root.PackageID, RepositoryID: root.RepositoryID}}, ForwardOptions{UseFilter: true})
	if err != ErrMissingDependencies {
		t.Fatalf("got %v", err)
	}
	if len(plan.NotFound) != 1 || plan.NotFound[0] != "x/missing" {
		t.Fatalf("got %+v", plan.NotFound)
	}
}

func TestForwardAdjacency(t *testing.T) {
	recs := []*pkgrecord.Record{
		{PackageID: 1, Scope: pkgrecord.Scope{Category: "x", Name: "a", Version: "1.0", Slot: "0"},
			Build:        pkgrecord.BuildMetadata{Keywords: []string{"amd64"}},
			Dependencies: []pkgrecord.Dependency{{Atom: "x/b", Kind: pkgrecord.DepRuntime}}},
		{PackageID: 2, Scope: pkgrecord.Scope{Category: "x", Name: "b", Version: "1.0", Slot: "0"},
			Build: pkgrecord.BuildMetadata{Keywords: []string{"amd64"}}},
	}
	res := buildTestResolver(t, recs)
	reg := openTestInstalled(t)

	root, err := res.Resolve("x/a", "", nil, true)
	if err != nil {
		t.Fatal(err)
	}
	plan, err := Forward(res, reg, []Root{{PackageID: root.PackageID, RepositoryID: root.RepositoryID}}, ForwardOptions{UseFilter: true})
	if err != nil {
		t.Fatal(err)
	}

	adj := plan.Adjacency()
	children := adj[1]
	if len(children) != 1 || children[0] != 2 {
		t.Fatalf("got adjacency %+v", adj)
	}
}
