package resolver

import (
	"path/filepath"
	"testing"

	"github.com/ashang/entropy/internal/mask"
	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/ashang/entropy/internal/registry"
)

func buildRepo(t *testing.T, id pkgrecord.RepositoryID, checksum string, recs []*pkgrecord.Record, priority int) Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), string(id)+".db")
	if err := registry.Build(path, 1, checksum, recs); err != nil {
		t.Fatal(err)
	}
	rd, err := registry.Open(path, id)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rd.Close() })

	policy := mask.NewPolicy()
	policy.AcceptedKeywords["amd64"] = true
	return Repository{ID: id, Reader: rd, Mask: mask.NewEngine(policy, 1000), Priority: priority}
}

func TestResolveSingleRepository(t *testing.T) {
	repo := buildRepo(t, "repo1", "c1", []*pkgrecord.Record{
		{PackageID: 1, Scope: pkgrecord.Scope{Category: "x", Name: "y", Version: "1.0", Slot: "0"},
			Build: pkgrecord.BuildMetadata{Keywords: []string{"amd64"}}},
	}, 0)

	r := New([]Repository{repo}, nil)
	res, err := r.Resolve("x/y", "", nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.PackageID != 1 || res.RepositoryID != "repo1" {
		t.Fatalf("got %+v", res)
	}
}

func TestResolveNotFound(t *testing.T) {
	repo := buildRepo(t, "repo1", "c1", nil, 0)
	r := New([]Repository{repo}, nil)
	if _, err := r.Resolve("x/y", "", nil, true); err != ErrNotFound {
		t.Fatalf("got %v", err)
	}
}

func TestResolveTieBreakByVersion(t *testing.T) {
	repo1 := buildRepo(t, "repo1", "c1", []*pkgrecord.Record{
		{PackageID: 1, Scope: pkgrecord.Scope{Category: "x", Name: "y", Version: "1.0", Slot: "0"},
			Build: pkgrecord.BuildMetadata{Keywords: []string{"amd64"}}},
	}, 0)
	repo2 := buildRepo(t, "repo2", "c2", []*pkgrecord.Record{
		{PackageID: 2, Scope: pkgrecord.Scope{Category: "x", Name: "y", Version: "2.0", Slot: "0"},
			Build: pkgrecord.BuildMetadata{Keywords: []string{"amd64"}}},
	}, 0)

	r := New([]Repository{repo1, repo2}, nil)
	res, err := r.Resolve("x/y", "", nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.PackageID != 2 || res.RepositoryID != "repo2" {
		t.Fatalf("got %+v, expected the higher version to win", res)
	}
}

func TestResolveTieBreakByPriority(t *testing.T) {
	repo1 := buildRepo(t, "repo1", "c1", []*pkgrecord.Record{
		{PackageID: 1, Scope: pkgrecord.Scope{Category: "x", Name: "y", Version: "1.0", Slot: "0"},
			Build: pkgrecord.BuildMetadata{Keywords: []string{"amd64"}}},
	}, 5)
	repo2 := buildRepo(t, "repo2", "c2", []*pkgrecord.Record{
		{PackageID: 2, Scope: pkgrecord.Scope{Category: "x", Name: "y", Version: "1.0", Slot: "0"},
			Build: pkgrecord.BuildMetadata{Keywords: []string{"amd64"}}},
	}, 1)

	r := New([]Repository{repo1, repo2}, nil)
	res, err := r.Resolve("x/y", "", nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.RepositoryID != "repo1" {
		t.Fatalf("got %+v, expected the higher-priority repository to win an exact tie", res)
	}
}

func TestResolveTieBreakByConfigurationOrder(t *testing.T) {
	repo1 := buildRepo(t, "repo1", "c1", []*pkgrecord.Record{
		{PackageID: 1, Scope: pkgrecord.Scope{Category: "x", Name: "y", Version: "1.0", Slot: "0"},
			Build: pkgrecord.BuildMetadata{Keywords: []string{"amd64"}}},
	}, 3)
	repo2 := buildRepo(t, "repo2", "c2", []*pkgrecord.Record{
		{PackageID: 2, Scope: pkgrecord.Scope{Category: "x", Name: "y", Version: "1.0", Slot: "0"},
			Build: pkgrecord.BuildMetadata{Keywords: []string{"amd64"}}},
	}, 3)
	repo3 := buildRepo(t, "repo3", "c3", []*pkgrecord.Record{
		{PackageID: 3, Scope: pkgrecord.Scope{Category: "x", Name: "y", Version: "1.0", Slot: "0"},
			Build: pkgrecord.BuildMetadata{Keywords: []string{"amd64"}}},
	}, 3)

	repos := []Repository{repo1, repo2, repo3}
	for i := 0; i < 20; i++ {
		r := New(repos, nil)
		res, err := r.Resolve("x/y", "", nil, false)
		if err != nil {
			t.Fatal(err)
		}
		if res.RepositoryID != "repo1" || res.PackageID != 1 {
			t.Fatalf("iteration %d: got %+v, expected the first-listed repository to win an exact tie on version/tag/revision/priority", i, res)
		}
	}
}

func TestResolveMaskedCandidateExcluded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo1.db")
	recs := []*pkgrecord.Record{
		{PackageID: 1, Scope: pkgrecord.Scope{Category: "x", Name: "y", Version: "1.0", Slot: "0"},
			Build: pkgrecord.BuildMetadata{Keywords: []string{"~amd64"}}},
	}
	if err := registry.Build(path, 1, "c1", recs); err != nil {
		t.Fatal(err)
	}
	rd, err := registry.Open(path, "repo1")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rd.Close() })

	policy := mask.NewPolicy()
	policy.AcceptedKeywords["amd64"] = true // does not accept ~amd64
	repo := Repository{ID: "repo1", Reader: rd, Mask: mask.NewEngine(policy, 1000)}

	r := New([]Repository{repo}, nil)
	if _, err := r.Resolve("x/y", "", nil, true); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound for a fully masked candidate", err)
	}
}

func TestResolveOrGroupFallsThrough(t *testing.T) {
	repo := buildRepo(t, "repo1", "c1", []*pkgrecord.Record{
		{PackageID: 1, Scope: pkgrecord.Scope{Category: "x", Name: "b", Version: "1.0", Slot: "0"},
			Build: pkgrecord.BuildMetadata{Keywords: []string{"amd64"}}},
	}, 0)

	r := New([]Repository{repo}, nil)
	res, err := r.Resolve("x/a;x/b?", "", nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.PackageID != 1 {
		t.Fatalf("got %+v, expected the or-group to fall through to x/b", res)
	}
}
