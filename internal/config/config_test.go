package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := ioutil.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewSessionLayout(t *testing.T) {
	s := NewSession("/srv/entropy", "stable", nil)
	if s.RepositoriesDir != "/srv/entropy/repositories" {
		t.Fatalf("RepositoriesDir = %q", s.RepositoriesDir)
	}
	if s.LockFilePath != "/srv/entropy/state/lock" {
		t.Fatalf("LockFilePath = %q", s.LockFilePath)
	}
	if s.InstalledDBPath != "/srv/entropy/state/installed.db" {
		t.Fatalf("InstalledDBPath = %q", s.InstalledDBPath)
	}
	if s.ActiveBranch != "stable" {
		t.Fatalf("ActiveBranch = %q", s.ActiveBranch)
	}
}

func TestLoadRepositories(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "repositories.toml", `
[[repository]]
id = "main"
base_url = "https://pkg.example/main"
mirrors = ["https://mirror1.example/main"]
priority = 2

[[repository]]
id = "community"
base_url = "https://pkg.example/community"
priority = 1
`)

	repos, err := LoadRepositories(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(repos) != 2 {
		t.Fatalf("got %d repos, want 2", len(repos))
	}
	if repos[0].ID != "main" || repos[0].Priority != 2 {
		t.Fatalf("repos[0] = %+v", repos[0])
	}
	if len(repos[0].Mirrors) != 1 {
		t.Fatalf("repos[0].Mirrors = %+v", repos[0].Mirrors)
	}
}

func TestLoadMaskPolicy(t *testing.T) {
	dir := t.TempDir()
	maskPath := writeFile(t, dir, "package.mask.toml", `
mask = ["dev/unstable"]
unmask = ["dev/unstable-9999"]
`)
	kwPath := writeFile(t, dir, "package.keywords.toml", `
accepted_keywords = ["amd64", "~amd64"]

[[repo_atom]]
repo = "main"
atom = "dev/experimental"
keywords = ["*"]
`)

	policy, err := LoadMaskPolicy(maskPath, kwPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(policy.UserMaskAtoms) != 1 {
		t.Fatalf("UserMaskAtoms = %+v", policy.UserMaskAtoms)
	}
	if len(policy.UserUnmaskAtoms) != 1 {
		t.Fatalf("UserUnmaskAtoms = %+v", policy.UserUnmaskAtoms)
	}
	if !policy.AcceptedKeywords["amd64"] {
		t.Fatal("expected amd64 accepted")
	}
	if len(policy.RepoAtomKeywords["main"]) != 1 {
		t.Fatalf("RepoAtomKeywords[main] = %+v", policy.RepoAtomKeywords["main"])
	}
}

func TestLoadConfigProtect(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config-protect.toml", `
protect = ["/etc"]
protect_mask = ["/etc/gentoo-release"]
`)

	protect, protectMask, err := LoadConfigProtect(path)
	if err != nil {
		t.Fatal(err)
	}
	if !protect.Matches("/etc/foo.conf") {
		t.Fatal("expected /etc/foo.conf to match protect set")
	}
	if !protectMask.Matches("/etc/gentoo-release") {
		t.Fatal("expected exact mask match")
	}
}

func TestLoadRepositoriesMissingFile(t *testing.T) {
	if _, err := LoadRepositories(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
