package entropy

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ashang/entropy/internal/config"
	"github.com/ashang/entropy/internal/lockfile"
	"github.com/ashang/entropy/internal/mask"
	"github.com/ashang/entropy/internal/pkgrecord"
	"github.com/ashang/entropy/internal/registry"
	"github.com/ashang/entropy/internal/solver"
	"github.com/ashang/entropy/internal/txexec"
)

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func buildArchive(t *testing.T, relPath string, contents []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: relPath, Mode: 0644, Size: int64(len(contents))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(contents); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func setupCore(t *testing.T, archives map[string][]byte) (*Core, string) {
	t.Helper()
	root := t.TempDir()

	mux := http.NewServeMux()
	for path, contents := range archives {
		contents := contents
		mux.HandleFunc("/"+path, func(w http.ResponseWriter, r *http.Request) {
			w.Write(contents)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	repoDir := filepath.Join(root, "repositories", "main")
	if err := os.MkdirAll(repoDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "packages"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "state"), 0755); err != nil {
		t.Fatal(err)
	}
	stagingDir := filepath.Join(root, "staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		t.Fatal(err)
	}
	liveRoot := filepath.Join(root, "live")
	if err := os.MkdirAll(liveRoot, 0755); err != nil {
		t.Fatal(err)
	}

	archiveBytes := buildArchive(t, "payload.txt", []byte("hello world"))
	rec := &pkgrecord.Record{
		PackageID: 1,
		Scope:     pkgrecord.Scope{Category: "app", Name: "w", Version: "1.0", Slot: "0"},
		Artifact:  pkgrecord.Artifact{DownloadPath: "app-w-1.0.tar.gz", DigestMD5: md5Hex(archiveBytes)},
		Build:     pkgrecord.BuildMetadata{Keywords: []string{"amd64"}},
	}
	if err := registry.Build(filepath.Join(repoDir, "index.db"), 1, "c1", []*pkgrecord.Record{rec}); err != nil {
		t.Fatal(err)
	}

	sess := config.NewSession(root, "stable", nil)
	policy := mask.NewPolicy()
	policy.AcceptedKeywords["amd64"] = true

	core, err := Open(sess, []config.RepositoryConfig{
		{ID: "main", BaseURL: srv.URL, Priority: 0},
	}, policy, 1000, txexec.Config{
		RootDir:    liveRoot,
		StagingDir: stagingDir,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { core.Close() })

	mux.HandleFunc("/app-w-1.0.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archiveBytes)
	})

	return core, liveRoot
}

func TestInstallEndToEnd(t *testing.T) {
	core, liveRoot := setupCore(t, nil)

	results, err := core.Install(context.Background(), []string{"app/w"}, solver.ForwardOptions{})
	if err != nil {
		t.Fatalf("Install: %v, results=%+v", err, results)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results: %+v", results)
	}

	b, err := os.ReadFile(filepath.Join(liveRoot, "payload.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hello world" {
		t.Fatalf("got %q", b)
	}

	rec, ok := core.Installed.ByKeySlot("app/w", "0")
	if !ok || rec.Scope.Version != "1.0" {
		t.Fatalf("installed record = %+v, ok=%v", rec, ok)
	}
}

func TestInstallThenRemoveRoundTrip(t *testing.T) {
	core, liveRoot := setupCore(t, nil)

	if _, err := core.Install(context.Background(), []string{"app/w"}, solver.ForwardOptions{}); err != nil {
		t.Fatal(err)
	}
	rec, ok := core.Installed.ByKeySlot("app/w", "0")
	if !ok {
		t.Fatal("expected installed record")
	}

	plan, results, err := core.Remove(context.Background(), []pkgrecord.ID{rec.PackageID}, solver.ReverseOptions{})
	if err != nil {
		t.Fatalf("Remove: %v, results=%+v", err, results)
	}
	if len(plan.Matches[0]) != 1 {
		t.Fatalf("plan = %+v", plan.Matches)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results: %+v", results)
	}

	if _, ok := core.Installed.ByKeySlot("app/w", "0"); ok {
		t.Fatal("expected record to be gone after removal")
	}
	if _, err := os.Stat(filepath.Join(liveRoot, "payload.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected payload.txt removed, stat err = %v", err)
	}
}

func TestInstallUnresolvedAtom(t *testing.T) {
	core, _ := setupCore(t, nil)

	if _, err := core.Install(context.Background(), []string{"no/such"}, solver.ForwardOptions{}); err == nil {
		t.Fatal("expected an error resolving an unknown atom")
	}
}

func TestLockContestedReportsErrLocked(t *testing.T) {
	core, _ := setupCore(t, nil)

	if err := core.Lock.TryAcquire(); err != nil {
		t.Fatal(err)
	}
	defer core.Lock.Release()

	_, err := core.Install(context.Background(), []string{"app/w"}, solver.ForwardOptions{})
	if err != lockfile.ErrLocked {
		t.Fatalf("got %v, want lockfile.ErrLocked", err)
	}
}
