package cache

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestStoreExtractAndPath(t *testing.T) {
	store := newTestStore(t)
	hash := "a1b2c3d4"

	tarball := makeTar(t, map[string]string{
		"etc/portage/make.conf":        "USE=\"minimal\"\n",
		"etc/portage/package.use/main": "dev-lang/go pie\n",
	})

	if err := store.Extract(hash, bytes.NewReader(tarball)); err != nil {
		t.Fatalf("extract error: %v", err)
	}

	if !store.Has(hash) {
		t.Fatal("expected Has to report extracted tree")
	}

	path, err := store.Path(hash)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(path, "etc", "portage", "make.conf"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(data) != "USE=\"minimal\"\n" {
		t.Fatalf("extracted content mismatch: %q", string(data))
	}
}

func TestStoreExtractGzip(t *testing.T) {
	store := newTestStore(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(makeTar(t, map[string]string{"make.conf": "FEATURES=\"buildpkg\"\n"})); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	if err := store.Extract("gzipped", &buf); err != nil {
		t.Fatalf("extract gzip error: %v", err)
	}
	if !store.Has("gzipped") {
		t.Fatal("gzip tree missing after extract")
	}
}

func TestStoreExtractIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	hash := "repeat"

	if err := store.Extract(hash, bytes.NewReader(makeTar(t, map[string]string{"a": "1"}))); err != nil {
		t.Fatalf("first extract: %v", err)
	}
	// 第二次提交同一 hash：内容不同也不覆盖，先到者为准。
	if err := store.Extract(hash, bytes.NewReader(makeTar(t, map[string]string{"b": "2"}))); err != nil {
		t.Fatalf("second extract: %v", err)
	}

	path, err := store.Path(hash)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "a")); err != nil {
		t.Fatalf("original tree should survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "b")); err == nil {
		t.Fatal("second payload should not overwrite existing tree")
	}
}

func TestStorePathMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Path("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRejectsBadHashes(t *testing.T) {
	store := newTestStore(t)
	for _, hash := range []string{"", "..", ".hidden", "a/b", `a\b`} {
		if err := store.Extract(hash, bytes.NewReader(nil)); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("hash %q should be rejected, got %v", hash, err)
		}
	}
}

func TestStoreRejectsEscapingTarEntries(t *testing.T) {
	store := newTestStore(t)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := []byte("owned")
	if err := tw.WriteHeader(&tar.Header{Name: "../../escape", Mode: 0o644, Size: int64(len(content))}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("write body: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}

	// filepath.Clean 把 ../ 前缀折叠回根，条目落在树内而非树外。
	if err := store.Extract("escape", &buf); err != nil {
		t.Fatalf("extract error: %v", err)
	}
	path, err := store.Path("escape")
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "escape")); err != nil {
		t.Fatalf("entry should be confined to tree: %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)
	if err := store.Extract("gone", bytes.NewReader(makeTar(t, map[string]string{"x": "y"}))); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if err := store.Remove("gone"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if store.Has("gone") {
		t.Fatal("tree should be gone after Remove")
	}
}

// makeTar builds an in-memory tar archive from path→content pairs.
func makeTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		header := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("write header %s: %v", name, err)
		}
		if _, err := io.WriteString(tw, content); err != nil {
			t.Fatalf("write body %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	return buf.Bytes()
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
