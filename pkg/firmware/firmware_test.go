package firmware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func newTestServer(t *testing.T, manifest string, files map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(manifest))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(r.URL.Path)
		body, ok := files[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestResolveImagesDownloadsBoth(t *testing.T) {
	manifest := `{
		"c5": {"version": "1.2.0", "mergedFilename": "c5_merged.bin"},
		"wroom": {"version": "2.0.1", "mergedFilename": "wroom_merged.bin"}
	}`
	server := newTestServer(t, manifest, map[string]string{
		"c5_merged.bin":    "c5-image",
		"wroom_merged.bin": "wroom-image",
	})

	cacheDir := t.TempDir()
	p := NewProvider(server.URL+"/manifest.json", server.URL+"/", cacheDir, false)

	images, err := p.ResolveImages(context.Background())
	if err != nil {
		t.Fatalf("resolve images failed: %v", err)
	}
	if images.C5Version != "1.2.0" || images.WroomVersion != "2.0.1" {
		t.Fatalf("versions = %s / %s", images.C5Version, images.WroomVersion)
	}
	for path, want := range map[string]string{images.C5Path: "c5-image", images.WroomPath: "wroom-image"} {
		body, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s failed: %v", path, err)
		}
		if string(body) != want {
			t.Fatalf("content of %s = %q, want %q", path, body, want)
		}
	}
}

func TestResolveImagesMissingMergedFilename(t *testing.T) {
	manifest := `{
		"c5": {"version": "1.2.0"},
		"wroom": {"version": "2.0.1", "mergedFilename": "wroom_merged.bin"}
	}`
	server := newTestServer(t, manifest, nil)
	p := NewProvider(server.URL+"/manifest.json", server.URL+"/", t.TempDir(), false)

	_, err := p.ResolveImages(context.Background())
	if !errors.Is(err, ErrImageUnavailable) {
		t.Fatalf("err = %v, want ErrImageUnavailable", err)
	}
}

func TestDownloadUsesCache(t *testing.T) {
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/fw.bin", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("image"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewProvider("", server.URL+"/", t.TempDir(), false)
	if _, err := p.Download(context.Background(), "fw.bin"); err != nil {
		t.Fatalf("first download failed: %v", err)
	}
	if _, err := p.Download(context.Background(), "fw.bin"); err != nil {
		t.Fatalf("second download failed: %v", err)
	}
	if hits != 1 {
		t.Fatalf("server hits = %d, want 1 (second download should be cached)", hits)
	}
}

func TestDownloadForceBypassesCache(t *testing.T) {
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/fw.bin", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("image"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewProvider("", server.URL+"/", t.TempDir(), true)
	for i := 0; i < 2; i++ {
		if _, err := p.Download(context.Background(), "fw.bin"); err != nil {
			t.Fatalf("download %d failed: %v", i, err)
		}
	}
	if hits != 2 {
		t.Fatalf("server hits = %d, want 2 with force", hits)
	}
}

func TestFetchManifestRetriesOnFailure(t *testing.T) {
	attempts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "try later", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"c5":{"version":"1.0"},"wroom":{"version":"1.0"}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewProvider(server.URL+"/manifest.json", server.URL+"/", t.TempDir(), false)
	manifest, err := p.FetchManifest(context.Background())
	if err != nil {
		t.Fatalf("fetch manifest failed after retries: %v", err)
	}
	if manifest.C5.Version != "1.0" {
		t.Fatalf("manifest = %+v", manifest)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestCleanRemovesCacheDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "fw.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewProvider("", "", dir, false)
	if err := p.Clean(); err != nil {
		t.Fatalf("clean failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("cache dir should be gone, stat err = %v", err)
	}
}
