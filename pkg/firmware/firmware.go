// Package firmware resolves the latest Biscuit firmware images: it fetches
// the published manifest, downloads the merged images, and caches them
// locally so repeat sessions stay offline-friendly.
package firmware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultManifestURL publishes the production firmware manifest.
	DefaultManifestURL = "https://firmware.biscuitshop.us/Biscuit_V1/Prod/manifest.json"
	// DefaultBaseURL is where the manifest's filenames are hosted.
	DefaultBaseURL = "https://firmware.biscuitshop.us/Biscuit_V1/Prod/"

	userAgent = "BiscuitFlashUtility/1.0"

	manifestTimeout = 30 * time.Second
	downloadTimeout = 60 * time.Second
	manifestRetries = 3
)

// ErrImageUnavailable means the manifest does not publish a merged image for
// a device type. No flash attempt can proceed without one.
var ErrImageUnavailable = errors.New("firmware: merged image not available in manifest")

// ManifestEntry describes one device type's published firmware.
type ManifestEntry struct {
	Version        string `json:"version"`
	MergedFilename string `json:"mergedFilename"`
}

// Manifest is the published firmware index.
type Manifest struct {
	C5    ManifestEntry `json:"c5"`
	Wroom ManifestEntry `json:"wroom"`
}

// Images holds the resolved local image paths and their versions.
type Images struct {
	C5Path       string
	WroomPath    string
	C5Version    string
	WroomVersion string
}

// Provider downloads and caches firmware by manifest.
type Provider struct {
	ManifestURL string
	BaseURL     string
	CacheDir    string
	Force       bool

	client *http.Client
}

// DefaultCacheDir returns the shared firmware cache location.
func DefaultCacheDir() string {
	return filepath.Join(os.TempDir(), "biscuit_firmware")
}

// NewProvider builds a Provider with production defaults. Empty arguments
// keep the defaults; force bypasses the cache.
func NewProvider(manifestURL, baseURL, cacheDir string, force bool) *Provider {
	p := &Provider{
		ManifestURL: manifestURL,
		BaseURL:     baseURL,
		CacheDir:    cacheDir,
		Force:       force,
		client:      &http.Client{},
	}
	if p.ManifestURL == "" {
		p.ManifestURL = DefaultManifestURL
	}
	if p.BaseURL == "" {
		p.BaseURL = DefaultBaseURL
	}
	if p.CacheDir == "" {
		p.CacheDir = DefaultCacheDir()
	}
	return p
}

// FetchManifest downloads the manifest with retries and exponential backoff.
func (p *Provider) FetchManifest(ctx context.Context) (*Manifest, error) {
	var lastErr error
	for attempt := 0; attempt < manifestRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<(attempt-1)) * time.Second
			log.Info().Dur("wait", wait).Err(lastErr).Msg("retrying manifest fetch")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		manifest, err := p.fetchManifestOnce(ctx)
		if err == nil {
			return manifest, nil
		}
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, "firmware: fetch manifest failed")
}

func (p *Provider) fetchManifestOnce(ctx context.Context) (*Manifest, error) {
	reqCtx, cancel := context.WithTimeout(ctx, manifestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.ManifestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("manifest request returned %s", resp.Status)
	}

	var manifest Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, errors.Wrap(err, "decode manifest")
	}
	return &manifest, nil
}

// ResolveImages fetches the manifest and downloads both merged images,
// returning their local paths. A missing merged filename for either device
// type yields ErrImageUnavailable: that is a fatal session precondition.
// The two downloads run concurrently; flashing itself stays serialized.
func (p *Provider) ResolveImages(ctx context.Context) (*Images, error) {
	manifest, err := p.FetchManifest(ctx)
	if err != nil {
		return nil, err
	}
	if manifest.C5.MergedFilename == "" {
		return nil, errors.Wrap(ErrImageUnavailable, "c5")
	}
	if manifest.Wroom.MergedFilename == "" {
		return nil, errors.Wrap(ErrImageUnavailable, "wroom")
	}
	log.Info().
		Str("c5_version", manifest.C5.Version).
		Str("wroom_version", manifest.Wroom.Version).
		Msg("firmware manifest resolved")

	images := &Images{
		C5Version:    manifest.C5.Version,
		WroomVersion: manifest.Wroom.Version,
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		path, err := p.Download(groupCtx, manifest.C5.MergedFilename)
		images.C5Path = path
		return err
	})
	group.Go(func() error {
		path, err := p.Download(groupCtx, manifest.Wroom.MergedFilename)
		images.WroomPath = path
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

// Download fetches filename into the cache, reusing a cached copy unless
// Force is set. Returns the local path.
func (p *Provider) Download(ctx context.Context, filename string) (string, error) {
	cachePath := filepath.Join(p.CacheDir, filename)
	if !p.Force {
		if info, err := os.Stat(cachePath); err == nil && !info.IsDir() {
			log.Info().Str("file", filename).Msg("firmware cached")
			return cachePath, nil
		}
	}
	if err := os.MkdirAll(p.CacheDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "firmware: create cache dir %s failed", p.CacheDir)
	}

	reqCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.BaseURL+filename, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	log.Info().Str("file", filename).Msg("downloading firmware")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "firmware: download %s failed", filename)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("firmware: download %s returned %s", filename, resp.Status)
	}

	// Write to a temp file first so a truncated download never poisons the cache.
	tmp, err := os.CreateTemp(p.CacheDir, filename+".part-*")
	if err != nil {
		return "", errors.Wrap(err, "firmware: create temp file failed")
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", errors.Wrapf(err, "firmware: write %s failed", filename)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Wrapf(err, "firmware: close %s failed", filename)
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Wrapf(err, "firmware: finalize %s failed", filename)
	}
	return cachePath, nil
}

// Clean removes the firmware cache directory.
func (p *Provider) Clean() error {
	if p.CacheDir == "" {
		return nil
	}
	return errors.Wrapf(os.RemoveAll(p.CacheDir), "firmware: remove cache %s failed", p.CacheDir)
}
