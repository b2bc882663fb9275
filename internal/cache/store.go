// Package cache is the content cache for downloaded filing artifacts.
// Presence on disk is authoritative: a derived filename is fetched at most
// once across runs, with no staleness or ETag checks.
package cache

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Store downloads source artifacts into a flat directory keyed by derived
// filename.
type Store struct {
	dir       string
	client    *http.Client
	userAgent string
	log       *zap.Logger
}

// New creates a cache store rooted at dir, creating it if needed.
func New(dir string, timeout time.Duration, userAgent string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{
		dir:       dir,
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		log:       log,
	}, nil
}

// Dir returns the cache root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Filename derives the cache filename for a URL: the last path segment, or
// a stable hash-based fallback when the URL yields no usable name.
func Filename(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return fmt.Sprintf("file_%x.xbrl", sha1.Sum([]byte(rawURL)))
}

// Fetch returns the local path for rawURL, downloading it on a cache miss.
// The download streams to a temporary file and renames into place only on
// full success, so an aborted transfer never leaves a readable file that a
// later run would mistake for a complete artifact.
func (s *Store) Fetch(ctx context.Context, rawURL string) (string, error) {
	dst := filepath.Join(s.dir, Filename(rawURL))
	if _, err := os.Stat(dst); err == nil {
		s.log.Debug("cache hit", zap.String("url", rawURL), zap.String("path", dst))
		return dst, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: unexpected status %s", rawURL, resp.Status)
	}

	if err := writeAtomic(dst, resp.Body); err != nil {
		return "", fmt.Errorf("store %s: %w", rawURL, err)
	}
	s.log.Info("artifact downloaded", zap.String("url", rawURL), zap.String("path", dst))
	return dst, nil
}

// writeAtomic streams r into path via a temp file sibling. Any failure
// removes the temp file; the destination only ever appears complete.
func writeAtomic(path string, r io.Reader) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
