package cache

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), 5*time.Second, "carbontrace-test/1.0", nil)
	require.NoError(t, err)
	return s
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "filing.zip", Filename("https://example.org/reports/filing.zip"))
	assert.Equal(t, "report.xhtml", Filename("https://example.org/report.xhtml?download=1"))

	// No usable path segment: stable hash fallback, same name every call.
	fb := Filename("https://example.org/")
	assert.True(t, strings.HasPrefix(fb, "file_"))
	assert.True(t, strings.HasSuffix(fb, ".xbrl"))
	assert.Equal(t, fb, Filename("https://example.org/"))
	assert.NotEqual(t, fb, Filename("https://other.example.org/"))
}

func TestStore_FetchIdempotent(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, "artifact-bytes")
	}))
	defer srv.Close()

	s := newStore(t)
	url := srv.URL + "/filing.zip"

	first, err := s.Fetch(context.Background(), url)
	require.NoError(t, err)
	second, err := s.Fetch(context.Background(), url)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second fetch must not touch the network")

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "artifact-bytes", string(data))
}

func TestStore_FetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	s := newStore(t)
	_, err := s.Fetch(context.Background(), srv.URL+"/missing.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	// A failed fetch must leave nothing readable behind.
	assert.NoFileExists(t, filepath.Join(s.Dir(), "missing.zip"))
	assert.NoFileExists(t, filepath.Join(s.Dir(), "missing.zip.tmp"))
}

func TestStore_FetchAbortedTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.Write([]byte("partial"))
		// Hijack and drop the connection mid-body.
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, _ := hj.Hijack()
			conn.Close()
		}
	}))
	defer srv.Close()

	s := newStore(t)
	_, err := s.Fetch(context.Background(), srv.URL+"/big.zip")
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(s.Dir(), "big.zip"))
	assert.NoFileExists(t, filepath.Join(s.Dir(), "big.zip.tmp"))
}

func TestStore_FetchConnectionRefused(t *testing.T) {
	s := newStore(t)
	_, err := s.Fetch(context.Background(), "http://127.0.0.1:1/filing.zip")
	require.Error(t, err)
}

func TestStore_PreSeededCacheSkipsNetwork(t *testing.T) {
	s := newStore(t)
	seeded := filepath.Join(s.Dir(), "filing.zip")
	require.NoError(t, os.WriteFile(seeded, []byte("seeded"), 0644))

	// Unresolvable host: success proves the disk copy was authoritative.
	got, err := s.Fetch(context.Background(), "http://no-such-host.invalid/filing.zip")
	require.NoError(t, err)
	assert.Equal(t, seeded, got)
}
