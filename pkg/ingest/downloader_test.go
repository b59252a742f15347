package ingest

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedCSV = "business_key,name,creation_date,active\n552032534,DANONE,1908-02-25,1\n111222333,ACME,2001-04-01,1\n"

func feedServer(t *testing.T, body string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestFetchStreamsToScratch(t *testing.T) {
	server, _ := feedServer(t, feedCSV)
	d := NewDownloader(t.TempDir())

	path, err := d.Fetch(context.Background(), server.URL, "entities.csv", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.dir, "entities.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, feedCSV, string(data))
}

func TestFetchReusesFreshFile(t *testing.T) {
	server, hits := feedServer(t, feedCSV)
	d := NewDownloader(t.TempDir())

	_, err := d.Fetch(context.Background(), server.URL, "entities.csv", false)
	require.NoError(t, err)
	_, err = d.Fetch(context.Background(), server.URL, "entities.csv", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load(), "a fresh file must be reused")

	_, err = d.Fetch(context.Background(), server.URL, "entities.csv", true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load(), "force always downloads")
}

func TestFetchRefreshesStaleFile(t *testing.T) {
	server, hits := feedServer(t, feedCSV)
	d := NewDownloader(t.TempDir())

	path := filepath.Join(d.dir, "entities.csv")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))
	stale := time.Now().Add(-25 * time.Hour)
	require.NoError(t, os.Chtimes(path, stale, stale))

	got, err := d.Fetch(context.Background(), server.URL, "entities.csv", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, feedCSV, string(data))
}

func TestFetchRemovesPartialFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write([]byte("partial"))
		panic(http.ErrAbortHandler)
	}))
	t.Cleanup(server.Close)

	d := NewDownloader(t.TempDir())
	_, err := d.Fetch(context.Background(), server.URL, "entities.csv", false)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(d.dir, "entities.csv"))
	assert.True(t, os.IsNotExist(statErr), "partial download must not survive")
}

func TestFetchRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	d := NewDownloader(t.TempDir())
	_, err := d.Fetch(context.Background(), server.URL, "entities.csv", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")

	_, statErr := os.Stat(filepath.Join(d.dir, "entities.csv"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestVerify(t *testing.T) {
	d := NewDownloader(t.TempDir())
	path := filepath.Join(d.dir, "feed.csv")
	require.NoError(t, os.MkdirAll(d.dir, 0o755))
	require.NoError(t, os.WriteFile(path, []byte(feedCSV), 0o644))

	sum := fmt.Sprintf("%x", sha256.Sum256([]byte(feedCSV)))
	require.NoError(t, d.Verify(path, sum))

	_, err := os.Stat(path)
	assert.NoError(t, err, "a verified file stays in place")
}

func TestVerifyMismatchRemovesFile(t *testing.T) {
	d := NewDownloader(t.TempDir())
	path := filepath.Join(d.dir, "feed.csv")
	require.NoError(t, os.MkdirAll(d.dir, 0o755))
	require.NoError(t, os.WriteFile(path, []byte(feedCSV), 0o644))

	err := d.Verify(path, "deadbeef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "a corrupt feed must not be reusable")
}

func writeZip(t *testing.T, dir string, members map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, "feed.zip")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	for name, content := range members {
		member, err := w.Create(name)
		require.NoError(t, err)
		_, err = member.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestUnzipCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, map[string]string{
		"README.txt":             "not the feed",
		"export/StockExport.csv": feedCSV,
	})

	out, err := UnzipCSV(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "StockExport.csv"), out,
		"member paths are flattened into the scratch directory")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, feedCSV, string(data))
}

func TestUnzipCSVNoMember(t *testing.T) {
	path := writeZip(t, t.TempDir(), map[string]string{"README.txt": "nothing here"})

	_, err := UnzipCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CSV member")
}
