package ingest

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengreffe/guichet/pkg/log"
)

const (
	// copyBufferSize is the chunk size for streamed file copies.
	copyBufferSize = 8 * 1024

	// freshWindow is how long a downloaded feed file is reused
	// before it is fetched again.
	freshWindow = 24 * time.Hour

	downloadTimeout = 5 * time.Minute
)

// Downloader fetches bulk feed files into the scratch directory. Feeds
// are multi-megabyte open-data exports, not provider API calls, so the
// downloader keeps its own plain HTTP client instead of going through
// the rate-limited caller.
type Downloader struct {
	dir    string
	client *http.Client
	logger zerolog.Logger
}

// NewDownloader creates a downloader writing into dir.
func NewDownloader(dir string) *Downloader {
	return &Downloader{
		dir:    dir,
		client: &http.Client{Timeout: downloadTimeout},
		logger: log.WithComponent("ingest"),
	}
}

// Fetch streams the feed at sourceURL into <dir>/<filename> and
// returns the local path. A file younger than the fresh window is
// reused without a request unless force is set. A partial file left by
// a failed download is removed.
func (d *Downloader) Fetch(ctx context.Context, sourceURL, filename string, force bool) (string, error) {
	path := filepath.Join(d.dir, filename)

	if !force {
		if info, err := os.Stat(path); err == nil && time.Since(info.ModTime()) < freshWindow {
			d.logger.Info().
				Str("file", path).
				Dur("age", time.Since(info.ModTime())).
				Msg("Using cached feed file")
			return path, nil
		}
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build feed request: %w", err)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download feed: status %d from %s", resp.StatusCode, sourceURL)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create feed file: %w", err)
	}
	written, err := io.CopyBuffer(f, resp.Body, make([]byte, copyBufferSize))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write feed file: %w", err)
	}

	d.logger.Info().
		Str("file", path).
		Int64("bytes", written).
		Dur("took", time.Since(start)).
		Msg("Feed downloaded")
	return path, nil
}

// Verify checks the file against an expected SHA-256 hex digest. On a
// mismatch the file is removed so the next run cannot reuse it.
func (d *Downloader) Verify(path, expectedSHA256 string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open feed file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, copyBufferSize)); err != nil {
		return fmt.Errorf("failed to hash feed file: %w", err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, expectedSHA256) {
		_ = os.Remove(path)
		return fmt.Errorf("feed checksum mismatch: expected %s, got %s", expectedSHA256, actual)
	}
	return nil
}

// UnzipCSV extracts the first CSV member of a zip archive into the
// archive's directory and returns the extracted path. Member names are
// flattened to their base name.
func UnzipCSV(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open feed archive: %w", err)
	}
	defer r.Close()

	for _, member := range r.File {
		if member.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(member.Name), ".csv") {
			continue
		}

		src, err := member.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open archive member %s: %w", member.Name, err)
		}

		out := filepath.Join(filepath.Dir(path), filepath.Base(member.Name))
		dst, err := os.Create(out)
		if err != nil {
			_ = src.Close()
			return "", fmt.Errorf("failed to create extracted file: %w", err)
		}
		_, err = io.CopyBuffer(dst, src, make([]byte, copyBufferSize))
		_ = src.Close()
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(out)
			return "", fmt.Errorf("failed to extract archive member %s: %w", member.Name, err)
		}
		return out, nil
	}
	return "", fmt.Errorf("no CSV member in archive %s", filepath.Base(path))
}
