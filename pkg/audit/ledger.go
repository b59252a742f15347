package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opengreffe/guichet/pkg/config"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/metrics"
	"github.com/opengreffe/guichet/pkg/types"
)

const (
	defaultBufferSize    = 100
	defaultFlushInterval = 60 * time.Second
	defaultQueryLimit    = 100

	filePrefix = "audit_"
	fileSuffix = ".jsonl"

	// maxEntryLine bounds a single serialized entry when scanning
	// flushed files.
	maxEntryLine = 1 << 20
)

// sensitiveMetadataKeys names metadata fields whose values are
// identifiers that must never reach disk unmasked.
var sensitiveMetadataKeys = map[string]bool{
	"iban":           true,
	"account_number": true,
}

// Filter narrows a Query. Zero-valued fields match everything.
type Filter struct {
	Tool        string
	BusinessKey string
	CallerID    string
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Ledger buffers access records and flushes them to timestamped JSONL
// files. Entries are append-only; nothing edits a flushed file. A
// crash loses at most one buffer of unflushed entries.
type Ledger struct {
	dir           string
	bufferSize    int
	flushInterval time.Duration
	logger        zerolog.Logger

	mu     sync.Mutex
	buffer []types.AuditEntry

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates the audit directory if needed and starts the periodic
// flush loop.
func New(cfg config.AuditConfig) (*Ledger, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "audit"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	interval := time.Duration(cfg.FlushIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	l := &Ledger{
		dir:           dir,
		bufferSize:    bufferSize,
		flushInterval: interval,
		logger:        log.WithComponent("audit"),
		buffer:        make([]types.AuditEntry, 0, bufferSize),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	go l.run()
	l.logger.Info().
		Str("dir", dir).
		Int("buffer_size", bufferSize).
		Dur("flush_interval", interval).
		Msg("Audit ledger started")
	return l, nil
}

func (l *Ledger) run() {
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.Flush(); err != nil {
				l.logger.Error().Err(err).Msg("Periodic audit flush failed")
			}
		case <-l.stopCh:
			close(l.doneCh)
			return
		}
	}
}

// Log records one access. A missing ID gets a fresh UUID and a zero
// timestamp gets the current UTC time; everything else is stored as
// given, except sensitive metadata identifiers which are masked. When
// the buffer reaches capacity it is flushed inline, best effort.
func (l *Ledger) Log(entry types.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.Metadata = maskSensitive(entry.Metadata)

	l.mu.Lock()
	l.buffer = append(l.buffer, entry)
	var flushErr error
	if len(l.buffer) >= l.bufferSize {
		flushErr = l.flushLocked()
	}
	l.mu.Unlock()

	metrics.AuditEntriesTotal.Inc()
	l.logger.Info().
		Str("tool", entry.Tool).
		Str("operation", entry.Operation).
		Str("business_key", entry.BusinessKey).
		Str("caller_id", entry.CallerID).
		Int("status_code", entry.StatusCode).
		Msg("Audit entry recorded")
	if flushErr != nil {
		l.logger.Error().Err(flushErr).Msg("Audit flush failed")
	}
}

// Flush writes all buffered entries to a new timestamped file. On
// failure the buffer is kept so the next flush retries.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *Ledger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	name := filePrefix + time.Now().UTC().Format("20060102_150405") + fileSuffix
	// Append: two flushes within the same second share a file.
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}

	for _, entry := range l.buffer {
		line, err := json.Marshal(entry)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to encode audit entry: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write audit file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close audit file: %w", err)
	}

	count := len(l.buffer)
	l.buffer = l.buffer[:0]
	metrics.AuditFlushesTotal.Inc()
	l.logger.Info().Int("entries", count).Str("file", name).Msg("Audit buffer flushed")
	return nil
}

// Query returns entries matching the filter in the order they were
// written: flushed files first (oldest file onward), then the live
// buffer. Limit defaults to 100. Unreadable lines in flushed files
// are skipped.
func (l *Ledger) Query(filter Filter) ([]types.AuditEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	out := make([]types.AuditEntry, 0, limit)

	names, err := l.flushedFiles()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if len(out) >= limit {
			return out, nil
		}
		if err := l.scanFile(name, filter, limit, &out); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.buffer {
		if len(out) >= limit {
			break
		}
		if matches(entry, filter) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// flushedFiles lists audit files sorted by name, which is
// chronological because names carry the flush timestamp.
func (l *Ledger) flushedFiles() ([]string, error) {
	dirents, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit directory: %w", err)
	}
	var names []string
	for _, dirent := range dirents {
		name := dirent.Name()
		if dirent.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (l *Ledger) scanFile(name string, filter Filter, limit int, out *[]types.AuditEntry) error {
	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		return fmt.Errorf("failed to open audit file %s: %w", name, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEntryLine)
	for scanner.Scan() {
		if len(*out) >= limit {
			return nil
		}
		var entry types.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			l.logger.Warn().Str("file", name).Err(err).Msg("Skipping unreadable audit line")
			continue
		}
		if matches(entry, filter) {
			*out = append(*out, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read audit file %s: %w", name, err)
	}
	return nil
}

// Close stops the flush loop and writes out whatever remains.
func (l *Ledger) Close() error {
	close(l.stopCh)
	<-l.doneCh
	return l.Flush()
}

func matches(entry types.AuditEntry, f Filter) bool {
	if f.Tool != "" && entry.Tool != f.Tool {
		return false
	}
	if f.BusinessKey != "" && entry.BusinessKey != f.BusinessKey {
		return false
	}
	if f.CallerID != "" && entry.CallerID != f.CallerID {
		return false
	}
	if !f.Since.IsZero() && entry.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && entry.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// MaskID hides the middle of an identifier, keeping the first and
// last four characters. Identifiers of eight characters or fewer are
// fully masked; an empty value stays empty.
func MaskID(id string) string {
	if id == "" {
		return ""
	}
	if len(id) <= 8 {
		return "****"
	}
	return id[:4] + "****" + id[len(id)-4:]
}

// maskSensitive returns metadata with sensitive identifier values
// masked. The input map is never mutated; a copy is made only when a
// sensitive key is present.
func maskSensitive(metadata map[string]string) map[string]string {
	for key := range metadata {
		if !sensitiveMetadataKeys[key] {
			continue
		}
		masked := make(map[string]string, len(metadata))
		for k, v := range metadata {
			if sensitiveMetadataKeys[k] {
				v = MaskID(v)
			}
			masked[k] = v
		}
		return masked
	}
	return metadata
}
