package analytic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/opengreffe/guichet/pkg/log"
)

// ErrClosed is returned for operations against a stopped store.
var ErrClosed = errors.New("analytic store is closed")

// Store wraps the embedded SQL engine holding the bulk reference
// tables. The engine is single-threaded, so every operation runs on
// one worker goroutine; callers block until their turn completes.
type Store struct {
	db        *sqlx.DB
	reqCh     chan func()
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

// Open opens (creating if needed) the store at path and starts its
// worker. The schema is applied idempotently.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open analytic store: %w", err)
	}
	// One connection: the worker is the only writer and reader.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open analytic store: %w", err)
	}

	s := &Store{
		db:     db,
		reqCh:  make(chan func()),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: log.WithComponent("analytic"),
	}

	if err := s.applySchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	go s.worker()
	s.logger.Info().Str("path", path).Msg("Analytic store opened")
	return s, nil
}

func (s *Store) applySchema() error {
	for table, ddl := range tableDDL {
		if _, err := s.db.Exec(fmt.Sprintf(ddl, table)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
		for _, stmt := range indexDDL(table) {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("failed to create index on %s: %w", table, err)
			}
		}
	}
	if _, err := s.db.Exec(metadataDDL); err != nil {
		return fmt.Errorf("failed to create metadata table: %w", err)
	}
	return nil
}

func (s *Store) worker() {
	for {
		select {
		case fn := <-s.reqCh:
			fn()
		case <-s.stopCh:
			close(s.doneCh)
			return
		}
	}
}

// do runs fn on the worker and waits for it. The context only bounds
// the wait; a submitted fn runs to completion either way so partially
// applied transactions never leak.
func (s *Store) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case s.reqCh <- func() { errCh <- fn() }:
	case <-s.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker and closes the underlying engine. Calling
// Close more than once is safe; later calls return nil.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		err = s.db.Close()
	})
	return err
}

// Execute runs a read query and returns generic rows. Callers own the
// SQL; the store only serializes access.
func (s *Store) Execute(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	err := s.do(ctx, func() error {
		rows, err := s.db.QueryxContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			row := map[string]interface{}{}
			if err := rows.MapScan(row); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	return out, err
}

// CountRows returns the row count of a bulk table.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	if !KnownTable(table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var count int64
	err := s.do(ctx, func() error {
		return s.db.GetContext(ctx, &count, fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
	})
	return count, err
}

// TableMeta describes one bulk table's last successful load.
type TableMeta struct {
	TableName   string    `db:"table_name" json:"table_name"`
	LastUpdate  time.Time `db:"last_update" json:"last_update"`
	RecordCount int64     `db:"record_count" json:"record_count"`
	SourceURL   string    `db:"source_url" json:"source_url"`
	ETag        string    `db:"etag" json:"etag,omitempty"`
	Notes       string    `db:"notes" json:"notes,omitempty"`
}

// Metadata returns the load metadata for every bulk table that has
// been loaded at least once.
func (s *Store) Metadata(ctx context.Context) ([]TableMeta, error) {
	var out []TableMeta
	err := s.do(ctx, func() error {
		rows, err := s.db.QueryxContext(ctx,
			"SELECT table_name, last_update, record_count, source_url, COALESCE(etag,'') AS etag, COALESCE(notes,'') AS notes FROM metadata ORDER BY table_name")
		if err != nil {
			return fmt.Errorf("failed to read metadata: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var meta TableMeta
			var lastUpdate string
			if err := rows.Scan(&meta.TableName, &lastUpdate, &meta.RecordCount, &meta.SourceURL, &meta.ETag, &meta.Notes); err != nil {
				return fmt.Errorf("failed to scan metadata: %w", err)
			}
			if ts, err := time.Parse(time.RFC3339, lastUpdate); err == nil {
				meta.LastUpdate = ts
			}
			out = append(out, meta)
		}
		return rows.Err()
	})
	return out, err
}

// EntityByKey reads one row from the entities table by business key.
func (s *Store) EntityByKey(ctx context.Context, businessKey string) (map[string]interface{}, bool, error) {
	rows, err := s.Execute(ctx, "SELECT * FROM entities WHERE business_key = ?", businessKey)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// SearchEntities matches bulk entities by name substring, newest
// first, capped at limit.
func (s *Store) SearchEntities(ctx context.Context, query string, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 {
		limit = 25
	}
	return s.Execute(ctx,
		"SELECT * FROM entities WHERE name LIKE ? ORDER BY creation_date DESC LIMIT ?",
		"%"+query+"%", limit)
}

// RecentEventCount counts bulk events bound to a business key within
// the trailing window of whole months.
func (s *Store) RecentEventCount(ctx context.Context, businessKey string, months int) (int64, error) {
	var count int64
	err := s.do(ctx, func() error {
		return s.db.GetContext(ctx, &count,
			"SELECT COUNT(*) FROM events WHERE business_key = ? AND publication_date >= datetime('now', printf('-%d months', ?))",
			businessKey, months)
	})
	return count, err
}
