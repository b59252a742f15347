package analytic

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/opengreffe/guichet/pkg/metrics"
)

// LoadMeta records where a bulk load came from.
type LoadMeta struct {
	SourceURL string
	ETag      string
	Notes     string
}

type columnRef struct {
	name string
	idx  int
}

// LoadCSV replaces a bulk table with the rows of a CSV file. The load
// is atomic: a staging table is filled in one transaction, then one
// swap transaction retires the live table to <table>_old and renames
// staging into place. On any failure the live table is untouched and
// the staging table is removed.
func (s *Store) LoadCSV(ctx context.Context, csvPath, table string, meta LoadMeta) (int64, error) {
	if !KnownTable(table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var rows int64
	err := s.do(ctx, func() error {
		var err error
		rows, err = s.loadCSV(csvPath, table, meta)
		return err
	})
	return rows, err
}

func (s *Store) loadCSV(csvPath, table string, meta LoadMeta) (int64, error) {
	staging := table + "_staging"

	file, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", csvPath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read csv header: %w", err)
	}

	known := make(map[string]bool, len(tableColumns[table]))
	for _, c := range tableColumns[table] {
		known[c] = true
	}

	var cols []columnRef
	var skipped []string
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if known[name] {
			cols = append(cols, columnRef{name: name, idx: i})
		} else {
			skipped = append(skipped, name)
		}
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("csv for %s shares no columns with its schema", table)
	}
	if len(skipped) > 0 {
		s.logger.Debug().Str("table", table).Strs("columns", skipped).Msg("Skipping unmapped csv columns")
	}

	count, err := s.fillStaging(staging, table, cols, reader)
	if err != nil {
		s.dropStaging(staging)
		return 0, err
	}

	if err := s.swap(table, staging, count, meta); err != nil {
		s.dropStaging(staging)
		return 0, err
	}

	metrics.IngestRowsLoaded.WithLabelValues(table).Set(float64(count))
	s.logger.Info().Str("table", table).Int64("rows", count).Str("source", meta.SourceURL).Msg("Bulk table loaded")
	return count, nil
}

// fillStaging creates <table>_staging and streams the remaining CSV
// rows into it in one transaction.
func (s *Store) fillStaging(staging, table string, cols []columnRef, reader *csv.Reader) (int64, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("failed to begin staging transaction: %w", err)
	}

	if _, err := tx.Exec("DROP TABLE IF EXISTS " + staging); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to reset staging table: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf(tableDDL[table], staging)); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to create staging table: %w", err)
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", staging, strings.Join(names, ", "), placeholders)

	stmt, err := tx.Preparex(insert)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to prepare staging insert: %w", err)
	}
	defer stmt.Close()

	var count int64
	args := make([]interface{}, len(cols))
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to read csv row %d: %w", count+2, err)
		}
		for i, c := range cols {
			if c.idx < len(record) {
				args[i] = record[c.idx]
			} else {
				args[i] = nil
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to insert csv row %d: %w", count+2, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit staging load: %w", err)
	}
	return count, nil
}

// swap retires the live table and renames staging into place, then
// upserts the load metadata, all in one transaction. Indexes are
// dropped before the rename (they would follow the retired table under
// their names) and recreated on the new one.
func (s *Store) swap(table, staging string, count int64, meta LoadMeta) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin swap transaction: %w", err)
	}

	stmts := []string{fmt.Sprintf("DROP TABLE IF EXISTS %s_old", table)}
	stmts = append(stmts, dropIndexDDL(table)...)
	stmts = append(stmts,
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s_old", table, table),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", staging, table),
	)
	stmts = append(stmts, indexDDL(table)...)

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to swap %s into place: %w", table, err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO metadata (table_name, last_update, record_count, source_url, etag, notes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name) DO UPDATE SET
			last_update = excluded.last_update,
			record_count = excluded.record_count,
			source_url = excluded.source_url,
			etag = excluded.etag,
			notes = excluded.notes`,
		table, time.Now().UTC().Format(time.RFC3339), count, meta.SourceURL, meta.ETag, meta.Notes); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record load metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit swap: %w", err)
	}
	return nil
}

func (s *Store) dropStaging(staging string) {
	if _, err := s.db.Exec("DROP TABLE IF EXISTS " + staging); err != nil {
		s.logger.Warn().Err(err).Str("table", staging).Msg("Failed to drop staging table")
	}
}
