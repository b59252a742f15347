/*
Package analytic owns the embedded analytical store: the bulk reference
tables that back offline lookups, timeline enrichment and static
search. Tables are replaced wholesale by the ingestion pipeline and
only ever read by the gateway, so the store is tuned for full reloads
and simple scans rather than row-level churn.

# Architecture

The engine is an embedded SQLite database opened through sqlx with a
single connection. Every operation, reads included, is funneled
through one worker goroutine so concurrent tool calls and a running
bulk load never interleave on the engine:

	callers (gateway tools, ingest jobs)
	   |
	   |  do(ctx, fn)          one fn at a time
	   v
	+--------------------+     +---------------------------+
	| worker goroutine   |---->| SQLite (analytic.db)      |
	| reqCh chan func()  |     |  entities                 |
	+--------------------+     |  events                   |
	                           |  contracts                |
	                           |  metadata                 |
	                           +---------------------------+

The context passed to do only bounds the caller's wait. A submitted fn
always runs to completion so a bulk load is never abandoned halfway
with its transactions open.

# Core Components

Store: the handle returned by Open. Open applies the schema
idempotently, pins the pool to one connection and starts the worker.
Close stops the worker and releases the engine.

Bulk tables: entities (the company stock), events (legal announcement
stream) and contracts (public procurement feed). tableColumns declares
each table's columns; CSV headers are matched against these names,
case-insensitively, and unmapped feed columns are skipped.

LoadCSV: the atomic replace. A load never mutates the live table:

	1. fill <table>_staging from the file in one transaction
	2. in one swap transaction:
	     DROP TABLE IF EXISTS <table>_old
	     drop the live table's indexes
	     ALTER TABLE <table>        RENAME TO <table>_old
	     ALTER TABLE <table>_staging RENAME TO <table>
	     recreate the indexes on the new table
	     upsert {table, now, row_count, source} into metadata
	3. on any failure, roll back and drop <table>_staging

Readers therefore always see either the previous complete load or the
new complete load. Indexes must be dropped before the rename because
SQLite indexes follow their table: the retired <table>_old would
otherwise keep the index names and the recreate would collide.

Query helpers: Execute runs caller-owned SQL and returns generic rows,
CountRows and Metadata report table state, EntityByKey and
SearchEntities serve static lookups, RecentEventCount feeds the
financial health signal with a trailing month window.

# Usage

	store, err := analytic.Open("/var/lib/guichet/analytic.db")
	if err != nil {
	    return err
	}
	defer store.Close()

	rows, err := store.LoadCSV(ctx, "/tmp/entities.csv", analytic.TableEntities, analytic.LoadMeta{
	    SourceURL: "https://files.example/entities_utf8.csv",
	})
	if err != nil {
	    return fmt.Errorf("failed to load entities: %w", err)
	}

	hit, found, err := store.EntityByKey(ctx, "552100554")

# Integration Points

  - pkg/ingest downloads and verifies feed files, then calls LoadCSV
    and publishes a table.loaded event on success.
  - pkg/cache subscribes to those events and flushes the namespaces
    derived from the reloaded table.
  - pkg/fusion falls back to EntityByKey and SearchEntities when the
    live registries are unavailable, and merges bulk rows at the
    lowest precedence.
  - pkg/gateway exposes Metadata through the pipeline status tool.
  - pkg/metrics gauges guichet_ingest_rows_loaded per table after each
    successful load.

# Troubleshooting

Load fails but queries still work: expected. The staging table is
dropped on failure and the live table is the previous load. Check the
ingest logs for the row number in the error.

"unknown table" errors: table names are interpolated into DDL, so only
the declared bulk tables are accepted. Feeds cannot introduce tables.

Database locked errors: the store owns its database file exclusively.
Run one gateway process per analytic.db path.

Empty results right after boot: tables exist but hold no rows until
the first ingestion run. Check the pipeline status tool for
last_update per table.

# See Also

  - pkg/ingest for scheduling, download and verification of the feeds
  - pkg/events for the table.loaded notification fan-out
  - pkg/fusion for how bulk rows rank against live registry data
*/
package analytic
