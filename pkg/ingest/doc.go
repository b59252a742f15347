/*
Package ingest keeps the bulk reference tables loaded: it downloads the
open-data feeds on cron schedules, verifies and reshapes them, swaps
them into the analytic store and announces each swap on the event bus.

# Architecture

A single scheduling loop wakes every minute and dispatches due jobs;
each run walks the same pipeline whether the trigger was the schedule,
a manual RunJob or ForceUpdateAll:

	Scheduler loop (tick = 1m)
	   |
	   |  due?  per-job running guard, cron next-fire
	   v
	+-----------+   +---------+   +-----------+   +----------------+
	| Downloader|-->| Verify  |-->| Transform |-->| store.LoadCSV  |
	| (scratch) |   | SHA-256 |   | (optional)|   | atomic replace |
	+-----------+   +---------+   +-----------+   +----------------+
	                                                      |
	                                   broker.Publish(table.loaded)

Downloads stream in 8 KiB chunks into the scratch directory. A feed
file younger than 24 hours is reused without a request unless the run
is forced; a partial file from a failed download is removed so it can
never be mistaken for a complete feed.

# Core Components

Job: one dataset feed with a name, a standard five-field cron
expression, the source URL, the target bulk table, an optional
Transform and an optional pinned SHA-256. The built-in jobs cover the
company stock (monthly), the announcement stream (daily) and the
procurement feed (weekly).

Scheduler: registers jobs, runs the loop, and serves manual triggers.
Each job carries a running guard, so a run that is still downloading
when its next fire comes due is skipped rather than doubled. The next
fire time is recomputed after every run.

Downloader: the streaming fetch plus SHA-256 verification. A checksum
mismatch removes the file and fails the run; the live table keeps the
previous load.

Transform: a hook between download and load. UnzipCSV extracts the
first CSV member of a zipped export, which the company stock feed
needs.

# Usage

	scheduler, err := ingest.New(cfg.Ingest, store, broker)
	if err != nil {
	    return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Admin trigger, bypassing the fresh-file window.
	result, err := scheduler.RunJob(ctx, "entities_stock", true)

	for _, status := range scheduler.Jobs() {
	    fmt.Println(status.Name, status.NextRun)
	}

# Integration Points

  - pkg/analytic performs the atomic table replace; a failed load
    keeps the previous snapshot live.
  - pkg/events carries table.loaded and ingest.failed notifications.
  - pkg/cache watches table.loaded and flushes the cache namespaces
    derived from the reloaded table.
  - pkg/gateway fronts RunJob and Jobs through the update_static_data
    and get_pipeline_status tools.
  - pkg/metrics counts guichet_ingest_runs_total per job and outcome
    and gauges guichet_ingest_rows_loaded per table.

# Troubleshooting

Job stuck on "already running": a previous run is still downloading.
The guard clears when the run finishes or its download times out
(5 minutes).

Checksum mismatch on every run: the publisher rotated the feed. Update
or drop the job's ExpectedSHA256; until then the run fails closed and
the previous table stays live.

Nothing loads after a successful download: check the feed's header
row. The loader matches CSV columns against the table's declared
columns and fails when none overlap.

Stale search results after a load: the cache manager must be watching
the same broker the scheduler publishes on.

# See Also

  - pkg/analytic for the staging-swap load semantics
  - pkg/events for subscriber fan-out
  - pkg/cache for the table-to-namespace flush mapping
*/
package ingest
