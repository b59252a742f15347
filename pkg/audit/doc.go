/*
Package audit records who accessed what. Every tool call appends one
entry describing the caller, the entity touched and the outcome, so
access to registry data about identifiable people can be reconstructed
after the fact. Entries are append-only: once written they are never
edited or deleted by this package.

# Architecture

The ledger buffers entries in memory and flushes the buffer to a new
timestamped JSONL file, either when the buffer reaches capacity or on
a fixed timer, whichever comes first:

	Log(entry)
	   |
	   v
	+----------------------+   >=100 entries, 60s tick,
	| in-memory buffer     |   or Close
	+----------------------+
	   |
	   v  flush
	audit_20250501_100302.jsonl   (one JSON object per line)
	audit_20250501_110154.jsonl
	...

Filenames carry the UTC flush time, so lexical file order is
chronological order. Two flushes inside the same second append to the
same file. A flush failure keeps the buffer so the next tick retries;
a crash loses at most one buffer of unflushed entries.

# Core Components

Ledger: the buffering writer. New creates the audit directory and
starts the flush loop; Close stops the loop and flushes what remains.
Log never returns an error: recording must not fail the tool call it
describes.

Log fills in what the caller omitted. A missing ID becomes a fresh
UUID and a zero timestamp becomes the current UTC time. Metadata
values stored under sensitive keys (iban, account_number) are masked
with MaskID before they reach the buffer: the first and last four
characters survive, anything of eight characters or fewer becomes
****.

Query: scans flushed files oldest-first, then the live buffer, and
returns entries matching the filter in write order. Filters combine
with AND: tool, business key, caller, an inclusive since/until window
and a result limit (default 100). Lines that no longer parse are
skipped rather than failing the whole query.

# Usage

	ledger, err := audit.New(cfg.Audit)
	if err != nil {
	    return err
	}
	defer ledger.Close()

	ledger.Log(types.AuditEntry{
	    Tool:        "get_entity_profile",
	    Operation:   "read",
	    BusinessKey: "552032534",
	    CallerID:    callerID,
	    StatusCode:  200,
	})

	recent, err := ledger.Query(audit.Filter{
	    BusinessKey: "552032534",
	    Since:       time.Now().AddDate(0, -1, 0),
	})

# Integration Points

  - pkg/fusion appends an entry after every profile or search request
    it serves, including cache hits.
  - pkg/gateway appends entries for document downloads and exposes the
    query path for compliance lookups.
  - pkg/metrics counts entries and flushes.

# Troubleshooting

Missing entries: the buffer flushes at capacity or on the timer, so
the most recent entries live in memory until then. Query covers the
live buffer, but an unclean shutdown drops it. If files stop
appearing entirely, check directory permissions; flush errors are
logged under component=audit and retried on the next tick.

Clock changes: filenames and timestamps are UTC. A host timezone
change never reorders files.

# See Also

  - pkg/fusion for where profile and search accesses are recorded.
  - pkg/privacy for what gets redacted before a response leaves the
    gateway; the ledger records that filtering happened, the redactor
    decides what to hide.
*/
package audit
