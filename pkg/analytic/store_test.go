package analytic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "analytic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOpenAppliesSchema(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{TableEntities, TableEvents, TableContracts} {
		count, err := s.CountRows(context.Background(), table)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	}

	meta, err := s.Metadata(context.Background())
	require.NoError(t, err)
	assert.Empty(t, meta)
}

func TestLoadCSVReplacesTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := writeCSV(t, strings.Join([]string{
		"business_key,name,creation_date,active",
		"111111111,ALPHA SARL,2015-03-01,1",
		"222222222,BETA SAS,2018-07-12,1",
		"333333333,GAMMA SA,2001-01-30,0",
	}, "\n"))

	rows, err := s.LoadCSV(ctx, first, TableEntities, LoadMeta{SourceURL: "https://feeds.example/entities.csv"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows)

	count, err := s.CountRows(ctx, TableEntities)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	second := writeCSV(t, strings.Join([]string{
		"business_key,name,creation_date,active",
		"444444444,DELTA SASU,2022-11-02,1",
		"555555555,EPSILON EURL,2020-04-19,1",
	}, "\n"))

	rows, err = s.LoadCSV(ctx, second, TableEntities, LoadMeta{SourceURL: "https://feeds.example/entities.csv"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)

	count, err = s.CountRows(ctx, TableEntities)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, found, err := s.EntityByKey(ctx, "111111111")
	require.NoError(t, err)
	assert.False(t, found, "rows from the replaced load should be gone")

	row, found, err := s.EntityByKey(ctx, "444444444")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "DELTA SASU", row["name"])
}

func TestLoadCSVFailureKeepsOldData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var good strings.Builder
	good.WriteString("business_key,name,creation_date,active\n")
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&good, "%09d,COMPANY %d,2019-05-01,1\n", 100000000+i, i)
	}

	rows, err := s.LoadCSV(ctx, writeCSV(t, good.String()), TableEntities, LoadMeta{})
	require.NoError(t, err)
	require.Equal(t, int64(1000), rows)

	// Same feed again, with one malformed row halfway through.
	var bad strings.Builder
	bad.WriteString("business_key,name,creation_date,active\n")
	for i := 0; i < 1000; i++ {
		if i == 500 {
			bad.WriteString("900000000,BROKEN ROW\n")
			continue
		}
		fmt.Fprintf(&bad, "%09d,REPLACEMENT %d,2021-02-03,1\n", 200000000+i, i)
	}

	_, err = s.LoadCSV(ctx, writeCSV(t, bad.String()), TableEntities, LoadMeta{})
	require.Error(t, err)

	// The live table still holds the previous load, row for row.
	count, err := s.CountRows(ctx, TableEntities)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), count)

	_, found, err := s.EntityByKey(ctx, "100000000")
	require.NoError(t, err)
	assert.True(t, found)

	// No staging table left behind.
	leftover, err := s.Execute(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", "entities_staging")
	require.NoError(t, err)
	assert.Empty(t, leftover)

	// And the next load still goes through.
	rows, err = s.LoadCSV(ctx, writeCSV(t, good.String()), TableEntities, LoadMeta{})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rows)
}

func TestLoadCSVSkipsUnknownColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path := writeCSV(t, strings.Join([]string{
		"business_key, NAME ,exported_at,active",
		"777777777,ZETA SCI,2026-01-01T00:00:00Z,1",
	}, "\n"))

	rows, err := s.LoadCSV(ctx, path, TableEntities, LoadMeta{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	row, found, err := s.EntityByKey(ctx, "777777777")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ZETA SCI", row["name"])
	_, hasExtra := row["exported_at"]
	assert.False(t, hasExtra)
}

func TestLoadCSVNoMatchingColumns(t *testing.T) {
	s := newTestStore(t)

	path := writeCSV(t, "foo,bar\n1,2\n")
	_, err := s.LoadCSV(context.Background(), path, TableEntities, LoadMeta{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shares no columns")
}

func TestLoadCSVUnknownTable(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadCSV(context.Background(), "ignored.csv", "passwords", LoadMeta{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown table")
}

func TestLoadCSVMetadataUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path := writeCSV(t, "business_key,name\n111111111,ALPHA\n222222222,BETA\n")
	_, err := s.LoadCSV(ctx, path, TableEntities, LoadMeta{SourceURL: "https://feeds.example/v1.csv", ETag: "abc"})
	require.NoError(t, err)

	path = writeCSV(t, "business_key,name\n333333333,GAMMA\n")
	_, err = s.LoadCSV(ctx, path, TableEntities, LoadMeta{SourceURL: "https://feeds.example/v2.csv", ETag: "def"})
	require.NoError(t, err)

	meta, err := s.Metadata(ctx)
	require.NoError(t, err)
	require.Len(t, meta, 1, "repeat loads should update one metadata row")

	assert.Equal(t, TableEntities, meta[0].TableName)
	assert.Equal(t, int64(1), meta[0].RecordCount)
	assert.Equal(t, "https://feeds.example/v2.csv", meta[0].SourceURL)
	assert.Equal(t, "def", meta[0].ETag)
	assert.WithinDuration(t, time.Now(), meta[0].LastUpdate, time.Minute)
}

func TestSearchEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path := writeCSV(t, strings.Join([]string{
		"business_key,name,creation_date",
		"111111111,BOULANGERIE MARTIN,2010-01-01",
		"222222222,MARTIN CONSEIL,2020-06-15",
		"333333333,DUPONT BTP,2015-03-03",
	}, "\n"))
	_, err := s.LoadCSV(ctx, path, TableEntities, LoadMeta{})
	require.NoError(t, err)

	rows, err := s.SearchEntities(ctx, "MARTIN", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "MARTIN CONSEIL", rows[0]["name"], "newest creation first")
	assert.Equal(t, "BOULANGERIE MARTIN", rows[1]["name"])

	rows, err = s.SearchEntities(ctx, "MARTIN", 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = s.SearchEntities(ctx, "NOSUCHNAME", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRecentEventCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recent := time.Now().AddDate(0, -1, 0).Format("2006-01-02")
	stale := time.Now().AddDate(0, -10, 0).Format("2006-01-02")

	path := writeCSV(t, strings.Join([]string{
		"event_id,business_key,kind,publication_date",
		"ev-1,111111111,collective-procedure," + recent,
		"ev-2,111111111,accounts-filing," + stale,
		"ev-3,222222222,sale," + recent,
	}, "\n"))
	_, err := s.LoadCSV(ctx, path, TableEvents, LoadMeta{})
	require.NoError(t, err)

	count, err := s.RecentEventCount(ctx, "111111111", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = s.RecentEventCount(ctx, "111111111", 12)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = s.RecentEventCount(ctx, "999999999", 12)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestCountRowsUnknownTable(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CountRows(context.Background(), "sqlite_master")
	require.Error(t, err)
}

func TestClosedStoreRejectsWork(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "analytic.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.CountRows(context.Background(), TableEntities)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = s.LoadCSV(context.Background(), "ignored.csv", TableEntities, LoadMeta{})
	assert.ErrorIs(t, err, ErrClosed)
}
