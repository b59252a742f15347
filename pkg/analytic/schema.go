package analytic

import "fmt"

// Bulk tables owned by the ingestion pipeline. Loads replace the whole
// table through the staging swap; queries only ever read.
const (
	TableEntities  = "entities"
	TableEvents    = "events"
	TableContracts = "contracts"
)

// tableColumns declares each bulk table's columns in DDL order. CSV
// headers are matched against these names; unknown columns in a feed
// are skipped.
var tableColumns = map[string][]string{
	TableEntities: {
		"business_key",
		"name",
		"legal_form_code",
		"activity_code",
		"postal_code",
		"city",
		"size_bucket",
		"creation_date",
		"cessation_date",
		"active",
	},
	TableEvents: {
		"event_id",
		"business_key",
		"kind",
		"publication_date",
		"court",
		"title",
	},
	TableContracts: {
		"contract_id",
		"business_key",
		"buyer_key",
		"object",
		"amount",
		"signed_date",
		"cpv_code",
	},
}

var tableDDL = map[string]string{
	TableEntities: `CREATE TABLE IF NOT EXISTS %s (
		business_key TEXT PRIMARY KEY,
		name TEXT,
		legal_form_code TEXT,
		activity_code TEXT,
		postal_code TEXT,
		city TEXT,
		size_bucket TEXT,
		creation_date TEXT,
		cessation_date TEXT,
		active INTEGER
	)`,
	TableEvents: `CREATE TABLE IF NOT EXISTS %s (
		event_id TEXT PRIMARY KEY,
		business_key TEXT,
		kind TEXT,
		publication_date TEXT,
		court TEXT,
		title TEXT
	)`,
	TableContracts: `CREATE TABLE IF NOT EXISTS %s (
		contract_id TEXT PRIMARY KEY,
		business_key TEXT,
		buyer_key TEXT,
		object TEXT,
		amount REAL,
		signed_date TEXT,
		cpv_code TEXT
	)`,
}

type tableIndex struct {
	name    string
	columns string
}

var tableIndexes = map[string][]tableIndex{
	TableEntities: {
		{"idx_entities_name", "name"},
		{"idx_entities_postal", "postal_code"},
		{"idx_entities_activity", "activity_code"},
	},
	TableEvents: {
		{"idx_events_key", "business_key"},
		{"idx_events_date", "publication_date"},
	},
	TableContracts: {
		{"idx_contracts_key", "business_key"},
	},
}

const metadataDDL = `CREATE TABLE IF NOT EXISTS metadata (
	table_name TEXT PRIMARY KEY,
	last_update TEXT NOT NULL,
	record_count INTEGER NOT NULL,
	source_url TEXT,
	etag TEXT,
	notes TEXT
)`

// KnownTable reports whether a table name is one of the bulk tables.
// Table names are interpolated into DDL, so only declared names pass.
func KnownTable(table string) bool {
	_, ok := tableColumns[table]
	return ok
}

func indexDDL(table string) []string {
	stmts := make([]string, 0, len(tableIndexes[table]))
	for _, idx := range tableIndexes[table] {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", idx.name, table, idx.columns))
	}
	return stmts
}

func dropIndexDDL(table string) []string {
	stmts := make([]string, 0, len(tableIndexes[table]))
	for _, idx := range tableIndexes[table] {
		stmts = append(stmts, fmt.Sprintf("DROP INDEX IF EXISTS %s", idx.name))
	}
	return stmts
}
