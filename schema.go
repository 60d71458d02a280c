package pinsql

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// schemaCache is the snapshot of table → column → data type for the session
// connection. It is loaded on first use and reloaded once whenever a lookup
// misses, so DDL issued through the session itself is picked up without an
// explicit refresh. DDL issued through another connection is only seen after
// such a miss.
type schemaCache struct {
	tables map[string]map[string]string
	loaded bool
	keys   *lru.Cache[string, []string] // table → primary key columns
}

// Catalog queries return (table_name, column_name, data_type) triples for the
// active database.
const (
	catalogMySQL     = "SELECT TABLE_NAME AS table_name, COLUMN_NAME AS column_name, DATA_TYPE AS data_type FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE()"
	catalogPostgres  = "SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = current_schema()"
	catalogSQLServer = "SELECT TABLE_NAME AS table_name, COLUMN_NAME AS column_name, DATA_TYPE AS data_type FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = SCHEMA_NAME()"
	catalogSQLite    = "SELECT m.name AS table_name, p.name AS column_name, p.type AS data_type FROM sqlite_master AS m JOIN pragma_table_info(m.name) AS p WHERE m.type = 'table'"
)

// Primary key lookups. MySQL interpolates the (already validated and quoted)
// table name since SHOW KEYS takes no parameters.
const (
	primaryKeyMySQL     = "SHOW KEYS FROM %s WHERE Key_name = 'PRIMARY'"
	primaryKeyPostgres  = "SELECT kcu.column_name AS column_name FROM information_schema.table_constraints AS tc JOIN information_schema.key_column_usage AS kcu ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema AND tc.table_name = kcu.table_name WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = current_schema() AND tc.table_name = :table ORDER BY kcu.ordinal_position"
	primaryKeySQLServer = "SELECT kcu.column_name AS column_name FROM information_schema.table_constraints AS tc JOIN information_schema.key_column_usage AS kcu ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema AND tc.table_name = kcu.table_name WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = SCHEMA_NAME() AND tc.table_name = :table ORDER BY kcu.ordinal_position"
	primaryKeySQLite    = "SELECT name AS column_name FROM pragma_table_info(:table) WHERE pk > 0 ORDER BY pk"
)

func catalogQuery(d Dialect) string {
	switch d {
	case MySQL:
		return catalogMySQL
	case SQLServer:
		return catalogSQLServer
	case SQLite:
		return catalogSQLite
	default:
		return catalogPostgres
	}
}

// primaryKeyQuery returns the key lookup of d, taking a :table token. MySQL
// is not covered: its lookup is built around the quoted table name.
func primaryKeyQuery(d Dialect) string {
	switch d {
	case SQLite:
		return primaryKeySQLite
	case SQLServer:
		return primaryKeySQLServer
	default:
		return primaryKeyPostgres
	}
}

// RefreshSchema reloads the schema snapshot and drops cached primary keys.
func (s *Session) RefreshSchema(ctx context.Context) error {
	rows, err := s.Query(ctx, catalogQuery(s.config.Dialect), nil)
	if err != nil {
		return fmt.Errorf("pinsql: could not load schema: %w", err)
	}
	tables := make(map[string]map[string]string)
	for _, row := range rows {
		table, ok1 := rowString(row, "table_name")
		column, ok2 := rowString(row, "column_name")
		if !ok1 || !ok2 {
			continue
		}
		dataType, _ := rowString(row, "data_type")
		if tables[table] == nil {
			tables[table] = make(map[string]string)
		}
		tables[table][column] = dataType
	}
	s.schema.tables = tables
	s.schema.loaded = true
	s.schema.keys.Purge()
	s.log.Debug("schema loaded", "tables", len(tables))
	return nil
}

// lookup checks the snapshot with fn, reloading it once on a miss.
func (s *Session) lookup(ctx context.Context, fn func() bool) (bool, error) {
	if s.schema.loaded && fn() {
		return true, nil
	}
	if err := s.RefreshSchema(ctx); err != nil {
		return false, err
	}
	return fn(), nil
}

// ValidTable reports whether table exists in the schema snapshot.
func (s *Session) ValidTable(ctx context.Context, table string) (bool, error) {
	return s.lookup(ctx, func() bool {
		_, ok := s.schema.tables[table]
		return ok
	})
}

// ValidColumn reports whether column exists in table.
func (s *Session) ValidColumn(ctx context.Context, table, column string) (bool, error) {
	return s.lookup(ctx, func() bool {
		_, ok := s.schema.tables[table][column]
		return ok
	})
}

// Columns returns a copy of the column → data type mapping of table.
func (s *Session) Columns(ctx context.Context, table string) (map[string]string, error) {
	ok, err := s.ValidTable(ctx, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &SchemaError{Table: table}
	}
	out := make(map[string]string, len(s.schema.tables[table]))
	for c, t := range s.schema.tables[table] {
		out[c] = t
	}
	return out, nil
}

// PrimaryKey returns the primary key columns of table, in key order. A table
// without a primary key yields an empty slice.
func (s *Session) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	ok, err := s.ValidTable(ctx, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &SchemaError{Table: table}
	}
	if cols, hit := s.schema.keys.Get(table); hit {
		return cols, nil
	}

	var rows []Row
	var col string
	switch s.config.Dialect {
	case MySQL:
		col = "Column_name"
		rows, err = s.Query(ctx, fmt.Sprintf(primaryKeyMySQL, s.config.Dialect.Quote(table)), nil)
	default:
		col = "column_name"
		rows, err = s.Query(ctx, primaryKeyQuery(s.config.Dialect), P{"table": table})
	}
	if err != nil {
		return nil, fmt.Errorf("pinsql: could not read primary key of %q: %w", table, err)
	}

	cols := make([]string, 0, len(rows))
	for _, row := range rows {
		if c, ok := rowString(row, col); ok {
			cols = append(cols, c)
		}
	}
	s.schema.keys.Add(table, cols)
	return cols, nil
}
