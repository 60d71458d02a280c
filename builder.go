package pinsql

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// keyPrefix namespaces the WHERE tokens of UpdateRow so they never collide
// with the SET tokens of the same column.
const keyPrefix = "__key_"

// InsertRow inserts one row into table. Every key of params must be a column
// of table. With upsert set, a row whose primary key already exists is
// updated in place: every non-key column is overwritten with the new value.
func (s *Session) InsertRow(ctx context.Context, table string, params P, upsert bool) (*Result, error) {
	q, err := s.buildInsert(ctx, table, params, upsert)
	if err != nil {
		return nil, err
	}
	return s.Exec(ctx, q, params, false)
}

// UpdateRow sets the columns of params on the rows of table matching every
// column/value pair of key. Key values are bound like any other parameter.
func (s *Session) UpdateRow(ctx context.Context, table string, params, key P) (*Result, error) {
	q, bound, err := s.buildUpdate(ctx, table, params, key)
	if err != nil {
		return nil, err
	}
	return s.Exec(ctx, q, bound, false)
}

// DeleteRow deletes the rows of table matching every column/value pair of
// params. An empty params is refused rather than deleting every row.
func (s *Session) DeleteRow(ctx context.Context, table string, params P) (*Result, error) {
	q, err := s.buildDelete(ctx, table, params)
	if err != nil {
		return nil, err
	}
	return s.Exec(ctx, q, params, false)
}

func (s *Session) buildInsert(ctx context.Context, table string, params P, upsert bool) (string, error) {
	if len(params) == 0 {
		return "", fmt.Errorf("%w: insert into %q", ErrNoColumns, table)
	}
	cols, err := s.validate(ctx, table, params)
	if err != nil {
		return "", err
	}

	d := s.config.Dialect
	quoted := make([]string, len(cols))
	tokens := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
		tokens[i] = ":" + c
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)", d.Quote(table), strings.Join(quoted, ", "), strings.Join(tokens, ", "))
	if !upsert {
		return b.String(), nil
	}
	if d != MySQL && d != Postgres && d != SQLite {
		return "", fmt.Errorf("%w: %s", ErrUpsertUnsupported, d)
	}

	pk, err := s.PrimaryKey(ctx, table)
	if err != nil {
		return "", err
	}
	var updates []string
	for _, c := range cols {
		if !slices.Contains(pk, c) {
			updates = append(updates, c)
		}
	}

	switch d {
	case MySQL:
		b.WriteString(" ON DUPLICATE KEY UPDATE ")
		if len(updates) == 0 {
			// Every given column is part of the key: keep the row as it is.
			updates, tokens = cols[:1], []string{d.Quote(cols[0])}
		} else {
			tokens = make([]string, len(updates))
			for i, c := range updates {
				tokens[i] = ":" + c
			}
		}
		for i, c := range updates {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s = %s", d.Quote(c), tokens[i])
		}
	case Postgres, SQLite:
		if len(pk) == 0 {
			return "", fmt.Errorf("%w: %q", ErrNoPrimaryKey, table)
		}
		conflict := make([]string, len(pk))
		for i, c := range pk {
			conflict[i] = d.Quote(c)
		}
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO ", strings.Join(conflict, ", "))
		if len(updates) == 0 {
			b.WriteString("NOTHING")
			break
		}
		b.WriteString("UPDATE SET ")
		for i, c := range updates {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s = excluded.%s", d.Quote(c), d.Quote(c))
		}
	}
	return b.String(), nil
}

func (s *Session) buildUpdate(ctx context.Context, table string, params, key P) (string, P, error) {
	if len(params) == 0 || len(key) == 0 {
		return "", nil, fmt.Errorf("%w: update %q needs both columns and key", ErrNoColumns, table)
	}
	cols, err := s.validate(ctx, table, params)
	if err != nil {
		return "", nil, err
	}
	keyCols, err := s.validate(ctx, table, key)
	if err != nil {
		return "", nil, err
	}

	d := s.config.Dialect
	bound := make(P, len(params)+len(key))
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = :%s", d.Quote(c), c)
	}
	for k, v := range params {
		bound[strings.TrimPrefix(k, ":")] = v
	}
	wheres := make([]string, len(keyCols))
	for i, c := range keyCols {
		wheres[i] = fmt.Sprintf("%s = :%s%s", d.Quote(c), keyPrefix, c)
	}
	for k, v := range key {
		bound[keyPrefix+strings.TrimPrefix(k, ":")] = v
	}

	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s", d.Quote(table), strings.Join(sets, ", "), strings.Join(wheres, " AND "))
	return q, bound, nil
}

func (s *Session) buildDelete(ctx context.Context, table string, params P) (string, error) {
	if len(params) == 0 {
		return "", fmt.Errorf("%w: refusing to delete from %q without conditions", ErrNoColumns, table)
	}
	cols, err := s.validate(ctx, table, params)
	if err != nil {
		return "", err
	}
	d := s.config.Dialect
	wheres := make([]string, len(cols))
	for i, c := range cols {
		wheres[i] = fmt.Sprintf("%s = :%s", d.Quote(c), c)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", d.Quote(table), strings.Join(wheres, " AND ")), nil
}

// validate checks table and every column named by params against the schema
// snapshot, and returns the bare column names in sorted order.
func (s *Session) validate(ctx context.Context, table string, params P) ([]string, error) {
	if _, err := normalizeParams(params); err != nil {
		return nil, err
	}
	ok, err := s.ValidTable(ctx, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &SchemaError{Table: table}
	}
	cols := make([]string, 0, len(params))
	for _, k := range sortedKeys(params) {
		c := strings.TrimPrefix(k, ":")
		if !isIdentifier(c) {
			return nil, &SchemaError{Table: table, Column: c}
		}
		ok, err := s.ValidColumn(ctx, table, c)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &SchemaError{Table: table, Column: c}
		}
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols, nil
}

// isIdentifier reports whether name can be used as a :name token.
func isIdentifier(name string) bool {
	if name == "" || !isAlphaUnderscore(name[0]) {
		return false
	}
	for i := 1; i < len(name); i++ {
		if !isAlphaNumUnderscore(name[i]) {
			return false
		}
	}
	return true
}
