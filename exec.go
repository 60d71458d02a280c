package pinsql

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
)

// ResultKind tags what a Result carries, decided by the statement class.
type ResultKind uint8

const (
	// ResultDone is returned for statements that are neither reads nor
	// row writes (DDL, SET, ...).
	ResultDone ResultKind = iota
	// ResultRows carries the row set of a SELECT or SHOW.
	ResultRows
	// ResultAffected carries the affected-row count of INSERT/UPDATE/DELETE.
	ResultAffected
	// ResultInsertID carries the generated key of a write that asked for it.
	ResultInsertID
)

func (k ResultKind) String() string {
	switch k {
	case ResultDone:
		return "done"
	case ResultRows:
		return "rows"
	case ResultAffected:
		return "affected"
	case ResultInsertID:
		return "insert_id"
	default:
		return "unknown"
	}
}

// Row is one result row keyed by column name. Byte columns are returned as
// strings.
type Row = map[string]any

// Result is the outcome of a single statement. It belongs to the caller.
type Result struct {
	Kind     ResultKind
	Rows     []Row
	Affected int64
	// InsertID is int64 for LAST_INSERT_ID() requests, or the first column
	// of the first row returned by a RETURNING clause.
	InsertID any
	// Warnings holds the non-fatal bind failures of the call.
	Warnings []error
	// Trace holds the debug trace of the call when Config.Debug is set.
	Trace []string
}

var (
	returningRe = regexp.MustCompile(`(?i)\bRETURNING\b`)
	insertIDRe  = regexp.MustCompile(`(?i)\bLAST_INSERT_ID\(\s*\)`)
)

// Exec runs a single statement: it verifies the tokens against params (extra
// parameters are dropped, missing ones are fatal), prepares, binds, executes
// and shapes the Result after the statement's leading keyword.
//
// Bind failures are returned as Result.Warnings and do not abort the call;
// the statement still fails if a token is left without a value.
// If closeAfter is set, the connection is released before returning,
// unless a transaction is active.
func (s *Session) Exec(ctx context.Context, query string, params P, closeAfter bool) (*Result, error) {
	tr := s.newTrace()
	res, err := s.exec(ctx, query, params, tr)
	if closeAfter && s.tx == nil && s.conn != nil {
		_ = s.release()
		tr.add("connection closed")
	}

	class := classify(query)
	if err != nil {
		s.config.Metrics.observeStatement(class, "error")
		s.log.Debug("statement failed", "class", class, "err", err)
		return nil, err
	}
	s.config.Metrics.observeStatement(class, "ok")
	res.Trace = tr.entries
	return res, nil
}

// Execute is Exec without releasing the connection.
func (s *Session) Execute(ctx context.Context, query string, params P) (*Result, error) {
	return s.Exec(ctx, query, params, false)
}

// Query runs a row-returning statement and returns its rows. A statement that
// returns no row set yields a nil slice.
func (s *Session) Query(ctx context.Context, query string, params P) ([]Row, error) {
	res, err := s.Exec(ctx, query, params, false)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

func (s *Session) exec(ctx context.Context, query string, params P, tr *trace) (*Result, error) {
	q := strings.TrimSpace(query)
	st, args, warnings, err := s.statement(ctx, q, params, tr)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	res := &Result{Warnings: warnings}

	switch class := classify(q); {
	case class == classRead:
		rows, err := st.stmt.QueryContext(ctx, args...)
		if err != nil {
			return nil, newExecutionError(err)
		}
		res.Kind = ResultRows
		if _, res.Rows, err = fetchRows(rows); err != nil {
			return nil, newExecutionError(err)
		}
		tr.add("statement executed, returning %d rows", len(res.Rows))

	case class == classWrite && returningRe.MatchString(q):
		rows, err := st.stmt.QueryContext(ctx, args...)
		if err != nil {
			return nil, newExecutionError(err)
		}
		cols, fetched, err := fetchRows(rows)
		if err != nil {
			return nil, newExecutionError(err)
		}
		res.Kind = ResultInsertID
		if len(fetched) > 0 && len(cols) > 0 {
			res.InsertID = fetched[0][cols[0]]
		}
		tr.add("statement executed, returning generated key")

	default:
		r, err := st.stmt.ExecContext(ctx, args...)
		if err != nil {
			return nil, newExecutionError(err)
		}
		switch {
		case class == classWrite && insertIDRe.MatchString(q):
			id, err := r.LastInsertId()
			if err != nil {
				return nil, newExecutionError(err)
			}
			res.Kind, res.InsertID = ResultInsertID, id
			tr.add("statement executed, returning last insert id %d", id)
		case class == classWrite:
			n, err := r.RowsAffected()
			if err != nil {
				return nil, newExecutionError(err)
			}
			res.Kind, res.Affected = ResultAffected, n
			tr.add("statement executed, %d rows affected", n)
		default:
			res.Kind = ResultDone
			tr.add("statement executed")
		}
	}
	return res, nil
}

// statement runs the front half shared by every call: verify, connect,
// prepare and bind. On success the caller owns the returned Statement.
func (s *Session) statement(ctx context.Context, query string, params P, tr *trace) (*Statement, []any, []error, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil, nil, ErrMalformedQuery
	}

	tpl, err := s.compile(q)
	if err != nil {
		return nil, nil, nil, err
	}
	params, err = s.reconcile(tpl, params, tr)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := s.ensureConn(ctx, tr); err != nil {
		return nil, nil, nil, err
	}

	st, err := s.prepare(ctx, tpl)
	if err != nil {
		return nil, nil, nil, err
	}
	warnings := s.bind(st, params, tr)
	args, err := st.args()
	if err != nil {
		_ = st.Close()
		// The bind failures explain why a token is left unbound.
		if len(warnings) > 0 {
			err = errors.Join(err, errors.Join(warnings...))
		}
		return nil, nil, warnings, err
	}
	return st, args, warnings, nil
}

// reconcile verifies the template tokens against params and drops extras.
func (s *Session) reconcile(tpl *template, params P, tr *trace) (P, error) {
	m, err := matchTokens(tpl.names, params)
	if err != nil {
		return nil, err
	}
	switch m.Kind {
	case MissingParameters:
		return nil, &TokenMismatchError{Missing: m.Missing}
	case ExtraParameters:
		tr.add("dropping extra parameters: %s", strings.Join(m.Extra, ", "))
		return DropExtra(params, m.Extra), nil
	}
	return params, nil
}

// bind binds params into st, logging and counting each failure.
func (s *Session) bind(st *Statement, params P, tr *trace) []error {
	warnings := st.BindAll(params)
	for _, w := range warnings {
		s.log.Warn("bind failed", "err", w)
		s.config.Metrics.observeBindWarning()
	}
	for _, name := range st.tpl.names {
		if v, ok := st.values[name]; ok {
			tr.add("parameter bound: %s to :%s", v, name)
		}
	}
	return warnings
}

// --------------------------------
// Statement classes
// --------------------------------

const (
	classRead  = "read"
	classWrite = "write"
	classOther = "other"
)

// classify maps the leading keyword of q to its statement class.
func classify(q string) string {
	switch leadingKeyword(q) {
	case "SELECT", "SHOW":
		return classRead
	case "INSERT", "UPDATE", "DELETE":
		return classWrite
	default:
		return classOther
	}
}

// leadingKeyword returns the first word of q, upper-cased.
func leadingKeyword(q string) string {
	q = strings.TrimLeft(q, " \t\r\n(")
	end := 0
	for end < len(q) && isAlphaUnderscore(q[end]) {
		end++
	}
	return strings.ToUpper(q[:end])
}

// --------------------------------
// Rows
// --------------------------------

// fetchRows drains and closes rows, returning the column names and the rows.
func fetchRows(rows *sql.Rows) ([]string, []Row, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return cols, out, nil
}

// rowString reads a text-like column from a row, tolerating drivers that
// report identifiers with different casing.
func rowString(row Row, col string) (string, bool) {
	v, ok := row[col]
	if !ok {
		for k, val := range row {
			if strings.EqualFold(k, col) {
				v, ok = val, true
				break
			}
		}
	}
	if !ok || v == nil {
		return "", false
	}
	if s, isStr := v.(string); isStr {
		return s, true
	}
	return "", false
}
