package pinsql

import (
	"database/sql"
	"fmt"
	"strings"
)

// Statement is a prepared statement together with the values bound to its
// tokens. It is single-use and NOT safe for concurrent use.
type Statement struct {
	tpl    *template
	stmt   *sql.Stmt
	values map[string]Value
}

func newStatement(tpl *template, stmt *sql.Stmt) *Statement {
	return &Statement{tpl: tpl, stmt: stmt, values: make(map[string]Value, len(tpl.names))}
}

// SQL returns the statement text as sent to the driver.
func (st *Statement) SQL() string { return st.tpl.sql }

// Bind attaches v to the token name. The name may be given with or without
// its leading colon.
func (st *Statement) Bind(name string, v Value) error {
	name = strings.TrimPrefix(name, ":")
	if !st.tpl.has(name) {
		return &BindError{Name: name, Err: ErrParamUnknown}
	}
	st.values[name] = v
	return nil
}

// BindAny infers the Value of x and binds it. Composite values fail here and
// never reach the statement.
func (st *Statement) BindAny(name string, x any) error {
	v, err := ValueOf(x)
	if err != nil {
		return &BindError{Name: strings.TrimPrefix(name, ":"), Err: err}
	}
	return st.Bind(name, v)
}

// BindAll binds every entry of params in key order and returns the failures.
// A failed bind does not stop the remaining ones.
func (st *Statement) BindAll(params P) []error {
	var errs []error
	for _, k := range sortedKeys(params) {
		if err := st.BindAny(k, params[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// args renders the positional driver arguments, one per placeholder.
func (st *Statement) args() ([]any, error) {
	out := make([]any, len(st.tpl.slots))
	for i, name := range st.tpl.slots {
		v, ok := st.values[name]
		if !ok {
			return nil, fmt.Errorf("%w: %w: :%s", ErrExecution, ErrParamUnbound, name)
		}
		out[i] = v.driverValue()
	}
	return out, nil
}

// Close releases the prepared statement.
func (st *Statement) Close() error {
	if st.stmt == nil {
		return nil
	}
	return st.stmt.Close()
}
