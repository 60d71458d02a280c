package pinsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Scan runs a row-returning statement through the same verify, prepare and
// bind steps as Exec and maps the rows onto dest.
//
// Supported destinations:
//   - *[]T, *[]*T where T is a struct: one element per row.
//   - *[]T where T is a scalar (or sql.Scanner): the single column of each row.
//   - *T where T is a struct: the first row; sql.ErrNoRows if there is none.
//   - *T where T is a scalar: the single column of the first row.
//
// Columns are matched case-insensitively against the `db` tag of each field,
// or the field name when the tag is absent; `db:"-"` skips the field.
// Nested and embedded structs are flattened. Columns without a field are
// discarded. Bind warnings are logged and counted but not returned.
func (s *Session) Scan(ctx context.Context, dest any, query string, params P) error {
	if err := checkDest(dest); err != nil {
		return err
	}
	class := classify(query)
	err := s.scan(ctx, dest, query, params)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.config.Metrics.observeStatement(class, "error")
		s.log.Debug("scan failed", "class", class, "err", err)
		return err
	}
	s.config.Metrics.observeStatement(class, "ok")
	return err
}

func (s *Session) scan(ctx context.Context, dest any, query string, params P) error {
	tr := s.newTrace()
	st, args, _, err := s.statement(ctx, query, params, tr)
	if err != nil {
		return err
	}
	defer st.Close()

	rows, err := st.stmt.QueryContext(ctx, args...)
	if err != nil {
		return newExecutionError(err)
	}
	defer rows.Close()

	if err := s.scanRows(rows, reflect.ValueOf(dest).Elem()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return newExecutionError(err)
	}
	return nil
}

// checkDest rejects anything that is not a non-nil pointer.
func checkDest(dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: %T", ErrScanDest, dest)
	}
	return nil
}

// scanRows fills v, the element of the destination pointer, from rows.
func (s *Session) scanRows(rows *sql.Rows, v reflect.Value) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	if v.Kind() == reflect.Slice && !isBytes(v.Type()) {
		if v.Len() > 0 {
			v.Set(v.Slice(0, 0))
		}
		for rows.Next() {
			item := reflect.New(v.Type().Elem()).Elem()
			if err := s.scanRow(rows, cols, item); err != nil {
				return err
			}
			v.Set(reflect.Append(v, item))
		}
		return rows.Err()
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	return s.scanRow(rows, cols, v)
}

// scanRow scans the current row into v, a settable struct, *struct or scalar.
func (s *Session) scanRow(rows *sql.Rows, cols []string, v reflect.Value) error {
	if v.Kind() == reflect.Pointer && isComposite(v.Type().Elem()) {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	if !isComposite(v.Type()) {
		if len(cols) != 1 {
			return fmt.Errorf("%w: %s takes 1 column, got %d", ErrScanDest, v.Type(), len(cols))
		}
		return rows.Scan(v.Addr().Interface())
	}

	p, err := s.plan(cols, v.Type())
	if err != nil {
		return err
	}
	targets := make([]any, len(cols))
	for i, path := range p.paths {
		if path == nil {
			targets[i] = new(any)
			continue
		}
		targets[i] = fieldAt(v, path).Addr().Interface()
	}
	return rows.Scan(targets...)
}

// --------------------------------
// Scan plans
// --------------------------------

// planKey identifies a plan by struct type and column list.
type planKey struct {
	typ  reflect.Type
	cols string
}

// scanPlan holds the field index path of each result column; nil marks a
// column with no field.
type scanPlan struct {
	paths [][]int
}

// plan returns the cached plan for cols against t, building it on a miss.
func (s *Session) plan(cols []string, t reflect.Type) (*scanPlan, error) {
	key := planKey{typ: t, cols: strings.Join(cols, "\x1f")}
	if p, ok := s.plans.Get(key); ok {
		return p, nil
	}

	fields := fieldMap(t)
	p := &scanPlan{paths: make([][]int, len(cols))}
	for i, c := range cols {
		f, ok := fields[strings.ToLower(c)]
		if !ok {
			continue
		}
		if f.ambiguous {
			return nil, fmt.Errorf("%w: %q in %s", ErrFieldAmbiguous, c, t)
		}
		p.paths[i] = f.path
	}
	s.plans.Add(key, p)
	return p, nil
}

// field is one mapped struct field. Names claimed by more than one field at
// the same time are ambiguous.
type field struct {
	path      []int
	ambiguous bool
}

// fieldMap maps lower-cased column names to field paths in t, descending
// into nested structs.
func fieldMap(t reflect.Type) map[string]field {
	m := make(map[string]field)
	visiting := map[reflect.Type]bool{t: true}

	var walk func(rt reflect.Type, prefix []int)
	walk = func(rt reflect.Type, prefix []int) {
		for i := 0; i < rt.NumField(); i++ {
			sf := rt.Field(i)
			// Unexported embedded structs still promote their exported fields.
			if !sf.IsExported() && !(sf.Anonymous && sf.Type.Kind() == reflect.Struct) {
				continue
			}
			tag := sf.Tag.Get("db")
			if tag == "-" {
				continue
			}
			path := append(append([]int(nil), prefix...), i)

			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if isComposite(ft) && !visiting[ft] {
				visiting[ft] = true
				walk(ft, path)
				delete(visiting, ft)
				continue
			}
			if !sf.IsExported() {
				continue
			}

			name, _, _ := strings.Cut(tag, ",")
			if name == "" {
				name = sf.Name
			}
			key := strings.ToLower(name)
			if _, taken := m[key]; taken {
				m[key] = field{ambiguous: true}
				continue
			}
			m[key] = field{path: path}
		}
	}
	walk(t, nil)
	return m
}

// fieldAt returns the field at path in v, allocating nil struct pointers on
// the way down.
func fieldAt(v reflect.Value, path []int) reflect.Value {
	for i, idx := range path {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(idx)
	}
	return v
}

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType    = reflect.TypeOf((*time.Time)(nil)).Elem()
)

// isComposite reports whether t is a struct mapped field by field, rather
// than scanned as a single value.
func isComposite(t reflect.Type) bool {
	if t.Kind() != reflect.Struct || t == timeType {
		return false
	}
	return !reflect.PointerTo(t).Implements(scannerType)
}

func isBytes(t reflect.Type) bool {
	return t.Elem().Kind() == reflect.Uint8
}
