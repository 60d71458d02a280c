package pinsql

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// mustStatement compiles q and wraps it in an unprepared Statement.
func mustStatement(t *testing.T, d Dialect, q string) *Statement {
	t.Helper()
	tpl, err := compile(d, q, defaultMaxNameLen)
	assertNoError(t, err)
	return newStatement(tpl, nil)
}

func TestStatement_Bind_NameForms(t *testing.T) {
	st := mustStatement(t, Postgres, "SELECT :a, :b")
	assertNoError(t, st.Bind("a", Int(1)))
	assertNoError(t, st.Bind(":b", Text("x")))
	if st.SQL() != "SELECT $1, $2" {
		t.Fatalf("SQL() = %q", st.SQL())
	}
	args, err := st.args()
	assertNoError(t, err)
	if diff := cmp.Diff([]any{int64(1), "x"}, args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestStatement_Bind_UnknownName(t *testing.T) {
	st := mustStatement(t, MySQL, "SELECT :a")
	err := st.Bind(":nope", Int(1))
	if !errors.Is(err, ErrParamUnknown) {
		t.Fatalf("want ErrParamUnknown, got %v", err)
	}
	var be *BindError
	if !errors.As(err, &be) || be.Name != "nope" {
		t.Fatalf("want *BindError for nope, got %#v", err)
	}
}

func TestStatement_BindAny_CompositeNeverBound(t *testing.T) {
	st := mustStatement(t, MySQL, "SELECT :a")
	err := st.BindAny("a", []string{"x"})
	if !errors.Is(err, ErrCompositeValue) {
		t.Fatalf("want ErrCompositeValue, got %v", err)
	}
	if len(st.values) != 0 {
		t.Fatalf("composite value must not be bound, got %v", st.values)
	}
}

func TestStatement_BindAll_CollectsFailures(t *testing.T) {
	st := mustStatement(t, MySQL, "SELECT :a, :b")
	errs := st.BindAll(P{"a": []int{1}, "b": 2, "c": 3})
	if len(errs) != 2 {
		t.Fatalf("want 2 failures, got %v", errs)
	}
	if !errors.Is(errs[0], ErrCompositeValue) || !errors.Is(errs[1], ErrParamUnknown) {
		t.Fatalf("unexpected failures order or kinds: %v", errs)
	}
	if v := st.values["b"]; v != Int(2) {
		t.Fatalf("b must still be bound, got %v", v)
	}
}

func TestStatement_Args_RepeatedToken(t *testing.T) {
	for _, tc := range allDialects() {
		t.Run(tc.name, func(t *testing.T) {
			st := mustStatement(t, tc.d, "SELECT :a, :b, :a")
			st.BindAll(P{"a": true, "b": nil})
			args, err := st.args()
			assertNoError(t, err)
			if diff := cmp.Diff([]any{true, nil, true}, args); diff != "" {
				t.Fatalf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStatement_Args_Unbound(t *testing.T) {
	st := mustStatement(t, MySQL, "SELECT :a, :b")
	assertNoError(t, st.Bind("a", Int(1)))
	_, err := st.args()
	if !errors.Is(err, ErrParamUnbound) || !errors.Is(err, ErrExecution) {
		t.Fatalf("want ErrExecution wrapping ErrParamUnbound, got %v", err)
	}
}

func TestStatement_CloseUnprepared(t *testing.T) {
	st := mustStatement(t, MySQL, "SELECT 1")
	assertNoError(t, st.Close())
}
