package pinsql

import (
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"
)

type stringer string

func TestValueOf_Scalars(t *testing.T) {
	seven := 7
	var nilPtr *int
	var nilValuer *sql.NullString

	cases := []struct {
		name string
		in   any
		want Value
	}{
		{"nil", nil, Null()},
		{"value passthrough", Text("x"), Text("x")},
		{"bool", true, Bool(true)},
		{"int", 42, Int(42)},
		{"int8", int8(-3), Int(-3)},
		{"int32", int32(9), Int(9)},
		{"uint16", uint16(5), Int(5)},
		{"uint64 overflow", uint64(math.MaxUint64), Text("18446744073709551615")},
		{"float", 1.5, Text("1.5")},
		{"float32", float32(0.25), Text("0.25")},
		{"string", "bob", Text("bob")},
		{"named string", stringer("hi"), Text("hi")},
		{"bytes", []byte("raw"), Text("raw")},
		{"time", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), Text("2024-01-02 03:04:05")},
		{"pointer", &seven, Int(7)},
		{"nil pointer", nilPtr, Null()},
		{"nil valuer", nilValuer, Null()},
		{"invalid valuer", sql.NullString{}, Null()},
		{"valid valuer", sql.NullInt64{Int64: 9, Valid: true}, Int(9)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValueOf(tc.in)
			assertNoError(t, err)
			if got != tc.want {
				t.Fatalf("ValueOf(%#v) = %v (%s), want %v (%s)", tc.in, got, got.Kind(), tc.want, tc.want.Kind())
			}
		})
	}
}

func TestValueOf_CompositeRejected(t *testing.T) {
	for _, in := range []any{
		[]int{1, 2},
		[2]string{"a", "b"},
		map[string]int{"a": 1},
		struct{ A int }{1},
		P{"nested": 1},
	} {
		_, err := ValueOf(in)
		if !errors.Is(err, ErrCompositeValue) {
			t.Errorf("ValueOf(%T): want ErrCompositeValue, got %v", in, err)
		}
	}
}

func TestValue_StringAndDriverValue(t *testing.T) {
	cases := []struct {
		v       Value
		str     string
		driver  any
		kindStr string
	}{
		{Null(), "NULL", nil, "null"},
		{Bool(false), "false", false, "bool"},
		{Int(-1), "-1", int64(-1), "int"},
		{Text("a b"), `"a b"`, "a b", "text"},
	}
	for _, tc := range cases {
		if got := tc.v.String(); got != tc.str {
			t.Errorf("String() = %q, want %q", got, tc.str)
		}
		if got := tc.v.driverValue(); got != tc.driver {
			t.Errorf("driverValue() = %#v, want %#v", got, tc.driver)
		}
		if got := tc.v.Kind().String(); got != tc.kindStr {
			t.Errorf("Kind().String() = %q, want %q", got, tc.kindStr)
		}
	}
	var zero Value
	if zero.Kind() != KindNull {
		t.Fatalf("zero Value must be null, got %s", zero.Kind())
	}
}
