package pinsql

import (
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// Kind is the storage class a Value binds as.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Value is a scalar ready to be bound: null, boolean, integer or text.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	s    string
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Text returns a text Value.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// Kind reports the storage class of v.
func (v Value) Kind() Kind { return v.kind }

// String renders v for logs and error messages.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindText:
		return strconv.Quote(v.s)
	default:
		return "NULL"
	}
}

// driverValue converts v into the argument handed to database/sql.
func (v Value) driverValue() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindText:
		return v.s
	default:
		return nil
	}
}

const timeLayout = "2006-01-02 15:04:05.999999"

// ValueOf infers the Value for x, checking null, then boolean, then integer,
// and treating every other scalar as text. Slices, arrays, maps and structs
// are rejected with ErrCompositeValue. driver.Valuer implementations are
// resolved first; time.Time binds as text.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case int32:
		return Int(int64(t)), nil
	case string:
		return Text(t), nil
	case []byte:
		return Text(string(t)), nil
	case time.Time:
		return Text(t.Format(timeLayout)), nil
	case driver.Valuer:
		rv := reflect.ValueOf(x)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return Null(), nil
		}
		dv, err := t.Value()
		if err != nil {
			return Value{}, err
		}
		return ValueOf(dv)
	}

	rv := reflect.ValueOf(x)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Null(), nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Text(strconv.FormatUint(u, 10)), nil
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Text(strconv.FormatFloat(rv.Float(), 'f', -1, 64)), nil
	case reflect.String:
		return Text(rv.String()), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return Text(string(rv.Bytes())), nil
		}
	case reflect.Struct:
		if t, ok := rv.Interface().(time.Time); ok {
			return Text(t.Format(timeLayout)), nil
		}
	}
	return Value{}, fmt.Errorf("%w: %T", ErrCompositeValue, x)
}
