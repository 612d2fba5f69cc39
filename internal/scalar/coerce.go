// Package scalar implements the scalar coercion rules (C7, spec §4.6):
// converting a raw driver-returned value into a caller-requested Go
// type, in the fixed rule order the spec defines.
package scalar

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ConversionError is returned when no coercion rule can produce T
// from v.
type ConversionError struct {
	Value any
	Type  reflect.Type
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("scalar: cannot convert %v (%T) to %s", e.Value, e.Value, e.Type)
}

// Coerce converts v (which may be nil, representing a database NULL)
// into the type requested by the zero value of T, following spec
// §4.6's rule order.
func Coerce[T any](v any) (T, error) {
	var zero T
	return coerceInto(v, zero)
}

// coerceInto implements the rule sequence. target is the zero value of
// the requested type, used only to discover T's shape via reflection
// (pointer-ness for "nullable", enum underlying kind, etc.).
func coerceInto[T any](v any, target T) (T, error) {
	rt := reflect.TypeOf(target)

	// Rule 1: absent or NULL -> zero/absent value of T.
	if v == nil {
		return target, nil
	}

	// Rule 2: T is interface{} ("object") or v is already assignable to
	// T -> return unchanged.
	if rt == nil || rt.Kind() == reflect.Interface {
		if asT, ok := v.(T); ok {
			return asT, nil
		}
	}
	if asT, ok := v.(T); ok {
		return asT, nil
	}

	// Rule 3: T is a pointer ("nullable wrapper of U") -> recurse on U,
	// wrap the result in a new pointer. An absent/NULL v is already
	// handled by rule 1 above (returns target, which is nil for a
	// pointer type), so reaching here means v is non-nil.
	if rt != nil && rt.Kind() == reflect.Pointer {
		elemType := rt.Elem()
		elemPtr := reflect.New(elemType)
		coerced, err := coerceReflect(v, elemType)
		if err != nil {
			var zero T
			return zero, err
		}
		elemPtr.Elem().Set(coerced)
		return elemPtr.Interface().(T), nil
	}

	coerced, err := coerceReflect(v, rt)
	if err != nil {
		var zero T
		return zero, err
	}
	return coerced.Interface().(T), nil
}

// coerceReflect implements rules 4-7 against a concrete (non-pointer,
// non-interface) reflect.Type.
func coerceReflect(v any, rt reflect.Type) (reflect.Value, error) {
	// Rule 4: UUID/GUID.
	if rt == reflect.TypeOf(uuid.UUID{}) {
		id, err := coerceUUID(v)
		if err != nil {
			return reflect.Value{}, &ConversionError{Value: v, Type: rt}
		}
		return reflect.ValueOf(id), nil
	}

	// Rule 5: byte array/slice.
	if rt.Kind() == reflect.Slice && rt.Elem().Kind() == reflect.Uint8 {
		b, ok := coerceBytes(v)
		if !ok {
			return reflect.Value{}, &ConversionError{Value: v, Type: rt}
		}
		return reflect.ValueOf(b).Convert(rt), nil
	}

	// Rule 6: enumeration (a named integer type; named string types are
	// handled by rule 7).
	if rt.Kind() >= reflect.Int && rt.Kind() <= reflect.Uint64 && rt.Name() != "" && rt.Name() != rt.Kind().String() {
		return coerceEnum(v, rt)
	}

	// Rule 7: invariant-culture primitive conversion.
	return coercePrimitive(v, rt)
}

func coerceUUID(v any) (uuid.UUID, error) {
	switch x := v.(type) {
	case uuid.UUID:
		return x, nil
	case [16]byte:
		return uuid.UUID(x), nil
	case []byte:
		if len(x) == 16 {
			var id uuid.UUID
			copy(id[:], x)
			return id, nil
		}
		return uuid.ParseBytes(x)
	case string:
		return uuid.Parse(strings.TrimSpace(x))
	default:
		return uuid.UUID{}, fmt.Errorf("scalar: %T is not a recognized UUID representation", v)
	}
}

func coerceBytes(v any) ([]byte, bool) {
	switch x := v.(type) {
	case []byte:
		return x, true
	case [16]byte:
		return x[:], true
	case string:
		return []byte(x), true
	default:
		return nil, false
	}
}

func coerceEnum(v any, rt reflect.Type) (reflect.Value, error) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		// A numeric string converts straight to the underlying
		// primitive (spec §4.6 rule 6).
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return reflect.ValueOf(n).Convert(rt), nil
		}
		// Otherwise treat s as a member name and match it
		// case-insensitively against the enum's own String() output
		// (spec §4.6 rule 6: "string values parsed case-insensitively").
		if rv, ok := lookupEnumByName(rt, s); ok {
			return rv, nil
		}
		return reflect.Value{}, &ConversionError{Value: v, Type: rt}
	default:
		n, err := toInt64(v)
		if err != nil {
			return reflect.Value{}, &ConversionError{Value: v, Type: rt}
		}
		return reflect.ValueOf(n).Convert(rt), nil
	}
}

// enumProbeRange bounds the brute-force search lookupEnumByName runs
// over an enum's underlying integer values. The coercer has no access
// to the const declarations that actually name an enum's members — Go
// keeps no runtime record of them — so it reconstructs the name-to-
// value mapping by calling the type's own String() method across a
// bounded range and comparing case-insensitively, rather than
// requiring every enum to register a lookup table with this package.
const enumProbeRange = 256

var stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()

// lookupEnumByName finds the member of rt whose String() representation
// matches name case-insensitively. rt must implement fmt.Stringer with
// a value receiver (the convention every enum in this codebase follows)
// for this to find anything.
func lookupEnumByName(rt reflect.Type, name string) (reflect.Value, bool) {
	if !rt.Implements(stringerType) {
		return reflect.Value{}, false
	}
	signed := rt.Kind() <= reflect.Int64
	for i := 0; i < enumProbeRange; i++ {
		candidate := reflect.New(rt).Elem()
		if signed {
			candidate.SetInt(int64(i))
		} else {
			candidate.SetUint(uint64(i))
		}
		if s, ok := candidate.Interface().(fmt.Stringer); ok && strings.EqualFold(s.String(), name) {
			return candidate, true
		}
	}
	return reflect.Value{}, false
}

func coercePrimitive(v any, rt reflect.Type) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Type().ConvertibleTo(rt) {
		switch rt.Kind() {
		case reflect.String, reflect.Bool:
			if rv.Type().Kind() == rt.Kind() {
				return rv.Convert(rt), nil
			}
		default:
			if isNumericKind(rv.Type().Kind()) && isNumericKind(rt.Kind()) {
				return rv.Convert(rt), nil
			}
		}
	}

	s, ok := v.(string)
	if !ok {
		if stringer, ok := v.(fmt.Stringer); ok {
			s = stringer.String()
		} else {
			return reflect.Value{}, &ConversionError{Value: v, Type: rt}
		}
	}
	s = strings.TrimSpace(s)

	switch rt.Kind() {
	case reflect.String:
		return reflect.ValueOf(s).Convert(rt), nil
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return reflect.Value{}, &ConversionError{Value: v, Type: rt}
		}
		return reflect.ValueOf(b).Convert(rt), nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return reflect.Value{}, &ConversionError{Value: v, Type: rt}
		}
		return reflect.ValueOf(f).Convert(rt), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return reflect.Value{}, &ConversionError{Value: v, Type: rt}
		}
		return reflect.ValueOf(n).Convert(rt), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return reflect.Value{}, &ConversionError{Value: v, Type: rt}
		}
		return reflect.ValueOf(n).Convert(rt), nil
	default:
		return reflect.Value{}, &ConversionError{Value: v, Type: rt}
	}
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func toInt64(v any) (int64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float()), nil
	case reflect.Slice:
		if b, ok := v.([]byte); ok && len(b) == 8 {
			return int64(binary.BigEndian.Uint64(b)), nil
		}
	}
	return 0, fmt.Errorf("scalar: %T is not numeric", v)
}
