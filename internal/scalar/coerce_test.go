package scalar

import (
	"testing"

	"github.com/google/uuid"
)

func TestCoerceNullToZeroValue(t *testing.T) {
	v, err := Coerce[int64](nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0 {
		t.Fatalf("expected zero value, got %d", v)
	}
}

func TestCoerceNullToNullablePointer(t *testing.T) {
	v, err := Coerce[*int64](nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != nil {
		t.Fatalf("expected nil pointer, got %v", *v)
	}
}

func TestCoercePassthroughSameType(t *testing.T) {
	v, err := Coerce[string]("hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "hello" {
		t.Fatalf("expected hello, got %q", v)
	}
}

func TestCoerceNullablePointerWrapsValue(t *testing.T) {
	v, err := Coerce[*int64](int64(7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v == nil || *v != 7 {
		t.Fatalf("expected pointer to 7, got %v", v)
	}
}

func TestCoerceUUIDFromString(t *testing.T) {
	want := uuid.New()
	v, err := Coerce[uuid.UUID](want.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != want {
		t.Fatalf("expected %s, got %s", want, v)
	}
}

func TestCoerceUUIDFromBytes(t *testing.T) {
	want := uuid.New()
	b := want[:]
	v, err := Coerce[uuid.UUID]([]byte(b))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != want {
		t.Fatalf("expected %s, got %s", want, v)
	}
}

func TestCoerceByteSlice(t *testing.T) {
	v, err := Coerce[[]byte]("hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(v) != "hello" {
		t.Fatalf("expected hello, got %q", v)
	}
}

type status int

const (
	statusActive status = iota + 1
	statusClosed
)

func (s status) String() string {
	switch s {
	case statusActive:
		return "Active"
	case statusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

func TestCoerceEnumFromNumericString(t *testing.T) {
	v, err := Coerce[status]("2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != statusClosed {
		t.Fatalf("expected statusClosed, got %v", v)
	}
}

func TestCoerceEnumFromInt(t *testing.T) {
	v, err := Coerce[status](int64(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != statusActive {
		t.Fatalf("expected statusActive, got %v", v)
	}
}

func TestCoerceEnumFromNamedStringCaseInsensitive(t *testing.T) {
	v, err := Coerce[status]("active")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != statusActive {
		t.Fatalf("expected statusActive, got %v", v)
	}

	v, err = Coerce[status]("CLOSED")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != statusClosed {
		t.Fatalf("expected statusClosed, got %v", v)
	}
}

func TestCoerceEnumRejectsUnknownName(t *testing.T) {
	_, err := Coerce[status]("bogus")
	if err == nil {
		t.Fatal("expected conversion error for an unrecognized enum name")
	}
	var convErr *ConversionError
	if !asConversionError(err, &convErr) {
		t.Fatalf("expected *ConversionError, got %T", err)
	}
}

func TestCoercePrimitiveStringToInt(t *testing.T) {
	v, err := Coerce[int64]("123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 123 {
		t.Fatalf("expected 123, got %d", v)
	}
}

func TestCoercePrimitiveNumericWiden(t *testing.T) {
	v, err := Coerce[int64](int32(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 5 {
		t.Fatalf("expected 5, got %d", v)
	}
}

func TestCoerceInvalidConversionFails(t *testing.T) {
	_, err := Coerce[int64]("not-a-number")
	if err == nil {
		t.Fatal("expected conversion error")
	}
	var convErr *ConversionError
	if !asConversionError(err, &convErr) {
		t.Fatalf("expected *ConversionError, got %T", err)
	}
}

func asConversionError(err error, target **ConversionError) bool {
	ce, ok := err.(*ConversionError)
	if ok {
		*target = ce
	}
	return ok
}
