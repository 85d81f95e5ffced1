package odata

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hyperspot-run/modkit/pkg/modkit/modkiterrors"
)

// FieldKind is the typed kind a mapped field's column holds.
type FieldKind string

const (
	FieldString      FieldKind = "string"
	FieldI64         FieldKind = "i64"
	FieldF64         FieldKind = "f64"
	FieldBool        FieldKind = "bool"
	FieldUUID        FieldKind = "uuid"
	FieldDateTimeUTC FieldKind = "datetime_utc"
	FieldDate        FieldKind = "date"
	FieldTime        FieldKind = "time"
	FieldDecimal     FieldKind = "decimal"
)

// FieldSpec describes one whitelisted, API-visible field.
type FieldSpec struct {
	// Column is the backend column reference emitted into compiled SQL.
	Column string
	Kind   FieldKind
	// Extract reads this field's cursor-key string form out of a domain
	// row, used when building next/prev cursors. Optional: fields never
	// used in ordering/cursor keys may leave this nil.
	Extract func(row any) (string, error)
}

// FieldMap is the per-entity whitelist: API-visible (lowercased) name ->
// FieldSpec. Only mapped fields are valid in filters, ordering and cursor
// keys.
type FieldMap map[string]FieldSpec

// Lookup resolves name (case-insensitively) or returns UnknownFieldError.
func (fm FieldMap) Lookup(name string) (FieldSpec, error) {
	spec, ok := fm[strings.ToLower(name)]
	if !ok {
		return FieldSpec{}, modkiterrors.NewUnknownFieldError(name)
	}
	return spec, nil
}

// CoerceValue converts v into the driver-ready value for field's kind,
// returning TypeMismatchError on a kind conflict.
func CoerceValue(field FieldSpec, v Value) (any, error) {
	if v.Kind == KindNull {
		return nil, nil
	}
	switch field.Kind {
	case FieldString:
		if v.Kind != KindString {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldString), string(v.Kind))
		}
		return v.Raw, nil
	case FieldBool:
		if v.Kind != KindBool {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldBool), string(v.Kind))
		}
		return v.Bool, nil
	case FieldI64:
		if v.Kind != KindNumber {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldI64), string(v.Kind))
		}
		n, err := strconv.ParseInt(v.Raw, 10, 64)
		if err != nil {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldI64), v.Raw)
		}
		return n, nil
	case FieldF64:
		if v.Kind != KindNumber {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldF64), string(v.Kind))
		}
		f, err := strconv.ParseFloat(v.Raw, 64)
		if err != nil {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldF64), v.Raw)
		}
		return f, nil
	case FieldDecimal:
		if v.Kind != KindNumber {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldDecimal), string(v.Kind))
		}
		d, err := decimal.NewFromString(v.Raw)
		if err != nil {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldDecimal), v.Raw)
		}
		return d, nil
	case FieldUUID:
		if v.Kind != KindUUID && v.Kind != KindString {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldUUID), string(v.Kind))
		}
		id, err := uuid.Parse(v.Raw)
		if err != nil {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldUUID), v.Raw)
		}
		return id, nil
	case FieldDateTimeUTC:
		if v.Kind != KindDateTime && v.Kind != KindString {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldDateTimeUTC), string(v.Kind))
		}
		t, err := time.Parse(time.RFC3339, v.Raw)
		if err != nil {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldDateTimeUTC), v.Raw)
		}
		return t.UTC(), nil
	case FieldDate:
		if v.Kind != KindDate && v.Kind != KindString {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldDate), string(v.Kind))
		}
		t, err := time.Parse("2006-01-02", v.Raw)
		if err != nil {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldDate), v.Raw)
		}
		return t, nil
	case FieldTime:
		if v.Kind != KindTime && v.Kind != KindString {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldTime), string(v.Kind))
		}
		t, err := time.Parse("15:04:05", v.Raw)
		if err != nil {
			return nil, modkiterrors.NewTypeMismatchError(string(FieldTime), v.Raw)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unhandled field kind: %s", field.Kind)
	}
}

// ParseCursorKey parses a cursor's stored string form of a key back into the
// driver-ready value for field's kind. Errors always map to InvalidCursor,
// never leaking a lower-level parse error.
func ParseCursorKey(field FieldSpec, s string) (any, error) {
	v, err := CoerceValue(field, stringAsValueFor(field, s))
	if err != nil {
		return nil, modkiterrors.NewInvalidCursorError(modkiterrors.CursorBadKeyValue)
	}
	return v, nil
}

func stringAsValueFor(field FieldSpec, s string) Value {
	switch field.Kind {
	case FieldBool:
		return BoolValue(s == "true")
	case FieldI64, FieldF64, FieldDecimal:
		return NumberValue(s)
	case FieldUUID:
		return UUIDValue(s)
	case FieldDateTimeUTC:
		return Value{Kind: KindDateTime, Raw: s}
	case FieldDate:
		return Value{Kind: KindDate, Raw: s}
	case FieldTime:
		return Value{Kind: KindTime, Raw: s}
	default:
		return StringValue(s)
	}
}
