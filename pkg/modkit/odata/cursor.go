package odata

import (
	"encoding/base64"
	"encoding/json"

	"github.com/hyperspot-run/modkit/pkg/modkit/modkiterrors"
)

// maxCursorBytes bounds the decoded JSON envelope; larger payloads are
// rejected outright rather than parsed.
const maxCursorBytes = 4096

// CursorV1 is the opaque keyset-pagination cursor, versioned for forward
// compatibility with future cursor formats.
type CursorV1 struct {
	V int      `json:"v"`
	K []string `json:"k"`
	O string   `json:"o"`
	S string   `json:"s"`
	F string   `json:"f,omitempty"`
}

// Encode serializes the cursor as compact JSON, base64url (no padding).
func (c CursorV1) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor reverses Encode, validating the envelope's invariants:
// v==1, non-empty k, non-empty s, o in {asc,desc}, and a 4 KiB size bound.
func DecodeCursor(s string) (CursorV1, error) {
	var out CursorV1
	if len(s) > maxCursorBytes*2 { // base64 expands ~4/3; cheap early reject
		return out, modkiterrors.NewInvalidCursorError(modkiterrors.CursorTooLarge)
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return out, modkiterrors.NewInvalidCursorError(modkiterrors.CursorInvalidBase64)
	}
	if len(raw) > maxCursorBytes {
		return out, modkiterrors.NewInvalidCursorError(modkiterrors.CursorTooLarge)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, modkiterrors.NewInvalidCursorError(modkiterrors.CursorInvalidJSON)
	}
	if out.V != 1 {
		return out, modkiterrors.NewInvalidCursorError(modkiterrors.CursorInvalidVersion)
	}
	if len(out.K) == 0 {
		return out, modkiterrors.NewInvalidCursorError(modkiterrors.CursorInvalidKeys)
	}
	if out.S == "" {
		return out, modkiterrors.NewInvalidCursorError(modkiterrors.CursorInvalidFields)
	}
	if out.O != "asc" && out.O != "desc" {
		return out, modkiterrors.NewInvalidCursorError(modkiterrors.CursorInvalidDirection)
	}
	return out, nil
}

// Order parses the cursor's signed order tokens (s) into an OrderSpec,
// validated against fm. This is the effective order for a request that
// supplies this cursor: a separately provided order param is ignored.
func (c CursorV1) Order(fm FieldMap) (OrderSpec, error) {
	return ParseOrderTokens(c.S, fm)
}

// NewCursor builds a CursorV1 from an effective order, the per-field cursor
// key strings (aligned 1:1 with order), and an optional filter hash.
func NewCursor(order OrderSpec, keys []string, filterHash string) CursorV1 {
	primaryDir := "asc"
	if len(order) > 0 && order[0].Desc {
		primaryDir = "desc"
	}
	return CursorV1{V: 1, K: keys, O: primaryDir, S: order.Render(), F: filterHash}
}
