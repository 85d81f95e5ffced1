package odata

import (
	"strings"
	"testing"

	"github.com/hyperspot-run/modkit/pkg/modkit/modkiterrors"
)

func TestCursor_RoundTrip(t *testing.T) {
	c := NewCursor(OrderSpec{{Field: "created_at"}, {Field: "id", Desc: true}}, []string{"2024-01-01T00:00:00Z", "42"}, "abc123")
	encoded, err := c.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := DecodeCursor(encoded)
	if err != nil {
		t.Fatalf("DecodeCursor() error = %v", err)
	}
	if decoded.V != 1 || len(decoded.K) != 2 || decoded.S != "+created_at,-id" || decoded.F != "abc123" {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestDecodeCursor_RejectsBadVersion(t *testing.T) {
	c := CursorV1{V: 2, K: []string{"a"}, O: "asc", S: "+id"}
	encoded, _ := c.Encode()
	_, err := DecodeCursor(encoded)
	assertCursorReason(t, err, modkiterrors.CursorInvalidVersion)
}

func TestDecodeCursor_RejectsEmptyKeys(t *testing.T) {
	c := CursorV1{V: 1, K: []string{}, O: "asc", S: "+id"}
	encoded, _ := c.Encode()
	_, err := DecodeCursor(encoded)
	assertCursorReason(t, err, modkiterrors.CursorInvalidKeys)
}

func TestDecodeCursor_RejectsEmptyOrderTokens(t *testing.T) {
	c := CursorV1{V: 1, K: []string{"a"}, O: "asc", S: ""}
	encoded, _ := c.Encode()
	_, err := DecodeCursor(encoded)
	assertCursorReason(t, err, modkiterrors.CursorInvalidFields)
}

func TestDecodeCursor_RejectsBadDirection(t *testing.T) {
	c := CursorV1{V: 1, K: []string{"a"}, O: "sideways", S: "+id"}
	encoded, _ := c.Encode()
	_, err := DecodeCursor(encoded)
	assertCursorReason(t, err, modkiterrors.CursorInvalidDirection)
}

func TestDecodeCursor_RejectsGarbageBase64(t *testing.T) {
	_, err := DecodeCursor("not valid base64url!!!")
	assertCursorReason(t, err, modkiterrors.CursorInvalidBase64)
}

func TestDecodeCursor_RejectsOversizedPayload(t *testing.T) {
	huge := strings.Repeat("a", 10000)
	_, err := DecodeCursor(huge)
	var invalidCursor *modkiterrors.InvalidCursorError
	if err == nil {
		t.Fatal("expected an error for an oversized cursor")
	}
	_ = invalidCursor
}

func assertCursorReason(t *testing.T, err error, want string) {
	t.Helper()
	ice, ok := err.(*modkiterrors.InvalidCursorError)
	if !ok {
		t.Fatalf("expected *InvalidCursorError, got %T (%v)", err, err)
	}
	if ice.Reason != want {
		t.Fatalf("Reason = %s, want %s", ice.Reason, want)
	}
}
