package odata

import "testing"

func testFieldMap() FieldMap {
	return FieldMap{
		"id":         {Column: "id", Kind: FieldI64},
		"name":       {Column: "name", Kind: FieldString},
		"created_at": {Column: "created_at", Kind: FieldDateTimeUTC},
	}
}

func TestOrderSpec_RenderRoundTrip(t *testing.T) {
	order := OrderSpec{{Field: "name"}, {Field: "created_at", Desc: true}}
	rendered := order.Render()
	if rendered != "+name,-created_at" {
		t.Fatalf("Render() = %q", rendered)
	}

	parsed, err := ParseOrderTokens(rendered, testFieldMap())
	if err != nil {
		t.Fatalf("ParseOrderTokens() error = %v", err)
	}
	if len(parsed) != 2 || parsed[0] != order[0] || parsed[1] != order[1] {
		t.Fatalf("parsed = %+v, want %+v", parsed, order)
	}
}

func TestParseOrderTokens_UnsignedDefaultsToAscending(t *testing.T) {
	parsed, err := ParseOrderTokens("name", testFieldMap())
	if err != nil {
		t.Fatalf("ParseOrderTokens() error = %v", err)
	}
	if len(parsed) != 1 || parsed[0].Desc {
		t.Fatalf("parsed = %+v, want ascending name", parsed)
	}
}

func TestParseOrderTokens_UnknownFieldRejected(t *testing.T) {
	if _, err := ParseOrderTokens("+bogus", testFieldMap()); err == nil {
		t.Fatal("expected an error for an unmapped order field")
	}
}

func TestEnsureTiebreaker_AppendsWhenAbsent(t *testing.T) {
	order := OrderSpec{{Field: "name"}}
	got := EnsureTiebreaker(order, "id")
	if len(got) != 2 || got[1].Field != "id" || got[1].Desc {
		t.Fatalf("got %+v", got)
	}
}

func TestEnsureTiebreaker_NoOpWhenAlreadyPresent(t *testing.T) {
	order := OrderSpec{{Field: "name"}, {Field: "id", Desc: true}}
	got := EnsureTiebreaker(order, "id")
	if len(got) != 2 {
		t.Fatalf("got %+v, want unchanged", got)
	}
}
