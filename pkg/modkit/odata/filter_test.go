package odata

import (
	"errors"
	"testing"

	"github.com/hyperspot-run/modkit/pkg/modkit/modkiterrors"
)

func TestCompileFilter_SimpleComparison(t *testing.T) {
	fm := testFieldMap()
	expr := Compare{Field: Identifier{Name: "name"}, Op: OpEq, Value: StringValue("acme")}
	cond, err := CompileFilter(expr, fm)
	if err != nil {
		t.Fatalf("CompileFilter() error = %v", err)
	}
	if cond.SQL != "name = ?" || len(cond.Args) != 1 || cond.Args[0] != "acme" {
		t.Fatalf("got %+v", cond)
	}
}

func TestCompileFilter_UnknownFieldRejected(t *testing.T) {
	expr := Compare{Field: Identifier{Name: "bogus"}, Op: OpEq, Value: StringValue("x")}
	_, err := CompileFilter(expr, testFieldMap())
	if !errors.Is(err, modkiterrors.ErrInvalidFilter) {
		t.Fatalf("expected unknown-field error, got %v", err)
	}
}

func TestCompileFilter_TypeMismatchRejected(t *testing.T) {
	expr := Compare{Field: Identifier{Name: "id"}, Op: OpEq, Value: StringValue("not-a-number")}
	_, err := CompileFilter(expr, testFieldMap())
	if !errors.Is(err, modkiterrors.ErrInvalidFilter) {
		t.Fatalf("expected type-mismatch error, got %v", err)
	}
}

func TestCompileFilter_NullEqAndNe(t *testing.T) {
	fm := testFieldMap()
	eq, err := CompileFilter(Compare{Field: Identifier{Name: "name"}, Op: OpEq, Value: NullValue()}, fm)
	if err != nil || eq.SQL != "name IS NULL" {
		t.Fatalf("eq-null got %+v, err %v", eq, err)
	}
	ne, err := CompileFilter(Compare{Field: Identifier{Name: "name"}, Op: OpNe, Value: NullValue()}, fm)
	if err != nil || ne.SQL != "name IS NOT NULL" {
		t.Fatalf("ne-null got %+v, err %v", ne, err)
	}
}

func TestCompileFilter_NullWithOrderingOpUnsupported(t *testing.T) {
	_, err := CompileFilter(Compare{Field: Identifier{Name: "id"}, Op: OpGt, Value: NullValue()}, testFieldMap())
	if err == nil {
		t.Fatal("expected UnsupportedOp for gt-null")
	}
}

func TestCompileFilter_InEmptyListIsFalse(t *testing.T) {
	cond, err := CompileFilter(In{Field: Identifier{Name: "name"}, Values: nil}, testFieldMap())
	if err != nil {
		t.Fatalf("CompileFilter() error = %v", err)
	}
	if cond.SQL != "1=0" {
		t.Fatalf("got %+v, want the false condition", cond)
	}
}

func TestCompileFilter_InNonEmptyList(t *testing.T) {
	cond, err := CompileFilter(In{Field: Identifier{Name: "name"}, Values: []Value{StringValue("a"), StringValue("b")}}, testFieldMap())
	if err != nil {
		t.Fatalf("CompileFilter() error = %v", err)
	}
	if cond.SQL != "name IN (?, ?)" || len(cond.Args) != 2 {
		t.Fatalf("got %+v", cond)
	}
}

func TestCompileFilter_ContainsEscapesWildcards(t *testing.T) {
	cond, err := CompileFilter(Function{Name: "contains", Field: Identifier{Name: "name"}, Arg: "50%_off"}, testFieldMap())
	if err != nil {
		t.Fatalf("CompileFilter() error = %v", err)
	}
	if cond.Args[0] != `%50\%\_off%` {
		t.Fatalf("got args %+v", cond.Args)
	}
}

func TestCompileFilter_AndOr(t *testing.T) {
	expr := And{Children: []Expr{
		Compare{Field: Identifier{Name: "name"}, Op: OpEq, Value: StringValue("a")},
		Or{Children: []Expr{
			Compare{Field: Identifier{Name: "id"}, Op: OpGt, Value: NumberValue("1")},
			Compare{Field: Identifier{Name: "id"}, Op: OpLt, Value: NumberValue("0")},
		}},
	}}
	cond, err := CompileFilter(expr, testFieldMap())
	if err != nil {
		t.Fatalf("CompileFilter() error = %v", err)
	}
	want := "(name = ?) AND ((id > ?) OR (id < ?))"
	if cond.SQL != want {
		t.Fatalf("got %q, want %q", cond.SQL, want)
	}
}

func TestBuildCursorPredicate_ArityMismatch(t *testing.T) {
	order := OrderSpec{{Field: "name"}, {Field: "id"}}
	_, err := buildCursorPredicate([]string{"only-one"}, order, testFieldMap())
	if !errors.Is(err, modkiterrors.ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestBuildCursorPredicate_OrOfPrefixAnds(t *testing.T) {
	order := OrderSpec{{Field: "name"}, {Field: "id"}}
	cond, err := buildCursorPredicate([]string{"acme", "7"}, order, testFieldMap())
	if err != nil {
		t.Fatalf("buildCursorPredicate() error = %v", err)
	}
	want := "((name > ?)) OR ((name = ?) AND (id > ?))"
	if cond.SQL != want {
		t.Fatalf("got %q, want %q", cond.SQL, want)
	}
	if len(cond.Args) != 3 {
		t.Fatalf("got %d args, want 3", len(cond.Args))
	}
}
