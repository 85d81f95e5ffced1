package odata

import "testing"

func TestClampLimit_NilUsesDefault(t *testing.T) {
	cfg := LimitConfig{Default: 20, Max: 100}
	if got := ClampLimit(nil, cfg); got != 20 {
		t.Fatalf("got %d, want 20", got)
	}
}

func TestClampLimit_ZeroRaisedToOne(t *testing.T) {
	zero := 0
	if got := ClampLimit(&zero, LimitConfig{Default: 20, Max: 100}); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}

func TestClampLimit_CappedToMax(t *testing.T) {
	big := 500
	if got := ClampLimit(&big, LimitConfig{Default: 20, Max: 100}); got != 100 {
		t.Fatalf("got %d, want 100", got)
	}
}

func TestClampLimit_WithinBoundsUnchanged(t *testing.T) {
	n := 42
	if got := ClampLimit(&n, LimitConfig{Default: 20, Max: 100}); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}
