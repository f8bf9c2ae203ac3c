package storage

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizeKey(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "string_trimmed", in: "  fitness ", want: "fitness"},
		{name: "bytes", in: []byte(" travel"), want: "travel"},
		{name: "int64", in: int64(8429529), want: "8429529"},
		{name: "int", in: 42, want: "42"},
		{name: "int32", in: int32(7), want: "7"},
		{name: "integral_float", in: float64(3), want: "3"},
		{name: "fractional_float", in: 2.5, want: "2.5"},
		{name: "json_number", in: json.Number("12"), want: "12"},
		{name: "bool", in: true, want: "true"},
		{name: "time_utc", in: ts, want: "2024-03-01T11:00:00Z"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeKey(tc.in); got != tc.want {
				t.Fatalf("NormalizeKey(%#v)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestCompositeKey_DriverTypesAgree(t *testing.T) {
	// Postgres scans bigint as int64, badger decodes JSON numbers as float64 or
	// json.Number, and the normalizer produces int64. All must collide.
	a := CompositeKey(int64(1), int64(2))
	b := CompositeKey(float64(1), json.Number("2"))
	if a != b {
		t.Fatalf("composite keys differ: %q vs %q", a, b)
	}
	if CompositeKey(int64(1), int64(23)) == CompositeKey(int64(12), int64(3)) {
		t.Fatalf("composite keys must not be ambiguous")
	}
	if CompositeKey("x") != NormalizeKey("x") {
		t.Fatalf("single part composite key must equal NormalizeKey")
	}
}

func TestKeySet(t *testing.T) {
	s := NewKeySet(2)
	s.Add(int64(1), int64(2))
	s.Add("fitness")

	if !s.Has(CompositeKey(1, 2)) {
		t.Fatalf("expected (1,2) present")
	}
	if !s.Has("fitness") || s.Has("travel") {
		t.Fatalf("unexpected membership")
	}
	if s.Len() != 2 {
		t.Fatalf("Len()=%d, want 2", s.Len())
	}

	var empty KeySet
	if empty.Has("anything") {
		t.Fatalf("nil KeySet must be empty")
	}
}
