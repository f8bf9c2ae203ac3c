package storage

import "testing"

func TestParseReference(t *testing.T) {
	tests := []struct {
		in     string
		want   Reference
		wantOK bool
	}{
		{in: "hashtags(id)", want: Reference{Table: "hashtags", Column: "id"}, wantOK: true},
		{in: " public.influencers ( id ) ", want: Reference{Table: "public.influencers", Column: "id"}, wantOK: true},
		{in: "", wantOK: false},
		{in: "hashtags", wantOK: false},
		{in: "(id)", wantOK: false},
		{in: "hashtags()", wantOK: false},
	}
	for _, tc := range tests {
		got, ok := ParseReference(tc.in)
		if ok != tc.wantOK || got != tc.want {
			t.Fatalf("ParseReference(%q)=(%+v,%v), want (%+v,%v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestTableSpec_UniqueKeysAndValidate(t *testing.T) {
	spec := TableSpec{
		Name: "hashtags",
		Columns: []ColumnSpec{
			{Name: "id", Type: TypeBigInt, Nullable: BoolPtr(false)},
			{Name: "name", Type: TypeVarchar, Length: 100, Nullable: BoolPtr(false)},
			{Name: "topic", Type: TypeVarchar, Length: 100},
		},
		PrimaryKey:  []string{"id"},
		Constraints: []ConstraintSpec{{Kind: "unique", Columns: []string{"name"}}},
	}
	if err := spec.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	keys := spec.UniqueKeys()
	if len(keys) != 2 || keys[0][0] != "id" || keys[1][0] != "name" {
		t.Fatalf("UniqueKeys()=%v", keys)
	}

	c, ok := spec.Column("topic")
	if !ok || !c.IsNullable() {
		t.Fatalf("topic should be a nullable column")
	}
	c, _ = spec.Column("name")
	if c.IsNullable() {
		t.Fatalf("name should be NOT NULL")
	}

	bad := spec
	bad.Constraints = []ConstraintSpec{{Kind: "check", Columns: []string{"name"}}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected unsupported constraint error")
	}

	bad = spec
	bad.PrimaryKey = []string{"missing"}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected undeclared key column error")
	}
}
