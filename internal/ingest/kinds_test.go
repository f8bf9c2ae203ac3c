package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/storage"
)

func TestLookupKind(t *testing.T) {
	t.Parallel()

	k, err := LookupKind("influencers")
	require.NoError(t, err)
	assert.Equal(t, Entity, k.EntityKind)
	assert.Equal(t, []string{"username"}, k.Key)

	_, err = LookupKind("influencer_hashtags")
	require.ErrorIs(t, err, ErrUnknownKind)
	assert.Contains(t, err.Error(), "influencer_hashtags")
}

func TestKind_AssociationTableNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "influencer_hashtag", mustKind(t, "influencer_hashtag").Table().Name)
	assert.Equal(t, "influencer_brand", mustKind(t, "influencer_brand").Table().Name)
}

func TestKindNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"brands", "hashtags", "influencer_brand", "influencer_hashtag", "influencers"}, KindNames())
}

func TestKind_PayloadColumns(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"usage_count"}, mustKind(t, "influencer_hashtag").PayloadColumns())
	assert.Equal(t, []string{"industry", "website", "description", "contact_email"}, mustKind(t, "brands").PayloadColumns())
}

func TestKind_References(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []storage.Reference{
		{Table: "influencers", Column: "id"},
		{Table: "brands", Column: "id"},
	}, mustKind(t, "influencer_brand").References())
	assert.Empty(t, mustKind(t, "brands").References())
}

func TestKind_Table(t *testing.T) {
	t.Parallel()

	tbl := mustKind(t, "hashtags").Table()
	assert.Equal(t, []string{"id"}, tbl.PrimaryKey)
	require.Len(t, tbl.Constraints, 1)
	assert.Equal(t, []string{"name"}, tbl.Constraints[0].Columns)

	name, ok := tbl.Column("name")
	require.True(t, ok)
	assert.Equal(t, storage.TypeVarchar, name.Type)
	assert.Equal(t, 100, name.Length)
	assert.False(t, name.IsNullable())

	link := mustKind(t, "influencer_hashtag").Table()
	assert.Empty(t, link.Constraints)
	usage, _ := link.Column("usage_count")
	assert.Equal(t, storage.TypeInteger, usage.Type)
}

func TestKind_TablesReferencedFirst(t *testing.T) {
	t.Parallel()

	var names []string
	for _, tbl := range mustKind(t, "influencer_brand").Tables() {
		names = append(names, tbl.Name)
	}
	assert.Equal(t, []string{"influencers", "brands", "influencer_brand"}, names)
}

func TestAllTables_CreationOrder(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, tbl := range AllTables() {
		for _, c := range tbl.Columns {
			if ref, ok := c.Reference(); ok {
				assert.True(t, seen[ref.Table], "%s references %s before it exists", tbl.Name, ref.Table)
			}
		}
		seen[tbl.Name] = true
	}
	assert.Len(t, seen, 5)
}

func TestDependents(t *testing.T) {
	t.Parallel()

	var names []string
	for _, k := range Dependents(mustKind(t, "influencers")) {
		names = append(names, k.Name)
	}
	assert.Equal(t, []string{"influencer_hashtag", "influencer_brand"}, names)
	assert.Empty(t, Dependents(mustKind(t, "influencer_hashtag")))
}
