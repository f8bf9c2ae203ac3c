package ingest

import (
	"fmt"
	"slices"
	"sort"

	"ingest/internal/storage"
)

// Kind describes one importable table: its input fields, business key and
// the table it loads.
type Kind struct {
	Name       string
	EntityKind EntityKind
	Fields     []FieldSpec

	// Key is the business key: the unique natural key of an entity, or the
	// ordered pair of foreign keys of an association.
	Key []string

	// PrimaryKey is the table's primary key. For associations it equals Key.
	PrimaryKey []string

	// Aliases maps normalized input headers to field names.
	Aliases map[string]string

	// DefaultPolicy is the upsert conflict policy when none is configured.
	DefaultPolicy storage.ConflictPolicy

	// DefaultBatchSize is used when Options.BatchSize is 0.
	DefaultBatchSize int
}

// Columns returns the field names in declaration order.
func (k Kind) Columns() []string {
	out := make([]string, len(k.Fields))
	for i, f := range k.Fields {
		out[i] = f.Name
	}
	return out
}

// PayloadColumns are the columns an upsert may refresh: every column outside
// the business key and primary key.
func (k Kind) PayloadColumns() []string {
	var out []string
	for _, f := range k.Fields {
		if !slices.Contains(k.Key, f.Name) && !slices.Contains(k.PrimaryKey, f.Name) {
			out = append(out, f.Name)
		}
	}
	return out
}

// References returns the foreign key target of each Key column. It is empty
// for entities.
func (k Kind) References() []storage.Reference {
	if k.EntityKind != Association {
		return nil
	}
	out := make([]storage.Reference, 0, len(k.Key))
	for _, name := range k.Key {
		f, _ := k.Field(name)
		if ref, ok := storage.ParseReference(f.References); ok {
			out = append(out, ref)
		}
	}
	return out
}

// Field returns the named field.
func (k Kind) Field(name string) (FieldSpec, bool) {
	for _, f := range k.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Table builds the storage spec of the kind's table.
func (k Kind) Table() storage.TableSpec {
	cols := make([]storage.ColumnSpec, len(k.Fields))
	for i, f := range k.Fields {
		cols[i] = f.ColumnSpec()
	}
	t := storage.TableSpec{Name: k.Name, Columns: cols, PrimaryKey: k.PrimaryKey}
	if !slices.Equal(k.Key, k.PrimaryKey) {
		t.Constraints = []storage.ConstraintSpec{{Kind: "unique", Columns: k.Key}}
	}
	return t
}

// Tables returns the kind's table preceded by every table it references, in
// creation order.
func (k Kind) Tables() []storage.TableSpec {
	var out []storage.TableSpec
	for _, ref := range k.References() {
		if dep, err := LookupKind(ref.Table); err == nil {
			out = append(out, dep.Table())
		}
	}
	return append(out, k.Table())
}

func (k Kind) validate() error {
	if len(k.Key) == 0 {
		return fmt.Errorf("kind %s: business key is empty", k.Name)
	}
	if k.EntityKind == Association && len(k.References()) != len(k.Key) {
		return fmt.Errorf("kind %s: every association key column needs a reference", k.Name)
	}
	return k.Table().Validate()
}

var registry = []Kind{
	{
		Name:       "hashtags",
		EntityKind: Entity,
		Fields: []FieldSpec{
			integer("id").notNull(),
			text("name", 100).notNull(),
			text("topic", 100),
			text("description", 255),
		},
		Key:              []string{"name"},
		PrimaryKey:       []string{"id"},
		Aliases:          map[string]string{"hashtag": "name", "hashtag_name": "name"},
		DefaultPolicy:    storage.ConflictIgnore,
		DefaultBatchSize: 1000,
	},
	{
		Name:       "influencers",
		EntityKind: Entity,
		Fields: []FieldSpec{
			integer("id").notNull(),
			text("username", 50).notNull(),
			text("full_name", 100),
			text("profile_link", 255),
			text("bio", 0).html(),
			text("creator_gender", 20),
			text("creator_city", 100),
			text("creator_state", 100),
			text("creator_country", 100),
			integer("followers_count"),
			integer("average_likes"),
			integer("average_views"),
			float("engagement_rate"),
			email("email", 100),
			text("instagram_link", 255),
			text("youtube_link", 255),
			text("video_desc", 0).html(),
			integer("video_count"),
			text("view_counts", 0),
			integer("most_view_count"),
			timestamp("most_recent_upload"),
			boolean("verified"),
			text("audience_desc", 0).html(),
		},
		Key:              []string{"username"},
		PrimaryKey:       []string{"id"},
		Aliases:          map[string]string{"handle": "username", "name": "full_name"},
		DefaultPolicy:    storage.ConflictIgnore,
		DefaultBatchSize: 1000,
	},
	{
		Name:       "brands",
		EntityKind: Entity,
		Fields: []FieldSpec{
			integer("id").notNull(),
			text("name", 100).notNull(),
			text("industry", 50),
			text("website", 255),
			text("description", 0).html(),
			email("contact_email", 100),
		},
		Key:              []string{"name"},
		PrimaryKey:       []string{"id"},
		Aliases:          map[string]string{"brand": "name", "brand_name": "name", "email": "contact_email"},
		DefaultPolicy:    storage.ConflictIgnore,
		DefaultBatchSize: 1000,
	},
	{
		Name:       "influencer_hashtag",
		EntityKind: Association,
		Fields: []FieldSpec{
			integer("influencer_id").notNull().references("influencers(id)"),
			integer("hashtag_id").notNull().references("hashtags(id)"),
			smallInteger("usage_count"),
		},
		Key:        []string{"influencer_id", "hashtag_id"},
		PrimaryKey: []string{"influencer_id", "hashtag_id"},
		Aliases: map[string]string{
			"left_key":  "influencer_id",
			"right_key": "hashtag_id",
			"payload":   "usage_count",
			"count":     "usage_count",
		},
		DefaultPolicy:    storage.ConflictUpdate,
		DefaultBatchSize: 10000,
	},
	{
		Name:       "influencer_brand",
		EntityKind: Association,
		Fields: []FieldSpec{
			integer("influencer_id").notNull().references("influencers(id)"),
			integer("brand_id").notNull().references("brands(id)"),
			smallInteger("sales"),
			smallInteger("payout"),
			text("collaboration_details", 0),
			date("start_date"),
			date("end_date"),
		},
		Key:        []string{"influencer_id", "brand_id"},
		PrimaryKey: []string{"influencer_id", "brand_id"},
		Aliases: map[string]string{
			"left_key":  "influencer_id",
			"right_key": "brand_id",
			"payload":   "sales",
		},
		DefaultPolicy:    storage.ConflictUpdate,
		DefaultBatchSize: 10000,
	},
}

func init() {
	for _, k := range registry {
		if err := k.validate(); err != nil {
			panic(err)
		}
	}
}

// Kinds returns every registered kind in table creation order.
func Kinds() []Kind { return slices.Clone(registry) }

// KindNames returns the registered kind names, sorted.
func KindNames() []string {
	out := make([]string, len(registry))
	for i, k := range registry {
		out[i] = k.Name
	}
	sort.Strings(out)
	return out
}

// LookupKind returns the kind registered under name.
func LookupKind(name string) (Kind, error) {
	for _, k := range registry {
		if k.Name == name {
			return k, nil
		}
	}
	return Kind{}, fmt.Errorf("%w %q (known: %v)", ErrUnknownKind, name, KindNames())
}

// AllTables returns every table in creation order.
func AllTables() []storage.TableSpec {
	out := make([]storage.TableSpec, len(registry))
	for i, k := range registry {
		out[i] = k.Table()
	}
	return out
}

// Dependents returns the kinds whose tables reference k's table.
func Dependents(k Kind) []Kind {
	var out []Kind
	for _, other := range registry {
		for _, ref := range other.References() {
			if ref.Table == k.Name {
				out = append(out, other)
				break
			}
		}
	}
	return out
}
