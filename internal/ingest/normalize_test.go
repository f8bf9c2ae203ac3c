package ingest

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		field  FieldSpec
		in     any
		want   any
		wantOK bool
	}{
		{name: "text_trim", field: text("t", 0), in: "  hi  ", want: "hi", wantOK: true},
		{name: "text_truncate_runes", field: text("t", 3), in: "héllo", want: "hél", wantOK: true},
		{name: "text_from_int", field: text("t", 0), in: int64(42), want: "42", wantOK: true},
		{name: "text_from_float", field: text("t", 0), in: 1.5, want: "1.5", wantOK: true},
		{name: "text_html", field: text("t", 0).html(), in: "<p>Hi <b>there</b></p>", want: "Hi there", wantOK: true},
		{name: "text_blank_is_absent", field: text("t", 0), in: "   ", want: nil, wantOK: true},
		{name: "text_na_token", field: text("t", 0), in: "NaN", want: nil, wantOK: true},

		{name: "int_plain", field: integer("n"), in: "123", want: int64(123), wantOK: true},
		{name: "int_plus", field: integer("n"), in: "+123", want: int64(123), wantOK: true},
		{name: "int_thousands", field: integer("n"), in: "1,234", want: int64(1234), wantOK: true},
		{name: "int_pandas_float", field: integer("n"), in: "1200.0", want: int64(1200), wantOK: true},
		{name: "int_truncates", field: integer("n"), in: "7.9", want: int64(7), wantOK: true},
		{name: "int_float_value", field: integer("n"), in: 9.0, want: int64(9), wantOK: true},
		{name: "int_garbage", field: integer("n"), in: "abc", want: nil, wantOK: false},
		{name: "int_overflow", field: integer("n"), in: "1e30", want: nil, wantOK: false},
		{name: "int_small_overflow", field: smallInteger("n"), in: "3000000000", want: nil, wantOK: false},
		{name: "int_missing", field: integer("n"), in: nil, want: nil, wantOK: true},
		{name: "int_nan_float", field: integer("n"), in: math.NaN(), want: nil, wantOK: true},

		{name: "float_ok", field: float("f"), in: "0.035", want: 0.035, wantOK: true},
		{name: "float_inf", field: float("f"), in: "Inf", want: nil, wantOK: false},
		{name: "float_garbage", field: float("f"), in: "x", want: nil, wantOK: false},

		{name: "bool_true", field: boolean("b"), in: "Yes", want: true, wantOK: true},
		{name: "bool_one_float", field: boolean("b"), in: "1.0", want: true, wantOK: true},
		{name: "bool_false", field: boolean("b"), in: "F", want: false, wantOK: true},
		{name: "bool_native", field: boolean("b"), in: false, want: false, wantOK: true},
		{name: "bool_garbage", field: boolean("b"), in: "maybe", want: nil, wantOK: false},

		{name: "ts_rfc3339", field: timestamp("ts"), in: "2024-03-05T14:30:00Z", want: ts, wantOK: true},
		{name: "ts_offset", field: timestamp("ts"), in: "2024-03-05T16:30:00+02:00", want: ts, wantOK: true},
		{name: "ts_space", field: timestamp("ts"), in: "2024-03-05 14:30:00", want: ts, wantOK: true},
		{name: "ts_us", field: timestamp("ts"), in: "03/05/2024 14:30", want: ts, wantOK: true},
		{name: "ts_date_only", field: timestamp("ts"), in: "2024-03-05", want: day, wantOK: true},
		{name: "ts_garbage", field: timestamp("ts"), in: "yesterday", want: nil, wantOK: false},

		{name: "date_iso", field: date("d"), in: "2024-03-05", want: day, wantOK: true},
		{name: "date_us", field: date("d"), in: "3/5/2024", want: day, wantOK: true},
		{name: "date_rejects_time", field: date("d"), in: "2024-03-05 14:30:00", want: nil, wantOK: false},

		{name: "email_clean", field: email("e", 100), in: " mailto:Info@Brand.COM ", want: "Info@brand.com", wantOK: true},
		{name: "email_invalid", field: email("e", 100), in: "not-an-email", want: nil, wantOK: false},
		{name: "email_too_long", field: email("e", 10), in: "someone@example.com", want: nil, wantOK: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := coerce(tc.field, tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantOK, ok)
		})
	}
}

func TestIsMissing(t *testing.T) {
	t.Parallel()

	for _, v := range []any{nil, "", " ", "NaN", "nan", "NULL", "null", "None", "N/A", "n/a", "NA", "<NA>", "#N/A", math.NaN()} {
		assert.True(t, IsMissing(v), "%#v", v)
	}
	for _, v := range []any{"0", "none", "nil", "-", int64(0), false} {
		assert.False(t, IsMissing(v), "%#v", v)
	}
}

func TestNormalize_Hashtag(t *testing.T) {
	t.Parallel()

	k := mustKind(t, "hashtags")
	rec := Normalize(k, 7, map[string]any{
		"id":          "12",
		"name":        strings.Repeat("x", 120),
		"topic":       "NaN",
		"description": 3.5,
		"extra":       "dropped",
	})

	assert.Equal(t, 7, rec.Line)
	assert.Equal(t, Entity, rec.Kind)
	assert.Equal(t, int64(12), rec.Values["id"])
	assert.Len(t, rec.Values["name"], 100)
	assert.Nil(t, rec.Values["topic"])
	assert.Equal(t, "3.5", rec.Values["description"])
	assert.NotContains(t, rec.Values, "extra")
	require.Len(t, rec.Key, 1)
	assert.Equal(t, rec.Values["name"], rec.Key[0])
	assert.Zero(t, rec.Anomalies)
	assert.True(t, rec.HasKey())
}

func TestNormalize_AnomaliesAndAbsentKey(t *testing.T) {
	t.Parallel()

	k := mustKind(t, "influencer_hashtag")
	rec := Normalize(k, 2, map[string]any{
		"influencer_id": "12abc",
		"hashtag_id":    "4",
		"usage_count":   "lots",
	})

	assert.Equal(t, Association, rec.Kind)
	assert.Equal(t, 2, rec.Anomalies)
	assert.Equal(t, []any{nil, int64(4)}, rec.Key)
	assert.False(t, rec.HasKey())
	// Every field is present in Values, absent ones as nil.
	assert.Contains(t, rec.Values, "usage_count")
	assert.Nil(t, rec.Values["usage_count"])
}

func TestNormalize_Influencer(t *testing.T) {
	t.Parallel()

	k := mustKind(t, "influencers")
	rec := Normalize(k, 2, map[string]any{
		"id":                 "1",
		"username":           "fit_anna",
		"bio":                "<p>Coach &amp; runner</p>",
		"followers_count":    "12,500",
		"engagement_rate":    "0.042",
		"email":              "anna&#64;example.com",
		"verified":           "True",
		"most_recent_upload": "2024-01-31 08:00:00",
	})

	assert.Equal(t, "Coach & runner", rec.Values["bio"])
	assert.Equal(t, int64(12500), rec.Values["followers_count"])
	assert.Equal(t, 0.042, rec.Values["engagement_rate"])
	assert.Equal(t, "anna@example.com", rec.Values["email"])
	assert.Equal(t, true, rec.Values["verified"])
	assert.Equal(t, time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC), rec.Values["most_recent_upload"])
	assert.Zero(t, rec.Anomalies)
}
