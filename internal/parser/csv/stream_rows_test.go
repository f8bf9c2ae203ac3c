package csv

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/source"
)

func TestNormalizeHeader(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"\uFEFFName":      "name",
		"  Full Name ":    "full_name",
		"followers_count": "followers_count",
		"":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeHeader(in), in)
	}
}

func TestReadRows(t *testing.T) {
	t.Parallel()

	in := "\uFEFFName, Topic ,Description\n" +
		"fitness, health ,\n" +
		"yoga,,calm\n"

	rows, err := ReadRows(context.Background(), strings.NewReader(in), Options{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, map[string]any{"name": "fitness", "topic": "health", "description": nil}, rows[0].Values)
	assert.Equal(t, 3, rows[1].Line)
	assert.Equal(t, map[string]any{"name": "yoga", "topic": nil, "description": "calm"}, rows[1].Values)
}

func TestReadRows_HeaderMapAndShortRecords(t *testing.T) {
	t.Parallel()

	in := "left_key;right_key;payload\n1;2;3\n4;5\n"
	rows, err := ReadRows(context.Background(), strings.NewReader(in), Options{
		Comma: ';',
		HeaderMap: map[string]string{
			"left_key":  "influencer_id",
			"right_key": "hashtag_id",
			"payload":   "usage_count",
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]any{"influencer_id": "1", "hashtag_id": "2", "usage_count": "3"}, rows[0].Values)
	assert.Equal(t, map[string]any{"influencer_id": "4", "hashtag_id": "5", "usage_count": nil}, rows[1].Values)
}

func TestReadRows_AliasFirstNonEmptyWins(t *testing.T) {
	t.Parallel()

	in := "count,usage_count\n,7\n3,9\n"
	rows, err := ReadRows(context.Background(), strings.NewReader(in), Options{
		HeaderMap: map[string]string{"count": "usage_count"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "7", rows[0].Values["usage_count"])
	assert.Equal(t, "3", rows[1].Values["usage_count"])
}

func TestReadRows_Empty(t *testing.T) {
	t.Parallel()

	for name, in := range map[string]string{
		"no_bytes":  "",
		"header":    "name,topic\n",
		"blank_hdr": " , \n",
		"blank_row": "name\n\n",
	} {
		_, err := ReadRows(context.Background(), strings.NewReader(in), Options{})
		require.ErrorIs(t, err, source.ErrInputEmpty, name)
	}
}

func TestReadRows_BadRecordReported(t *testing.T) {
	t.Parallel()

	in := "name,topic\n\"unterminated,x\n"
	var lines []int
	rows, err := ReadRows(context.Background(), strings.NewReader(in), Options{
		OnError: func(line int, _ error) { lines = append(lines, line) },
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, lines)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Line)
	assert.Error(t, rows[0].Err)
	assert.Nil(t, rows[0].Values)
}

func TestReadRows_BareQuoteKeepsPosition(t *testing.T) {
	t.Parallel()

	in := "id,name\n1,a\n2,\"b\"x\"\n3,c\n"
	rows, err := ReadRows(context.Background(), strings.NewReader(in), Options{})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.NoError(t, rows[0].Err)
	assert.Equal(t, 3, rows[1].Line)
	var perr *csv.ParseError
	require.ErrorAs(t, rows[1].Err, &perr)
	assert.NoError(t, rows[2].Err)
	assert.Equal(t, "c", rows[2].Values["name"])
}

func TestReadRows_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadRows(ctx, strings.NewReader("name\na\n"), Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestReadRows_MaxRowsAndHeader(t *testing.T) {
	t.Parallel()

	var header []string
	rows, err := ReadRows(context.Background(), strings.NewReader("Name,Hashtag Topic\na,1\nb,2\nc,3\n"), Options{
		MaxRows:  2,
		OnHeader: func(names []string) { header = names },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "hashtag_topic"}, header)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[1].Values["name"])
}
