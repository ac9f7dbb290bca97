package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	ID    string `json:"id"`
	Doses int    `json:"doses"`
}

func TestDecodeJSONArray(t *testing.T) {
	input := `[{"id":"a","doses":7},{"id":"b","doses":14}]`
	outCh, errCh := DecodeJSONArray[testItem](context.Background(), strings.NewReader(input))

	var items []testItem
	for item := range outCh {
		items = append(items, item)
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, []testItem{{"a", 7}, {"b", 14}}, items)
}

func TestDecodeJSONArray_NotArray(t *testing.T) {
	outCh, errCh := DecodeJSONArray[testItem](context.Background(), strings.NewReader(`{"id":"a"}`))
	for range outCh {
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected '['")
}

func TestDecodeJSONArray_Empty(t *testing.T) {
	outCh, errCh := DecodeJSONArray[testItem](context.Background(), strings.NewReader(""))
	for range outCh {
	}
	assert.NoError(t, <-errCh)
}

func TestReadJSONRecords(t *testing.T) {
	input := `[
		{"Episode_ID": "ep-1", "adherence_date": "2016-01-15", "closed": true, "adherence_closure_reason": null},
		{"episode_id": "ep-2", "adherence_date": "2016-01-16", "closed": false, "seq": 42}
	]`
	records, err := ReadJSONRecords(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "ep-1", records[0].Get("episode_id"))
	assert.Equal(t, "true", records[0].Get("closed"))
	assert.Equal(t, "", records[0].Get("adherence_closure_reason"))

	assert.Equal(t, "false", records[1].Get("closed"))
	assert.Equal(t, "42", records[1].Get("seq"))
}

func TestReadJSONRecords_Malformed(t *testing.T) {
	_, err := ReadJSONRecords(context.Background(), strings.NewReader(`[{"episode_id": }]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json: decode element")
}
