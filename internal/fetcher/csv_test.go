package fetcher

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamCSV_Basic(t *testing.T) {
	input := "a,b,c\n1,2,3\n4,5,6\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"a", "b", "c"}, rows[0])
	assert.Equal(t, []string{"4", "5", "6"}, rows[2])
}

func TestStreamCSV_HeaderAndTrim(t *testing.T) {
	headerCh := make(chan []string, 1)
	input := " id , value \n 1 , x \n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "value"}, <-headerCh)
	assert.Equal(t, [][]string{{"1", "x"}}, rows)
}

func TestStreamCSV_PipeDelimited(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a|b\n1|2\n"), CSVOptions{Delimiter: '|'})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, rows)
}

func TestStreamCSV_Malformed(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a,\"b\n"), CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
}

const exportCSV = "Episode_ID,Adherence_Date,Adherence_Value,Adherence_Source,Modified_On\n" +
	"ep-1,2016-01-15,directly_observed_dose,enikshay,2016-01-16T08:00:00Z\n" +
	",,,,\n" +
	"ep-2,2016-01-16,missed_dose,99DOTS\n"

func TestReadCSVRecords(t *testing.T) {
	records, err := ReadCSVRecords(context.Background(), strings.NewReader(exportCSV), CSVOptions{TrimSpace: true})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "ep-1", records[0].Get("episode_id"))
	assert.Equal(t, "directly_observed_dose", records[0].Get("adherence_value"))
	assert.Equal(t, "2016-01-16T08:00:00Z", records[0].Get("modified_on"))

	assert.Equal(t, "99DOTS", records[1].Get("adherence_source"))
	assert.Equal(t, "", records[1].Get("modified_on"))
	assert.Equal(t, "", records[1].Get("not_a_column"))
}

func TestReadCSVRecords_Empty(t *testing.T) {
	_, err := ReadCSVRecords(context.Background(), strings.NewReader(""), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing header")
}

func TestReadCSVRecords_BOMHeader(t *testing.T) {
	input := "\ufeffepisode_id,closed\nep-1,true\n"
	records, err := ReadCSVRecords(context.Background(), strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ep-1", records[0].Get("episode_id"))
}

func TestDecodeCharset(t *testing.T) {
	// "Prakash Doré" in windows-1252.
	latin := []byte("name\nPrakash Dor\xe9\n")
	r, err := DecodeCharset(bytes.NewReader(latin), "windows-1252")
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "name\nPrakash Doré\n", string(out))

	r, err = DecodeCharset(strings.NewReader("\ufeffa,b\n"), "")
	require.NoError(t, err)
	out, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(out))

	_, err = DecodeCharset(strings.NewReader(""), "klingon")
	assert.Error(t, err)
}

func TestRouter_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doses.csv")
	require.NoError(t, os.WriteFile(path, []byte(exportCSV), 0o644))

	r := NewRouter(Options{})
	for _, src := range []string{path, "file://" + path} {
		rc, err := r.Download(context.Background(), src)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, exportCSV, string(data))
	}

	_, err := r.Download(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestSchemeAndExt(t *testing.T) {
	assert.Equal(t, "", Scheme("/tmp/doses.csv"))
	assert.Equal(t, "https", Scheme("HTTPS://example.org/doses.csv"))
	assert.Equal(t, "ftp", Scheme("ftp://host/doses.xlsx"))

	assert.Equal(t, ".csv", Ext("/tmp/doses.CSV"))
	assert.Equal(t, ".json", Ext("https://example.org/export/doses.json?token=abc"))
	assert.Equal(t, ".zip", Ext("ftp://host/drop.zip"))
}
