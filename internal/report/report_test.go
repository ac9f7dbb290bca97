package report

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/tbcare/adherence-cli/internal/model"
)

func testEpisodes() []model.Episode {
	start := time.Date(2016, 1, 10, 0, 0, 0, 0, time.UTC)
	return []model.Episode{
		{
			ID:            "ep-1",
			PersonID:      "p-1",
			ScheduleID:    "schedule1",
			ScheduleStart: &start,
			Adherence: &model.AdherenceResult{
				CutoffDate:          time.Date(2016, 1, 15, 0, 0, 0, 0, time.UTC),
				ExpectedDosesTaken:  5,
				ConfirmedTakenCount: 1,
				TotalTakenCount:     1,
				LatestRecordedDate:  time.Date(2016, 1, 15, 0, 0, 0, 0, time.UTC),
			},
		},
		{ID: "ep-2", ScheduleID: "schedule2"},
	}
}

func TestRow(t *testing.T) {
	eps := testEpisodes()
	assert.Equal(t,
		[]string{"ep-1", "p-1", "schedule1", "2016-01-10", "2016-01-15", "5", "1", "1", "2016-01-15"},
		Row(eps[0]))
	assert.Equal(t,
		[]string{"ep-2", "", "schedule2", "", "", "", "", "", ""},
		Row(eps[1]))
	assert.Len(t, Row(eps[0]), len(Columns))
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episodes.xlsx")
	require.NoError(t, WriteXLSX(path, testEpisodes()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet[SheetName]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, "episode_id", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, model.PropCountTaken, sheet.Rows[0].Cells[6].String())

	n, err := sheet.Rows[1].Cells[5].Int()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "2016-01-15", sheet.Rows[1].Cells[8].String())
	assert.Equal(t, "", sheet.Rows[2].Cells[4].String())
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testEpisodes()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	assert.Len(t, f.Sheets[0].Rows, 3)
}
