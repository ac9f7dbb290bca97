// Package report exports episode adherence fields as spreadsheets.
package report

import (
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/tbcare/adherence-cli/internal/model"
)

// SheetName is the worksheet episodes are written to.
const SheetName = "Episodes"

// Columns is the header row of an episode export.
var Columns = []string{
	"episode_id",
	"person_id",
	"schedule_id",
	"schedule_start",
	model.PropDateCalculated,
	model.PropExpectedDosesTaken,
	model.PropCountTaken,
	model.PropTotalDosesTaken,
	model.PropLatestDateRecorded,
}

// Row renders one episode as export cells. Episodes without a computed result
// leave the adherence cells blank.
func Row(ep model.Episode) []string {
	row := []string{ep.ID, ep.PersonID, ep.ScheduleID, "", "", "", "", "", ""}
	if ep.ScheduleStart != nil {
		row[3] = ep.ScheduleStart.Format(model.DateLayout)
	}
	if r := ep.Adherence; r != nil && !r.Empty() {
		row[4] = r.CutoffDate.Format(model.DateLayout)
		row[5] = strconv.Itoa(r.ExpectedDosesTaken)
		row[6] = strconv.Itoa(r.ConfirmedTakenCount)
		row[7] = strconv.Itoa(r.TotalTakenCount)
		row[8] = r.LatestRecordedDate.Format(model.DateLayout)
	}
	return row
}

// Workbook builds an XLSX workbook of episodes. Counts are written as numeric
// cells.
func Workbook(episodes []model.Episode) (*xlsx.File, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range Columns {
		header.AddCell().SetString(c)
	}

	for _, ep := range episodes {
		row := sheet.AddRow()
		for i, v := range Row(ep) {
			cell := row.AddCell()
			if i >= 5 && i <= 7 && v != "" {
				n, _ := strconv.Atoi(v)
				cell.SetInt(n)
				continue
			}
			cell.SetString(v)
		}
	}
	return f, nil
}

// WriteXLSX saves episodes to path.
func WriteXLSX(path string, episodes []model.Episode) error {
	f, err := Workbook(episodes)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "report: save workbook")
	}
	return nil
}

// Write streams the workbook to w.
func Write(w io.Writer, episodes []model.Episode) error {
	f, err := Workbook(episodes)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "report: write workbook")
	}
	return nil
}
