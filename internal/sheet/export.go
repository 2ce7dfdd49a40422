package sheet

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/underwrite-cli/internal/compare"
)

const deltaFormat = "#,##0.00"

// ComparisonWorkbook builds a workbook with a Summary sheet and one sheet
// each for input, output and test changes.
func ComparisonWorkbook(d compare.Diff) (*xlsx.File, error) {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add summary sheet")
	}
	addRow(summary, "", "Run A", "Run B")
	addRow(summary, "Run", d.RunA, d.RunB)
	vr := summary.AddRow()
	vr.AddCell().SetString("Version")
	vr.AddCell().SetInt(d.VersionA)
	vr.AddCell().SetInt(d.VersionB)
	addRow(summary, "Decision", string(d.DecisionA), string(d.DecisionB))
	changed := "no"
	if d.DecisionChanged {
		changed = "yes"
	}
	addRow(summary, "Decision changed", changed)

	for _, part := range []struct {
		name string
		rows []compare.Row
	}{
		{"Inputs", d.Inputs},
		{"Outputs", d.Outputs},
		{"Tests", d.Tests},
	} {
		sh, err := f.AddSheet(part.name)
		if err != nil {
			return nil, eris.Wrapf(err, "xlsx: add %s sheet", part.name)
		}
		addRow(sh, "Field", "Run A", "Run B", "Delta", "Tone")
		for _, r := range part.rows {
			row := sh.AddRow()
			row.AddCell().SetString(r.Label)
			row.AddCell().SetString(r.From)
			row.AddCell().SetString(r.To)
			delta := row.AddCell()
			if r.Delta != nil {
				delta.SetFloatWithFormat(*r.Delta, deltaFormat)
			}
			row.AddCell().SetString(string(r.Tone))
		}
	}
	return f, nil
}

// WriteComparison writes the comparison workbook to w.
func WriteComparison(w io.Writer, d compare.Diff) error {
	f, err := ComparisonWorkbook(d)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "xlsx: write comparison")
}

// SaveComparison writes the comparison workbook to path.
func SaveComparison(path string, d compare.Diff) error {
	f, err := ComparisonWorkbook(d)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "xlsx: save %s", path)
}

func addRow(sh *xlsx.Sheet, values ...string) {
	row := sh.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
