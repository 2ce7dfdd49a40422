// Package sheet reads BOE input drafts from CSV and XLSX files and writes
// run comparisons as XLSX workbooks.
package sheet

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/underwrite-cli/pkg/underwriting"
)

// XLSXOptions selects the worksheet a draft is read from.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

var knownInputs = func() map[string]bool {
	m := make(map[string]bool, len(underwriting.InputKeys))
	for _, k := range underwriting.InputKeys {
		m[k] = true
	}
	return m
}()

// ReadDraft reads a two-column key/value draft, choosing the parser from the
// file extension (.csv or .xlsx).
func ReadDraft(path string, opts XLSXOptions) (underwriting.Draft, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "sheet: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadDraftCSV(f)
	case ".xlsx":
		return ReadDraftXLSX(path, opts)
	default:
		return nil, eris.Errorf("sheet: unsupported draft file %s (want .csv or .xlsx)", path)
	}
}

// ReadDraftCSV reads key,value rows. A leading "key" header row and blank
// lines are skipped.
func ReadDraftCSV(r io.Reader) (underwriting.Draft, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read draft")
		}
		rows = append(rows, rec)
	}
	return rowsToDraft(rows)
}

// ReadDraftXLSX reads key/value rows from the first two columns of a sheet.
func ReadDraftXLSX(path string, opts XLSXOptions) (underwriting.Draft, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rows = append(rows, rowToStrings(row))
	}
	return rowsToDraft(rows)
}

func rowsToDraft(rows [][]string) (underwriting.Draft, error) {
	d := underwriting.Draft{}
	for i, row := range rows {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(row[0]))
		if i == 0 && key == "key" {
			continue
		}
		if !knownInputs[key] {
			return nil, eris.Errorf("sheet: row %d: unknown input %q", i+1, row[0])
		}
		if _, dup := d[key]; dup {
			return nil, eris.Errorf("sheet: row %d: duplicate input %q", i+1, key)
		}
		var val string
		if len(row) > 1 {
			val = strings.TrimSpace(row[1])
		}
		d[key] = val
	}
	return d, nil
}

// Merge overlays src onto dst, ignoring blank values in src.
func Merge(dst, src underwriting.Draft) underwriting.Draft {
	out := make(underwriting.Draft, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
