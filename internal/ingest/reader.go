// Package ingest loads cost indices, construction rates, and sale
// comparables from CSV or XLSX files into the parcel.cost_* tables.
package ingest

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// readCSV reads a header row plus data rows from a CSV file. Fields are
// trimmed and variable field counts are tolerated.
func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var header []string
	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "ingest: read csv row")
		}
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
		if header == nil {
			header = record
			continue
		}
		rows = append(rows, record)
	}

	if header == nil {
		return nil, nil, eris.Errorf("ingest: %s is empty", path)
	}
	return header, rows, nil
}

// readXLSX reads the first sheet of a workbook the same way readCSV reads a
// file: first row is the header, the rest are data.
func readXLSX(path string) ([]string, [][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, nil, eris.Errorf("ingest: %s has no sheets", path)
	}

	var header []string
	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = strings.TrimSpace(cell.String())
		}
		if header == nil {
			header = cells
			continue
		}
		rows = append(rows, cells)
	}

	if header == nil {
		return nil, nil, eris.Errorf("ingest: %s is empty", path)
	}
	return header, rows, nil
}

// readFile dispatches on the file extension.
func readFile(path string) ([]string, [][]string, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".xlsx"):
		return readXLSX(path)
	case strings.HasSuffix(lower, ".csv"):
		return readCSV(path)
	default:
		return nil, nil, eris.Errorf("ingest: unsupported file type %s (want .csv or .xlsx)", path)
	}
}
