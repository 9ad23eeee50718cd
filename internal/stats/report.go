package stats

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// SheetName is the worksheet of the XLSX report.
const SheetName = "statistics"

// ReportName returns the base name of the report of one epoch pair.
func ReportName(area string, y0, y1 int) string {
	return fmt.Sprintf("statistics_%s_%d_%d", area, y0, y1)
}

// EncodeCSV renders rows with a header line.
func EncodeCSV(rows []Row) ([]byte, error) {
	if rows == nil {
		rows = []Row{}
	}
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return nil, eris.Wrap(err, "stats: encode csv")
	}
	return data, nil
}

// DecodeCSV parses a report written by EncodeCSV.
func DecodeCSV(data []byte) ([]Row, error) {
	var rows []Row
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, eris.Wrap(err, "stats: decode csv")
	}
	return rows, nil
}

// WriteXLSX saves rows as a one-sheet workbook. Numeric fields become
// numeric cells.
func WriteXLSX(path string, rows []Row) error {
	data, err := EncodeCSV(rows)
	if err != nil {
		return err
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return eris.Wrap(err, "stats: re-read csv")
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "stats: add sheet")
	}
	for i, rec := range records {
		row := sheet.AddRow()
		for _, v := range rec {
			cell := row.AddCell()
			if i == 0 {
				cell.SetString(v)
				continue
			}
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				cell.SetFloat(n)
			} else {
				cell.SetString(v)
			}
		}
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "stats: save %s", path)
	}
	return nil
}

// WriteReport writes <dir>/<area>/statistics_<area>_<y0>_<y1>.{csv,xlsx}
// and returns both paths.
func WriteReport(dir, area string, y0, y1 int, rows []Row) (csvPath, xlsxPath string, err error) {
	out := filepath.Join(dir, area)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", "", eris.Wrapf(err, "stats: create %s", out)
	}
	base := filepath.Join(out, ReportName(area, y0, y1))

	data, err := EncodeCSV(rows)
	if err != nil {
		return "", "", err
	}
	csvPath = base + ".csv"
	if err := os.WriteFile(csvPath, data, 0o644); err != nil {
		return "", "", eris.Wrapf(err, "stats: write %s", csvPath)
	}
	xlsxPath = base + ".xlsx"
	if err := WriteXLSX(xlsxPath, rows); err != nil {
		return "", "", err
	}
	return csvPath, xlsxPath, nil
}
