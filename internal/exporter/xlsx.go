package exporter

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// CSVToXLSX converts CSV text into a single-sheet workbook. Numeric cells
// are stored as numbers; the first row is frozen as a header.
func CSVToXLSX(data []byte, sheet string) ([]byte, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if sheet == "" {
		sheet = "Sheet1"
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	for i, row := range rows {
		values := make([]interface{}, len(row))
		for j, cell := range row {
			if n, ok := parseNumber(cell); ok && i > 0 {
				values[j] = n
			} else {
				values[j] = cell
			}
		}
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, axis, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	if len(rows) > 1 {
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return nil, fmt.Errorf("failed to freeze header: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}
