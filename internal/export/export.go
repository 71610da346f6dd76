// Package export renders extracted parameters into XLSX workbooks.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/pkg/log"
)

const sheetName = "Parameters"

// ParamsWorkbook builds a one-row workbook with the given columns as the
// header and the matching parameter values underneath. Missing parameters
// render as empty cells. projectName, when set, is appended as an extra
// column.
func ParamsWorkbook(columns []string, params map[string]string, projectName string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	header := columns
	if projectName != "" {
		header = append(append([]string{}, columns...), "Project Name")
	}

	for i, h := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, err
		}
	}

	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 2)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, params[col]); err != nil {
			return nil, err
		}
	}
	if projectName != "" {
		cell, err := excelize.CoordinatesToCellName(len(columns)+1, 2)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, projectName); err != nil {
			return nil, err
		}
	}

	if len(header) > 0 {
		last, err := excelize.ColumnNumberToName(len(header))
		if err == nil {
			_ = f.SetColWidth(sheetName, "A", last, 22)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	log.Info("Built parameters workbook with %d columns", len(header))
	return buf.Bytes(), nil
}
