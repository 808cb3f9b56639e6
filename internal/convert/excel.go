package convert

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// jsonToExcel writes a JSON object or array of objects as an XLSX
// workbook: one header row, one row per record.
func jsonToExcel(data []byte, cfg Config) ([]byte, error) {
	records, err := decodeRecords(data)
	if err != nil {
		return nil, err
	}
	columns := columnSet(records, cfg)

	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, columns)
	for _, rec := range records {
		rows = append(rows, recordRow(rec, columns))
	}
	return writeWorkbook(rows)
}

// csvToExcel copies CSV rows verbatim into an XLSX workbook.
func csvToExcel(data []byte, cfg Config) ([]byte, error) {
	rows, err := readCSV(data, cfg.Delimiter())
	if err != nil {
		return nil, err
	}
	return writeWorkbook(rows)
}

// excelToJSON reads the first sheet of an XLSX workbook and applies the
// same header and unwrap semantics as csvToJSON.
func excelToJSON(data []byte, cfg Config) ([]byte, error) {
	rows, err := readWorkbook(data)
	if err != nil {
		return nil, err
	}
	return marshalRecords(rowsToRecords(rows, cfg), cfg)
}

// excelToCSV flattens the first sheet of an XLSX workbook into CSV.
func excelToCSV(data []byte, cfg Config) ([]byte, error) {
	rows, err := readWorkbook(data)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = cfg.Delimiter()
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv output: %w", err)
	}
	return buf.Bytes(), nil
}

func writeWorkbook(rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, fmt.Errorf("cell coordinates (%d,%d): %w", c+1, r+1, err)
			}
			if err := f.SetCellValue(defaultSheet, cell, value); err != nil {
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrParse)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return rows, nil
}
