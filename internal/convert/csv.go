package convert

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// csvToJSON converts CSV bytes into a JSON array of objects, or a lone
// object when a single record results (see marshalRecords).
func csvToJSON(data []byte, cfg Config) ([]byte, error) {
	rows, err := readCSV(data, cfg.Delimiter())
	if err != nil {
		return nil, err
	}
	return marshalRecords(rowsToRecords(rows, cfg), cfg)
}

// jsonToCSV converts a JSON object or array of objects into CSV bytes.
func jsonToCSV(data []byte, cfg Config) ([]byte, error) {
	records, err := decodeRecords(data)
	if err != nil {
		return nil, err
	}
	columns := columnSet(records, cfg)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = cfg.Delimiter()

	if cfg.IncludeHeaders() {
		if err := w.Write(columns); err != nil {
			return nil, fmt.Errorf("write header row: %w", err)
		}
	}
	for _, rec := range records {
		if err := w.Write(recordRow(rec, columns)); err != nil {
			return nil, fmt.Errorf("write data row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv output: %w", err)
	}
	return buf.Bytes(), nil
}

func readCSV(data []byte, delimiter rune) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter
	// Ragged rows are tolerated; short rows null-fill in rowsToRecords.
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return rows, nil
}
