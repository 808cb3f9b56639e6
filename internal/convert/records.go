package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// decodeRecords parses JSON input into a list of records. A lone object
// is treated as a one-element list. Numbers are kept as json.Number so
// their textual form survives the trip into CSV cells.
func decodeRecords(data []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	switch t := v.(type) {
	case map[string]any:
		return []map[string]any{t}, nil
	case []any:
		records := make([]map[string]any, 0, len(t))
		for i, item := range t {
			rec, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is not an object", ErrParse, i)
			}
			records = append(records, rec)
		}
		return records, nil
	}
	return nil, fmt.Errorf("%w: expected an object or an array of objects", ErrParse)
}

// columnSet returns the output columns: the configured field list if
// present, otherwise the union of all record keys sorted
// lexicographically for determinism.
func columnSet(records []map[string]any, cfg Config) []string {
	if fields, ok := cfg.Fields(); ok {
		return fields
	}
	seen := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			seen[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for k := range seen {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns
}

// cellValue renders a record value as a CSV/spreadsheet cell. Missing
// keys and explicit nulls both become the empty cell.
func cellValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		// Nested objects and arrays are re-serialized as JSON text.
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// recordRow projects a record onto the column set in order. Keys
// outside the column set are dropped, not an error.
func recordRow(rec map[string]any, columns []string) []string {
	row := make([]string, len(columns))
	for i, col := range columns {
		row[i] = cellValue(rec[col])
	}
	return row
}

// rowsToRecords maps tabular rows onto field-name keyed records. When
// cfg.fields is set it names the columns and every row, including the
// first, is data; otherwise the first row is consumed as the header.
// Rows shorter than the column set yield nulls for the missing columns.
func rowsToRecords(rows [][]string, cfg Config) []map[string]any {
	fields, ok := cfg.Fields()
	if !ok {
		if len(rows) == 0 {
			return nil
		}
		fields = rows[0]
		rows = rows[1:]
	}

	records := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]any, len(fields))
		for i, name := range fields {
			if i < len(row) {
				rec[name] = row[i]
			} else {
				rec[name] = nil
			}
		}
		records = append(records, rec)
	}
	return records
}

// marshalRecords applies the single-record unwrap rule: exactly one
// record without an explicit array flag is emitted as a lone object.
// This is a deliberate API ergonomics convention, not a bug.
func marshalRecords(records []map[string]any, cfg Config) ([]byte, error) {
	if len(records) == 1 && !cfg.ForceArray() {
		return json.Marshal(records[0])
	}
	if records == nil {
		records = []map[string]any{}
	}
	return json.Marshal(records)
}
