package exporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotSequence is returned when a payload does not encode to a JSON
	// array of objects.
	ErrNotSequence = errors.New("payload is not a sequence of records")
	// ErrEmptyPayload is returned for an empty record sequence.
	ErrEmptyPayload = errors.New("payload has no records")
)

// Table is a rendered CSV document and its shape.
type Table struct {
	Header []string
	Rows   int
	Cols   int
	Data   []byte
}

type record struct {
	keys   []string
	values map[string]json.RawMessage
}

// RecordsToCSV renders a sequence of records as CSV. The payload may be any
// value that marshals to a JSON array of objects. The header is the union of
// record keys in first-seen order; nested values are written as compact JSON
// and nulls as empty cells.
func RecordsToCSV(payload interface{}) (*Table, error) {
	raw, err := toJSON(payload)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotSequence
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSequence, err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyPayload
	}

	records := make([]record, 0, len(items))
	var header []string
	seen := make(map[string]bool)
	for i, item := range items {
		rec, err := parseRecord(item)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrNotSequence, i, err)
		}
		for _, k := range rec.keys {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
		records = append(records, rec)
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	row := make([]string, len(header))
	for i, rec := range records {
		for j, k := range header {
			row[j] = formatCell(rec.values[k])
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}

	return &Table{
		Header: header,
		Rows:   len(records),
		Cols:   len(header),
		Data:   buf.Bytes(),
	}, nil
}

func toJSON(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, ErrNotSequence
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotSequence, err)
		}
		return raw, nil
	}
}

// parseRecord decodes one JSON object keeping its key order.
func parseRecord(raw json.RawMessage) (record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return record{}, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return record{}, fmt.Errorf("expected object, got %v", tok)
	}

	rec := record{values: make(map[string]json.RawMessage)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return record{}, err
		}
		key, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return record{}, err
		}
		if _, dup := rec.values[key]; !dup {
			rec.keys = append(rec.keys, key)
		}
		rec.values[key] = value
	}
	return rec, nil
}
