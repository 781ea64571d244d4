package exporter

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// formatCell renders one JSON value as CSV cell text
func formatCell(raw json.RawMessage) string {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return ""
	}

	switch v[0] {
	case 'n':
		return ""
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return string(v)
		}
		return s
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return string(v)
		}
		return buf.String()
	default:
		// numbers and booleans keep their literal spelling
		return string(v)
	}
}

// parseNumber reports whether a cell is a plain number, for typed
// spreadsheet output.
func parseNumber(cell string) (float64, bool) {
	if cell == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
