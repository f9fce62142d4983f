package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Warning is a non-fatal problem found while reading a CSV row.
type Warning struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Sheet is a decoded CSV document. Every row has exactly len(Headers) cells.
type Sheet struct {
	Headers  []string
	Rows     [][]string
	Warnings []Warning
}

// Records returns the rows keyed by header. Duplicate headers keep the
// rightmost cell.
func (s Sheet) Records() []map[string]any {
	out := make([]map[string]any, 0, len(s.Rows))
	for _, row := range s.Rows {
		rec := make(map[string]any, len(s.Headers))
		for i, h := range s.Headers {
			rec[h] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

// ReadCSV decodes UTF-8 (with or without BOM) or BOM-marked UTF-16 input.
// Headers are trimmed; short rows are padded and long rows truncated, each
// with a warning. Rows the csv reader rejects are skipped with a warning.
func ReadCSV(r io.Reader) (Sheet, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Sheet{}, errors.New("empty file: no header row")
	}
	if err != nil {
		return Sheet{}, fmt.Errorf("read header row: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}
	sheet := Sheet{Headers: headers, Rows: [][]string{}}

	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			sheet.Warnings = append(sheet.Warnings, Warning{Row: line, Message: fmt.Sprintf("parse error: %v", err)})
			continue
		}
		switch {
		case len(row) < len(headers):
			sheet.Warnings = append(sheet.Warnings, Warning{Row: line,
				Message: fmt.Sprintf("row has %d columns, expected %d; padded", len(row), len(headers))})
			padded := make([]string, len(headers))
			copy(padded, row)
			row = padded
		case len(row) > len(headers):
			sheet.Warnings = append(sheet.Warnings, Warning{Row: line,
				Message: fmt.Sprintf("row has %d columns, expected %d; truncated", len(row), len(headers))})
			row = row[:len(headers)]
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}
