// Package ingestion reads uploaded CSV and XLSX files into header-keyed rows.
package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmptyFile is returned for zero-byte uploads.
	ErrEmptyFile = errors.New("file is empty")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Format identifies the parser used for an upload.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Table is a parsed upload: unique column labels plus data rows padded to
// the column count. Row i of Rows is import row i+1.
type Table struct {
	Format  Format
	Columns []string
	Rows    [][]string
}

// Record returns row (1-indexed) as a column-keyed map of trimmed values.
func (t Table) Record(row int) map[string]string {
	values := make(map[string]string, len(t.Columns))
	if row < 1 || row > len(t.Rows) {
		return values
	}
	cells := t.Rows[row-1]
	for idx, column := range t.Columns {
		if idx < len(cells) {
			values[column] = strings.TrimSpace(cells[idx])
		} else {
			values[column] = ""
		}
	}
	return values
}

// Sample returns up to limit leading rows as column-keyed maps.
func (t Table) Sample(limit int) []map[string]string {
	if limit <= 0 || limit > len(t.Rows) {
		limit = len(t.Rows)
	}
	sample := make([]map[string]string, 0, limit)
	for row := 1; row <= limit; row++ {
		sample = append(sample, t.Record(row))
	}
	return sample
}

// DetectFormat picks a parser from the file extension.
func DetectFormat(fileName string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// Read parses an uploaded file into a table.
func Read(fileName string, data io.Reader) (Table, error) {
	if data == nil {
		return Table{}, errors.New("data reader is required")
	}
	format, err := DetectFormat(fileName)
	if err != nil {
		return Table{}, err
	}

	payload, err := io.ReadAll(data)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return Table{}, ErrEmptyFile
	}

	var records [][]string
	switch format {
	case FormatCSV:
		records, err = parseCSV(payload)
	case FormatXLSX:
		records, err = parseExcel(payload)
	}
	if err != nil {
		return Table{}, err
	}

	table, err := normalizeTable(records)
	if err != nil {
		return Table{}, err
	}
	table.Format = format
	return table, nil
}

func parseCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

func parseExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return rows, nil
}

func normalizeTable(records [][]string) (Table, error) {
	var headerRow []string
	var dataRows [][]string

	for _, row := range records {
		if isBlankRow(row) {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}

	if headerRow == nil {
		return Table{}, errors.New("header row could not be detected")
	}
	if len(dataRows) == 0 {
		return Table{}, errors.New("file has no data rows")
	}

	columns := uniqueLabels(headerRow)
	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(columns))
	}

	return Table{Columns: columns, Rows: dataRows}, nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// uniqueLabels keeps header labels as users wrote them, filling blanks and
// suffixing repeats so every column has a distinct key.
func uniqueLabels(raw []string) []string {
	labels := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		labels[idx] = name
	}

	return labels
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
