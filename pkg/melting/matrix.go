// Package melting reshapes dense matrix files into long-format fact rows.
package melting

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path"
	"strconv"
	"strings"
)

// Matrix is a dense table of observations: rows are analyte labels, columns
// are sample (or plain column) labels. Missing cells hold NaN.
type Matrix struct {
	RowLabels    []string
	ColumnLabels []string
	Values       [][]float64
}

// Cell returns the value at (row, col); ok is false for a missing cell.
func (m *Matrix) Cell(row, col int) (float64, bool) {
	if row >= len(m.Values) || col >= len(m.Values[row]) {
		return 0, false
	}
	v := m.Values[row][col]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Format selects a matrix file decoder.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
)

// FormatOf picks the decoder from a file reference's extension. Anything
// unrecognized is read as parquet.
func FormatOf(ref string) Format {
	ext := strings.ToLower(path.Ext(strings.TrimSuffix(ref, ".gz")))
	switch ext {
	case ".csv":
		return FormatCSV
	case ".tsv", ".txt", ".tab":
		return FormatTSV
	default:
		return FormatParquet
	}
}

// ReadMatrix decodes data according to format. indexColumn names the parquet
// column holding row labels; delimited files always use their first column.
func ReadMatrix(data []byte, format Format, indexColumn string) (*Matrix, error) {
	switch format {
	case FormatCSV:
		return ReadDelimited(bytes.NewReader(data), ',')
	case FormatTSV:
		return ReadDelimited(bytes.NewReader(data), '\t')
	default:
		return ReadParquet(bytes.NewReader(data), int64(len(data)), indexColumn)
	}
}

// ReadDelimited reads a header row of column labels, then one row per
// analyte whose first cell is its label.
func ReadDelimited(r io.Reader, comma rune) (*Matrix, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	// trimming would swallow empty tab-separated cells
	reader.TrimLeadingSpace = comma != '\t'

	header, err := reader.Read()
	if err == io.EOF {
		return &Matrix{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("matrix header has %d columns, need an index and at least one value column", len(header))
	}

	m := &Matrix{ColumnLabels: header[1:]}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read matrix line %d: %w", line, err)
		}
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}
		values := make([]float64, len(m.ColumnLabels))
		for i := range values {
			values[i] = math.NaN()
			if i+1 < len(record) {
				v, err := parseCell(record[i+1])
				if err != nil {
					return nil, fmt.Errorf("line %d column %s: %w", line, m.ColumnLabels[i], err)
				}
				values[i] = v
			}
		}
		m.RowLabels = append(m.RowLabels, strings.TrimSpace(record[0]))
		m.Values = append(m.Values, values)
	}
	return m, nil
}

// parseCell maps NA, NaN, null and empty cells to NaN.
func parseCell(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "na", "nan", "null", "none":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
