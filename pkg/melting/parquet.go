package melting

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// PandasIndexColumn is where pandas stores an unnamed DataFrame index.
const PandasIndexColumn = "__index_level_0__"

// ReadParquet reads a flat parquet file. Row labels come from indexColumn,
// else the pandas index column, else the first column. Every other column
// is a value column; nulls are missing cells.
func ReadParquet(r io.ReaderAt, size int64, indexColumn string) (*Matrix, error) {
	f, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	paths := f.Schema().Columns()
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = strings.Join(p, ".")
	}
	if len(names) < 2 {
		return nil, fmt.Errorf("parquet file has %d columns, need an index and at least one value column", len(names))
	}

	index := indexOf(names, indexColumn)
	if index < 0 {
		index = indexOf(names, PandasIndexColumn)
	}
	if index < 0 {
		index = 0
	}

	m := &Matrix{}
	valueColumns := make(map[int]int, len(names)-1)
	for i, name := range names {
		if i == index {
			continue
		}
		valueColumns[i] = len(m.ColumnLabels)
		m.ColumnLabels = append(m.ColumnLabels, name)
	}

	buf := make([]parquet.Row, 256)
	for _, rg := range f.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				label := ""
				values := make([]float64, len(m.ColumnLabels))
				for i := range values {
					values[i] = math.NaN()
				}
				for _, v := range row {
					col := v.Column()
					if col == index {
						label = labelOf(v)
						continue
					}
					if slot, ok := valueColumns[col]; ok {
						values[slot] = numberOf(v)
					}
				}
				if label == "" {
					continue
				}
				m.RowLabels = append(m.RowLabels, label)
				m.Values = append(m.Values, values)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to read parquet rows: %w", err)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("failed to close parquet rows: %w", err)
		}
	}
	return m, nil
}

func indexOf(names []string, name string) int {
	if name == "" {
		return -1
	}
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func labelOf(v parquet.Value) string {
	if v.IsNull() {
		return ""
	}
	switch v.Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	case parquet.Int32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case parquet.Int64:
		return strconv.FormatInt(v.Int64(), 10)
	default:
		return v.String()
	}
}

func numberOf(v parquet.Value) float64 {
	if v.IsNull() {
		return math.NaN()
	}
	switch v.Kind() {
	case parquet.Double:
		return v.Double()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Int32:
		return float64(v.Int32())
	case parquet.Int64:
		return float64(v.Int64())
	case parquet.Boolean:
		if v.Boolean() {
			return 1
		}
		return 0
	case parquet.ByteArray:
		f, err := parseCell(string(v.ByteArray()))
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}
