package melting

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatOf(t *testing.T) {
	tests := []struct {
		ref      string
		expected Format
	}{
		{"s3://bucket/data/matrix.parquet", FormatParquet},
		{"/data/matrix.CSV", FormatCSV},
		{"matrix.tsv", FormatTSV},
		{"matrix.txt", FormatTSV},
		{"matrix.tsv.gz", FormatTSV},
		{"matrix", FormatParquet},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatOf(tt.ref))
		})
	}
}

func TestReadDelimited(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		comma rune
	}{
		{"csv", "gene,R1,R2\nG1,1.5,NA\nG2,2,\n", ','},
		{"tsv", "gene\tR1\tR2\nG1\t1.5\tnan\nG2\t2\n", '\t'},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ReadDelimited(strings.NewReader(tt.data), tt.comma)
			require.NoError(t, err)

			assert.Equal(t, []string{"G1", "G2"}, m.RowLabels)
			assert.Equal(t, []string{"R1", "R2"}, m.ColumnLabels)
			v, ok := m.Cell(0, 0)
			assert.True(t, ok)
			assert.Equal(t, 1.5, v)
			_, ok = m.Cell(0, 1)
			assert.False(t, ok)
			_, ok = m.Cell(1, 1)
			assert.False(t, ok)
		})
	}
}

func TestReadDelimited_Errors(t *testing.T) {
	_, err := ReadDelimited(strings.NewReader("only\n"), ',')
	assert.Error(t, err)

	_, err = ReadDelimited(strings.NewReader("gene,R1\nG1,high\n"), ',')
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	m, err := ReadDelimited(strings.NewReader(""), ',')
	require.NoError(t, err)
	assert.Empty(t, m.RowLabels)
}

type matrixRow struct {
	Gene string   `parquet:"gene"`
	R1   *float64 `parquet:"R1,optional"`
	R2   *float64 `parquet:"R2,optional"`
}

func writeParquet(t *testing.T, rows []matrixRow) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[matrixRow](&buf)
	_, err := w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func ptr(f float64) *float64 { return &f }

func TestReadParquet(t *testing.T) {
	data := writeParquet(t, []matrixRow{
		{Gene: "G1", R1: ptr(1.0)},
		{Gene: "G2", R1: ptr(2.0), R2: ptr(3.0)},
	})

	m, err := ReadMatrix(data, FormatParquet, "gene")
	require.NoError(t, err)

	assert.Equal(t, []string{"G1", "G2"}, m.RowLabels)
	assert.ElementsMatch(t, []string{"R1", "R2"}, m.ColumnLabels)

	cells := map[string]float64{}
	for r, row := range m.RowLabels {
		for c, col := range m.ColumnLabels {
			if v, ok := m.Cell(r, c); ok {
				cells[row+"/"+col] = v
			}
		}
	}
	assert.Equal(t, map[string]float64{"G1/R1": 1.0, "G2/R1": 2.0, "G2/R2": 3.0}, cells)
	assert.True(t, math.IsNaN(m.Values[0][indexOf(m.ColumnLabels, "R2")]))
}

func TestReadParquet_TooFewColumns(t *testing.T) {
	type labelsOnly struct {
		Gene string `parquet:"gene"`
	}
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[labelsOnly](&buf)
	_, err := w.Write([]labelsOnly{{Gene: "G1"}})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = ReadMatrix(buf.Bytes(), FormatParquet, "")
	assert.Error(t, err)
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := ParseS3URI("s3://pounce/matrices/d1.parquet")
	require.NoError(t, err)
	assert.Equal(t, "pounce", bucket)
	assert.Equal(t, "matrices/d1.parquet", key)

	for _, bad := range []string{"/local/path", "s3://bucket", "s3:///key"} {
		_, _, err := ParseS3URI(bad)
		assert.Error(t, err, bad)
	}
}

func TestLocalFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.csv"), []byte("gene,R1\nG1,1\n"), 0o600))
	ctx := context.Background()

	files := Files{Local: LocalFiles{Root: dir}}
	for _, ref := range []string{"m.csv", filepath.Join(dir, "m.csv"), "file://" + filepath.Join(dir, "m.csv")} {
		data, err := files.Fetch(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, "gene,R1\nG1,1\n", string(data))
	}

	_, err := files.Fetch(ctx, "missing.csv")
	assert.Error(t, err)
	_, err = files.Fetch(ctx, "s3://bucket/key")
	assert.Error(t, err, "no object store configured")
}

func TestDecompress(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("gene\tR1\nG1\t4\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	data, err := Decompress("m.tsv.gz", buf.Bytes())
	require.NoError(t, err)
	m, err := ReadMatrix(data, FormatOf("m.tsv.gz"), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"G1"}, m.RowLabels)

	plain, err := Decompress("m.tsv", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), plain)
}
