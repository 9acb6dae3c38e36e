package kgerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "bare",
			err:      New(KindSchemaInference, "ambiguous sample target"),
			expected: "schema_inference: ambiguous sample target",
		},
		{
			name:     "with context",
			err:      New(KindUnresolvableAnalyteReference, "row label G9").WithCollection("Dataset").WithDocument("D1").WithFile("s3://b/k.parquet"),
			expected: "collection 'Dataset' -> document 'D1' -> file 's3://b/k.parquet': unresolvable_analyte_reference: row label G9",
		},
		{
			name:     "wrapped cause",
			err:      Wrap(KindStoreIO, errors.New("timeout"), "read page").WithTable("gene"),
			expected: "table 'gene': store_io: read page: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(KindStoreIO, nil, "noop"))
}

func TestIs_ThroughWrapping(t *testing.T) {
	base := Newf(KindMergeConflictInconsistency, "duplicate key %d", 7)
	wrapped := fmt.Errorf("flush: %w", base)

	assert.True(t, Is(wrapped, KindMergeConflictInconsistency))
	assert.False(t, Is(wrapped, KindStoreIO))
	assert.False(t, Is(errors.New("plain"), KindStoreIO))

	found, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, base, found)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("driver: bad connection")))
	assert.True(t, IsRetryable(New(KindStoreIO, "timeout")))
	assert.False(t, IsRetryable(New(KindSchemaInference, "bad plan")))
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		kind Kind
		code int
	}{
		{KindMalformedIdentifier, http.StatusBadRequest},
		{KindSchemaInference, http.StatusBadRequest},
		{KindMergeConflictInconsistency, http.StatusConflict},
		{KindUnresolvableAnalyteReference, http.StatusUnprocessableEntity},
		{KindStoreIO, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			herr := New(tt.kind, "boom").ToHTTPError()
			assert.Equal(t, tt.code, httperror.GetStatusCode(herr))
			assert.Equal(t, string(tt.kind), herr.Meta["kind"])
		})
	}
}
