// Package kgerrors defines the failure taxonomy shared by the planner, the
// merge engine, the bulk copier and the matrix melter.
package kgerrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

type Kind string

const (
	// KindMalformedIdentifier marks an unparseable cross-reference key. Never fatal to a batch.
	KindMalformedIdentifier Kind = "malformed_identifier"
	// KindSchemaInference aborts schema planning.
	KindSchemaInference Kind = "schema_inference"
	// KindUnresolvableAnalyteReference is fatal for one document's melt only.
	KindUnresolvableAnalyteReference Kind = "unresolvable_analyte_reference"
	// KindStoreIO is a transient failure against the source or destination store.
	KindStoreIO Kind = "store_io"
	// KindMergeConflictInconsistency marks caller-supplied keys colliding on an autoincrement table.
	KindMergeConflictInconsistency Kind = "merge_conflict_inconsistency"
)

type Error struct {
	Kind       Kind
	Message    string
	Collection string
	Table      string
	DocumentID string
	FilePath   string
	Err        error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and message to err. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) Error() string {
	path := []string{}
	if e.Collection != "" {
		path = append(path, fmt.Sprintf("collection '%s'", e.Collection))
	}
	if e.Table != "" {
		path = append(path, fmt.Sprintf("table '%s'", e.Table))
	}
	if e.DocumentID != "" {
		path = append(path, fmt.Sprintf("document '%s'", e.DocumentID))
	}
	if e.FilePath != "" {
		path = append(path, fmt.Sprintf("file '%s'", e.FilePath))
	}

	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(path) == 0 {
		return msg
	}
	return strings.Join(path, " -> ") + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) WithCollection(collection string) *Error {
	e.Collection = collection
	return e
}

func (e *Error) WithTable(table string) *Error {
	e.Table = table
	return e
}

func (e *Error) WithDocument(documentID string) *Error {
	e.DocumentID = documentID
	return e
}

func (e *Error) WithFile(path string) *Error {
	e.FilePath = path
	return e
}

func (e *Error) statusCode() int {
	switch e.Kind {
	case KindMalformedIdentifier, KindSchemaInference:
		return http.StatusBadRequest
	case KindMergeConflictInconsistency:
		return http.StatusConflict
	case KindUnresolvableAnalyteReference:
		return http.StatusUnprocessableEntity
	case KindStoreIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (e *Error) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(e.statusCode(), e.Error()).
		AddMetaValue("kind", string(e.Kind)).
		AddMetaValue("collection", e.Collection).
		AddMetaValue("table", e.Table).
		AddMetaValue("document_id", e.DocumentID).
		AddMetaValue("file_path", e.FilePath)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var kgErr *Error
	if errors.As(err, &kgErr) {
		return kgErr, true
	}
	return nil, false
}

// Is reports whether err's chain carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	kgErr, ok := As(err)
	return ok && kgErr.Kind == kind
}

// IsRetryable reports whether err is worth another attempt at a smaller batch.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	kgErr, ok := As(err)
	if !ok {
		return true
	}
	return kgErr.Kind == KindStoreIO
}
