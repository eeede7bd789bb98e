package rtc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrClosed        = errors.New("store closed")
	ErrUnknownSchema = errors.New("unknown schema")
	ErrUnknownField  = errors.New("unknown field")
	ErrKindMismatch  = errors.New("field kind mismatch")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// RecordError reports a problem with a particular record or field.
type RecordError struct {
	Schema string
	ID     string
	Field  string
	Msg    string
	Err    error
}

func recordErrf(schemaID, id, field string, err error, format string, args ...any) error {
	var msg string
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &RecordError{schemaID, id, field, msg, err}
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Schema)
	if e.ID != "" {
		buf.WriteByte('/')
		buf.WriteString(e.ID)
	}
	if e.Field != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Field)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// SchemaError is returned by Open when a field's kind differs from the kind
// recorded in the store by an earlier run.
type SchemaError struct {
	Schema   string
	Field    string
	Stored   FieldKind
	Declared FieldKind
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s.%s: stored as %v, declared as %v", e.Schema, e.Field, e.Stored, e.Declared)
}

func (e *SchemaError) Unwrap() error {
	return ErrKindMismatch
}

// FailureKind tells which stage of a connected pipeline failed.
type FailureKind int

const (
	// SourceFailure means a record stream could not be produced.
	SourceFailure FailureKind = iota + 1
	// PipelineFailure means the pipeline function itself failed.
	PipelineFailure
	// TransactionFailure means applying an emission to the store failed.
	TransactionFailure
)

func (k FailureKind) String() string {
	switch k {
	case SourceFailure:
		return "source"
	case PipelineFailure:
		return "pipeline"
	case TransactionFailure:
		return "transaction"
	default:
		return fmt.Sprintf("invalid failure kind %d", int(k))
	}
}

// Failure is the terminal error of a Connection or a record stream.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%v failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// classifyFailure wraps err as a Failure of the given kind unless it
// already is one.
func classifyFailure(kind FailureKind, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: kind, Err: err}
}

// FailureKindOf returns the kind of the Failure in err's chain, or 0.
func FailureKindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}
