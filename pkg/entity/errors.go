package entity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/orneryd/fusedb/pkg/source"
)

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError carries structured per-field messages. It is surfaced
// before any source I/O is attempted.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// NotFoundError reports that the primary source returned no record.
type NotFoundError struct {
	Entity string
	Key    any
}

func (e *NotFoundError) Error() string {
	if e.Key == nil {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %v not found", e.Entity, e.Key)
}

// IsNotFound reports whether err is a domain not-found condition.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// SourceErrorKind distinguishes the only adapter conditions callers may
// branch on.
type SourceErrorKind int

const (
	SourceFailure SourceErrorKind = iota
	SourceDuplicate
)

// SourceError is the user-safe translation of an adapter failure. The
// originating detailed error is logged, not carried here, to avoid leaking
// adapter internals to callers.
type SourceError struct {
	Entity  string
	Source  string
	Kind    SourceErrorKind
	Message string
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Entity, e.Message)
}

// IsDuplicate reports whether err is a duplicate-key condition.
func IsDuplicate(err error) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Kind == SourceDuplicate
}

// ConfigurationError reports an invalid entity registration: a field
// mapping referencing an undeclared source, no primary binding, and so on.
// Fatal at registration time, never per request.
type ConfigurationError struct {
	Entity string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("entity %q misconfigured: %s", e.Entity, e.Reason)
}

// translateSourceError converts an adapter failure into its user-safe form
// and logs the detail. Not-found on a secondary is handled by callers
// before reaching here; not-found on the primary becomes a NotFoundError.
func (t *Type) translateSourceError(sourceName string, err error) error {
	// Pass through errors already translated by a nested orchestration.
	var se *SourceError
	var ve *ValidationError
	var nf *NotFoundError
	if errors.As(err, &se) || errors.As(err, &ve) || errors.As(err, &nf) {
		return err
	}

	t.logger.Log("error", "source operation failed", map[string]any{
		"entity": t.name,
		"source": sourceName,
		"error":  err.Error(),
	})

	out := &SourceError{Entity: t.name, Source: sourceName}
	switch {
	case errors.Is(err, source.ErrAlreadyExists):
		out.Kind = SourceDuplicate
		out.Message = "duplicate value"
	case errors.Is(err, source.ErrNotFound):
		out.Message = "record not found"
	default:
		out.Message = "source operation failed"
	}
	return out
}
