package services

import (
	"errors"
	"fmt"
	"strings"
)

// Service-level errors. Handlers map them to HTTP responses with errors.Is.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrInvalidSection   = errors.New("invalid section")
	ErrIncompleteForm   = errors.New("form is incomplete")
	ErrInvalidSlot      = errors.New("invalid signature slot")
	ErrConflictingWrite = errors.New("conflicting write, please retry")
	ErrDocumentLocked   = errors.New("document is completed, reopen it before editing")
	ErrDocumentExists   = errors.New("a document already exists for this property")
	ErrUnsupported      = errors.New("operation not supported for this form type")
	ErrInvalidInput     = errors.New("invalid input")
)

// IncompleteFormError reports why a document cannot be completed or signed.
// It matches ErrIncompleteForm with errors.Is.
type IncompleteFormError struct {
	MissingSections []string
	Errors          []string
}

func (e *IncompleteFormError) Error() string {
	var parts []string
	if len(e.MissingSections) > 0 {
		parts = append(parts, "missing sections: "+strings.Join(e.MissingSections, ", "))
	}
	if len(e.Errors) > 0 {
		parts = append(parts, strings.Join(e.Errors, "; "))
	}
	if len(parts) == 0 {
		return ErrIncompleteForm.Error()
	}
	return fmt.Sprintf("%s: %s", ErrIncompleteForm.Error(), strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrIncompleteForm) true.
func (e *IncompleteFormError) Is(target error) bool {
	return target == ErrIncompleteForm
}
