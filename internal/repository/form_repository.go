package repository

import (
	"context"
	"errors"
	"time"

	"github.com/stwalsh4118/moveit/internal/models"
)

var (
	// ErrNotFound is returned by Update when the document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrVersionConflict is returned when a document changed between read and write.
	ErrVersionConflict = errors.New("document version conflict")
	// ErrDuplicate is returned when a write would create a second document for a key.
	ErrDuplicate = errors.New("document already exists for key")
	// ErrNoChange may be returned by a MutateFunc to end Update without writing.
	ErrNoChange = errors.New("no change")
)

// MutateFunc edits a locked copy of a document inside Update. Derived fields
// (status, completion, timestamps) must be set by the function; the repository
// only bumps Version.
type MutateFunc func(doc *models.FormDocument) error

// FormRepository defines data access for form documents of every form type.
type FormRepository interface {
	// GetOrCreate returns the document for key, inserting an empty one first
	// when none exists. created reports whether this call inserted the row.
	// Concurrent callers for the same key all get the same document.
	GetOrCreate(ctx context.Context, formType models.FormType, key models.DocumentKey, now time.Time) (doc *models.FormDocument, created bool, err error)

	// FindByID returns the document with the given id.
	// Returns nil, nil if no document is found (not an error).
	FindByID(ctx context.Context, formType models.FormType, id string) (*models.FormDocument, error)

	// ListBySeller returns every document owned by a seller, oldest first.
	// Returns an empty slice if the seller has none.
	ListBySeller(ctx context.Context, formType models.FormType, sellerID string) ([]*models.FormDocument, error)

	// Update locks the document, applies fn and writes the result back in one
	// transaction. Returns ErrNotFound, ErrVersionConflict, ErrDuplicate, or
	// the error returned by fn. When fn returns ErrNoChange the stored document
	// is returned unchanged with a nil error.
	Update(ctx context.Context, formType models.FormType, id string, fn MutateFunc) (*models.FormDocument, error)

	// Delete removes a document and reports whether it existed.
	Delete(ctx context.Context, formType models.FormType, id string) (bool, error)
}
