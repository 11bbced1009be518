package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stwalsh4118/moveit/internal/analytics"
	"github.com/stwalsh4118/moveit/internal/auth"
	"github.com/stwalsh4118/moveit/internal/forms"
	"github.com/stwalsh4118/moveit/internal/logger"
	"github.com/stwalsh4118/moveit/internal/models"
	"github.com/stwalsh4118/moveit/internal/repository"
)

// maxIDLength bounds caller supplied owner, property and buyer ids.
const maxIDLength = 128

// publishTimeout bounds a single analytics publish.
const publishTimeout = 2 * time.Second

// SaveResult is returned by AutoSaveSection.
type SaveResult struct {
	Document             *models.FormDocument
	CompletionPercentage int
}

// DocumentPatch is a full-form edit: every listed section is replaced as a
// whole, and PropertyID may attach a property to a checklist created without one.
type DocumentPatch struct {
	Sections   map[string]json.RawMessage
	PropertyID *string
}

// FormService keeps one document per (property, seller, form type), applies
// section edits and maintains completion percentage and status.
type FormService interface {
	// GetOrCreate returns the owner's document for a property, creating an
	// empty one on first access. Safe under concurrent first access.
	GetOrCreate(ctx context.Context, formType models.FormType, propertyID *string, ownerID string, actor auth.Actor) (*models.FormDocument, error)

	// GetDocument returns a document by id to its owner, an admin, or the
	// buyer it was shared with.
	GetDocument(ctx context.Context, formType models.FormType, id string, actor auth.Actor) (*models.FormDocument, error)

	// ListDocuments returns every document owned by ownerID.
	ListDocuments(ctx context.Context, formType models.FormType, ownerID string, actor auth.Actor) ([]*models.FormDocument, error)

	// AutoSaveSection replaces one section and recomputes completion.
	AutoSaveSection(ctx context.Context, formType models.FormType, id, sectionKey string, payload json.RawMessage, actor auth.Actor) (*SaveResult, error)

	// UpdateDocument applies a multi-section patch in one write.
	UpdateDocument(ctx context.Context, formType models.FormType, id string, patch DocumentPatch, actor auth.Actor) (*models.FormDocument, error)

	// Validate reports missing required sections and cross-field errors
	// without changing the document.
	Validate(ctx context.Context, formType models.FormType, id string, actor auth.Actor) (*forms.Report, error)

	// CompleteDocument moves a valid document to completed. Idempotent.
	CompleteDocument(ctx context.Context, formType models.FormType, id string, actor auth.Actor) (*models.FormDocument, error)

	// ReopenDocument returns a completed or signed document to in_progress,
	// keeping its sections and clearing signatures and sharing.
	ReopenDocument(ctx context.Context, formType models.FormType, id string, actor auth.Actor) (*models.FormDocument, error)

	// AttachSignature stores a signature blob in a disclosure slot.
	AttachSignature(ctx context.Context, formType models.FormType, id, slot string, signature json.RawMessage, actor auth.Actor) (*models.FormDocument, error)

	// ShareDocument shares a completed disclosure with a buyer.
	ShareDocument(ctx context.Context, formType models.FormType, id, buyerID string, actor auth.Actor) (*models.FormDocument, error)

	// AcknowledgeDocument records that the buyer reviewed a shared disclosure.
	AcknowledgeDocument(ctx context.Context, formType models.FormType, id string, actor auth.Actor) (*models.FormDocument, error)

	// DeleteDocument removes a checklist.
	DeleteDocument(ctx context.Context, formType models.FormType, id string, actor auth.Actor) error
}

// formService is the concrete implementation of FormService.
type formService struct {
	repo     repository.FormRepository
	registry *forms.Registry
	sink     analytics.Sink
	log      *logger.Logger
	now      func() time.Time
}

// Option customizes a FormService.
type Option func(*formService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *formService) { s.now = now }
}

// NewFormService creates a new instance of FormService.
func NewFormService(repo repository.FormRepository, registry *forms.Registry, sink analytics.Sink, log *logger.Logger, opts ...Option) FormService {
	s := &formService{
		repo:     repo,
		registry: registry,
		sink:     sink,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *formService) schema(formType models.FormType) (*forms.Schema, error) {
	schema, err := s.registry.Schema(formType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return schema, nil
}

func canRead(doc *models.FormDocument, actor auth.Actor) bool {
	if actor.IsAdmin() || doc.IsOwnedBy(actor.ID) {
		return true
	}
	return actor.Role == auth.RoleBuyer && doc.IsSharedWith(actor.ID)
}

func canEdit(doc *models.FormDocument, actor auth.Actor) bool {
	return doc.IsOwnedBy(actor.ID)
}

func idRules() []validation.Rule {
	return []validation.Rule{validation.Required, validation.Length(1, maxIDLength)}
}

// emit publishes an event without letting sink failures reach the caller.
// The request context may already be cancelled, so publishing is detached.
func (s *formService) emit(ctx context.Context, eventType analytics.EventType, doc *models.FormDocument, actor auth.Actor, decorate func(*analytics.Event)) {
	if s.sink == nil {
		return
	}
	event := analytics.NewEvent(eventType, doc, actor.ID, s.now())
	if decorate != nil {
		decorate(&event)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.sink.Publish(pubCtx, event); err != nil {
		s.log.Warn("Failed to publish form event", logger.Fields{
			"event":       eventType,
			"document_id": doc.ID,
			"error":       err.Error(),
		})
	}
}

// update runs a read-modify-write, retrying once when the row changed
// underneath it. fn must be safe to run twice.
func (s *formService) update(ctx context.Context, formType models.FormType, id string, fn repository.MutateFunc) (*models.FormDocument, error) {
	doc, err := s.repo.Update(ctx, formType, id, fn)
	if errors.Is(err, repository.ErrVersionConflict) {
		s.log.Warn("Retrying write after version conflict", logger.Fields{
			"form_type":   formType,
			"document_id": id,
		})
		doc, err = s.repo.Update(ctx, formType, id, fn)
	}

	switch {
	case err == nil:
		return doc, nil
	case errors.Is(err, repository.ErrVersionConflict):
		return nil, ErrConflictingWrite
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrDocumentNotFound
	case errors.Is(err, repository.ErrDuplicate):
		return nil, ErrDocumentExists
	case isServiceError(err):
		return nil, err
	default:
		s.log.Error("Failed to update form document", err, logger.Fields{
			"form_type":   formType,
			"document_id": id,
		})
		return nil, fmt.Errorf("failed to update %s: %w", formType, err)
	}
}

func isServiceError(err error) bool {
	for _, target := range []error{
		ErrNotAuthorized, ErrInvalidSection, ErrIncompleteForm, ErrInvalidSlot,
		ErrDocumentLocked, ErrUnsupported, ErrInvalidInput, ErrDocumentNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// load fetches a document for reading and checks access.
func (s *formService) load(ctx context.Context, formType models.FormType, id string, actor auth.Actor) (*models.FormDocument, error) {
	doc, err := s.repo.FindByID(ctx, formType, id)
	if err != nil {
		s.log.Error("Failed to load form document", err, logger.Fields{
			"form_type":   formType,
			"document_id": id,
		})
		return nil, fmt.Errorf("failed to load %s: %w", formType, err)
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	if !canRead(doc, actor) {
		return nil, ErrNotAuthorized
	}
	return doc, nil
}

func (s *formService) GetOrCreate(ctx context.Context, formType models.FormType, propertyID *string, ownerID string, actor auth.Actor) (*models.FormDocument, error) {
	schema, err := s.schema(formType)
	if err != nil {
		return nil, err
	}

	ownerID = strings.TrimSpace(ownerID)
	if propertyID != nil {
		trimmed := strings.TrimSpace(*propertyID)
		propertyID = &trimmed
		if trimmed == "" && formType == models.FormTypeChecklist {
			propertyID = nil
		}
	}

	propertyRules := []validation.Rule{validation.Length(1, maxIDLength)}
	if formType == models.FormTypeDisclosure {
		propertyRules = append([]validation.Rule{validation.Required}, propertyRules...)
	}
	var property string
	if propertyID != nil {
		property = *propertyID
	}
	if err := (validation.Errors{
		"owner_id":    validation.Validate(ownerID, idRules()...),
		"property_id": validation.Validate(property, propertyRules...),
	}).Filter(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if !actor.IsAdmin() && (actor.ID != ownerID || actor.Role != auth.RoleSeller) {
		return nil, ErrNotAuthorized
	}

	doc, created, err := s.repo.GetOrCreate(ctx, schema.FormType, models.DocumentKey{PropertyID: propertyID, SellerID: ownerID}, s.now())
	if err != nil {
		s.log.Error("Failed to get or create form document", err, logger.Fields{
			"form_type": formType,
			"seller_id": ownerID,
		})
		return nil, fmt.Errorf("failed to get or create %s: %w", formType, err)
	}

	if created {
		s.log.Info("Form document created", logger.Fields{
			"form_type":   formType,
			"document_id": doc.ID,
			"seller_id":   ownerID,
		})
		s.emit(ctx, analytics.EventCreated, doc, actor, nil)
	}
	return doc, nil
}

func (s *formService) GetDocument(ctx context.Context, formType models.FormType, id string, actor auth.Actor) (*models.FormDocument, error) {
	if _, err := s.schema(formType); err != nil {
		return nil, err
	}
	return s.load(ctx, formType, id, actor)
}

func (s *formService) ListDocuments(ctx context.Context, formType models.FormType, ownerID string, actor auth.Actor) ([]*models.FormDocument, error) {
	if _, err := s.schema(formType); err != nil {
		return nil, err
	}
	if ownerID == "" {
		ownerID = actor.ID
	}
	if !actor.IsAdmin() && actor.ID != ownerID {
		return nil, ErrNotAuthorized
	}

	docs, err := s.repo.ListBySeller(ctx, formType, ownerID)
	if err != nil {
		s.log.Error("Failed to list form documents", err, logger.Fields{
			"form_type": formType,
			"seller_id": ownerID,
		})
		return nil, fmt.Errorf("failed to list %s: %w", formType, err)
	}
	return docs, nil
}

// applySections validates and stores section payloads, then recomputes the
// derived fields from the full section set that will be persisted.
func applySections(schema *forms.Schema, doc *models.FormDocument, sections map[string]json.RawMessage) {
	for key, payload := range sections {
		doc.SetSection(key, payload)
	}
	doc.CompletionPercentage = forms.Completion(schema, doc.Sections)
	doc.Status = forms.AdvanceOnSectionSave(doc.Status, forms.AnyAnswered(doc.Sections))
}

func normalizeSection(schema *forms.Schema, key string, payload json.RawMessage) (json.RawMessage, error) {
	normalized, err := forms.NormalizePayload(schema, key, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSection, err)
	}
	return normalized, nil
}

func (s *formService) AutoSaveSection(ctx context.Context, formType models.FormType, id, sectionKey string, payload json.RawMessage, actor auth.Actor) (*SaveResult, error) {
	schema, err := s.schema(formType)
	if err != nil {
		return nil, err
	}
	normalized, err := normalizeSection(schema, sectionKey, payload)
	if err != nil {
		return nil, err
	}

	doc, err := s.update(ctx, formType, id, func(doc *models.FormDocument) error {
		if !canEdit(doc, actor) {
			return ErrNotAuthorized
		}
		if doc.Status.IsFinal() {
			return ErrDocumentLocked
		}

		now := s.now()
		applySections(schema, doc, map[string]json.RawMessage{sectionKey: normalized})
		doc.LastAutoSaveAt = &now
		doc.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("Section auto-saved", logger.Fields{
		"form_type":   formType,
		"document_id": doc.ID,
		"section":     sectionKey,
		"completion":  doc.CompletionPercentage,
		"status":      doc.Status,
	})
	s.emit(ctx, analytics.EventSectionSaved, doc, actor, func(e *analytics.Event) { e.Section = sectionKey })

	return &SaveResult{Document: doc, CompletionPercentage: doc.CompletionPercentage}, nil
}

func (s *formService) UpdateDocument(ctx context.Context, formType models.FormType, id string, patch DocumentPatch, actor auth.Actor) (*models.FormDocument, error) {
	schema, err := s.schema(formType)
	if err != nil {
		return nil, err
	}
	if len(patch.Sections) == 0 && patch.PropertyID == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}

	sections := make(map[string]json.RawMessage, len(patch.Sections))
	for key, payload := range patch.Sections {
		normalized, err := normalizeSection(schema, key, payload)
		if err != nil {
			return nil, err
		}
		sections[key] = normalized
	}

	var propertyID *string
	if patch.PropertyID != nil {
		trimmed := strings.TrimSpace(*patch.PropertyID)
		if err := validation.Validate(trimmed, idRules()...); err != nil {
			return nil, fmt.Errorf("%w: property_id: %v", ErrInvalidInput, err)
		}
		propertyID = &trimmed
	}

	doc, err := s.update(ctx, formType, id, func(doc *models.FormDocument) error {
		if !canEdit(doc, actor) {
			return ErrNotAuthorized
		}
		if doc.Status.IsFinal() {
			return ErrDocumentLocked
		}
		if propertyID != nil {
			switch {
			case doc.PropertyID != nil && *doc.PropertyID == *propertyID:
			case doc.PropertyID != nil:
				return fmt.Errorf("%w: property cannot be changed once set", ErrInvalidInput)
			default:
				doc.PropertyID = propertyID
			}
		}

		applySections(schema, doc, sections)
		doc.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Form document updated", logger.Fields{
		"form_type":   formType,
		"document_id": doc.ID,
		"sections":    len(sections),
		"completion":  doc.CompletionPercentage,
	})
	s.emit(ctx, analytics.EventUpdated, doc, actor, nil)
	return doc, nil
}

func (s *formService) Validate(ctx context.Context, formType models.FormType, id string, actor auth.Actor) (*forms.Report, error) {
	schema, err := s.schema(formType)
	if err != nil {
		return nil, err
	}
	doc, err := s.load(ctx, formType, id, actor)
	if err != nil {
		return nil, err
	}
	report := forms.Validate(schema, doc.Sections)
	return &report, nil
}

func (s *formService) CompleteDocument(ctx context.Context, formType models.FormType, id string, actor auth.Actor) (*models.FormDocument, error) {
	schema, err := s.schema(formType)
	if err != nil {
		return nil, err
	}

	var completed bool
	doc, err := s.update(ctx, formType, id, func(doc *models.FormDocument) error {
		completed = false
		if !canEdit(doc, actor) {
			return ErrNotAuthorized
		}
		if doc.Status.IsFinal() {
			return repository.ErrNoChange
		}

		report := forms.Validate(schema, doc.Sections)
		status, err := forms.CompleteIfValid(doc.Status, report)
		if err != nil {
			return &IncompleteFormError{MissingSections: report.MissingSections, Errors: report.Errors}
		}

		doc.Status = status
		doc.CompletionPercentage = forms.Completion(schema, doc.Sections)
		doc.UpdatedAt = s.now()
		completed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if completed {
		s.log.Info("Form document completed", logger.Fields{
			"form_type":   formType,
			"document_id": doc.ID,
		})
		s.emit(ctx, analytics.EventCompleted, doc, actor, nil)
	}
	return doc, nil
}

func (s *formService) ReopenDocument(ctx context.Context, formType models.FormType, id string, actor auth.Actor) (*models.FormDocument, error) {
	if _, err := s.schema(formType); err != nil {
		return nil, err
	}

	var reopened bool
	doc, err := s.update(ctx, formType, id, func(doc *models.FormDocument) error {
		reopened = false
		if !canEdit(doc, actor) {
			return ErrNotAuthorized
		}
		if !doc.Status.IsFinal() {
			return repository.ErrNoChange
		}

		doc.Status = forms.Reopen(doc.Status)
		doc.Signatures.Clear()
		doc.SharedWith = nil
		doc.SharedAt = nil
		doc.AcknowledgedAt = nil
		doc.UpdatedAt = s.now()
		reopened = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if reopened {
		s.log.Info("Form document reopened", logger.Fields{
			"form_type":   formType,
			"document_id": doc.ID,
		})
		s.emit(ctx, analytics.EventReopened, doc, actor, nil)
	}
	return doc, nil
}

func (s *formService) DeleteDocument(ctx context.Context, formType models.FormType, id string, actor auth.Actor) error {
	schema, err := s.schema(formType)
	if err != nil {
		return err
	}
	if schema.HasSignatures {
		return fmt.Errorf("%w: %s documents cannot be deleted", ErrUnsupported, formType)
	}

	doc, err := s.repo.FindByID(ctx, formType, id)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", formType, err)
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	if !doc.IsOwnedBy(actor.ID) {
		return ErrNotAuthorized
	}

	deleted, err := s.repo.Delete(ctx, formType, id)
	if err != nil {
		s.log.Error("Failed to delete form document", err, logger.Fields{
			"form_type":   formType,
			"document_id": id,
		})
		return fmt.Errorf("failed to delete %s: %w", formType, err)
	}
	if !deleted {
		return ErrDocumentNotFound
	}

	s.log.Info("Form document deleted", logger.Fields{
		"form_type":   formType,
		"document_id": id,
	})
	s.emit(ctx, analytics.EventDeleted, doc, actor, nil)
	return nil
}
