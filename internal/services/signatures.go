package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stwalsh4118/moveit/internal/analytics"
	"github.com/stwalsh4118/moveit/internal/auth"
	"github.com/stwalsh4118/moveit/internal/forms"
	"github.com/stwalsh4118/moveit/internal/logger"
	"github.com/stwalsh4118/moveit/internal/models"
	"github.com/stwalsh4118/moveit/internal/repository"
)

// signatureSchema resolves a form type that carries signatures.
func (s *formService) signatureSchema(formType models.FormType, notSupported error) (*forms.Schema, error) {
	schema, err := s.schema(formType)
	if err != nil {
		return nil, err
	}
	if !schema.HasSignatures {
		return nil, fmt.Errorf("%w: %s has no signatures", notSupported, formType)
	}
	return schema, nil
}

func validSignatureBlob(blob json.RawMessage) bool {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false
	}
	return json.Valid(trimmed)
}

func incompleteError(schema *forms.Schema, doc *models.FormDocument) error {
	report := forms.Validate(schema, doc.Sections)
	return &IncompleteFormError{MissingSections: report.MissingSections, Errors: report.Errors}
}

func (s *formService) AttachSignature(ctx context.Context, formType models.FormType, id, slotName string, signature json.RawMessage, actor auth.Actor) (*models.FormDocument, error) {
	schema, err := s.signatureSchema(formType, ErrInvalidSlot)
	if err != nil {
		return nil, err
	}
	slot, err := models.ParseSignatureSlot(slotName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSlot, err)
	}
	if !validSignatureBlob(signature) {
		return nil, fmt.Errorf("%w: signature must be a non-empty JSON value", ErrInvalidInput)
	}
	blob := json.RawMessage(bytes.TrimSpace(signature))

	doc, err := s.update(ctx, formType, id, func(doc *models.FormDocument) error {
		switch {
		case slot.IsSeller():
			if !doc.IsOwnedBy(actor.ID) || actor.Role != auth.RoleSeller {
				return ErrNotAuthorized
			}
			if !doc.Status.IsFinal() {
				return incompleteError(schema, doc)
			}
		case slot.IsBuyer():
			if actor.Role != auth.RoleBuyer || !doc.IsSharedWith(actor.ID) || doc.AcknowledgedAt == nil {
				return ErrNotAuthorized
			}
		}

		doc.Signatures.Set(slot, blob)
		status, err := forms.SignIfSlotsFilled(schema, doc.Status, doc.Signatures)
		if errors.Is(err, forms.ErrNotCompleted) {
			return incompleteError(schema, doc)
		}
		if err != nil {
			return err
		}
		doc.Status = status
		doc.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	eventType := analytics.EventSignedSeller
	if slot.IsBuyer() {
		eventType = analytics.EventSignedBuyer
	}
	s.log.Info("Signature attached", logger.Fields{
		"document_id": doc.ID,
		"slot":        slot,
		"status":      doc.Status,
		"buyer_done":  forms.BuyerPhaseDone(doc.Signatures),
	})
	s.emit(ctx, eventType, doc, actor, func(e *analytics.Event) { e.Slot = string(slot) })
	return doc, nil
}

func (s *formService) ShareDocument(ctx context.Context, formType models.FormType, id, buyerID string, actor auth.Actor) (*models.FormDocument, error) {
	schema, err := s.signatureSchema(formType, ErrUnsupported)
	if err != nil {
		return nil, err
	}
	buyerID = strings.TrimSpace(buyerID)
	if err := validation.Validate(buyerID, idRules()...); err != nil {
		return nil, fmt.Errorf("%w: buyer_id: %v", ErrInvalidInput, err)
	}

	doc, err := s.update(ctx, formType, id, func(doc *models.FormDocument) error {
		if !canEdit(doc, actor) {
			return ErrNotAuthorized
		}
		if buyerID == doc.SellerID {
			return fmt.Errorf("%w: cannot share a disclosure with its seller", ErrInvalidInput)
		}
		if !doc.Status.IsFinal() {
			return incompleteError(schema, doc)
		}

		if doc.SharedWith != nil && *doc.SharedWith != buyerID {
			doc.Signatures.Set(models.SlotBuyer1, nil)
			doc.Signatures.Set(models.SlotBuyer2, nil)
		}
		now := s.now()
		doc.SharedWith = &buyerID
		doc.SharedAt = &now
		doc.AcknowledgedAt = nil
		doc.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Disclosure shared", logger.Fields{
		"document_id": doc.ID,
		"buyer_id":    buyerID,
	})
	s.emit(ctx, analytics.EventShared, doc, actor, nil)
	return doc, nil
}

func (s *formService) AcknowledgeDocument(ctx context.Context, formType models.FormType, id string, actor auth.Actor) (*models.FormDocument, error) {
	if _, err := s.signatureSchema(formType, ErrUnsupported); err != nil {
		return nil, err
	}

	var acknowledged bool
	doc, err := s.update(ctx, formType, id, func(doc *models.FormDocument) error {
		acknowledged = false
		if actor.Role != auth.RoleBuyer || !doc.IsSharedWith(actor.ID) {
			return ErrNotAuthorized
		}
		if doc.AcknowledgedAt != nil {
			return repository.ErrNoChange
		}
		now := s.now()
		doc.AcknowledgedAt = &now
		doc.UpdatedAt = now
		acknowledged = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if acknowledged {
		s.log.Info("Disclosure acknowledged", logger.Fields{
			"document_id": doc.ID,
			"buyer_id":    actor.ID,
		})
		s.emit(ctx, analytics.EventAcknowledged, doc, actor, nil)
	}
	return doc, nil
}
