package forms

import (
	"errors"
	"fmt"

	"github.com/stwalsh4118/moveit/internal/models"
)

// Transition errors.
var (
	ErrNotValid        = errors.New("document is not valid")
	ErrNotCompleted    = errors.New("document is not completed")
	ErrInvalidStatus   = errors.New("invalid status for form type")
	ErrSignaturesUnset = errors.New("form type has no signatures")
)

// RequiredSellerSlots must all be signed before a disclosure becomes signed.
var RequiredSellerSlots = []models.SignatureSlot{models.SlotSeller1}

// RequiredBuyerSlots must all be signed before the buyer phase is done.
var RequiredBuyerSlots = []models.SignatureSlot{models.SlotBuyer1}

// AllowedStatuses returns the statuses a form type can be in.
func AllowedStatuses(schema *Schema) []models.Status {
	statuses := []models.Status{schema.InitialStatus, models.StatusInProgress, models.StatusCompleted}
	if schema.HasSignatures {
		statuses = append(statuses, models.StatusSigned)
	}
	return statuses
}

// CheckStatus verifies that a stored status is legal for the schema.
func CheckStatus(schema *Schema, status models.Status) error {
	for _, s := range AllowedStatuses(schema) {
		if s == status {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot be %q", ErrInvalidStatus, schema.FormType, status)
}

// AdvanceOnSectionSave moves a document out of its empty state once any
// section holds an answer. It never completes or signs a document.
func AdvanceOnSectionSave(status models.Status, anyAnswered bool) models.Status {
	if status.IsEmptyState() && anyAnswered {
		return models.StatusInProgress
	}
	return status
}

// CompleteIfValid moves a document to completed when its validation report is
// clean. Completed and signed documents are left as they are.
func CompleteIfValid(status models.Status, report Report) (models.Status, error) {
	if status.IsFinal() {
		return status, nil
	}
	if !report.Valid {
		return status, ErrNotValid
	}
	return models.StatusCompleted, nil
}

// SignIfSlotsFilled moves a completed disclosure to signed once every required
// seller slot holds a signature. Signing before completion is refused.
func SignIfSlotsFilled(schema *Schema, status models.Status, sigs models.Signatures) (models.Status, error) {
	if !schema.HasSignatures {
		return status, ErrSignaturesUnset
	}
	if !status.IsFinal() {
		return status, ErrNotCompleted
	}
	if status == models.StatusSigned {
		return status, nil
	}
	for _, slot := range RequiredSellerSlots {
		if !sigs.Filled(slot) {
			return status, nil
		}
	}
	return models.StatusSigned, nil
}

// BuyerPhaseDone reports whether every required buyer slot is signed.
func BuyerPhaseDone(sigs models.Signatures) bool {
	for _, slot := range RequiredBuyerSlots {
		if !sigs.Filled(slot) {
			return false
		}
	}
	return true
}

// Reopen returns a completed or signed document to in_progress so it can be
// edited again. Documents that were never completed keep their status.
func Reopen(status models.Status) models.Status {
	if status.IsFinal() {
		return models.StatusInProgress
	}
	return status
}
