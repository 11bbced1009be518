package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/stwalsh4118/moveit/internal/auth"
	apierrors "github.com/stwalsh4118/moveit/internal/errors"
	"github.com/stwalsh4118/moveit/internal/forms"
	"github.com/stwalsh4118/moveit/internal/middleware"
	"github.com/stwalsh4118/moveit/internal/models"
	"github.com/stwalsh4118/moveit/internal/services"
)

// maxBodyBytes caps request bodies before section limits are applied.
const maxBodyBytes = 1 << 20

func init() {
	// Report validation failures by JSON field name.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	}
}

// FormHandler serves one form type over HTTP.
type FormHandler struct {
	service  services.FormService
	formType models.FormType
}

// NewFormHandler creates a new FormHandler instance.
func NewFormHandler(service services.FormService, formType models.FormType) *FormHandler {
	return &FormHandler{
		service:  service,
		formType: formType,
	}
}

// CreateChecklistRequest is the body of POST /fsbo-checklists. Both fields are
// optional; SellerID lets an admin act on behalf of a seller.
type CreateChecklistRequest struct {
	PropertyID *string `json:"property_id" binding:"omitempty,max=128"`
	SellerID   string  `json:"seller_id" binding:"omitempty,max=128"`
}

// UpdateRequest is the body of PUT /:id.
type UpdateRequest struct {
	Sections   map[string]json.RawMessage `json:"sections"`
	PropertyID *string                    `json:"property_id" binding:"omitempty,min=1,max=128"`
}

// SignRequest is the body of POST /:id/sign.
type SignRequest struct {
	Slot      string          `json:"slot" binding:"required,max=16"`
	Signature json.RawMessage `json:"signature" binding:"required"`
}

// ShareRequest is the body of POST /:id/share.
type ShareRequest struct {
	BuyerID string `json:"buyer_id" binding:"required,max=128"`
}

// DocumentResponse wraps a single document.
type DocumentResponse struct {
	Document *DocumentData `json:"document"`
}

// SaveResponse is returned by the auto-save endpoint.
type SaveResponse struct {
	Document             *DocumentData `json:"document"`
	CompletionPercentage int           `json:"completion_percentage"`
}

// ListResponse wraps a seller's documents.
type ListResponse struct {
	Documents []*DocumentData `json:"documents"`
	Count     int             `json:"count"`
}

// ValidationResponse wraps a validation report.
type ValidationResponse struct {
	Validation *forms.Report `json:"validation"`
}

// DocumentData is the API representation of a form document.
// Field order is optimized for memory alignment.
type DocumentData struct {
	CreatedAt            time.Time                  `json:"created_at"`
	UpdatedAt            time.Time                  `json:"updated_at"`
	LastAutoSaveAt       *time.Time                 `json:"last_auto_save_at"`
	SharedAt             *time.Time                 `json:"shared_at,omitempty"`
	AcknowledgedAt       *time.Time                 `json:"acknowledged_at,omitempty"`
	PropertyID           *string                    `json:"property_id"`
	SharedWith           *string                    `json:"shared_with,omitempty"`
	Sections             map[string]json.RawMessage `json:"sections"`
	Signatures           map[string]json.RawMessage `json:"signatures,omitempty"`
	ID                   string                     `json:"id"`
	FormType             string                     `json:"form_type"`
	SellerID             string                     `json:"seller_id"`
	Status               string                     `json:"status"`
	CompletionPercentage int                        `json:"completion_percentage"`
	Version              int                        `json:"version"`
}

// mapDocumentToDTO converts a FormDocument to its API representation.
// Signatures are only reported for form types that carry them.
func mapDocumentToDTO(doc *models.FormDocument) *DocumentData {
	if doc == nil {
		return nil
	}

	dto := &DocumentData{
		CreatedAt:            doc.CreatedAt,
		UpdatedAt:            doc.UpdatedAt,
		LastAutoSaveAt:       doc.LastAutoSaveAt,
		SharedAt:             doc.SharedAt,
		AcknowledgedAt:       doc.AcknowledgedAt,
		PropertyID:           doc.PropertyID,
		SharedWith:           doc.SharedWith,
		Sections:             make(map[string]json.RawMessage, len(doc.Sections)),
		ID:                   doc.ID,
		FormType:             string(doc.FormType),
		SellerID:             doc.SellerID,
		Status:               string(doc.Status),
		CompletionPercentage: doc.CompletionPercentage,
		Version:              doc.Version,
	}
	for key, payload := range doc.Sections {
		if payload != nil {
			dto.Sections[key] = payload
		}
	}

	if doc.FormType == models.FormTypeDisclosure {
		dto.Signatures = make(map[string]json.RawMessage, len(models.AllSignatureSlots))
		for _, slot := range models.AllSignatureSlots {
			dto.Signatures[string(slot)] = doc.Signatures.Get(slot)
		}
	}
	return dto
}

// actor returns the authenticated actor or writes a 401.
func actor(c *gin.Context) (auth.Actor, bool) {
	a, ok := middleware.GetActor(c)
	if !ok {
		apierrors.Unauthorized(c, "Authentication required")
		return auth.Actor{}, false
	}
	return a, true
}

// bindJSON binds a request body, writing a 400 on failure. An empty body is
// accepted when optional is true.
func bindJSON(c *gin.Context, obj interface{}, optional bool) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(obj); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return false
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return false
	}
	return true
}

// handleServiceError maps service errors to HTTP responses.
func (h *FormHandler) handleServiceError(c *gin.Context, err error, message string) {
	var incomplete *services.IncompleteFormError

	switch {
	case errors.Is(err, services.ErrDocumentNotFound):
		apierrors.NotFound(c, "Document not found")
	case errors.Is(err, services.ErrNotAuthorized):
		apierrors.Forbidden(c, "You are not allowed to perform this operation")
	case errors.Is(err, services.ErrInvalidSection):
		apierrors.Respond(c, http.StatusBadRequest, apierrors.ErrInvalidSection, err.Error(), nil)
	case errors.As(err, &incomplete):
		apierrors.UnprocessableEntity(c, apierrors.ErrIncompleteForm, "Form is incomplete", map[string]interface{}{
			"missing_sections": nonNil(incomplete.MissingSections),
			"errors":           nonNil(incomplete.Errors),
		})
	case errors.Is(err, services.ErrIncompleteForm):
		apierrors.UnprocessableEntity(c, apierrors.ErrIncompleteForm, "Form is incomplete", nil)
	case errors.Is(err, services.ErrInvalidSlot):
		apierrors.Respond(c, http.StatusBadRequest, apierrors.ErrInvalidSlot, err.Error(), nil)
	case errors.Is(err, services.ErrConflictingWrite):
		apierrors.Conflict(c, apierrors.ErrConflict, "The document changed while saving, please retry")
	case errors.Is(err, services.ErrDocumentLocked):
		apierrors.Conflict(c, apierrors.ErrDocumentLocked, err.Error())
	case errors.Is(err, services.ErrDocumentExists):
		apierrors.Conflict(c, apierrors.ErrConflict, err.Error())
	case errors.Is(err, services.ErrUnsupported):
		apierrors.Respond(c, http.StatusBadRequest, apierrors.ErrUnsupported, err.Error(), nil)
	case errors.Is(err, services.ErrInvalidInput):
		apierrors.BadRequest(c, err.Error(), nil)
	default:
		apierrors.InternalServerError(c, message, err)
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func (h *FormHandler) respondDocument(c *gin.Context, status int, doc *models.FormDocument) {
	c.JSON(status, DocumentResponse{Document: mapDocumentToDTO(doc)})
}

// GetOrCreateByProperty handles GET /disclosures/:id where :id is the
// property id. Admins may pass seller_id to act on behalf of a seller.
func (h *FormHandler) GetOrCreateByProperty(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	propertyID := c.Param("id")
	ownerID := c.DefaultQuery("seller_id", a.ID)

	doc, err := h.service.GetOrCreate(c.Request.Context(), h.formType, &propertyID, ownerID, a)
	if err != nil {
		h.handleServiceError(c, err, "Failed to load form")
		return
	}
	h.respondDocument(c, http.StatusOK, doc)
}

// Create handles POST /fsbo-checklists.
func (h *FormHandler) Create(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	var req CreateChecklistRequest
	if !bindJSON(c, &req, true) {
		return
	}
	ownerID := req.SellerID
	if ownerID == "" {
		ownerID = a.ID
	}

	if log := middleware.GetLogger(c); log != nil {
		log.Debug("Processing get-or-create request", map[string]interface{}{
			"form_type":    h.formType,
			"has_property": req.PropertyID != nil,
		})
	}

	doc, err := h.service.GetOrCreate(c.Request.Context(), h.formType, req.PropertyID, ownerID, a)
	if err != nil {
		h.handleServiceError(c, err, "Failed to load form")
		return
	}
	h.respondDocument(c, http.StatusOK, doc)
}

// List handles GET / for the caller's documents.
func (h *FormHandler) List(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	docs, err := h.service.ListDocuments(c.Request.Context(), h.formType, c.Query("seller_id"), a)
	if err != nil {
		h.handleServiceError(c, err, "Failed to list forms")
		return
	}

	response := ListResponse{
		Documents: make([]*DocumentData, 0, len(docs)),
		Count:     len(docs),
	}
	for _, doc := range docs {
		response.Documents = append(response.Documents, mapDocumentToDTO(doc))
	}
	c.JSON(http.StatusOK, response)
}

// Get handles GET /:id/document (disclosures) and GET /:id (checklists).
func (h *FormHandler) Get(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	doc, err := h.service.GetDocument(c.Request.Context(), h.formType, c.Param("id"), a)
	if err != nil {
		h.handleServiceError(c, err, "Failed to load form")
		return
	}
	h.respondDocument(c, http.StatusOK, doc)
}

// AutoSave handles PATCH /:id/sections/:section. The body is the raw section
// payload; JSON null clears the section.
func (h *FormHandler) AutoSave(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		apierrors.BadRequest(c, "Request body too large or unreadable", nil)
		return
	}

	result, err := h.service.AutoSaveSection(c.Request.Context(), h.formType, c.Param("id"), c.Param("section"), payload, a)
	if err != nil {
		h.handleServiceError(c, err, "Failed to save section")
		return
	}

	c.JSON(http.StatusOK, SaveResponse{
		Document:             mapDocumentToDTO(result.Document),
		CompletionPercentage: result.CompletionPercentage,
	})
}

// Update handles PUT /:id.
func (h *FormHandler) Update(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	var req UpdateRequest
	if !bindJSON(c, &req, false) {
		return
	}

	doc, err := h.service.UpdateDocument(c.Request.Context(), h.formType, c.Param("id"), services.DocumentPatch{
		Sections:   req.Sections,
		PropertyID: req.PropertyID,
	}, a)
	if err != nil {
		h.handleServiceError(c, err, "Failed to update form")
		return
	}
	h.respondDocument(c, http.StatusOK, doc)
}

// Validate handles GET /:id/validation.
func (h *FormHandler) Validate(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	report, err := h.service.Validate(c.Request.Context(), h.formType, c.Param("id"), a)
	if err != nil {
		h.handleServiceError(c, err, "Failed to validate form")
		return
	}
	c.JSON(http.StatusOK, ValidationResponse{Validation: report})
}

// Complete handles POST /:id/complete.
func (h *FormHandler) Complete(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	doc, err := h.service.CompleteDocument(c.Request.Context(), h.formType, c.Param("id"), a)
	if err != nil {
		h.handleServiceError(c, err, "Failed to complete form")
		return
	}
	h.respondDocument(c, http.StatusOK, doc)
}

// Reopen handles POST /:id/reopen.
func (h *FormHandler) Reopen(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	doc, err := h.service.ReopenDocument(c.Request.Context(), h.formType, c.Param("id"), a)
	if err != nil {
		h.handleServiceError(c, err, "Failed to reopen form")
		return
	}
	h.respondDocument(c, http.StatusOK, doc)
}

// Sign handles POST /:id/sign.
func (h *FormHandler) Sign(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	var req SignRequest
	if !bindJSON(c, &req, false) {
		return
	}

	doc, err := h.service.AttachSignature(c.Request.Context(), h.formType, c.Param("id"), req.Slot, req.Signature, a)
	if err != nil {
		h.handleServiceError(c, err, "Failed to attach signature")
		return
	}
	h.respondDocument(c, http.StatusOK, doc)
}

// Share handles POST /:id/share.
func (h *FormHandler) Share(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	var req ShareRequest
	if !bindJSON(c, &req, false) {
		return
	}

	doc, err := h.service.ShareDocument(c.Request.Context(), h.formType, c.Param("id"), req.BuyerID, a)
	if err != nil {
		h.handleServiceError(c, err, "Failed to share form")
		return
	}
	h.respondDocument(c, http.StatusOK, doc)
}

// Acknowledge handles POST /:id/acknowledge.
func (h *FormHandler) Acknowledge(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	doc, err := h.service.AcknowledgeDocument(c.Request.Context(), h.formType, c.Param("id"), a)
	if err != nil {
		h.handleServiceError(c, err, "Failed to acknowledge form")
		return
	}
	h.respondDocument(c, http.StatusOK, doc)
}

// Delete handles DELETE /:id.
func (h *FormHandler) Delete(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	if err := h.service.DeleteDocument(c.Request.Context(), h.formType, c.Param("id"), a); err != nil {
		h.handleServiceError(c, err, "Failed to delete form")
		return
	}
	c.Status(http.StatusNoContent)
}
