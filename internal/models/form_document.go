package models

import (
	"encoding/json"
	"time"
)

// FormType identifies which kind of multi-section form a document is.
type FormType string

const (
	// FormTypeDisclosure is the seller property disclosure (seller_disclosures).
	FormTypeDisclosure FormType = "disclosure"
	// FormTypeChecklist is the for-sale-by-owner checklist (fsbo_checklists).
	FormTypeChecklist FormType = "checklist"
)

// Valid reports whether the form type is one the API knows about.
func (t FormType) Valid() bool {
	return t == FormTypeDisclosure || t == FormTypeChecklist
}

// Status is the lifecycle state of a form document.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusSigned     Status = "signed"
)

// IsEmptyState reports whether the status is the initial state of a form type.
func (s Status) IsEmptyState() bool {
	return s == StatusDraft || s == StatusNotStarted
}

// IsFinal reports whether the document has been completed (and possibly signed).
// Final documents reject edits until they are reopened.
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusSigned
}

// DocumentKey is the natural key of a form document: one document per
// property/seller pair and form type. PropertyID may be nil for checklists.
type DocumentKey struct {
	PropertyID *string
	SellerID   string
}

// FormDocument is a multi-section form (disclosure or checklist) owned by a seller.
// Sections hold opaque JSON payloads keyed by section key; a nil payload is an
// empty section. CompletionPercentage and Status are derived and maintained by
// the form service, never set directly by callers.
type FormDocument struct {
	CreatedAt            time.Time                  `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time                  `db:"updated_at" json:"updatedAt"`
	LastAutoSaveAt       *time.Time                 `db:"last_auto_save_at" json:"lastAutoSaveAt,omitempty"`
	SharedAt             *time.Time                 `db:"shared_at" json:"sharedAt,omitempty"`
	AcknowledgedAt       *time.Time                 `db:"acknowledged_at" json:"acknowledgedAt,omitempty"`
	PropertyID           *string                    `db:"property_id" json:"propertyId,omitempty"`
	SharedWith           *string                    `db:"shared_with" json:"sharedWith,omitempty"`
	Sections             map[string]json.RawMessage `json:"sections"`
	Signatures           Signatures                 `json:"signatures"`
	ID                   string                     `db:"id" json:"id"`
	SellerID             string                     `db:"seller_id" json:"sellerId"`
	FormType             FormType                   `json:"formType"`
	Status               Status                     `db:"status" json:"status"`
	CompletionPercentage int                        `db:"completion_percentage" json:"completionPercentage"`
	Version              int                        `db:"version" json:"version"`
}

// Section returns the stored payload for a section key, or nil when the
// section has never been saved or was cleared.
func (d *FormDocument) Section(key string) json.RawMessage {
	if d.Sections == nil {
		return nil
	}
	return d.Sections[key]
}

// SetSection replaces the whole payload of a section. A nil payload clears it.
func (d *FormDocument) SetSection(key string, payload json.RawMessage) {
	if d.Sections == nil {
		d.Sections = make(map[string]json.RawMessage)
	}
	d.Sections[key] = payload
}

// IsOwnedBy reports whether userID is the seller that created the document.
func (d *FormDocument) IsOwnedBy(userID string) bool {
	return userID != "" && d.SellerID == userID
}

// IsSharedWith reports whether the document has been shared with the given buyer.
func (d *FormDocument) IsSharedWith(userID string) bool {
	return userID != "" && d.SharedWith != nil && *d.SharedWith == userID && d.SharedAt != nil
}

// Clone returns a deep copy so callers can mutate a document without
// affecting the original (for example when a write must be retried).
func (d *FormDocument) Clone() *FormDocument {
	if d == nil {
		return nil
	}
	c := *d
	c.Sections = make(map[string]json.RawMessage, len(d.Sections))
	for k, v := range d.Sections {
		c.Sections[k] = cloneRaw(v)
	}
	c.Signatures = d.Signatures.Clone()
	c.PropertyID = cloneString(d.PropertyID)
	c.SharedWith = cloneString(d.SharedWith)
	c.LastAutoSaveAt = cloneTime(d.LastAutoSaveAt)
	c.SharedAt = cloneTime(d.SharedAt)
	c.AcknowledgedAt = cloneTime(d.AcknowledgedAt)
	return &c
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
