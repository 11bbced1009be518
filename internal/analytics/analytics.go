// Package analytics publishes fire-and-forget form events.
package analytics

import (
	"context"
	"time"

	"github.com/stwalsh4118/moveit/internal/logger"
	"github.com/stwalsh4118/moveit/internal/models"
)

// EventType names a form lifecycle event.
type EventType string

const (
	EventCreated      EventType = "created"
	EventSectionSaved EventType = "section_saved"
	EventUpdated      EventType = "updated"
	EventCompleted    EventType = "completed"
	EventReopened     EventType = "reopened"
	EventSignedSeller EventType = "signed_seller"
	EventSignedBuyer  EventType = "signed_buyer"
	EventShared       EventType = "shared"
	EventAcknowledged EventType = "acknowledged"
	EventDeleted      EventType = "deleted"
)

// Event is one analytics record.
type Event struct {
	OccurredAt           time.Time       `json:"occurred_at"`
	Type                 EventType       `json:"type"`
	FormType             models.FormType `json:"form_type"`
	DocumentID           string          `json:"document_id"`
	PropertyID           string          `json:"property_id,omitempty"`
	SellerID             string          `json:"seller_id"`
	ActorID              string          `json:"actor_id"`
	Status               models.Status   `json:"status"`
	Section              string          `json:"section,omitempty"`
	Slot                 string          `json:"slot,omitempty"`
	CompletionPercentage int             `json:"completion_percentage"`
}

// NewEvent builds an event describing a document as it stands after an operation.
func NewEvent(eventType EventType, doc *models.FormDocument, actorID string, at time.Time) Event {
	e := Event{
		OccurredAt:           at.UTC(),
		Type:                 eventType,
		FormType:             doc.FormType,
		DocumentID:           doc.ID,
		SellerID:             doc.SellerID,
		ActorID:              actorID,
		Status:               doc.Status,
		CompletionPercentage: doc.CompletionPercentage,
	}
	if doc.PropertyID != nil {
		e.PropertyID = *doc.PropertyID
	}
	return e
}

// Sink accepts analytics events. Publish failures are the caller's to log;
// they never fail the operation that produced the event.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// LogSink writes events to the structured log. It is used when no Redis
// stream is configured.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink that logs every event at info level.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

// Publish logs the event.
func (s *LogSink) Publish(_ context.Context, event Event) error {
	s.log.Info("form event", logger.Fields{
		"event":       event.Type,
		"form_type":   event.FormType,
		"document_id": event.DocumentID,
		"seller_id":   event.SellerID,
		"actor_id":    event.ActorID,
		"status":      event.Status,
		"completion":  event.CompletionPercentage,
		"section":     event.Section,
		"slot":        event.Slot,
	})
	return nil
}
