// Package events publishes form lifecycle notifications to a message
// broker so other services (mailers, analytics) can react to them.
package events

import (
	"context"
	"time"
)

// Routing keys.
const (
	TypeFormCreated       = "form.created"
	TypeResponseSubmitted = "form.response.submitted"
	TypeFormDeleted       = "form.deleted"
)

// Event is the JSON body of every published message.
type Event struct {
	Type       string    `json:"type"`
	FormID     string    `json:"formId"`
	OwnerEmail string    `json:"ownerEmail"`
	UserEmail  string    `json:"userEmail,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher sends an event. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
