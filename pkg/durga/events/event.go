// Package events defines the event model and the in-memory approval queue.
// An Event is one detected external occurrence (new mail, chat message or
// form submission) waiting for human disposition.
package events

import "time"

// Type classifies what kind of occurrence an event records.
type Type string

const (
	TypeNewEmail      Type = "new_email"
	TypeNewWhatsApp   Type = "new_whatsapp"
	TypeNewSubmission Type = "new_submission"
)

// Status is the lifecycle state of an event. Pending events await a human
// decision; approved and dismissed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDismissed Status = "dismissed"
)

// Event is a normalized record of one upstream item.
type Event struct {
	// ID is globally unique, derived from the source name plus the
	// upstream item id (or its timestamp when no id is present).
	ID string `json:"id"`

	// Type is the event kind (new_email, new_whatsapp, new_submission).
	Type Type `json:"type"`

	// Source names where the event came from, e.g. "gmail" for polled
	// items or "gmail_webhook" for pushed ones.
	Source string `json:"source"`

	// Timestamp is the event creation instant.
	Timestamp time.Time `json:"timestamp"`

	// Data is the normalized payload (sender, subject, body, snippet, or
	// the raw submission object).
	Data map[string]any `json:"data"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// SuggestedAction is set at most once, at insert time, when
	// auto-processing was enabled and the token budget allowed it.
	SuggestedAction string `json:"suggested_action,omitempty"`

	// ApprovedAt / DismissedAt are stamped on the matching transition.
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
}
