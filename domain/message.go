// Package domain contains core concepts of the chat system.
// This file defines Message records and related rules.
// Messages are immutable once the store has assigned their ID.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message represents a persisted direct message.
type Message struct {
	ID        uuid.UUID // assigned by the store
	Sender    string
	Recipient string
	Text      string
	File      string // stored attachment reference, empty when none
	CreatedAt time.Time
}

// Draft is a message accepted by the relay but not yet persisted.
type Draft struct {
	Sender    string
	Recipient string
	Text      string
	File      string
}

// IsDeliverable reports whether the draft names both participants
// and carries at least one of text or attachment.
func (d Draft) IsDeliverable() bool {
	if d.Sender == "" || d.Recipient == "" {
		return false
	}
	return d.Text != "" || d.File != ""
}
