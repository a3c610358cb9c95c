package event

import (
	"chat-relay/domain"
)

type Kind string

const (
	PresenceKind Kind = "presence"
	MessageKind  Kind = "message"
)

// DomainEvent is anything pushed to a live connection.
type DomainEvent interface {
	Kind() Kind
}

// PresenceChanged carries the identities online right after a membership change.
type PresenceChanged struct {
	Online []domain.Identity
}

func (PresenceChanged) Kind() Kind { return PresenceKind }

// MessageDelivered carries a persisted message to one of its recipient's connections.
type MessageDelivered struct {
	Message domain.Message
}

func (MessageDelivered) Kind() Kind { return MessageKind }
