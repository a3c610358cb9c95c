package chat

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
)

type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// PresencePayload is pushed to every connection when membership changes.
type PresencePayload struct {
	Online []OnlineUser `json:"online"`
}

// MessagePayload is pushed to the recipient's connections.
// The legacy fields mirror ID and Recipient for clients that read "_id" and "recepient".
type MessagePayload struct {
	ID              string    `json:"id"`
	LegacyID        string    `json:"_id"`
	Sender          string    `json:"sender"`
	Recipient       string    `json:"recipient"`
	LegacyRecipient string    `json:"recepient"`
	Text            string    `json:"text,omitempty"`
	File            string    `json:"file,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func ToMessagePayload(m domain.Message) MessagePayload {
	return MessagePayload{
		ID:              m.ID.String(),
		LegacyID:        m.ID.String(),
		Sender:          m.Sender,
		Recipient:       m.Recipient,
		LegacyRecipient: m.Recipient,
		Text:            m.Text,
		File:            m.File,
		CreatedAt:       m.CreatedAt,
	}
}

func ToOnlineUser(identity domain.Identity) OnlineUser {
	return OnlineUser{UserID: identity.UserID, Username: identity.Username}
}

func ToPresencePayload(online []domain.Identity) PresencePayload {
	return PresencePayload{
		Online: lo.Map(online, func(item domain.Identity, _ int) OnlineUser {
			return ToOnlineUser(item)
		}),
	}
}

// EncodeEvent renders a domain event as the JSON frame sent to clients.
func EncodeEvent(e event.DomainEvent) ([]byte, error) {
	switch evt := e.(type) {
	case event.PresenceChanged:
		return json.Marshal(ToPresencePayload(evt.Online))
	case event.MessageDelivered:
		return json.Marshal(ToMessagePayload(evt.Message))
	default:
		return nil, fmt.Errorf("unsupported event %T", e)
	}
}
