// Package chat defines the JSON wire protocol spoken over a connection.
package chat

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// InboundEvent is the only frame a client sends:
// {"message": {"recipient": "...", "text": "...", "file": {"name": "...", "data": "..."}}}
type InboundEvent struct {
	Message *PostMessageCommand `json:"message" validate:"required"`
}

type PostMessageCommand struct {
	Recipient string       `json:"recipient"`
	Recepient string       `json:"recepient"` // spelling used by older clients
	Text      string       `json:"text"`
	File      *FilePayload `json:"file"`
}

// FilePayload carries an attachment as a data URL ("data:image/png;base64,....").
type FilePayload struct {
	Name string `json:"name" validate:"required"`
	Data string `json:"data" validate:"required"`
}

// RecipientID prefers the correctly spelt key.
func (c PostMessageCommand) RecipientID() string {
	if c.Recipient != "" {
		return c.Recipient
	}
	return c.Recepient
}

// DecodeInbound parses a raw frame. Every failure wraps errors.ErrValidation.
func DecodeInbound(raw []byte) (PostMessageCommand, error) {
	var evt InboundEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return PostMessageCommand{}, fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	if err := validate.Struct(evt); err != nil {
		return PostMessageCommand{}, fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	return *evt.Message, nil
}

// Attachment decodes the base64 part of the data URL.
// Anything before the first comma is metadata and is ignored.
func (f FilePayload) Attachment() (domain.Attachment, error) {
	_, encoded, found := strings.Cut(f.Data, ",")
	if !found {
		return domain.Attachment{}, fmt.Errorf("%w: file data has no metadata prefix", errors.ErrValidation)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("%w: file data: %v", errors.ErrValidation, err)
	}
	return domain.Attachment{Name: f.Name, Data: data}, nil
}
