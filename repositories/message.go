//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MessagePrefix starts every message key.
const MessagePrefix = "msg:"

type IMessageRepository interface {
	Insert(ctx context.Context, draft domain.Draft) (domain.Message, error)
	QueryBetween(ctx context.Context, userA, userB string) ([]domain.Message, error)
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

type DiskMessage struct {
	ID        uuid.UUID `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Text      string    `json:"text,omitempty"`
	File      string    `json:"file,omitempty"`
	At        time.Time `json:"at"`
}

// Insert assigns an ID and a creation time to the draft and persists it.
// The key is formatted as "msg:{conversation}:{timestamp_padded}:{uuid}" to:
//  1. Keep both directions of a conversation under one prefix.
//  2. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  3. Prevent data loss by using UUID as a collision disconnector if two messages
//     arrive at the same nanosecond.
func (m MessageRepository) Insert(_ context.Context, draft domain.Draft) (domain.Message, error) {
	if !draft.IsDeliverable() {
		return domain.Message{}, fmt.Errorf("%w: draft has no participants or content", errors.ErrValidation)
	}
	message := DiskMessage{
		ID:        uuid.New(),
		Sender:    draft.Sender,
		Recipient: draft.Recipient,
		Text:      draft.Text,
		File:      draft.File,
		At:        time.Now().UTC(),
	}
	bytes, err := json.Marshal(message)
	if err != nil {
		return domain.Message{}, err
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message), bytes)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return toMessage(message), nil
}

// QueryBetween returns the conversation between two users, oldest first.
// When limitMessages is set, only the most recent messages are kept.
func (m MessageRepository) QueryBetween(_ context.Context, userA, userB string) ([]domain.Message, error) {
	var diskMessages []DiskMessage
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := conversationPrefix(userA, userB)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Newest first: seek past the highest possible timestamp and walk back
		seekKey := append(slices.Clone(prefix), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(diskMessages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				break
			}
			err := it.Item().Value(func(value []byte) error {
				message, err := DecodeDiskMessage(value)
				if err != nil {
					return err
				}
				diskMessages = append(diskMessages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Reverse(diskMessages)
	return lo.Map(diskMessages, func(item DiskMessage, _ int) domain.Message {
		return toMessage(item)
	}), nil
}

func DecodeDiskMessage(value []byte) (DiskMessage, error) {
	var message DiskMessage
	if err := json.Unmarshal(value, &message); err != nil {
		return DiskMessage{}, err
	}
	return message, nil
}

func conversationPrefix(userA, userB string) []byte {
	return []byte(fmt.Sprintf("%s%s:", MessagePrefix, domain.ConversationKey(userA, userB)))
}

func messageKey(message DiskMessage) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s",
		conversationPrefix(message.Sender, message.Recipient),
		message.At.UnixNano(),
		message.ID,
	))
}

func toMessage(message DiskMessage) domain.Message {
	return domain.Message{
		ID:        message.ID,
		Sender:    message.Sender,
		Recipient: message.Recipient,
		Text:      message.Text,
		File:      message.File,
		CreatedAt: message.At,
	}
}
