package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	"fmt"
	"log/slog"
	"time"
)

type noopMetrics struct{}

func (noopMetrics) IncrRelayed() {}
func (noopMetrics) IncrDropped() {}
func (noopMetrics) IncrFailed()  {}

type RelayOption func(*Relay)

// WithClock overrides the clock used to name attachments.
func WithClock(now func() time.Time) RelayOption {
	return func(r *Relay) { r.now = now }
}

func WithMetrics(metrics contract.RelayMetrics) RelayOption {
	return func(r *Relay) { r.metrics = metrics }
}

// WithEchoToSender also pushes delivered messages to the sender's other connections.
func WithEchoToSender(echo bool) RelayOption {
	return func(r *Relay) { r.echoToSender = echo }
}

// Relay turns one inbound frame into at most one stored message
// and pushes it to every live connection of the recipient.
type Relay struct {
	log          *slog.Logger
	registry     contract.IRegistry
	messages     repositories.IMessageRepository
	attachments  repositories.IAttachmentRepository
	metrics      contract.RelayMetrics
	now          func() time.Time
	echoToSender bool
}

func NewRelay(
	log *slog.Logger,
	registry contract.IRegistry,
	messages repositories.IMessageRepository,
	attachments repositories.IAttachmentRepository,
	opts ...RelayOption,
) *Relay {
	r := &Relay{
		log:         log,
		registry:    registry,
		messages:    messages,
		attachments: attachments,
		metrics:     noopMetrics{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleInbound returns the stored message, or nil when the event was dropped.
// Errors wrap ErrValidation, ErrAttachment or ErrPersistence.
func (r *Relay) HandleInbound(ctx context.Context, connID string, raw []byte) (*domain.Message, error) {
	cmd, err := chat.DecodeInbound(raw)
	if err != nil {
		r.metrics.IncrFailed()
		r.log.Debug("Inbound event rejected", "conn_id", connID, "error", err)
		return nil, err
	}

	sender, ok := r.registry.IdentityOf(connID)
	if !ok {
		r.drop(connID, "sender not identified")
		return nil, nil
	}

	recipient := cmd.RecipientID()
	if recipient == "" {
		r.drop(connID, "empty recipient")
		return nil, nil
	}

	draft := domain.Draft{
		Sender:    sender.UserID,
		Recipient: recipient,
		Text:      cmd.Text,
	}

	if cmd.File != nil {
		attachment, err := cmd.File.Attachment()
		if err != nil {
			r.metrics.IncrFailed()
			r.log.Debug("Attachment rejected", "conn_id", connID, "error", err)
			return nil, err
		}
		name := domain.StoredName(r.now(), attachment)
		stored, err := r.attachments.Store(ctx, name, attachment.Data)
		if err != nil {
			r.metrics.IncrFailed()
			r.log.Warn("Attachment not stored", "conn_id", connID, "name", name, "error", err)
			return nil, fmt.Errorf("%w: %v", errors.ErrAttachment, err)
		}
		draft.File = stored
	}

	if !draft.IsDeliverable() {
		r.drop(connID, "nothing to deliver")
		return nil, nil
	}

	msg, err := r.messages.Insert(ctx, draft)
	if err != nil {
		r.metrics.IncrFailed()
		r.log.Error("Message not persisted", "conn_id", connID, "user_id", sender.UserID, "error", err)
		return nil, fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}

	delivered := event.MessageDelivered{Message: msg}
	targets := r.registry.FindByUser(recipient)
	if r.echoToSender && recipient != sender.UserID {
		own, _ := r.registry.SinkOf(connID)
		for _, sink := range r.registry.FindByUser(sender.UserID) {
			if sink == own {
				continue
			}
			targets = append(targets, sink)
		}
	}

	pushed := 0
	for _, sink := range targets {
		if err := sink.Consume(ctx, delivered); err != nil {
			r.log.Warn("Message not pushed", "message_id", msg.ID, "error", err)
			continue
		}
		pushed++
	}

	r.metrics.IncrRelayed()
	r.log.Debug("Message relayed",
		"message_id", msg.ID,
		"user_id", sender.UserID,
		"recipient", recipient,
		"pushed", pushed)
	return &msg, nil
}

func (r *Relay) drop(connID, reason string) {
	r.metrics.IncrDropped()
	r.log.Debug("Inbound event dropped", "conn_id", connID, "reason", reason)
}
