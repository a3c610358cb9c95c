package ws

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink is the outbound queue of one WebSocket connection.
// The write pump drains Events; producers never write to the socket.
type Sink struct {
	log             *slog.Logger
	events          chan event.DomainEvent
	done            chan struct{}
	once            sync.Once
	deliveryTimeout time.Duration
}

func NewSink(log *slog.Logger, bufferSize int, deliveryTimeout time.Duration) *Sink {
	return &Sink{
		log:             log,
		events:          make(chan event.DomainEvent, bufferSize),
		done:            make(chan struct{}),
		deliveryTimeout: deliveryTimeout,
	}
}

// Consume enqueues e, waiting at most the delivery timeout when the queue is full.
func (s *Sink) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case <-s.done:
		return errors.ErrConnectionClosed
	default:
	}

	select {
	case s.events <- e:
		return nil
	default:
	}

	timer := time.NewTimer(s.deliveryTimeout)
	defer timer.Stop()

	select {
	case s.events <- e:
		return nil
	case <-s.done:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		s.log.Warn("Outbound queue full, event dropped", "kind", e.Kind(), "capacity", cap(s.events))
		return errors.ErrDeliveryTimeout
	}
}

// TryConsume enqueues e only if there is room right now.
func (s *Sink) TryConsume(e event.DomainEvent) error {
	select {
	case <-s.done:
		return errors.ErrConnectionClosed
	default:
	}

	select {
	case s.events <- e:
		return nil
	default:
		return errors.ErrQueueFull
	}
}

func (s *Sink) Events() <-chan event.DomainEvent {
	return s.events
}

func (s *Sink) Done() <-chan struct{} {
	return s.done
}

// Close is idempotent. The events channel is never closed so late producers cannot panic.
func (s *Sink) Close() {
	s.once.Do(func() { close(s.done) })
}
