package runtime

import (
	"chat-relay/domain/event"
	"context"
	"sync"

	"github.com/samber/lo"
)

// recordingSink keeps every event it is handed.
type recordingSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
	err    error
}

func (s *recordingSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) TryConsume(e event.DomainEvent) error {
	return s.Consume(context.Background(), e)
}

func (s *recordingSink) Events() []event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.DomainEvent(nil), s.events...)
}

func (s *recordingSink) Presences() []event.PresenceChanged {
	return lo.FilterMap(s.Events(), func(item event.DomainEvent, _ int) (event.PresenceChanged, bool) {
		p, ok := item.(event.PresenceChanged)
		return p, ok
	})
}

func (s *recordingSink) Messages() []event.MessageDelivered {
	return lo.FilterMap(s.Events(), func(item event.DomainEvent, _ int) (event.MessageDelivered, bool) {
		m, ok := item.(event.MessageDelivered)
		return m, ok
	})
}
