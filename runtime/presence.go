package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
)

// PresenceBroadcaster pushes the online list to every live connection.
// Snapshot and enqueue happen under one mutex, so each connection receives
// snapshots in the order the registry changed. Enqueueing never waits:
// a connection whose queue is full misses that snapshot.
type PresenceBroadcaster struct {
	mu       sync.Mutex
	registry contract.IRegistry
	log      *slog.Logger
}

func NewPresenceBroadcaster(log *slog.Logger, registry contract.IRegistry) *PresenceBroadcaster {
	return &PresenceBroadcaster{registry: registry, log: log}
}

// Broadcast returns the number of connections the snapshot was handed to.
// Unidentified connections receive it too.
func (p *PresenceBroadcaster) Broadcast(_ context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	sinks, online := p.registry.Snapshot()
	evt := event.PresenceChanged{Online: online}

	delivered := 0
	for _, sink := range sinks {
		err := sink.TryConsume(evt)
		switch {
		case err == nil:
			delivered++
		case stdErrors.Is(err, errors.ErrQueueFull):
			p.log.Warn("Presence dropped, outbound queue full", "online", len(online))
		default:
			p.log.Debug("Presence not delivered", "error", err)
		}
	}
	p.log.Debug("Presence broadcast", "online", len(online), "connections", len(sinks), "delivered", delivered)
	return delivered
}
