//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks -exclude_interfaces=ISupervisor
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is the outbound side of one live connection.
// Consume must not block longer than the sink's own delivery timeout.
// TryConsume never blocks: a full queue returns ErrQueueFull.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
	TryConsume(e event.DomainEvent) error
}

// IRegistry owns the set of live connections.
type IRegistry interface {
	Register(connID string, sink EventSink)
	Identify(connID string, identity domain.Identity) bool
	Deregister(connID string) bool
	IdentityOf(connID string) (domain.Identity, bool)
	SinkOf(connID string) (EventSink, bool)
	ListAll() []EventSink
	FindByUser(userID string) []EventSink
	Online() []domain.Identity
	Snapshot() ([]EventSink, []domain.Identity)
	Count() int
}

type IBroadcaster interface {
	Broadcast(ctx context.Context) int
}

type IRelay interface {
	HandleInbound(ctx context.Context, connID string, raw []byte) (*domain.Message, error)
}

// RelayMetrics is fed by the relay, one call per inbound event outcome.
type RelayMetrics interface {
	IncrRelayed()
	IncrDropped()
	IncrFailed()
}
