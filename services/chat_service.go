//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	"fmt"
	"log/slog"
)

// IChatService is what a transport needs to drive one connection.
type IChatService interface {
	Connect(ctx context.Context, connID string, sink contract.EventSink)
	Identify(ctx context.Context, connID, credential string) (domain.Identity, error)
	HandleInbound(ctx context.Context, connID string, raw []byte) error
	Disconnect(ctx context.Context, connID string) bool
	History(ctx context.Context, credential, peerID string) ([]domain.Message, error)
	Profile(ctx context.Context, credential string) (domain.Identity, error)
	Online() []domain.Identity
	Connections() int
}

type ChatService struct {
	log         *slog.Logger
	registry    contract.IRegistry
	broadcaster contract.IBroadcaster
	relay       contract.IRelay
	resolver    auth.IIdentityResolver
	messages    repositories.IMessageRepository
}

func NewChatService(
	log *slog.Logger,
	registry contract.IRegistry,
	broadcaster contract.IBroadcaster,
	relay contract.IRelay,
	resolver auth.IIdentityResolver,
	messages repositories.IMessageRepository,
) *ChatService {
	return &ChatService{
		log:         log,
		registry:    registry,
		broadcaster: broadcaster,
		relay:       relay,
		resolver:    resolver,
		messages:    messages,
	}
}

// Connect registers an unidentified connection and rebroadcasts presence.
func (s *ChatService) Connect(ctx context.Context, connID string, sink contract.EventSink) {
	s.registry.Register(connID, sink)
	s.broadcaster.Broadcast(ctx)
}

// Identify resolves the credential and attaches the identity to the connection.
// On failure the connection stays open and unidentified.
func (s *ChatService) Identify(ctx context.Context, connID, credential string) (domain.Identity, error) {
	identity, err := s.resolver.Resolve(ctx, credential)
	if err != nil {
		s.log.Debug("Connection stays unidentified", "conn_id", connID, "error", err)
		return domain.Identity{}, err
	}
	if !s.registry.Identify(connID, identity) {
		return domain.Identity{}, fmt.Errorf("%w: %s", errors.ErrConnectionClosed, connID)
	}
	s.log.Info("Connection identified", "conn_id", connID, "user_id", identity.UserID)
	s.broadcaster.Broadcast(ctx)
	return identity, nil
}

func (s *ChatService) HandleInbound(ctx context.Context, connID string, raw []byte) error {
	_, err := s.relay.HandleInbound(ctx, connID, raw)
	return err
}

// Disconnect deregisters the connection. Only the first call rebroadcasts.
func (s *ChatService) Disconnect(ctx context.Context, connID string) bool {
	if !s.registry.Deregister(connID) {
		return false
	}
	s.broadcaster.Broadcast(ctx)
	return true
}

// History returns the conversation between the credential owner and peerID, oldest first.
func (s *ChatService) History(ctx context.Context, credential, peerID string) ([]domain.Message, error) {
	identity, err := s.resolver.Resolve(ctx, credential)
	if err != nil {
		return nil, err
	}
	if peerID == "" {
		return nil, fmt.Errorf("%w: empty peer id", errors.ErrValidation)
	}
	return s.messages.QueryBetween(ctx, identity.UserID, peerID)
}

// Profile returns the identity carried by the credential.
func (s *ChatService) Profile(ctx context.Context, credential string) (domain.Identity, error) {
	return s.resolver.Resolve(ctx, credential)
}

func (s *ChatService) Online() []domain.Identity {
	return s.registry.Online()
}

func (s *ChatService) Connections() int {
	return s.registry.Count()
}
