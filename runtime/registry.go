package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"sort"
	"sync"

	"github.com/samber/lo"
)

type Set map[string]struct{}

type session struct {
	sink     contract.EventSink
	identity *domain.Identity
}

// Registry is the in-memory set of live connections.
// A single RWMutex guards both indexes so readers never observe
// a connection in one and not the other.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session // map connection -> session
	byUser   map[string]Set      // map user -> connections
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*session),
		byUser:   make(map[string]Set),
	}
}

// Register adds an unidentified connection.
// Registering an ID twice replaces the sink and keeps any identity.
func (r *Registry) Register(connID string, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[connID]; ok {
		s.sink = sink
		return
	}
	r.sessions[connID] = &session{sink: sink}
}

// Identify attaches an identity to a registered connection.
// It returns false when the connection is gone or already identified.
func (r *Registry) Identify(connID string, identity domain.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok || s.identity != nil || identity.IsZero() {
		return false
	}
	s.identity = &identity

	if _, ok := r.byUser[identity.UserID]; !ok {
		r.byUser[identity.UserID] = make(Set)
	}
	r.byUser[identity.UserID][connID] = struct{}{}
	return true
}

// Deregister removes a connection. Only the first call for a given
// connection returns true; later calls are no-ops.
func (r *Registry) Deregister(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return false
	}
	delete(r.sessions, connID)

	if s.identity != nil {
		if conns, ok := r.byUser[s.identity.UserID]; ok {
			delete(conns, connID)
			// No device left for this user
			if len(conns) == 0 {
				delete(r.byUser, s.identity.UserID)
			}
		}
	}
	return true
}

func (r *Registry) IdentityOf(connID string) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[connID]
	if !ok || s.identity == nil {
		return domain.Identity{}, false
	}
	return *s.identity, true
}

func (r *Registry) SinkOf(connID string) (contract.EventSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[connID]
	if !ok {
		return nil, false
	}
	return s.sink, true
}

func (r *Registry) ListAll() []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sinks()
}

// FindByUser returns every identified connection of userID (multi-device).
func (r *Registry) FindByUser(userID string) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	sinks := make([]contract.EventSink, 0, len(conns))
	for connID := range conns {
		if s, exists := r.sessions[connID]; exists {
			sinks = append(sinks, s.sink)
		}
	}
	return sinks
}

// Online returns one entry per identified user.
func (r *Registry) Online() []domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.online()
}

// Snapshot returns all sinks and the online identities under a single read lock.
func (r *Registry) Snapshot() ([]contract.EventSink, []domain.Identity) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sinks(), r.online()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) sinks() []contract.EventSink {
	sinks := make([]contract.EventSink, 0, len(r.sessions))
	for _, s := range r.sessions {
		sinks = append(sinks, s.sink)
	}
	return sinks
}

func (r *Registry) online() []domain.Identity {
	identities := make([]domain.Identity, 0, len(r.byUser))
	for _, s := range r.sessions {
		if s.identity != nil {
			identities = append(identities, *s.identity)
		}
	}
	identities = lo.UniqBy(identities, func(item domain.Identity) string {
		return item.UserID
	})
	sort.Slice(identities, func(i, j int) bool {
		if identities[i].Username != identities[j].Username {
			return identities[i].Username < identities[j].Username
		}
		return identities[i].UserID < identities[j].UserID
	})
	return identities
}
