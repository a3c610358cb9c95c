package ws

import (
	"chat-relay/auth"
	"chat-relay/services"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Config struct {
	BufferSize      int
	DeliveryTimeout time.Duration
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageSize  int64
	AllowedOrigins  []string
}

// Handler upgrades HTTP requests and serves each socket until it closes.
// Sockets live on the handler's base context, not the request's, so that
// shutdown can close them all at once.
type Handler struct {
	ctx      context.Context
	log      *slog.Logger
	service  services.IChatService
	cfg      Config
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

func NewHandler(ctx context.Context, log *slog.Logger, service services.IChatService, cfg Config) *Handler {
	origins := NewOriginPolicy(log, cfg.AllowedOrigins)
	return &Handler{
		ctx:     ctx,
		log:     log,
		service: service,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.Check,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	credential := auth.CredentialFromRequest(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	connID := uuid.NewString()
	h.log.Debug("WebSocket accepted", "conn_id", connID, "remote", r.RemoteAddr)
	_ = NewConnection(h.log, connID, credential, conn, h.service, h.cfg).Serve(h.ctx)
}

// Wait blocks until every socket has been torn down or timeout elapses.
func (h *Handler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
