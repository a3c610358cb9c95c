package ws

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/runtime"
	"chat-relay/services"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Connection drives one upgraded socket: a read pump, a write pump,
// and a liveness monitor, all in one errgroup. The first to stop stops the others.
type Connection struct {
	id         string
	credential string
	conn       *websocket.Conn
	sink       *Sink
	service    services.IChatService
	log        *slog.Logger
	cfg        Config
	closeOnce  sync.Once
}

func NewConnection(
	log *slog.Logger,
	id, credential string,
	conn *websocket.Conn,
	service services.IChatService,
	cfg Config,
) *Connection {
	return &Connection{
		id:         id,
		credential: credential,
		conn:       conn,
		sink:       NewSink(log, cfg.BufferSize, cfg.DeliveryTimeout),
		service:    service,
		log:        log.With("conn_id", id),
		cfg:        cfg,
	}
}

// Serve blocks until the peer goes away, misses a pong, or ctx is cancelled.
// The connection is deregistered exactly once on the way out.
func (c *Connection) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	liveness := runtime.NewLiveness(c.log, c.ping, c.terminate, c.cfg.PingInterval, c.cfg.PongTimeout)
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		liveness.Pong()
		return nil
	})

	g.Go(func() error { return c.writePump(gctx) })

	c.service.Connect(gctx, c.id, c.sink)
	defer func() {
		c.sink.Close()
		c.service.Disconnect(context.WithoutCancel(ctx), c.id)
		c.terminate()
	}()

	if c.credential != "" {
		// an unidentified connection stays open
		_, _ = c.service.Identify(gctx, c.id, c.credential)
	}

	g.Go(func() error { return liveness.Run(gctx) })
	g.Go(func() error { return c.readPump(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		c.terminate()
		return nil
	})

	err := g.Wait()
	c.log.Debug("Connection closed", "reason", err)
	return err
}

func (c *Connection) readPump(ctx context.Context) error {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				c.log.Debug("Unexpected read error", "error", err)
			}
			return fmt.Errorf("%w: %v", errors.ErrConnectionClosed, err)
		}
		if err := c.service.HandleInbound(ctx, c.id, raw); err != nil {
			c.log.Debug("Inbound event failed", "error", err)
		}
	}
}

func (c *Connection) writePump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
			return ctx.Err()
		case <-c.sink.Done():
			return errors.ErrConnectionClosed
		case e := <-c.sink.Events():
			payload, err := chat.EncodeEvent(e)
			if err != nil {
				c.log.Warn("Event not encoded", "error", err)
				continue
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				return fmt.Errorf("%w: %v", errors.ErrConnectionClosed, err)
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return fmt.Errorf("%w: %v", errors.ErrConnectionClosed, err)
			}
		}
	}
}

// ping may run alongside the write pump: WriteControl is safe for concurrent use.
func (c *Connection) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
}

func (c *Connection) terminate() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}
