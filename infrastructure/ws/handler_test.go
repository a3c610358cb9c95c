package ws

import (
	"chat-relay/auth"
	"chat-relay/domain/chat"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/services"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

var secret = []byte("integration-secret")

type server struct {
	url      string
	service  *services.ChatService
	messages repositories.MessageRepository
}

func testConfig() Config {
	return Config{
		BufferSize:      16,
		DeliveryTimeout: 100 * time.Millisecond,
		PingInterval:    50 * time.Millisecond,
		PongTimeout:     2 * time.Second,
		WriteTimeout:    time.Second,
		MaxMessageSize:  1 << 20,
	}
}

func startServer(t *testing.T, cfg Config) server {
	t.Helper()
	log := slog.Default()

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	attachments, err := repositories.NewAttachmentRepository(t.TempDir(), log)
	require.NoError(t, err)

	messages := repositories.NewMessageRepository(db, log, nil)
	registry := runtime.NewRegistry()
	broadcaster := runtime.NewPresenceBroadcaster(log, registry)
	relay := runtime.NewRelay(log, registry, messages, attachments)
	service := services.NewChatService(log, registry, broadcaster, relay, auth.NewJWTResolver(secret, ""), messages)

	ctx, cancel := context.WithCancel(context.Background())
	handler := NewHandler(ctx, log, service, cfg)
	httpServer := httptest.NewServer(handler)

	t.Cleanup(func() {
		cancel()
		handler.Wait(time.Second)
		httpServer.Close()
		_ = db.Close()
	})

	return server{
		url:      "ws" + strings.TrimPrefix(httpServer.URL, "http"),
		service:  service,
		messages: messages,
	}
}

func dial(t *testing.T, url, userID, username string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if userID != "" {
		token, err := auth.GenerateToken(secret, "", userID, username, time.Hour)
		require.NoError(t, err)
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// frame holds the union of both outbound payloads.
type frame struct {
	Online *[]chat.OnlineUser `json:"online"`
	chat.MessagePayload
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if match(f) {
			return f
		}
	}
}

func onlineIs(ids ...string) func(frame) bool {
	return func(f frame) bool {
		if f.Online == nil {
			return false
		}
		got := lo.Map(*f.Online, func(u chat.OnlineUser, _ int) string { return u.UserID })
		want := slices.Clone(ids)
		slices.Sort(got)
		slices.Sort(want)
		return slices.Equal(got, want)
	}
}

func TestHandler_Alice_Messages_Bob(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, testConfig())

	// Given alice and bob both online
	aliceConn := dial(t, srv.url, "u-alice", "alice")
	readUntil(t, aliceConn, onlineIs("u-alice"))
	bobConn := dial(t, srv.url, "u-bob", "bob")
	readUntil(t, bobConn, onlineIs("u-alice", "u-bob"))
	readUntil(t, aliceConn, onlineIs("u-alice", "u-bob"))

	// When alice sends a text to bob
	req.NoError(aliceConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"message":{"recipient":"u-bob","text":"hello bob"}}`)))

	// Then bob receives it with alice as sender
	got := readUntil(t, bobConn, func(f frame) bool { return f.ID != "" })
	req.Equal("u-alice", got.Sender)
	req.Equal("u-bob", got.Recipient)
	req.Equal("hello bob", got.Text)
	req.Equal(got.ID, got.LegacyID)

	// And the conversation is stored
	history, err := srv.messages.QueryBetween(context.Background(), "u-bob", "u-alice")
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(got.ID, history[0].ID.String())
}

func TestHandler_Unidentified_Connection_Sees_Presence_Only(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, testConfig())

	// Given an anonymous socket and a logged-in one
	anonymous := dial(t, srv.url, "", "")
	readUntil(t, anonymous, onlineIs())
	dial(t, srv.url, "u-alice", "alice")

	// Then the anonymous socket is told about alice but is never listed
	readUntil(t, anonymous, onlineIs("u-alice"))
	req.Equal(2, srv.service.Connections())
	req.Len(srv.service.Online(), 1)

	// And its messages are dropped without closing it
	req.NoError(anonymous.WriteMessage(websocket.TextMessage, []byte(`{"message":{"recipient":"u-alice","text":"hi"}}`)))
	req.NoError(anonymous.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	req.Never(func() bool { return srv.service.Connections() != 2 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestHandler_Invalid_Token_Keeps_Connection_Open(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, testConfig())

	header := http.Header{}
	header.Set("Authorization", "Bearer not-a-token")
	conn, _, err := websocket.DefaultDialer.Dial(srv.url, header)
	req.NoError(err)
	defer conn.Close()

	readUntil(t, conn, onlineIs())
	req.Equal(1, srv.service.Connections())
	req.Empty(srv.service.Online())
}

func TestHandler_Silent_Client_Is_Evicted(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.PongTimeout = 200 * time.Millisecond
	srv := startServer(t, cfg)

	// Given an observer that keeps reading, hence answers pings
	observer := dial(t, srv.url, "u-observer", "observer")
	readUntil(t, observer, onlineIs("u-observer"))

	// Given a client that never reads, hence never answers pings
	silent := dial(t, srv.url, "u-silent", "silent")
	readUntil(t, observer, onlineIs("u-observer", "u-silent"))

	// Then the silent client is deregistered and the observer is told
	readUntil(t, observer, onlineIs("u-observer"))
	req.Eventually(func() bool { return srv.service.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	// And its socket was closed by the server
	require.NoError(t, silent.SetReadDeadline(time.Now().Add(2*time.Second)))
	var readErr error
	for readErr == nil {
		_, _, readErr = silent.ReadMessage()
	}
	req.Error(readErr)
}

func TestHandler_Evicted_Client_Gets_No_Further_Pushes(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.PongTimeout = 200 * time.Millisecond
	srv := startServer(t, cfg)

	observer := dial(t, srv.url, "u-observer", "observer")
	readUntil(t, observer, onlineIs("u-observer"))
	silent := dial(t, srv.url, "u-silent", "silent")
	readUntil(t, observer, onlineIs("u-observer", "u-silent"))

	// Given the silent client was evicted
	readUntil(t, observer, onlineIs("u-observer"))
	req.Eventually(func() bool { return srv.service.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	// When the observer writes to the evicted user
	req.NoError(observer.WriteMessage(websocket.TextMessage,
		[]byte(`{"message":{"recipient":"u-silent","text":"are you there"}}`)))
	req.Eventually(func() bool {
		history, err := srv.messages.QueryBetween(context.Background(), "u-observer", "u-silent")
		return err == nil && len(history) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Then the evicted socket only ever saw presence frames before being closed
	require.NoError(t, silent.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, raw, err := silent.ReadMessage()
		if err != nil {
			break
		}
		var f frame
		req.NoError(json.Unmarshal(raw, &f))
		req.Empty(f.ID, "message pushed to an evicted connection")
	}

	// And the eviction was announced once: no further presence reaches the observer
	req.NoError(observer.SetReadDeadline(time.Now().Add(300 * time.Millisecond)))
	presences := 0
	for {
		_, raw, err := observer.ReadMessage()
		if err != nil {
			break
		}
		var f frame
		req.NoError(json.Unmarshal(raw, &f))
		if f.Online != nil {
			presences++
		}
	}
	req.Zero(presences)
	req.Equal(1, srv.service.Connections())
}

func TestHandler_Multi_Device_Fan_Out_And_Disconnect(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, testConfig())

	alice := dial(t, srv.url, "u-alice", "alice")
	readUntil(t, alice, onlineIs("u-alice"))
	phone := dial(t, srv.url, "u-bob", "bob")
	readUntil(t, phone, onlineIs("u-alice", "u-bob"))

	// The second device sees bob online once on connect and once more on identify
	laptop := dial(t, srv.url, "u-bob", "bob")
	readUntil(t, laptop, onlineIs("u-alice", "u-bob"))
	readUntil(t, laptop, onlineIs("u-alice", "u-bob"))

	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte(`{"message":{"recepient":"u-bob","text":"both"}}`)))

	first := readUntil(t, phone, func(f frame) bool { return f.ID != "" })
	second := readUntil(t, laptop, func(f frame) bool { return f.ID != "" })
	req.Equal(first.ID, second.ID)

	// When one of bob's devices leaves, bob stays online
	req.NoError(phone.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	req.Eventually(func() bool { return srv.service.Connections() == 2 }, 2*time.Second, 10*time.Millisecond)
	req.Len(srv.service.Online(), 2)
}

func TestHandler_Rejects_Disallowed_Origin(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://chat.example.com"}
	srv := startServer(t, cfg)

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(srv.url, header)

	req.Error(err)
	req.NotNil(resp)
	req.Equal(http.StatusForbidden, resp.StatusCode)
	req.Zero(srv.service.Connections(), fmt.Sprintf("connections: %d", srv.service.Connections()))
}
