package runtime

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/repositories"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	testLog = logs.GetLoggerFromLevel(slog.LevelDebug)

	alice = domain.Identity{UserID: "u-alice", Username: "alice"}
	bob   = domain.Identity{UserID: "u-bob", Username: "bob"}
)

func connect(registry *Registry, identity domain.Identity) (string, *recordingSink) {
	connID := uuid.NewString()
	sink := &recordingSink{}
	registry.Register(connID, sink)
	registry.Identify(connID, identity)
	return connID, sink
}

func inbound(recipient, text string) []byte {
	return []byte(fmt.Sprintf(`{"message":{"recipient":%q,"text":%q}}`, recipient, text))
}

func stored(draft domain.Draft) domain.Message {
	return domain.Message{
		ID:        uuid.New(),
		Sender:    draft.Sender,
		Recipient: draft.Recipient,
		Text:      draft.Text,
		File:      draft.File,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRelay_Delivers_From_Alice_To_Bob(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockIMessageRepository(ctrl)
	attachments := mocks.NewMockIAttachmentRepository(ctrl)
	registry := NewRegistry()
	aliceConn, aliceSink := connect(registry, alice)
	_, bobSink := connect(registry, bob)

	// Given a store accepting exactly one message
	messages.EXPECT().
		Insert(gomock.Any(), domain.Draft{Sender: alice.UserID, Recipient: bob.UserID, Text: "hello"}).
		DoAndReturn(func(_ context.Context, draft domain.Draft) (domain.Message, error) {
			return stored(draft), nil
		}).
		Times(1)
	attachments.EXPECT().Store(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	relay := NewRelay(testLog, registry, messages, attachments)

	// When alice sends a text to bob
	msg, err := relay.HandleInbound(context.Background(), aliceConn, inbound(bob.UserID, "hello"))

	// Then bob receives it and alice does not
	req.NoError(err)
	req.NotNil(msg)
	req.Len(bobSink.Messages(), 1)
	req.Equal(msg.ID, bobSink.Messages()[0].Message.ID)
	req.Equal(alice.UserID, bobSink.Messages()[0].Message.Sender)
	req.Equal("hello", bobSink.Messages()[0].Message.Text)
	req.Empty(aliceSink.Messages())
}

func TestRelay_Sender_Is_Connection_Identity(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockIMessageRepository(ctrl)
	registry := NewRegistry()
	aliceConn, _ := connect(registry, alice)

	messages.EXPECT().
		Insert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, draft domain.Draft) (domain.Message, error) {
			return stored(draft), nil
		})

	relay := NewRelay(testLog, registry, messages, mocks.NewMockIAttachmentRepository(ctrl))

	// When the frame claims another sender
	raw := []byte(`{"message":{"sender":"u-mallory","recipient":"u-bob","text":"hi"}}`)
	msg, err := relay.HandleInbound(context.Background(), aliceConn, raw)

	// Then the authenticated identity wins
	req.NoError(err)
	req.Equal(alice.UserID, msg.Sender)
}

func TestRelay_Drops_Silently(t *testing.T) {
	cases := []struct {
		name     string
		identify bool
		raw      []byte
	}{
		{name: "unidentified sender", identify: false, raw: inbound(bob.UserID, "hello")},
		{name: "empty recipient", identify: true, raw: inbound("", "hello")},
		{name: "empty text and no file", identify: true, raw: inbound(bob.UserID, "")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := require.New(t)
			ctrl := gomock.NewController(t)
			messages := mocks.NewMockIMessageRepository(ctrl)
			attachments := mocks.NewMockIAttachmentRepository(ctrl)
			metrics := mocks.NewMockRelayMetrics(ctrl)
			registry := NewRegistry()
			_, bobSink := connect(registry, bob)

			connID := uuid.NewString()
			registry.Register(connID, &recordingSink{})
			if tc.identify {
				registry.Identify(connID, alice)
			}

			// Then nothing reaches the store or the sink
			messages.EXPECT().Insert(gomock.Any(), gomock.Any()).Times(0)
			attachments.EXPECT().Store(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			metrics.EXPECT().IncrDropped().Times(1)

			relay := NewRelay(testLog, registry, messages, attachments, WithMetrics(metrics))
			msg, err := relay.HandleInbound(context.Background(), connID, tc.raw)

			req.NoError(err)
			req.Nil(msg)
			req.Empty(bobSink.Messages())
		})
	}
}

func TestRelay_Rejects_Malformed_Frames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `hello`},
		{name: "missing message", raw: `{"text":"hello"}`},
		{name: "file without comma", raw: `{"message":{"recipient":"u-bob","file":{"name":"a.png","data":"abc"}}}`},
		{name: "file with bad base64", raw: `{"message":{"recipient":"u-bob","file":{"name":"a.png","data":"data:image/png;base64,!!!"}}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := require.New(t)
			ctrl := gomock.NewController(t)
			messages := mocks.NewMockIMessageRepository(ctrl)
			attachments := mocks.NewMockIAttachmentRepository(ctrl)
			registry := NewRegistry()
			aliceConn, _ := connect(registry, alice)

			messages.EXPECT().Insert(gomock.Any(), gomock.Any()).Times(0)
			attachments.EXPECT().Store(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

			relay := NewRelay(testLog, registry, messages, attachments)
			_, err := relay.HandleInbound(context.Background(), aliceConn, []byte(tc.raw))

			req.ErrorIs(err, errors.ErrValidation)
		})
	}
}

func TestRelay_Stores_Attachment_Before_Persisting(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockIMessageRepository(ctrl)
	attachments := mocks.NewMockIAttachmentRepository(ctrl)
	registry := NewRegistry()
	aliceConn, _ := connect(registry, alice)
	_, bobSink := connect(registry, bob)

	at := time.UnixMilli(1700000000123)
	content := []byte("not really a png")
	data := "data:image/png;base64," + base64.StdEncoding.EncodeToString(content)

	// Given the attachment is stored first, then the message names it
	gomock.InOrder(
		attachments.EXPECT().
			Store(gomock.Any(), "1700000000123.png", content).
			Return("1700000000123.png", nil),
		messages.EXPECT().
			Insert(gomock.Any(), domain.Draft{Sender: alice.UserID, Recipient: bob.UserID, File: "1700000000123.png"}).
			DoAndReturn(func(_ context.Context, draft domain.Draft) (domain.Message, error) {
				return stored(draft), nil
			}),
	)

	relay := NewRelay(testLog, registry, messages, attachments, WithClock(func() time.Time { return at }))

	raw := []byte(fmt.Sprintf(`{"message":{"recipient":%q,"file":{"name":"photo.PNG","data":%q}}}`, bob.UserID, data))
	msg, err := relay.HandleInbound(context.Background(), aliceConn, raw)

	req.NoError(err)
	req.Equal("1700000000123.png", msg.File)
	req.Len(bobSink.Messages(), 1)
	req.Equal("1700000000123.png", bobSink.Messages()[0].Message.File)
}

func TestRelay_Attachment_Failure_Persists_Nothing(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockIMessageRepository(ctrl)
	attachments := mocks.NewMockIAttachmentRepository(ctrl)
	metrics := mocks.NewMockRelayMetrics(ctrl)
	registry := NewRegistry()
	aliceConn, _ := connect(registry, alice)
	_, bobSink := connect(registry, bob)

	// Given a sink that cannot write
	attachments.EXPECT().
		Store(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", fmt.Errorf("disk full"))
	messages.EXPECT().Insert(gomock.Any(), gomock.Any()).Times(0)
	metrics.EXPECT().IncrFailed().Times(1)

	relay := NewRelay(testLog, registry, messages, attachments, WithMetrics(metrics))

	data := "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("hello"))
	raw := []byte(fmt.Sprintf(`{"message":{"recipient":%q,"text":"see file","file":{"name":"a.txt","data":%q}}}`, bob.UserID, data))
	msg, err := relay.HandleInbound(context.Background(), aliceConn, raw)

	// Then the event fails with an attachment error and nobody is notified
	req.ErrorIs(err, errors.ErrAttachment)
	req.Nil(msg)
	req.Empty(bobSink.Messages())
}

func TestRelay_Persistence_Failure_Pushes_Nothing(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockIMessageRepository(ctrl)
	registry := NewRegistry()
	aliceConn, _ := connect(registry, alice)
	_, bobSink := connect(registry, bob)

	messages.EXPECT().
		Insert(gomock.Any(), gomock.Any()).
		Return(domain.Message{}, fmt.Errorf("badger closed")).
		Times(1)

	relay := NewRelay(testLog, registry, messages, mocks.NewMockIAttachmentRepository(ctrl))
	msg, err := relay.HandleInbound(context.Background(), aliceConn, inbound(bob.UserID, "hello"))

	req.ErrorIs(err, errors.ErrPersistence)
	req.Nil(msg)
	req.Empty(bobSink.Messages())
}

func TestRelay_Fans_Out_To_Every_Device(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockIMessageRepository(ctrl)
	metrics := mocks.NewMockRelayMetrics(ctrl)
	registry := NewRegistry()
	aliceConn, _ := connect(registry, alice)
	_, phone := connect(registry, bob)
	_, laptop := connect(registry, bob)

	messages.EXPECT().
		Insert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, draft domain.Draft) (domain.Message, error) {
			return stored(draft), nil
		}).
		Times(1)
	metrics.EXPECT().IncrRelayed().Times(1)

	relay := NewRelay(testLog, registry, messages, mocks.NewMockIAttachmentRepository(ctrl), WithMetrics(metrics))
	msg, err := relay.HandleInbound(context.Background(), aliceConn, inbound(bob.UserID, "both of you"))

	// Then both of bob's connections get the same message once
	req.NoError(err)
	req.Len(phone.Messages(), 1)
	req.Len(laptop.Messages(), 1)
	req.Equal(msg.ID, phone.Messages()[0].Message.ID)
	req.Equal(msg.ID, laptop.Messages()[0].Message.ID)
}

func TestRelay_Echo_To_Sender_Other_Devices(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockIMessageRepository(ctrl)
	registry := NewRegistry()
	aliceConn, aliceSink := connect(registry, alice)
	_, aliceTablet := connect(registry, alice)
	_, bobSink := connect(registry, bob)

	messages.EXPECT().
		Insert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, draft domain.Draft) (domain.Message, error) {
			return stored(draft), nil
		})

	relay := NewRelay(testLog, registry, messages, mocks.NewMockIAttachmentRepository(ctrl), WithEchoToSender(true))
	_, err := relay.HandleInbound(context.Background(), aliceConn, inbound(bob.UserID, "synced"))

	req.NoError(err)
	req.Len(bobSink.Messages(), 1)
	req.Len(aliceTablet.Messages(), 1)
	req.Empty(aliceSink.Messages())
}

func TestRelay_Offline_Recipient_Reads_History_Later(t *testing.T) {
	req := require.New(t)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	store := repositories.NewMessageRepository(db, testLog, nil)
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	aliceConn, _ := connect(registry, alice)

	relay := NewRelay(testLog, registry, store, mocks.NewMockIAttachmentRepository(ctrl))

	// Given bob is offline while alice sends two messages
	for _, text := range []string{"first", "second"} {
		msg, err := relay.HandleInbound(context.Background(), aliceConn, inbound(bob.UserID, text))
		req.NoError(err)
		req.NotNil(msg)
	}

	// When bob comes online and asks for the conversation
	_, bobSink := connect(registry, bob)
	history, err := store.QueryBetween(context.Background(), bob.UserID, alice.UserID)

	// Then both messages are there in order, and nothing was pushed late
	req.NoError(err)
	req.Len(history, 2)
	req.Equal("first", history[0].Text)
	req.Equal("second", history[1].Text)
	req.Empty(bobSink.Messages())
}
