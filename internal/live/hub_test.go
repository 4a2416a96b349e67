package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nexus-im/courier/internal/presence"
	"github.com/nexus-im/courier/mocks"
)

type liveFixture struct {
	hub      *Hub
	registry *presence.Registry
	users    *mocks.MockUserStore
	server   *httptest.Server
	cancel   context.CancelFunc
}

func newLiveFixture(t *testing.T, mode presence.Mode) *liveFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &liveFixture{
		registry: presence.NewRegistry(mode),
		users:    mocks.NewMockUserStore(ctrl),
	}
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	f.hub = NewHub(log, f.registry, f.users, Options{SendBuffer: 8, MaxFrameSize: 512})

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.hub.Run(ctx)
	f.server = httptest.NewServer(http.HandlerFunc(f.hub.ServeWS))
	t.Cleanup(func() {
		f.server.Close()
		cancel()
		f.hub.Wait()
	})
	return f
}

func (f *liveFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func join(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	data, err := json.Marshal(userID)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: EventJoin, Data: data}))
}

func TestHub_Join_Push_And_Disconnect(t *testing.T) {
	req := require.New(t)
	f := newLiveFixture(t, presence.ModeSingle)

	f.users.EXPECT().MarkOnline(gomock.Any(), "alice", gomock.Any()).Return(nil)
	offline := make(chan string, 1)
	f.users.EXPECT().MarkOffline(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, connectionID string) error {
			offline <- connectionID
			return nil
		})

	conn := f.dial(t)
	join(t, conn, "alice")
	req.Eventually(func() bool { return len(f.registry.ConnectionsFor("alice")) == 1 }, time.Second, 10*time.Millisecond)

	live := f.registry.ConnectionsFor("alice")[0]
	req.NoError(live.Push(context.Background(), "newMessage", map[string]string{"content": "hi"}))

	var envelope Envelope
	req.NoError(conn.SetReadDeadline(time.Now().Add(time.Second)))
	req.NoError(conn.ReadJSON(&envelope))
	req.Equal("newMessage", envelope.Event)
	req.JSONEq(`{"content":"hi"}`, string(envelope.Data))

	req.NoError(conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	select {
	case connectionID := <-offline:
		req.Equal(live.ID(), connectionID)
	case <-time.After(time.Second):
		t.Fatal("user was never marked offline")
	}
	req.Empty(f.registry.ConnectionsFor("alice"))
}

func TestHub_Last_Join_Wins(t *testing.T) {
	req := require.New(t)
	f := newLiveFixture(t, presence.ModeSingle)
	f.users.EXPECT().MarkOnline(gomock.Any(), "alice", gomock.Any()).Return(nil).Times(2)
	f.users.EXPECT().MarkOffline(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	first := f.dial(t)
	join(t, first, "alice")
	req.Eventually(func() bool { return len(f.registry.ConnectionsFor("alice")) == 1 }, time.Second, 10*time.Millisecond)
	firstID := f.registry.ConnectionsFor("alice")[0].ID()

	second := f.dial(t)
	join(t, second, "alice")
	req.Eventually(func() bool {
		conns := f.registry.ConnectionsFor("alice")
		return len(conns) == 1 && conns[0].ID() != firstID
	}, time.Second, 10*time.Millisecond)

	// Closing the superseded socket keeps the newer one registered
	req.NoError(first.Close())
	time.Sleep(50 * time.Millisecond)
	conns := f.registry.ConnectionsFor("alice")
	req.Len(conns, 1)
	req.NotEqual(firstID, conns[0].ID())
}

func TestHub_Rejoin_As_Other_User(t *testing.T) {
	req := require.New(t)
	f := newLiveFixture(t, presence.ModeSingle)

	joined := make(chan string, 2)
	record := func(_ context.Context, _, connectionID string) error {
		joined <- connectionID
		return nil
	}
	gomock.InOrder(
		f.users.EXPECT().MarkOnline(gomock.Any(), "alice", gomock.Any()).DoAndReturn(record),
		f.users.EXPECT().MarkOnline(gomock.Any(), "bob", gomock.Any()).DoAndReturn(record),
	)
	f.users.EXPECT().MarkOffline(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	conn := f.dial(t)
	join(t, conn, "alice")
	req.Eventually(func() bool { return len(f.registry.ConnectionsFor("alice")) == 1 }, time.Second, 10*time.Millisecond)
	join(t, conn, "bob")
	req.Eventually(func() bool { return len(f.registry.ConnectionsFor("bob")) == 1 }, time.Second, 10*time.Millisecond)
	req.Empty(f.registry.ConnectionsFor("alice"))

	// Same connection id for both users, so the store releases alice
	req.Equal(<-joined, <-joined)
}

func TestHub_Ignores_Malformed_Frames(t *testing.T) {
	req := require.New(t)
	f := newLiveFixture(t, presence.ModeSingle)
	f.users.EXPECT().MarkOnline(gomock.Any(), "bob", gomock.Any()).Return(nil)
	f.users.EXPECT().MarkOffline(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	conn := f.dial(t)
	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	req.NoError(conn.WriteJSON(Envelope{Event: EventJoin, Data: json.RawMessage(`42`)}))
	req.NoError(conn.WriteJSON(Envelope{Event: "typing"}))
	join(t, conn, "bob")

	req.Eventually(func() bool { return len(f.registry.ConnectionsFor("bob")) == 1 }, time.Second, 10*time.Millisecond)
}

func TestHub_Oversized_Frame_Closes_Connection(t *testing.T) {
	f := newLiveFixture(t, presence.ModeSingle)

	conn := f.dial(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 1024))))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestHub_Shutdown_Closes_Clients(t *testing.T) {
	req := require.New(t)
	f := newLiveFixture(t, presence.ModeSingle)
	f.users.EXPECT().MarkOnline(gomock.Any(), "alice", gomock.Any()).Return(nil)
	f.users.EXPECT().MarkOffline(gomock.Any(), gomock.Any()).Return(nil)

	conn := f.dial(t)
	join(t, conn, "alice")
	req.Eventually(func() bool { return len(f.registry.ConnectionsFor("alice")) == 1 }, time.Second, 10*time.Millisecond)
	live := f.registry.ConnectionsFor("alice")[0]

	f.cancel()
	f.hub.Wait()

	req.ErrorIs(live.Push(context.Background(), "newMessage", "late"), ErrClientClosed)
	req.Empty(f.registry.ConnectionsFor("alice"))

	req.NoError(conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.CloseGoingAway))
}
