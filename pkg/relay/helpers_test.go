package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/canvas-sync/pkg/protocol"
	"github.com/astromechza/canvas-sync/pkg/replica"
)

const readTimeout = 2 * time.Second

// startRelay serves a fresh registry over httptest.
func startRelay(t *testing.T, opts Options) (*httptest.Server, *Registry) {
	t.Helper()
	registry := NewRegistry(opts)
	srv := httptest.NewServer(NewHandler(registry, nil))
	t.Cleanup(srv.Close)
	return srv, registry
}

// dial connects to a room; peerID may be empty.
func dial(t *testing.T, srv *httptest.Server, room, peerID string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rooms/" + room + "/ws"
	if peerID != "" {
		u += "?peer=" + peerID
	}
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return mt, data
}

func readText(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	mt, data := read(t, conn)
	require.Equal(t, websocket.TextMessage, mt, "expected text frame, got %q", data)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

// bootstrap consumes the snapshot and sync frames sent on join and returns the
// peer's replica and the reported number of other users.
func bootstrap(t *testing.T, conn *websocket.Conn) (*replica.Replica, int) {
	t.Helper()
	mt, snapshot := read(t, conn)
	require.Equal(t, websocket.BinaryMessage, mt)
	rep, err := replica.Load(snapshot)
	require.NoError(t, err)

	msg := readText(t, conn)
	sync, ok := msg.(protocol.Sync)
	require.True(t, ok, "expected sync, got %#v", msg)
	return rep, sync.Users
}

func sendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
}

// serverConn returns the relay side of a websocket connection, for tests that
// drive rooms directly.
func serverConn(t *testing.T) *websocket.Conn {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case conn := <-conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(readTimeout):
		t.Fatal("server side of connection never arrived")
		return nil
	}
}
