package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTestServer upgrades every request and hands the connection to fn.
func wsTestServer(t *testing.T, fn func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTransport_ReceivesEnvelopes(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		env := Envelope{Type: "new_message", RoomID: "room-1", EventID: "ev-1", Timestamp: time.Now().Unix()}
		data, _ := json.Marshal(env)
		_ = conn.WriteMessage(websocket.TextMessage, data)

		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	tr := NewTransport(TransportOptions{URL: wsURL(srv)})
	runDone := make(chan error, 1)
	go func() { runDone <- tr.Run(context.Background()) }()

	select {
	case env := <-tr.Events():
		assert.Equal(t, "new_message", env.Type)
		assert.Equal(t, "room-1", env.RoomID)
		assert.Equal(t, "ev-1", env.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an envelope from the server")
	}

	assert.Equal(t, StateConnected, tr.State())

	tr.Close()
	require.NoError(t, <-runDone)
	assert.Equal(t, StateClosed, tr.State())
}

func TestTransport_SendReachesServer(t *testing.T) {
	received := make(chan Command, 1)
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if json.Unmarshal(data, &cmd) == nil {
			received <- cmd
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	connected := make(chan struct{})
	tr := NewTransport(TransportOptions{URL: wsURL(srv)})
	tr.OnConnect = func() { close(connected) }

	go func() { _ = tr.Run(context.Background()) }()
	defer tr.Close()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("transport never connected")
	}

	require.NoError(t, tr.Send(Command{Type: "join_room", RoomID: "room-1"}))

	select {
	case cmd := <-received:
		assert.Equal(t, "join_room", cmd.Type)
		assert.Equal(t, "room-1", cmd.RoomID)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the command")
	}
}

func TestTransport_SendFailsFastWhenDisconnected(t *testing.T) {
	tr := NewTransport(TransportOptions{URL: "ws://127.0.0.1:0/ws"})

	err := tr.Send(Command{Type: "send_message", RoomID: "room-1", Content: "hi"})
	require.Error(t, err)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "send", connErr.Op)
}

func TestTransport_AuthFailureIsTerminal(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	tr := NewTransport(TransportOptions{
		URL:                  wsURL(srv),
		Token:                "expired-token",
		InitialBackoff:       10 * time.Millisecond,
		MaxReconnectAttempts: 5,
	})

	err := tr.Run(context.Background())
	require.Error(t, err)

	var authErr *AuthFailedError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.Equal(t, int32(1), attempts.Load(), "a 401 is never retried")
	assert.Equal(t, StateClosed, tr.State())
}

func TestTransport_ReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	sessions := 0
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		sessions++
		n := sessions
		mu.Unlock()

		if n == 1 {
			// drop the first session immediately to force a reconnect
			return
		}
		env := Envelope{Type: "new_message", RoomID: "room-1", Timestamp: time.Now().Unix()}
		data, _ := json.Marshal(env)
		_ = conn.WriteMessage(websocket.TextMessage, data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var connects atomic.Int32
	tr := NewTransport(TransportOptions{
		URL:            wsURL(srv),
		InitialBackoff: 10 * time.Millisecond,
	})
	tr.OnConnect = func() { connects.Add(1) }

	go func() { _ = tr.Run(context.Background()) }()
	defer tr.Close()

	select {
	case env := <-tr.Events():
		assert.Equal(t, "new_message", env.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("expected an envelope after the reconnect")
	}

	assert.GreaterOrEqual(t, connects.Load(), int32(2), "OnConnect fires per (re)connect")
}

func TestTransport_BearerHeaderSent(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	tr := NewTransport(TransportOptions{URL: wsURL(srv), Token: "tok-123"})
	go func() { _ = tr.Run(context.Background()) }()
	defer tr.Close()

	select {
	case auth := <-gotAuth:
		assert.Equal(t, "Bearer tok-123", auth)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the handshake")
	}
}
