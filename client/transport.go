// Package client is the Go client for the chat gateway: a reconnecting
// websocket transport plus a synchronization layer that keeps per-room
// message lists consistent with the server.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// AuthFailedError means the server refused the handshake. The transport
// never retries it; the caller must obtain a fresh token and reconnect.
type AuthFailedError struct {
	Status int
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf("authentication refused (status %d)", e.Status)
}

// ConnectionError wraps transient transport failures that feed the
// reconnect machine.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Command is the client -> server envelope.
type Command struct {
	Type         string   `json:"type"`
	RoomID       string   `json:"roomId,omitempty"`
	Content      string   `json:"content,omitempty"`
	ContentType  string   `json:"contentType,omitempty"`
	OptimisticID string   `json:"optimisticId,omitempty"`
	ParentID     string   `json:"parentId,omitempty"`
	MessageID    string   `json:"messageId,omitempty"`
	MessageIDs   []string `json:"messageIds,omitempty"`
	Emoji        string   `json:"emoji,omitempty"`
	BeforeSeq    *int64   `json:"beforeSeq,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

// Envelope is the server -> client envelope.
type Envelope struct {
	Type      string              `json:"type"`
	RoomID    string              `json:"roomId,omitempty"`
	EventID   string              `json:"eventId,omitempty"`
	Data      jsoniter.RawMessage `json:"data,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

type TransportOptions struct {
	URL   string
	Token string

	HeartbeatInterval time.Duration
	PongTimeout       time.Duration

	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	MaxReconnectAttempts uint64

	Dialer *websocket.Dialer
}

func (o *TransportOptions) withDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = o.HeartbeatInterval + 10*time.Second
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = 10
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// Transport owns one logical connection to the gateway and keeps it alive
// across drops. Envelopes come out of Events(); OnConnect runs after every
// successful (re)connect so the sync layer can rejoin rooms and backfill.
type Transport struct {
	opts TransportOptions

	state atomic.Value // State

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	events chan Envelope

	// OnConnect and OnStateChange are set before Run and not mutated after.
	OnConnect     func()
	OnStateChange func(State)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTransport(opts TransportOptions) *Transport {
	opts.withDefaults()
	t := &Transport{
		opts:   opts,
		events: make(chan Envelope, 256),
		done:   make(chan struct{}),
	}
	t.state.Store(StateDisconnected)
	return t
}

func (t *Transport) State() State {
	return t.state.Load().(State)
}

func (t *Transport) Events() <-chan Envelope {
	return t.events
}

func (t *Transport) setState(s State) {
	t.state.Store(s)
	if t.OnStateChange != nil {
		t.OnStateChange(s)
	}
}

// Run drives the connect/reconnect loop until the context is cancelled,
// authentication fails, or the reconnect budget is exhausted. It blocks.
func (t *Transport) Run(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(ctx)
	defer close(t.done)
	defer t.setState(StateClosed)

	first := true
	for {
		if err := t.ctx.Err(); err != nil {
			return nil
		}

		if first {
			t.setState(StateConnecting)
			first = false
		} else {
			t.setState(StateReconnecting)
		}

		if err := t.dialWithBackoff(); err != nil {
			t.setState(StateDisconnected)
			return err
		}

		t.setState(StateConnected)
		if t.OnConnect != nil {
			t.OnConnect()
		}

		err := t.session()
		t.closeConn()
		if t.ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Msg("chat client: connection lost, reconnecting")
	}
}

func (t *Transport) dialWithBackoff() error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.opts.InitialBackoff
	eb.MaxInterval = t.opts.MaxBackoff
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, t.opts.MaxReconnectAttempts), t.ctx)

	return backoff.Retry(func() error {
		header := http.Header{}
		if t.opts.Token != "" {
			header.Set("Authorization", "Bearer "+t.opts.Token)
		}

		conn, resp, err := t.opts.Dialer.DialContext(t.ctx, t.opts.URL, header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return backoff.Permanent(&AuthFailedError{Status: resp.StatusCode})
			}
			return &ConnectionError{Op: "dial", Err: err}
		}

		t.connMu.Lock()
		t.conn = conn
		t.connMu.Unlock()
		return nil
	}, policy)
}

// session reads envelopes until the connection fails. Heartbeat pings run
// alongside; a missing pong fails the read deadline and ends the session.
func (t *Transport) session() error {
	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return &ConnectionError{Op: "session", Err: fmt.Errorf("no connection")}
	}

	_ = conn.SetReadDeadline(time.Now().Add(t.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.opts.PongTimeout))
	})

	pingCtx, stopPing := context.WithCancel(t.ctx)
	defer stopPing()
	go t.heartbeat(pingCtx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return &ConnectionError{Op: "read", Err: err}
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("chat client: dropping malformed envelope")
			continue
		}

		select {
		case t.events <- env:
		case <-t.ctx.Done():
			return nil
		}
	}
}

func (t *Transport) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			t.writeMu.Unlock()
			if err != nil {
				// read deadline will expire and end the session
				return
			}
		}
	}
}

// Send writes one command. It fails fast when the transport is not
// connected; callers queue or surface the failure themselves.
func (t *Transport) Send(cmd Command) error {
	if t.State() != StateConnected {
		return &ConnectionError{Op: "send", Err: fmt.Errorf("transport is %s", t.State())}
	}

	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return &ConnectionError{Op: "send", Err: fmt.Errorf("no connection")}
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

func (t *Transport) closeConn() {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

// Close tears the transport down and waits for Run to return.
func (t *Transport) Close() {
	if t.cancel != nil {
		t.cancel()
	}
	t.closeConn()
	<-t.done
}
