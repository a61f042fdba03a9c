package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20 // 1 MB
	sendBufferSize = 256
	seenRingSize   = 128
)

// Client is one live socket for one user. A user may hold several clients at
// once (multiple devices); the hub delivers identical events to each.
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	hub      *Hub
	pongWait time.Duration

	roomsMu sync.RWMutex
	rooms   map[string]struct{} // subscription set

	seen *eventRing

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	lastSeenMu  sync.RWMutex
	lastSeen    time.Time
	ConnectedAt time.Time
}

func NewClient(id, userID string, conn *websocket.Conn, hub *Hub, pongWait time.Duration) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:          id,
		UserID:      userID,
		Conn:        conn,
		Send:        make(chan []byte, sendBufferSize),
		hub:         hub,
		pongWait:    pongWait,
		rooms:       make(map[string]struct{}),
		seen:        newEventRing(seenRingSize),
		ctx:         ctx,
		cancel:      cancel,
		lastSeen:    time.Now(),
		ConnectedAt: time.Now(),
	}
}

func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) IsClientActive() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

func (c *Client) GetLastSeen() time.Time {
	c.lastSeenMu.RLock()
	defer c.lastSeenMu.RUnlock()
	return c.lastSeen
}

func (c *Client) touch() {
	c.lastSeenMu.Lock()
	c.lastSeen = time.Now()
	c.lastSeenMu.Unlock()
}

func (c *Client) Subscribed(roomID string) bool {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *Client) addRoom(roomID string) {
	c.roomsMu.Lock()
	c.rooms[roomID] = struct{}{}
	c.roomsMu.Unlock()
}

func (c *Client) removeRoom(roomID string) {
	c.roomsMu.Lock()
	delete(c.rooms, roomID)
	c.roomsMu.Unlock()
}

// Rooms snapshots the subscription set.
func (c *Client) Rooms() []string {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		out = append(out, roomID)
	}
	return out
}

// MarkSeen records a delivered event id, reporting false when the id was
// already delivered to this client.
func (c *Client) MarkSeen(eventID string) bool {
	if eventID == "" {
		return true
	}
	return c.seen.add(eventID)
}

// SendMessage marshals and queues an envelope; a full buffer drops the
// client as a slow consumer.
func (c *Client) SendMessage(msg OutgoingMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("clientID", c.ID).Msg("ws: failed to marshal outgoing message")
		return
	}
	select {
	case c.Send <- data:
	case <-c.ctx.Done():
	default:
		log.Warn().Str("clientID", c.ID).Str("userID", c.UserID).Msg("ws: slow consumer, dropping client")
		go c.Close()
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.hub != nil {
			c.hub.RemoveConnection(c)
		}
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
	})
}

// writePump drains c.Send to the socket and keeps the connection alive with
// pings at a fraction of the pong deadline.
func (c *Client) writePump() {
	pingPeriod := (c.pongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump parses incoming envelopes and hands them to the dispatcher. A
// missing pong within pongWait fails the read and tears the client down.
func (c *Client) readPump() {
	defer c.Close()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("clientID", c.ID).Msg("ws: read error")
			}
			return
		}
		c.touch()

		var msg IncomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.SendMessage(NewErrorMessage("", malformedEnvelopeErr))
			continue
		}

		if c.hub != nil && c.hub.dispatcher != nil {
			c.hub.dispatcher.Handle(c.ctx, c, msg)
		}
	}
}

// eventRing is a fixed-size set of recently delivered event ids, used to
// make duplicate bus delivery a per-connection no-op.
type eventRing struct {
	mu    sync.Mutex
	ids   []string
	index map[string]struct{}
	next  int
}

func newEventRing(size int) *eventRing {
	return &eventRing{
		ids:   make([]string, size),
		index: make(map[string]struct{}, size),
	}
}

func (r *eventRing) add(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[id]; ok {
		return false
	}
	if old := r.ids[r.next]; old != "" {
		delete(r.index, old)
	}
	r.ids[r.next] = id
	r.index[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ids)
	return true
}
