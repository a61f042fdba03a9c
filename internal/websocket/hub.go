package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prolaunch/chat-core/internal/bus"
	"github.com/prolaunch/chat-core/internal/dtos/chat_dto"
	"github.com/prolaunch/chat-core/internal/presence"
)

// Hub owns this instance's connection registry: which clients are live,
// which rooms each is subscribed to, and which clients belong to which user.
// It is an injected object, never a package global, so one process can in
// principle run several isolated hubs and cross-instance visibility rides
// the bus alone.
type Hub struct {
	rooms map[string]map[*Client]struct{}
	mu    sync.RWMutex

	userClients map[string][]*Client
	userMu      sync.RWMutex

	tracker    *presence.Tracker
	publish    func(ev bus.Event)
	dispatcher *Dispatcher

	stats   HubStats
	statsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	cleanupTicker *time.Ticker
}

type HubStats struct {
	TotalRooms       int       `json:"total_rooms"`
	TotalClients     int       `json:"total_clients"`
	TotalConnections int64     `json:"total_connections"`
	EventsDelivered  int64     `json:"events_delivered"`
	LastReset        time.Time `json:"last_reset"`
}

func NewHub(tracker *presence.Tracker, publish func(ev bus.Event)) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		rooms:         make(map[string]map[*Client]struct{}),
		userClients:   make(map[string][]*Client),
		tracker:       tracker,
		publish:       publish,
		ctx:           ctx,
		cancel:        cancel,
		stats:         HubStats{LastReset: time.Now()},
		cleanupTicker: time.NewTicker(1 * time.Minute),
	}

	go hub.cleanupRoutine()

	return hub
}

func (h *Hub) SetDispatcher(d *Dispatcher) {
	h.dispatcher = d
}

// AddConnection registers a freshly authenticated socket. The online
// broadcast fires only on the user's first live connection.
func (h *Hub) AddConnection(client *Client) {
	h.userMu.Lock()
	h.userClients[client.UserID] = append(h.userClients[client.UserID], client)
	h.userMu.Unlock()

	h.updateStats(func(stats *HubStats) {
		stats.TotalConnections++
	})

	if h.tracker.ConnOpened(client.UserID) {
		h.publishUserStatus(client.UserID, "online")
	}

	log.Info().Str("clientID", client.ID).Str("userID", client.UserID).Msg("ws: connection registered")
}

// RemoveConnection tears down every subscription of the socket atomically,
// cancels the user's typing timers for those rooms, and emits the offline
// edge only when this was the user's last connection anywhere.
func (h *Hub) RemoveConnection(client *Client) {
	subscribed := client.Rooms()

	h.mu.Lock()
	for _, roomID := range subscribed {
		if clients, ok := h.rooms[roomID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	h.mu.Unlock()

	h.userMu.Lock()
	userClients := h.userClients[client.UserID]
	for i, c := range userClients {
		if c == client {
			h.userClients[client.UserID] = append(userClients[:i], userClients[i+1:]...)
			break
		}
	}
	if len(h.userClients[client.UserID]) == 0 {
		delete(h.userClients, client.UserID)
	}
	h.userMu.Unlock()

	for _, roomID := range subscribed {
		if h.tracker.StopTyping(roomID, client.UserID) {
			h.publishTypingStopped(roomID, client.UserID)
		}
	}

	if h.tracker.ConnClosed(client.UserID) {
		h.publishUserStatus(client.UserID, "offline")
	}

	log.Info().Str("clientID", client.ID).Str("userID", client.UserID).Int("rooms", len(subscribed)).Msg("ws: connection removed")
}

// Register subscribes a client to a room.
func (h *Hub) Register(roomID string, client *Client) {
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][client] = struct{}{}
	roomSize := len(h.rooms[roomID])
	h.mu.Unlock()

	client.addRoom(roomID)

	log.Info().Str("roomID", roomID).Str("clientID", client.ID).Str("userID", client.UserID).Int("roomSize", roomSize).Msg("ws: client registered to room")
}

// Unregister removes one room subscription and synchronously cancels any
// typing timer the user held for that room.
func (h *Hub) Unregister(roomID string, client *Client) {
	h.mu.Lock()
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()

	client.removeRoom(roomID)

	if h.tracker.StopTyping(roomID, client.UserID) {
		h.publishTypingStopped(roomID, client.UserID)
	}

	log.Info().Str("roomID", roomID).Str("clientID", client.ID).Str("userID", client.UserID).Msg("ws: client unregistered from room")
}

// DispatchEvent fans one bus event out to the local subscribers of its
// room. The bus delivers at-least-once; the per-client event ring turns the
// duplicates into no-ops.
func (h *Hub) DispatchEvent(ev bus.Event) {
	if ev.RoomID == "" {
		h.dispatchPresenceEvent(ev)
		return
	}

	h.mu.RLock()
	var targets []*Client
	if clients, ok := h.rooms[ev.RoomID]; ok {
		targets = make([]*Client, 0, len(clients))
		for client := range clients {
			if client.IsClientActive() {
				targets = append(targets, client)
			}
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	msg := OutgoingMessage{
		Type:      ev.Type,
		RoomID:    ev.RoomID,
		EventID:   ev.ID,
		Data:      jsonRaw(ev.Payload),
		Timestamp: ev.PublishedAt,
	}

	delivered := 0
	for _, client := range targets {
		if !client.MarkSeen(ev.ID) {
			continue
		}
		client.SendMessage(msg)
		delivered++
	}

	h.updateStats(func(stats *HubStats) {
		stats.EventsDelivered += int64(delivered)
	})

	log.Debug().Str("roomID", ev.RoomID).Str("type", ev.Type).Int("targets", delivered).Msg("ws: event dispatched")
}

// dispatchPresenceEvent delivers user_status_changed to every live client.
// Presence events are rare (edges only) and small, so per-room filtering is
// not worth the bookkeeping.
func (h *Hub) dispatchPresenceEvent(ev bus.Event) {
	h.userMu.RLock()
	var targets []*Client
	for _, clients := range h.userClients {
		for _, client := range clients {
			if client.IsClientActive() {
				targets = append(targets, client)
			}
		}
	}
	h.userMu.RUnlock()

	msg := OutgoingMessage{
		Type:      ev.Type,
		EventID:   ev.ID,
		Data:      jsonRaw(ev.Payload),
		Timestamp: ev.PublishedAt,
	}

	for _, client := range targets {
		if !client.MarkSeen(ev.ID) {
			continue
		}
		client.SendMessage(msg)
	}
}

// SendToClient answers a single client directly, off the bus (history pages,
// command errors).
func (h *Hub) SendToClient(client *Client, msg OutgoingMessage) {
	client.SendMessage(msg)
}

func (h *Hub) GetRoomClients(roomID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var clients []*Client
	if roomClients, ok := h.rooms[roomID]; ok {
		for client := range roomClients {
			if client.IsClientActive() {
				clients = append(clients, client)
			}
		}
	}
	return clients
}

func (h *Hub) GetUserClients(userID string) []*Client {
	h.userMu.RLock()
	defer h.userMu.RUnlock()

	var activeClients []*Client
	for _, client := range h.userClients[userID] {
		if client.IsClientActive() {
			activeClients = append(activeClients, client)
		}
	}
	return activeClients
}

func (h *Hub) IsUserOnline(userID string) bool {
	return len(h.GetUserClients(userID)) > 0
}

func (h *Hub) GetRoomStats(roomID string) map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := map[string]any{
		"room_id": roomID,
		"exists":  false,
	}

	if clients, ok := h.rooms[roomID]; ok {
		activeClients := 0
		uniqueUsers := make(map[string]bool)
		for client := range clients {
			if client.IsClientActive() {
				activeClients++
				uniqueUsers[client.UserID] = true
			}
		}
		stats["exists"] = true
		stats["total_connections"] = len(clients)
		stats["active_connections"] = activeClients
		stats["unique_users"] = len(uniqueUsers)
		stats["typing_users"] = h.tracker.TypingUsers(roomID)
	}

	return stats
}

func (h *Hub) GetHubStats() HubStats {
	h.statsMu.RLock()
	stats := h.stats
	h.statsMu.RUnlock()

	h.mu.RLock()
	stats.TotalRooms = len(h.rooms)
	totalClients := 0
	for _, clients := range h.rooms {
		for client := range clients {
			if client.IsClientActive() {
				totalClients++
			}
		}
	}
	stats.TotalClients = totalClients
	h.mu.RUnlock()

	return stats
}

func (h *Hub) publishUserStatus(userID, status string) {
	ev, err := bus.NewEvent(chat_dto.TypeUserStatusChanged, "", chat_dto.UserStatusPayload{
		UserID: userID,
		Status: status,
	})
	if err != nil {
		return
	}
	h.publish(ev)
}

func (h *Hub) publishTypingStopped(roomID, userID string) {
	ev, err := bus.NewEvent(chat_dto.TypeTypingIndicator, roomID, chat_dto.TypingIndicatorPayload{
		RoomID: roomID,
		UserID: userID,
		Typing: false,
	})
	if err != nil {
		return
	}
	h.publish(ev)
}

func (h *Hub) updateStats(fn func(*HubStats)) {
	h.statsMu.Lock()
	fn(&h.stats)
	h.statsMu.Unlock()
}

func (h *Hub) cleanupRoutine() {
	defer h.cleanupTicker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.cleanupTicker.C:
			h.performCleanup()
		}
	}
}

func (h *Hub) performCleanup() {
	now := time.Now()
	inactiveThreshold := 2 * time.Minute

	var toRemove []*Client

	h.mu.RLock()
	for _, clients := range h.rooms {
		for client := range clients {
			if !client.IsClientActive() || now.Sub(client.GetLastSeen()) > inactiveThreshold {
				toRemove = append(toRemove, client)
			}
		}
	}
	h.mu.RUnlock()

	for _, client := range toRemove {
		log.Info().Str("clientID", client.ID).Str("userID", client.UserID).Msg("ws: cleaning up inactive client")
		client.Close()
	}
}

func (h *Hub) Close() {
	log.Info().Msg("ws: shutting down hub")

	h.cancel()

	h.userMu.RLock()
	var allClients []*Client
	for _, clients := range h.userClients {
		allClients = append(allClients, clients...)
	}
	h.userMu.RUnlock()

	for _, client := range allClients {
		client.Close()
	}

	log.Info().Int("clients", len(allClients)).Msg("ws: hub shutdown completed")
}

// jsonRaw keeps bus payload bytes as-is when the envelope is re-marshalled.
func jsonRaw(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return jsonRawMessage(b)
}

type jsonRawMessage []byte

func (m jsonRawMessage) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return []byte("null"), nil
	}
	return m, nil
}
