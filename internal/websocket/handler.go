package websocket

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: limit your cors, don't get true so easy in production
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketHandler authenticates the upgrade request, opens the socket and
// hands it to the hub. Room membership is negotiated after connect via
// join_room envelopes, not in the handshake.
type WebSocketHandler struct {
	hub           *Hub
	authenticator AuthenticatorFunc
	pongWait      time.Duration
}

func NewWebSocketHandler(hub *Hub, authenticator AuthenticatorFunc, pongWait time.Duration) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		authenticator: authenticator,
		pongWait:      pongWait,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authenticator(r)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("ws: auth failed")
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws: upgrade failed")
		return
	}

	client := NewClient(uuid.New().String(), userID, conn, h.hub, h.pongWait)
	h.hub.AddConnection(client)
	client.Start()
}
