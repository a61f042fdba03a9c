package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prolaunch/chat-core/internal/middleware"
	chat_service "github.com/prolaunch/chat-core/internal/use-case/chat-case"
	"github.com/prolaunch/chat-core/internal/websocket"
	"github.com/prolaunch/chat-core/state"
)

func NewRouter(appState *state.AppState, hub *websocket.Hub, chat chat_service.ChatServiceContract, wsHandler *websocket.WebSocketHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.WithRequestId)

	r.Get("/ws", wsHandler.ServeHTTP)

	ChatRouter(r, appState, chat)
	HubRouter(r, hub)
	return r
}
