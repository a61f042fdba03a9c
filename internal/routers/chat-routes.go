package routers

import (
	"github.com/go-chi/chi/v5"

	"github.com/prolaunch/chat-core/internal/handlers"
	chat_handler "github.com/prolaunch/chat-core/internal/handlers/chat-handler"
	"github.com/prolaunch/chat-core/internal/middleware"
	chat_service "github.com/prolaunch/chat-core/internal/use-case/chat-case"
	"github.com/prolaunch/chat-core/state"
)

func ChatRouter(r chi.Router, appState *state.AppState, chat chat_service.ChatServiceContract) {
	chatHandler := chat_handler.NewChatHandler(chat)
	r.Group(func(protected chi.Router) {
		protected.Use(middleware.JWTAuth(appState.JwtSecret.Public))
		protected.Post("/api/v1/rooms", handlers.WrapHandler(chatHandler.CreateRoom))
		protected.Post("/api/v1/rooms/{roomId}/messages", handlers.WrapHandler(chatHandler.SendMessage))
		protected.Get("/api/v1/rooms/{roomId}/messages", handlers.WrapHandler(chatHandler.GetHistory))
		protected.Patch("/api/v1/rooms/{roomId}/read", handlers.WrapHandler(chatHandler.MarkRead))
	})
}
