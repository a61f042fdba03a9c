package chat_handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/prolaunch/chat-core/internal/dtos/chat_dto"
	app_error "github.com/prolaunch/chat-core/internal/errors"
	"github.com/prolaunch/chat-core/internal/handlers"
	"github.com/prolaunch/chat-core/internal/middleware"
	chat_service "github.com/prolaunch/chat-core/internal/use-case/chat-case"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChatHandler is the REST face of the chat service. The websocket gateway
// is the primary surface; these endpoints exist for bots, tooling and the
// first page load before the socket is up.
type ChatHandler struct {
	Chat chat_service.ChatServiceContract
}

func NewChatHandler(chat chat_service.ChatServiceContract) *ChatHandler {
	return &ChatHandler{Chat: chat}
}

func (h *ChatHandler) CreateRoom(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	var req chat_dto.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return app_error.Validation("invalid request body", "body")
	}

	room, appErr := h.Chat.CreateRoom(r.Context(), middleware.UserID(r), req)
	if appErr != nil {
		return appErr
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(handlers.CreateResponse("room created", room, r.Header.Get("X-Request-ID")))
	return nil
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	var req chat_dto.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return app_error.Validation("invalid request body", "body")
	}
	req.RoomID = chi.URLParam(r, "roomId")

	msg, appErr := h.Chat.SendMessage(r.Context(), middleware.UserID(r), req)
	if appErr != nil {
		return appErr
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(handlers.CreateResponse("message sent", msg, r.Header.Get("X-Request-ID")))
	return nil
}

func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	req := chat_dto.GetHistoryRequest{
		RoomID: chi.URLParam(r, "roomId"),
	}

	if raw := r.URL.Query().Get("before_seq"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return app_error.Validation("before_seq must be an integer", "before_seq")
		}
		req.BeforeSeq = &seq
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return app_error.Validation("limit must be an integer", "limit")
		}
		req.Limit = limit
	}

	history, appErr := h.Chat.GetHistory(r.Context(), middleware.UserID(r), req)
	if appErr != nil {
		return appErr
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlers.CreateResponse("message history", history, r.Header.Get("X-Request-ID")))
	return nil
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	var req chat_dto.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return app_error.Validation("invalid request body", "body")
	}
	req.RoomID = chi.URLParam(r, "roomId")

	if appErr := h.Chat.MarkRead(r.Context(), middleware.UserID(r), req); appErr != nil {
		return appErr
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlers.CreateResponse("messages marked as read", map[string]any{"room_id": req.RoomID}, r.Header.Get("X-Request-ID")))
	return nil
}
