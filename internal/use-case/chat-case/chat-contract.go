package chat_service

import (
	"context"

	"github.com/prolaunch/chat-core/internal/dtos/chat_dto"
	app_error "github.com/prolaunch/chat-core/internal/errors"
)

type ChatServiceContract interface {
	CreateRoom(ctx context.Context, creatorID string, req chat_dto.CreateRoomRequest) (*chat_dto.RoomResponse, *app_error.AppError)
	SendMessage(ctx context.Context, senderID string, req chat_dto.SendMessageRequest) (*chat_dto.MessageResponse, *app_error.AppError)
	EditMessage(ctx context.Context, userID, messageID, content string) (*chat_dto.MessageResponse, *app_error.AppError)
	DeleteMessage(ctx context.Context, userID, messageID string) *app_error.AppError
	MarkRead(ctx context.Context, userID string, req chat_dto.MarkReadRequest) *app_error.AppError
	AddReaction(ctx context.Context, userID, messageID, emoji string) *app_error.AppError
	RemoveReaction(ctx context.Context, userID, messageID, emoji string) *app_error.AppError
	GetHistory(ctx context.Context, userID string, req chat_dto.GetHistoryRequest) (*chat_dto.HistoryResponse, *app_error.AppError)
	// EnsureParticipant is the gateway's membership gate for join_room.
	EnsureParticipant(ctx context.Context, roomID, userID string) *app_error.AppError
}
