package room_repo

import (
	"context"
	"time"

	"github.com/prolaunch/chat-core/internal/entity"
	app_error "github.com/prolaunch/chat-core/internal/errors"
)

type CreateRoomParams struct {
	TenantID  string
	RoomType  string
	Name      string
	CreatedBy string
	MemberIDs []string
}

type RoomRepoContract interface {
	CreateRoom(ctx context.Context, params CreateRoomParams) (*entity.Room, *app_error.AppError)
	FindOrCreateDirectRoom(ctx context.Context, tenantID, creatorID, otherID string) (*entity.Room, *app_error.AppError)
	FindRoomByID(ctx context.Context, roomID string) (*entity.Room, *app_error.AppError)
	GetParticipant(ctx context.Context, roomID, userID string) (*entity.Participant, *app_error.AppError)
	IsActiveParticipant(ctx context.Context, roomID, userID string) (bool, *app_error.AppError)
	ListParticipants(ctx context.Context, roomID string) ([]entity.Participant, *app_error.AppError)
	UpdateLastRead(ctx context.Context, roomID, userID string, at time.Time) *app_error.AppError
}
