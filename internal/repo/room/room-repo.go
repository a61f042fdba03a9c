package room_repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/prolaunch/chat-core/internal/entity"
	app_error "github.com/prolaunch/chat-core/internal/errors"
	"github.com/prolaunch/chat-core/state"
)

type RoomRepo struct {
	AppState *state.AppState
}

func NewRoomRepo(appState *state.AppState) RoomRepoContract {
	return &RoomRepo{AppState: appState}
}

func (r *RoomRepo) CreateRoom(ctx context.Context, params CreateRoomParams) (*entity.Room, *app_error.AppError) {
	tx := r.AppState.DB.WithContext(ctx).Begin()
	defer func() {
		if rec := recover(); rec != nil {
			tx.Rollback()
		}
	}()

	newRoom := &entity.Room{
		ID:        uuid.New(),
		TenantID:  params.TenantID,
		RT:        params.RoomType,
		Name:      params.Name,
		CreatedBy: params.CreatedBy,
	}

	if err := tx.Create(newRoom).Error; err != nil {
		tx.Rollback()
		return nil, app_error.Storage("failed to create room", "db-error")
	}

	members := make([]entity.Participant, 0, len(params.MemberIDs))
	for _, userID := range params.MemberIDs {
		role := entity.RoleMember
		if userID == params.CreatedBy {
			role = entity.RoleAdmin
		}
		members = append(members, entity.Participant{
			RoomID: newRoom.ID.String(),
			UserID: userID,
			Role:   role,
		})
	}

	if err := tx.Create(&members).Error; err != nil {
		tx.Rollback()
		return nil, app_error.Storage("failed to add participants to room", "db-error")
	}

	if err := tx.Commit().Error; err != nil {
		return nil, app_error.Storage("failed to commit room creation", "db-error")
	}

	return newRoom, nil
}

// FindOrCreateDirectRoom keeps the direct-room invariant: exactly two
// participants, and at most one direct room per pair within a tenant. Lost
// creation races fall back to the find.
func (r *RoomRepo) FindOrCreateDirectRoom(ctx context.Context, tenantID, creatorID, otherID string) (*entity.Room, *app_error.AppError) {
	room, err := r.findDirectRoom(ctx, tenantID, creatorID, otherID)
	if err == nil {
		return room, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, app_error.Storage("failed to query direct room", "db-error")
	}

	newRoom, appErr := r.CreateRoom(ctx, CreateRoomParams{
		TenantID:  tenantID,
		RoomType:  entity.RoomTypeDirect,
		CreatedBy: creatorID,
		MemberIDs: []string{creatorID, otherID},
	})
	if appErr != nil {
		if strings.Contains(appErr.Message, "duplicate") || strings.Contains(appErr.Message, "unique") {
			room, err := r.findDirectRoom(ctx, tenantID, creatorID, otherID)
			if err == nil {
				return room, nil
			}
		}
		return nil, appErr
	}

	return newRoom, nil
}

func (r *RoomRepo) findDirectRoom(ctx context.Context, tenantID, userA, userB string) (*entity.Room, error) {
	var room entity.Room

	query := `
		SELECT r.* FROM rooms r
		WHERE r.rt = 'direct'
		AND r.tenant_id = ?
		AND r.id IN (
			SELECT p1.room_id
			FROM participants p1
			WHERE p1.user_id = ?
			AND EXISTS (
				SELECT 1 FROM participants p2
				WHERE p2.room_id = p1.room_id
				AND p2.user_id = ?
			)
			AND (
				SELECT COUNT(*) FROM participants p3
				WHERE p3.room_id = p1.room_id
			) = 2
		)
	`
	err := r.AppState.DB.WithContext(ctx).Raw(query, tenantID, userA, userB).First(&room).Error
	return &room, err
}

func (r *RoomRepo) FindRoomByID(ctx context.Context, roomID string) (*entity.Room, *app_error.AppError) {
	var room entity.Room
	if err := r.AppState.DB.WithContext(ctx).Where("id = ?", roomID).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, app_error.NotFound("room not found", "not-found")
		}
		log.Error().Err(err).Str("roomID", roomID).Msg("failed to fetch room")
		return nil, app_error.Storage("failed to fetch room", "db-error")
	}
	return &room, nil
}

func (r *RoomRepo) GetParticipant(ctx context.Context, roomID, userID string) (*entity.Participant, *app_error.AppError) {
	var p entity.Participant
	err := r.AppState.DB.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, app_error.NotFound("participant not found", "not-found")
		}
		return nil, app_error.Storage("failed to fetch participant", "db-error")
	}
	return &p, nil
}

func (r *RoomRepo) IsActiveParticipant(ctx context.Context, roomID, userID string) (bool, *app_error.AppError) {
	var count int64
	err := r.AppState.DB.WithContext(ctx).
		Model(&entity.Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		return false, app_error.Storage("failed to check participant", "db-error")
	}
	return count > 0, nil
}

func (r *RoomRepo) ListParticipants(ctx context.Context, roomID string) ([]entity.Participant, *app_error.AppError) {
	var participants []entity.Participant
	err := r.AppState.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Find(&participants).Error
	if err != nil {
		return nil, app_error.Storage("failed to list participants", "db-error")
	}
	return participants, nil
}

func (r *RoomRepo) UpdateLastRead(ctx context.Context, roomID, userID string, at time.Time) *app_error.AppError {
	err := r.AppState.DB.WithContext(ctx).
		Model(&entity.Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("last_read_at", at).Error
	if err != nil {
		return app_error.Storage("failed to update last read", "db-error")
	}
	return nil
}
