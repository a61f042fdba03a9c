package message_repo

import (
	"context"
	"time"

	"github.com/prolaunch/chat-core/internal/entity"
	app_error "github.com/prolaunch/chat-core/internal/errors"
)

type MessageRepoContract interface {
	// MaxSequence seeds the in-process sequencer; 0 for an empty room.
	MaxSequence(ctx context.Context, roomID string) (int64, *app_error.AppError)
	Insert(ctx context.Context, msg *entity.Message) *app_error.AppError
	// History returns messages in descending seq order, optionally only
	// those strictly below beforeSeq.
	History(ctx context.Context, roomID string, beforeSeq *int64, limit int) ([]*entity.Message, *app_error.AppError)
	FindByID(ctx context.Context, messageID string) (*entity.Message, *app_error.AppError)
	UpdateContent(ctx context.Context, messageID, content string, at time.Time) *app_error.AppError
	SoftDelete(ctx context.Context, messageID string, at time.Time) *app_error.AppError
	// UpsertReceipts returns how many receipts were newly created; existing
	// ones are left untouched.
	UpsertReceipts(ctx context.Context, userID string, messageIDs []string, at time.Time) (int, *app_error.AppError)
	// AddReaction returns false when the (message, user, emoji) triple
	// already exists.
	AddReaction(ctx context.Context, messageID, userID, emoji string) (bool, *app_error.AppError)
	// RemoveReaction returns false when there was nothing to remove.
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, *app_error.AppError)
}
