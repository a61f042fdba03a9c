package chat_service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/prolaunch/chat-core/internal/bus"
	"github.com/prolaunch/chat-core/internal/dtos/chat_dto"
	"github.com/prolaunch/chat-core/internal/entity"
	app_error "github.com/prolaunch/chat-core/internal/errors"
	message_repo "github.com/prolaunch/chat-core/internal/repo/message"
	room_repo "github.com/prolaunch/chat-core/internal/repo/room"
	"github.com/prolaunch/chat-core/state"
)

var validate = validator.New()

func validationError(err error) *app_error.AppError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return app_error.Validation(fmt.Sprintf("%s failed on %s", f.Field(), f.Tag()), f.Field())
	}
	return app_error.Validation(err.Error(), "")
}

// Knobs carries the tunables the service enforces per call.
type Knobs struct {
	MaxMessageBytes int
	HistoryPageSize int
	HistoryPageMax  int
	DedupWindow     time.Duration
}

type ChatService struct {
	AppState *state.AppState
	Rooms    room_repo.RoomRepoContract
	Messages message_repo.MessageRepoContract
	Bus      bus.Bus
	Notify   NotifyFunc // optional; enqueues offline-notification jobs
	Knobs    Knobs

	seq sequencer
}

// NotifyFunc is called after a message is persisted and published so
// participants without a live connection can be pushed through the job queue.
type NotifyFunc func(ctx context.Context, roomID, messageID, senderID string)

func NewChatService(appState *state.AppState, b bus.Bus, knobs Knobs, notify NotifyFunc) ChatServiceContract {
	return &ChatService{
		AppState: appState,
		Rooms:    room_repo.NewRoomRepo(appState),
		Messages: message_repo.NewMessageRepo(appState),
		Bus:      b,
		Notify:   notify,
		Knobs:    knobs,
	}
}

func (c *ChatService) CreateRoom(ctx context.Context, creatorID string, req chat_dto.CreateRoomRequest) (*chat_dto.RoomResponse, *app_error.AppError) {
	if err := req.Validate(validate); err != nil {
		return nil, validationError(err)
	}
	if !entity.ValidRoomType(req.RoomType) {
		return nil, app_error.Validation("invalid room type", "room-type")
	}

	members := dedupeStrings(append(req.MemberIDs, creatorID))

	var room *entity.Room
	var appErr *app_error.AppError

	if req.RoomType == entity.RoomTypeDirect {
		if len(members) != 2 {
			return nil, app_error.Validation("a direct room has exactly two participants", "member-ids")
		}
		other := members[0]
		if other == creatorID {
			other = members[1]
		}
		room, appErr = c.Rooms.FindOrCreateDirectRoom(ctx, req.TenantID, creatorID, other)
	} else {
		room, appErr = c.Rooms.CreateRoom(ctx, room_repo.CreateRoomParams{
			TenantID:  req.TenantID,
			RoomType:  req.RoomType,
			Name:      req.Name,
			CreatedBy: creatorID,
			MemberIDs: members,
		})
	}
	if appErr != nil {
		return nil, appErr
	}

	return &chat_dto.RoomResponse{
		RoomID:    room.ID.String(),
		TenantID:  room.TenantID,
		RoomType:  room.RT,
		Name:      room.Name,
		CreatedBy: room.CreatedBy,
		CreatedAt: room.CreatedAt,
	}, nil
}

func (c *ChatService) SendMessage(ctx context.Context, senderID string, req chat_dto.SendMessageRequest) (*chat_dto.MessageResponse, *app_error.AppError) {
	if err := req.Validate(validate); err != nil {
		return nil, validationError(err)
	}
	if len(req.Content) > c.Knobs.MaxMessageBytes {
		return nil, app_error.Validation(fmt.Sprintf("content exceeds %d bytes", c.Knobs.MaxMessageBytes), "content")
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = entity.ContentTypeText
	}
	if !entity.ValidContentType(contentType) {
		return nil, app_error.Validation("invalid content type", "content-type")
	}

	ok, appErr := c.Rooms.IsActiveParticipant(ctx, req.RoomID, senderID)
	if appErr != nil {
		return nil, appErr
	}
	if !ok {
		return nil, app_error.Forbidden("sender is not a participant of the room", "room-id")
	}

	// Retries with the same optimisticId are idempotent: if a previous
	// attempt already persisted, hand back that message without
	// re-publishing.
	if req.OptimisticID != "" {
		if existing := c.lookupDedup(ctx, senderID, req.OptimisticID); existing != nil {
			log.Debug().Str("optimisticID", req.OptimisticID).Str("senderID", senderID).Msg("chat: deduplicated send")
			return toMessageResponse(existing, req.OptimisticID), nil
		}
	}

	msg, appErr := c.seq.insertNext(ctx, c.Messages, req.RoomID, func(seq int64) *entity.Message {
		return &entity.Message{
			RoomID:      req.RoomID,
			SenderID:    senderID,
			Content:     req.Content,
			ContentType: contentType,
			ParentID:    req.ParentID,
			CreatedAt:   time.Now().UTC(),
		}
	})
	if appErr != nil {
		// Nothing reaches the bus for a message that was never persisted.
		return nil, appErr
	}

	if req.OptimisticID != "" {
		c.storeDedup(ctx, senderID, req.OptimisticID, msg.ID.Hex())
	}

	resp := toMessageResponse(msg, req.OptimisticID)
	c.publish(ctx, chat_dto.TypeNewMessage, req.RoomID, chat_dto.NewMessagePayload{
		Message:      *resp,
		OptimisticID: req.OptimisticID,
	})

	if c.Notify != nil {
		c.Notify(ctx, req.RoomID, msg.ID.Hex(), senderID)
	}

	return resp, nil
}

func (c *ChatService) EditMessage(ctx context.Context, userID, messageID, content string) (*chat_dto.MessageResponse, *app_error.AppError) {
	if content == "" {
		return nil, app_error.Validation("content must not be empty", "content")
	}
	if len(content) > c.Knobs.MaxMessageBytes {
		return nil, app_error.Validation(fmt.Sprintf("content exceeds %d bytes", c.Knobs.MaxMessageBytes), "content")
	}

	msg, appErr := c.Messages.FindByID(ctx, messageID)
	if appErr != nil {
		return nil, appErr
	}
	if msg.SenderID != userID {
		return nil, app_error.Forbidden("only the sender can edit a message", "message-id")
	}
	if msg.Deleted() {
		return nil, app_error.NotFound("message has been deleted", "message-id")
	}

	now := time.Now().UTC()
	if appErr := c.Messages.UpdateContent(ctx, messageID, content, now); appErr != nil {
		return nil, appErr
	}
	msg.Content = content
	msg.EditedAt = &now

	c.publish(ctx, chat_dto.TypeMessageUpdated, msg.RoomID, chat_dto.MessageUpdatedPayload{
		MessageID: messageID,
		RoomID:    msg.RoomID,
		Content:   content,
		EditedAt:  now,
	})

	return toMessageResponse(msg, ""), nil
}

func (c *ChatService) DeleteMessage(ctx context.Context, userID, messageID string) *app_error.AppError {
	msg, appErr := c.Messages.FindByID(ctx, messageID)
	if appErr != nil {
		return appErr
	}

	if msg.SenderID != userID {
		p, appErr := c.Rooms.GetParticipant(ctx, msg.RoomID, userID)
		if appErr != nil {
			return app_error.Forbidden("not allowed to delete this message", "message-id")
		}
		if p.Role != entity.RoleAdmin && p.Role != entity.RoleModerator {
			return app_error.Forbidden("not allowed to delete this message", "message-id")
		}
	}

	now := time.Now().UTC()
	if appErr := c.Messages.SoftDelete(ctx, messageID, now); appErr != nil {
		return appErr
	}

	c.publish(ctx, chat_dto.TypeMessageDeleted, msg.RoomID, chat_dto.MessageDeletedPayload{
		MessageID: messageID,
		RoomID:    msg.RoomID,
		DeletedAt: now,
	})
	return nil
}

func (c *ChatService) MarkRead(ctx context.Context, userID string, req chat_dto.MarkReadRequest) *app_error.AppError {
	if len(req.MessageIDs) == 0 {
		return nil
	}
	if err := req.Validate(validate); err != nil {
		return validationError(err)
	}

	ok, appErr := c.Rooms.IsActiveParticipant(ctx, req.RoomID, userID)
	if appErr != nil {
		return appErr
	}
	if !ok {
		return app_error.Forbidden("user is not a participant of the room", "room-id")
	}

	now := time.Now().UTC()
	created, appErr := c.Messages.UpsertReceipts(ctx, userID, req.MessageIDs, now)
	if appErr != nil {
		return appErr
	}

	if created == 0 {
		// every receipt already existed; re-marking is a no-op
		return nil
	}

	if appErr := c.Rooms.UpdateLastRead(ctx, req.RoomID, userID, now); appErr != nil {
		log.Error().Err(appErr).Str("roomID", req.RoomID).Str("userID", userID).Msg("chat: failed to update last read")
	}

	c.publish(ctx, chat_dto.TypeReadReceipt, req.RoomID, chat_dto.ReadReceiptPayload{
		RoomID:     req.RoomID,
		UserID:     userID,
		MessageIDs: req.MessageIDs,
		ReadAt:     now,
	})
	return nil
}

func (c *ChatService) AddReaction(ctx context.Context, userID, messageID, emoji string) *app_error.AppError {
	if emoji == "" {
		return app_error.Validation("emoji must not be empty", "emoji")
	}

	msg, appErr := c.Messages.FindByID(ctx, messageID)
	if appErr != nil {
		return appErr
	}

	added, appErr := c.Messages.AddReaction(ctx, messageID, userID, emoji)
	if appErr != nil {
		return appErr
	}
	if !added {
		// triple already exists, nothing to broadcast
		return nil
	}

	c.publish(ctx, chat_dto.TypeReactionAdded, msg.RoomID, chat_dto.ReactionPayload{
		MessageID: messageID,
		RoomID:    msg.RoomID,
		UserID:    userID,
		Emoji:     emoji,
	})
	return nil
}

func (c *ChatService) RemoveReaction(ctx context.Context, userID, messageID, emoji string) *app_error.AppError {
	msg, appErr := c.Messages.FindByID(ctx, messageID)
	if appErr != nil {
		return appErr
	}

	// the (message, user, emoji) filter makes removal owner-only
	removed, appErr := c.Messages.RemoveReaction(ctx, messageID, userID, emoji)
	if appErr != nil {
		return appErr
	}
	if !removed {
		return nil
	}

	c.publish(ctx, chat_dto.TypeReactionRemoved, msg.RoomID, chat_dto.ReactionPayload{
		MessageID: messageID,
		RoomID:    msg.RoomID,
		UserID:    userID,
		Emoji:     emoji,
	})
	return nil
}

func (c *ChatService) GetHistory(ctx context.Context, userID string, req chat_dto.GetHistoryRequest) (*chat_dto.HistoryResponse, *app_error.AppError) {
	if err := req.Validate(validate); err != nil {
		return nil, validationError(err)
	}

	ok, appErr := c.Rooms.IsActiveParticipant(ctx, req.RoomID, userID)
	if appErr != nil {
		return nil, appErr
	}
	if !ok {
		return nil, app_error.Forbidden("user is not a participant of the room", "room-id")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = c.Knobs.HistoryPageSize
	}
	if limit > c.Knobs.HistoryPageMax {
		limit = c.Knobs.HistoryPageMax
	}

	messages, appErr := c.Messages.History(ctx, req.RoomID, req.BeforeSeq, limit)
	if appErr != nil {
		return nil, appErr
	}

	resp := &chat_dto.HistoryResponse{
		RoomID:   req.RoomID,
		Messages: make([]chat_dto.MessageResponse, 0, len(messages)),
		HasMore:  len(messages) == limit,
	}
	for _, msg := range messages {
		resp.Messages = append(resp.Messages, *toMessageResponse(msg, ""))
	}
	return resp, nil
}

func (c *ChatService) EnsureParticipant(ctx context.Context, roomID, userID string) *app_error.AppError {
	ok, appErr := c.Rooms.IsActiveParticipant(ctx, roomID, userID)
	if appErr != nil {
		return appErr
	}
	if !ok {
		return app_error.Forbidden("user is not a participant of the room", "room-id")
	}
	return nil
}

// publish pushes a domain event onto the bus. The message is already
// durable at this point; a publish failure is logged and absorbed because
// clients recover the gap through history backfill.
func (c *ChatService) publish(ctx context.Context, evType, roomID string, payload any) {
	ev, err := bus.NewEvent(evType, roomID, payload)
	if err != nil {
		log.Error().Err(err).Str("type", evType).Msg("chat: failed to build event")
		return
	}
	if err := c.Bus.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Str("type", evType).Str("roomID", roomID).Msg("chat: failed to publish event")
	}
}

func (c *ChatService) dedupKey(senderID, optimisticID string) string {
	return fmt.Sprintf("chat:dedup:%s:%s", senderID, optimisticID)
}

func (c *ChatService) lookupDedup(ctx context.Context, senderID, optimisticID string) *entity.Message {
	id, err := c.AppState.Redis.Get(ctx, c.dedupKey(senderID, optimisticID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("chat: dedup lookup failed")
		}
		return nil
	}
	msg, appErr := c.Messages.FindByID(ctx, id)
	if appErr != nil {
		return nil
	}
	return msg
}

func (c *ChatService) storeDedup(ctx context.Context, senderID, optimisticID, messageID string) {
	if err := c.AppState.Redis.Set(ctx, c.dedupKey(senderID, optimisticID), messageID, c.Knobs.DedupWindow).Err(); err != nil {
		log.Warn().Err(err).Msg("chat: dedup store failed")
	}
}

func toMessageResponse(msg *entity.Message, optimisticID string) *chat_dto.MessageResponse {
	return &chat_dto.MessageResponse{
		MessageID:    msg.ID.Hex(),
		RoomID:       msg.RoomID,
		SenderID:     msg.SenderID,
		Content:      msg.Content,
		ContentType:  msg.ContentType,
		ParentID:     msg.ParentID,
		Seq:          msg.Seq,
		OptimisticID: optimisticID,
		CreatedAt:    msg.CreatedAt,
		EditedAt:     msg.EditedAt,
		DeletedAt:    msg.DeletedAt,
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
