package websocket

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prolaunch/chat-core/internal/bus"
	"github.com/prolaunch/chat-core/internal/dtos/chat_dto"
	app_error "github.com/prolaunch/chat-core/internal/errors"
	"github.com/prolaunch/chat-core/internal/presence"
	chat_service "github.com/prolaunch/chat-core/internal/use-case/chat-case"
)

var malformedEnvelopeErr = app_error.Validation("malformed message envelope", "type")

// Dispatcher routes decoded client envelopes to the chat service. Each
// socket's readPump calls Handle sequentially, so per-connection ordering is
// the read order; cross-connection ordering is the service's problem.
type Dispatcher struct {
	hub     *Hub
	chat    chat_service.ChatServiceContract
	tracker *presence.Tracker
	publish func(ev bus.Event)

	handlers map[string]func(ctx context.Context, client *Client, msg IncomingMessage) *app_error.AppError
}

func NewDispatcher(hub *Hub, chat chat_service.ChatServiceContract, tracker *presence.Tracker, publish func(ev bus.Event)) *Dispatcher {
	d := &Dispatcher{
		hub:     hub,
		chat:    chat,
		tracker: tracker,
		publish: publish,
	}
	d.handlers = map[string]func(ctx context.Context, client *Client, msg IncomingMessage) *app_error.AppError{
		chat_dto.TypeJoinRoom:       d.handleJoinRoom,
		chat_dto.TypeLeaveRoom:      d.handleLeaveRoom,
		chat_dto.TypeSendMessage:    d.handleSendMessage,
		chat_dto.TypeEditMessage:    d.handleEditMessage,
		chat_dto.TypeDeleteMessage:  d.handleDeleteMessage,
		chat_dto.TypeTypingStart:    d.handleTypingStart,
		chat_dto.TypeTypingStop:     d.handleTypingStop,
		chat_dto.TypeMarkRead:       d.handleMarkRead,
		chat_dto.TypeGetHistory:     d.handleGetHistory,
		chat_dto.TypeAddReaction:    d.handleAddReaction,
		chat_dto.TypeRemoveReaction: d.handleRemoveReaction,
		chat_dto.TypeCreateRoom:     d.handleCreateRoom,
	}
	hub.SetDispatcher(d)
	return d
}

// Handle runs one envelope. Failures go back to the sender only; nothing is
// broadcast for a rejected command.
func (d *Dispatcher) Handle(ctx context.Context, client *Client, msg IncomingMessage) {
	handler, ok := d.handlers[msg.Type]
	if !ok {
		client.SendMessage(NewErrorMessage(msg.RoomID, malformedEnvelopeErr))
		return
	}

	if appErr := handler(ctx, client, msg); appErr != nil {
		log.Debug().Str("type", msg.Type).Str("userID", client.UserID).Str("kind", string(appErr.Kind)).Msg("ws: command rejected")
		client.SendMessage(NewErrorMessage(msg.RoomID, appErr))
	}
}

func (d *Dispatcher) handleJoinRoom(ctx context.Context, client *Client, msg IncomingMessage) *app_error.AppError {
	if msg.RoomID == "" {
		return app_error.Validation("roomId is required", "roomId")
	}
	if client.Subscribed(msg.RoomID) {
		return nil
	}
	if appErr := d.chat.EnsureParticipant(ctx, msg.RoomID, client.UserID); appErr != nil {
		return appErr
	}

	d.hub.Register(msg.RoomID, client)

	client.SendMessage(NewSystemMessage(msg.RoomID, "joined room", map[string]any{"roomId": msg.RoomID}))
	d.publishMembership(chat_dto.TypeUserJoined, msg.RoomID, client.UserID)
	return nil
}

func (d *Dispatcher) handleLeaveRoom(ctx context.Context, client *Client, msg IncomingMessage) *app_error.AppError {
	if msg.RoomID == "" {
		return app_error.Validation("roomId is required", "roomId")
	}
	if !client.Subscribed(msg.RoomID) {
		return nil
	}

	d.hub.Unregister(msg.RoomID, client)
	d.publishMembership(chat_dto.TypeUserLeft, msg.RoomID, client.UserID)
	return nil
}

func (d *Dispatcher) handleSendMessage(ctx context.Context, client *Client, msg IncomingMessage) *app_error.AppError {
	req := chat_dto.SendMessageRequest{
		RoomID:       msg.RoomID,
		Content:      msg.Content,
		ContentType:  msg.ContentType,
		OptimisticID: msg.OptimisticID,
		ParentID:     msg.ParentID,
	}
	if _, appErr := d.chat.SendMessage(ctx, client.UserID, req); appErr != nil {
		return appErr
	}

	// an explicit send makes the sender's typing indicator absent
	if d.tracker.StopTyping(msg.RoomID, client.UserID) {
		d.publishTyping(msg.RoomID, client.UserID, false)
	}
	return nil
}

func (d *Dispatcher) handleEditMessage(ctx context.Context, client *Client, msg IncomingMessage) *app_error.AppError {
	if msg.MessageID == "" {
		return app_error.Validation("messageId is required", "messageId")
	}
	_, appErr := d.chat.EditMessage(ctx, client.UserID, msg.MessageID, msg.Content)
	return appErr
}

func (d *Dispatcher) handleDeleteMessage(ctx context.Context, client *Client, msg IncomingMessage) *app_error.AppError {
	if msg.MessageID == "" {
		return app_error.Validation("messageId is required", "messageId")
	}
	return d.chat.DeleteMessage(ctx, client.UserID, msg.MessageID)
}

// handleTypingStart arms the typing TTL. Repeats inside the window re-arm
// the timer without a second broadcast.
func (d *Dispatcher) handleTypingStart(ctx context.Context, client *Client, msg IncomingMessage) *app_error.AppError {
	if msg.RoomID == "" {
		return app_error.Validation("roomId is required", "roomId")
	}
	if !client.Subscribed(msg.RoomID) {
		return app_error.Forbidden("not subscribed to room", "roomId")
	}

	if d.tracker.StartTyping(msg.RoomID, client.UserID) {
		d.publishTyping(msg.RoomID, client.UserID, true)
	}
	return nil
}

func (d *Dispatcher) handleTypingStop(ctx context.Context, client *Client, msg IncomingMessage) *app_error.AppError {
	if msg.RoomID == "" {
		return app_error.Validation("roomId is required", "roomId")
	}

	if d.tracker.StopTyping(msg.RoomID, client.UserID) {
		d.publishTyping(msg.RoomID, client.UserID, false)
	}
	return nil
}

func (d *Dispatcher) handleMarkRead(ctx context.Context, client *Client, msg IncomingMessage) *app_error.AppError {
	req := chat_dto.MarkReadRequest{
		RoomID:     msg.RoomID,
		MessageIDs: msg.MessageIDs,
	}
	return d.chat.MarkRead(ctx, client.UserID, req)
}

// handleGetHistory answers the requesting socket directly. History pages
// never ride the bus.
func (d *Dispatcher) handleGetHistory(ctx context.Context, client *Client, msg IncomingMessage) *app_error.AppError {
	req := chat_dto.GetHistoryRequest{
		RoomID:    msg.RoomID,
		BeforeSeq: msg.BeforeSeq,
		Limit:     msg.Limit,
	}
	history, appErr := d.chat.GetHistory(ctx, client.UserID, req)
	if appErr != nil {
		return appErr
	}

	client.SendMessage(OutgoingMessage{
		Type:      chat_dto.TypeMessageHistory,
		RoomID:    msg.RoomID,
		Data:      history,
		Timestamp: time.Now().Unix(),
	})
	return nil
}

func (d *Dispatcher) handleAddReaction(ctx context.Context, client *Client, msg IncomingMessage) *app_error.AppError {
	if msg.MessageID == "" || msg.Emoji == "" {
		return app_error.Validation("messageId and emoji are required", "emoji")
	}
	return d.chat.AddReaction(ctx, client.UserID, msg.MessageID, msg.Emoji)
}

func (d *Dispatcher) handleRemoveReaction(ctx context.Context, client *Client, msg IncomingMessage) *app_error.AppError {
	if msg.MessageID == "" || msg.Emoji == "" {
		return app_error.Validation("messageId and emoji are required", "emoji")
	}
	return d.chat.RemoveReaction(ctx, client.UserID, msg.MessageID, msg.Emoji)
}

func (d *Dispatcher) handleCreateRoom(ctx context.Context, client *Client, msg IncomingMessage) *app_error.AppError {
	req := chat_dto.CreateRoomRequest{
		TenantID:  msg.TenantID,
		RoomType:  msg.RoomType,
		Name:      msg.Name,
		MemberIDs: msg.MemberIDs,
	}
	room, appErr := d.chat.CreateRoom(ctx, client.UserID, req)
	if appErr != nil {
		return appErr
	}

	// creator is auto-subscribed so followup sends need no explicit join
	d.hub.Register(room.RoomID, client)

	client.SendMessage(OutgoingMessage{
		Type:      chat_dto.TypeRoomUpdated,
		RoomID:    room.RoomID,
		Data:      room,
		Timestamp: time.Now().Unix(),
	})
	return nil
}

func (d *Dispatcher) publishTyping(roomID, userID string, typing bool) {
	ev, err := bus.NewEvent(chat_dto.TypeTypingIndicator, roomID, chat_dto.TypingIndicatorPayload{
		RoomID: roomID,
		UserID: userID,
		Typing: typing,
	})
	if err != nil {
		return
	}
	d.publish(ev)
}

func (d *Dispatcher) publishMembership(evType, roomID, userID string) {
	ev, err := bus.NewEvent(evType, roomID, chat_dto.RoomMembershipPayload{
		RoomID: roomID,
		UserID: userID,
	})
	if err != nil {
		return
	}
	d.publish(ev)
}
