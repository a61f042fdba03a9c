package chat_dto

import "time"

// Envelope type tags, shared by the wire protocol and the bus events.
const (
	// client -> server
	TypeJoinRoom       = "join_room"
	TypeLeaveRoom      = "leave_room"
	TypeSendMessage    = "send_message"
	TypeEditMessage    = "edit_message"
	TypeDeleteMessage  = "delete_message"
	TypeTypingStart    = "typing_start"
	TypeTypingStop     = "typing_stop"
	TypeMarkRead       = "mark_read"
	TypeGetHistory     = "get_history"
	TypeAddReaction    = "add_reaction"
	TypeRemoveReaction = "remove_reaction"
	TypeCreateRoom     = "create_room"

	// server -> client
	TypeNewMessage        = "new_message"
	TypeMessageUpdated    = "message_updated"
	TypeMessageDeleted    = "message_deleted"
	TypeTypingIndicator   = "typing_indicator"
	TypeUserJoined        = "user_joined"
	TypeUserLeft          = "user_left"
	TypeUserStatusChanged = "user_status_changed"
	TypeReadReceipt       = "read_receipt"
	TypeReactionAdded     = "reaction_added"
	TypeReactionRemoved   = "reaction_removed"
	TypeRoomUpdated       = "room_updated"
	TypeMessageHistory    = "message_history"
	TypeError             = "error"
)

// Payloads carried inside bus events and server -> client envelopes.

type NewMessagePayload struct {
	Message      MessageResponse `json:"message"`
	OptimisticID string          `json:"optimisticId,omitempty"`
}

type MessageUpdatedPayload struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"editedAt"`
}

type MessageDeletedPayload struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	DeletedAt time.Time `json:"deletedAt"`
}

type TypingIndicatorPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}

type ReadReceiptPayload struct {
	RoomID     string    `json:"roomId"`
	UserID     string    `json:"userId"`
	MessageIDs []string  `json:"messageIds"`
	ReadAt     time.Time `json:"readAt"`
}

type ReactionPayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

type UserStatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"` // online | offline
}

type RoomMembershipPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}
