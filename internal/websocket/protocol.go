package websocket

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/prolaunch/chat-core/internal/dtos/chat_dto"
	app_error "github.com/prolaunch/chat-core/internal/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// IncomingMessage is the client -> server envelope, a tagged union keyed by
// Type. Unused fields stay zero for any given variant.
type IncomingMessage struct {
	Type         string   `json:"type"`
	RoomID       string   `json:"roomId,omitempty"`
	Content      string   `json:"content,omitempty"`
	ContentType  string   `json:"contentType,omitempty"`
	OptimisticID string   `json:"optimisticId,omitempty"`
	ParentID     string   `json:"parentId,omitempty"`
	MessageID    string   `json:"messageId,omitempty"`
	MessageIDs   []string `json:"messageIds,omitempty"`
	Emoji        string   `json:"emoji,omitempty"`
	BeforeSeq    *int64   `json:"beforeSeq,omitempty"`
	Limit        int      `json:"limit,omitempty"`

	// create_room
	TenantID  string   `json:"tenantId,omitempty"`
	RoomType  string   `json:"roomType,omitempty"`
	Name      string   `json:"name,omitempty"`
	MemberIDs []string `json:"memberIds,omitempty"`
}

// OutgoingMessage is the server -> client envelope. EventID is the stable
// bus event id; clients treat a repeated EventID as already applied.
type OutgoingMessage struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId,omitempty"`
	EventID   string `json:"eventId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func NewErrorMessage(roomID string, appErr *app_error.AppError) OutgoingMessage {
	return OutgoingMessage{
		Type:   chat_dto.TypeError,
		RoomID: roomID,
		Data: map[string]any{
			"kind":    appErr.Kind,
			"message": appErr.Message,
			"field":   appErr.Field,
		},
		Timestamp: time.Now().Unix(),
	}
}

func NewSystemMessage(roomID, content string, data map[string]any) OutgoingMessage {
	if data == nil {
		data = map[string]any{}
	}
	data["content"] = content
	return OutgoingMessage{
		Type:      chat_dto.TypeRoomUpdated,
		RoomID:    roomID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
}

// DecodeData unmarshals an envelope's Data into a typed payload. Data
// arrives either as raw JSON (from the bus) or as the generic value the
// transport decoded, so it is round-tripped through the codec.
func DecodeData(msg OutgoingMessage, v any) error {
	raw, err := json.Marshal(msg.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
