package chat_dto

import "time"

type MessageResponse struct {
	MessageID    string     `json:"messageId"`
	RoomID       string     `json:"roomId"`
	SenderID     string     `json:"senderId"`
	Content      string     `json:"content"`
	ContentType  string     `json:"contentType"`
	ParentID     string     `json:"parentId,omitempty"`
	Seq          int64      `json:"seq"`
	OptimisticID string     `json:"optimisticId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	EditedAt     *time.Time `json:"editedAt,omitempty"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
}

type RoomResponse struct {
	RoomID    string    `json:"roomId"`
	TenantID  string    `json:"tenantId"`
	RoomType  string    `json:"roomType"`
	Name      string    `json:"name,omitempty"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

type HistoryResponse struct {
	RoomID   string            `json:"roomId"`
	Messages []MessageResponse `json:"messages"` // descending seq
	HasMore  bool              `json:"hasMore"`
}
