package entity

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	ContentTypeText   = "text"
	ContentTypeImage  = "image"
	ContentTypeFile   = "file"
	ContentTypeSystem = "system"
)

// Message lives in the Mongo `messages` collection. Seq is assigned by the
// chat service under the per-room sequence lock; (room_id, seq) carries a
// unique index so a sequencing bug surfaces as a duplicate-key error instead
// of silent reordering.
type Message struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	RoomID      string        `bson:"room_id"`
	SenderID    string        `bson:"sender_id"`
	Content     string        `bson:"content"`
	ContentType string        `bson:"content_type"`
	ParentID    string        `bson:"parent_id,omitempty"`
	Seq         int64         `bson:"seq"`
	CreatedAt   time.Time     `bson:"created_at"`
	EditedAt    *time.Time    `bson:"edited_at,omitempty"`
	DeletedAt   *time.Time    `bson:"deleted_at,omitempty"`
}

func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

// Reaction is unique per (message_id, user_id, emoji).
type Reaction struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	MessageID string        `bson:"message_id"`
	UserID    string        `bson:"user_id"`
	Emoji     string        `bson:"emoji"`
	CreatedAt time.Time     `bson:"created_at"`
}

// ReadReceipt is unique per (message_id, user_id); upserts keep the first
// read_at so re-marking is a no-op.
type ReadReceipt struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	MessageID string        `bson:"message_id"`
	UserID    string        `bson:"user_id"`
	ReadAt    time.Time     `bson:"read_at"`
}

func ValidContentType(ct string) bool {
	switch ct {
	case ContentTypeText, ContentTypeImage, ContentTypeFile, ContentTypeSystem:
		return true
	}
	return false
}
