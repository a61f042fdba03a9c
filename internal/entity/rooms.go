package entity

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoomTypeDirect    = "direct"
	RoomTypeGroup     = "group"
	RoomTypeSupport   = "support"
	RoomTypeBroadcast = "broadcast"
)

const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleMember    = "member"
)

type Room struct {
	ID        uuid.UUID `gorm:"primaryKey"`
	TenantID  string    `gorm:"index;not null"`
	RT        string    `gorm:"not null"` // room type: direct | group | support | broadcast
	Name      string
	CreatedBy string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

type Participant struct {
	ID          int64     `gorm:"primaryKey"`
	RoomID      string    `gorm:"uniqueIndex:idx_participant_room_user;not null"`
	UserID      string    `gorm:"uniqueIndex:idx_participant_room_user;not null"`
	Role        string    `gorm:"not null"`
	JoinedAt    time.Time `gorm:"autoCreateTime"`
	LastReadSeq int64
	LastReadAt  *time.Time
	Muted       bool
}

func ValidRoomType(rt string) bool {
	switch rt {
	case RoomTypeDirect, RoomTypeGroup, RoomTypeSupport, RoomTypeBroadcast:
		return true
	}
	return false
}
