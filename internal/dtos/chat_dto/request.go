package chat_dto

import "github.com/go-playground/validator/v10"

type SendMessageRequest struct {
	RoomID       string `json:"roomId" validate:"required"`
	Content      string `json:"content" validate:"required"`
	ContentType  string `json:"contentType" validate:"omitempty,oneof=text image file system"`
	OptimisticID string `json:"optimisticId,omitempty" validate:"omitempty,max=64"`
	ParentID     string `json:"parentId,omitempty"`
}

type CreateRoomRequest struct {
	TenantID  string   `json:"tenantId" validate:"required"`
	RoomType  string   `json:"roomType" validate:"required,oneof=direct group support broadcast"`
	Name      string   `json:"name" validate:"omitempty,max=128"`
	MemberIDs []string `json:"memberIds" validate:"required,min=1,dive,required"`
}

type MarkReadRequest struct {
	RoomID     string   `json:"roomId" validate:"required"`
	MessageIDs []string `json:"messageIds" validate:"required,min=1"`
}

type GetHistoryRequest struct {
	RoomID    string `json:"roomId" validate:"required"`
	BeforeSeq *int64 `json:"beforeSeq,omitempty"`
	Limit     int    `json:"limit,omitempty" validate:"omitempty,min=1"`
}

func (r *SendMessageRequest) Validate(v *validator.Validate) error {
	return v.Struct(r)
}

func (r *CreateRoomRequest) Validate(v *validator.Validate) error {
	return v.Struct(r)
}

func (r *MarkReadRequest) Validate(v *validator.Validate) error {
	return v.Struct(r)
}

func (r *GetHistoryRequest) Validate(v *validator.Validate) error {
	return v.Struct(r)
}
