package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope that crosses gateway instances. ID is stable so
// consumers can treat duplicate delivery as a no-op; delivery is
// at-least-once to live subscribers, and clients close any remaining gap
// through history backfill on reconnect.
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	RoomID      string          `json:"roomId,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt int64           `json:"publishedAt"`
}

func NewEvent(evType, roomID string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          uuid.New().String(),
		Type:        evType,
		RoomID:      roomID,
		Payload:     data,
		PublishedAt: time.Now().Unix(),
	}, nil
}

type Handler func(Event)

// Bus fans room events out to every subscribed gateway process. Events with
// an empty RoomID (presence transitions) travel on a shared channel that all
// instances receive.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe blocks, invoking h for every event, until ctx is done.
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

const (
	subjectPrefix   = "chat.room."
	presenceSubject = "chat.presence"
)

func subjectFor(ev Event) string {
	if ev.RoomID == "" {
		return presenceSubject
	}
	return subjectPrefix + ev.RoomID
}
