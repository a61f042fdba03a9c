package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prolaunch/chat-core/internal/queue"
)

const pendingNotificationTTL = 7 * 24 * time.Hour

// handleNotifyOffline is enqueued when a message lands in a room whose
// member had no live connection on any instance. If the user came online
// between enqueue and execution the job is a no-op; the socket already
// delivered the message.
func (wp *WorkerPool) handleNotifyOffline(ctx context.Context, payload json.RawMessage) error {
	var data queue.NotifyOfflinePayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return fmt.Errorf("invalid notify_offline payload: %w", err)
	}

	if wp.hub != nil && wp.hub.IsUserOnline(data.UserID) {
		log.Debug().Str("userID", data.UserID).Str("roomID", data.RoomID).Msg("notify_offline: user is back online, skipping")
		return nil
	}

	// Park the notification for the user's next session. A push/email
	// provider would hang off this list.
	entry, err := json.Marshal(map[string]any{
		"room_id":    data.RoomID,
		"message_id": data.MessageID,
		"sender_id":  data.SenderID,
		"preview":    data.Preview,
		"queued_at":  time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	key := fmt.Sprintf("chat:pending_notify:%s", data.UserID)
	pipe := wp.Redis.TxPipeline()
	pipe.RPush(ctx, key, entry)
	pipe.Expire(ctx, key, pendingNotificationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to park notification: %w", err)
	}

	log.Info().Str("userID", data.UserID).Str("roomID", data.RoomID).Msg("notify_offline: notification parked")
	return nil
}
