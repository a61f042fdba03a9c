package bus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type RedisBus struct {
	Redis *redis.Client
}

func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{Redis: rdb}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.Redis.Publish(ctx, subjectFor(ev), data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, h Handler) error {
	// chat.* covers both chat.room.<id> and chat.presence
	pubsub := b.Redis.PSubscribe(ctx, "chat.*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("bus: dropping malformed event")
				continue
			}
			h(ev)
		}
	}
}

func (b *RedisBus) Close() error {
	return nil // the shared redis client is owned by AppState
}
