package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type NatsBus struct {
	nc *nats.Conn
}

func NewNatsBus(url string) (*NatsBus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NatsBus{nc: nc}, nil
}

func (b *NatsBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.nc.Publish(subjectFor(ev), data)
}

func (b *NatsBus) Subscribe(ctx context.Context, h Handler) error {
	// chat.> covers chat.room.<id> and chat.presence
	sub, err := b.nc.Subscribe("chat.>", func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("bus: dropping malformed event")
			return
		}
		h(ev)
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		log.Warn().Err(err).Msg("bus: unsubscribe failed")
	}
	return ctx.Err()
}

func (b *NatsBus) Close() error {
	b.nc.Close()
	return nil
}
