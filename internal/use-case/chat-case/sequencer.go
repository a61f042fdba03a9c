package chat_service

import (
	"context"
	"sync"

	"github.com/prolaunch/chat-core/internal/entity"
	app_error "github.com/prolaunch/chat-core/internal/errors"
	message_repo "github.com/prolaunch/chat-core/internal/repo/message"
)

// sequencer serializes message writes per room so sequence numbers come out
// strictly increasing and gap-free. Each room gets its own lock; unrelated
// rooms never contend. The counter only advances after a successful insert,
// so a failed write leaves no hole in the persisted series.
type sequencer struct {
	rooms sync.Map // roomID -> *roomSeq
}

type roomSeq struct {
	mu     sync.Mutex
	seeded bool
	last   int64
}

func (s *sequencer) roomFor(roomID string) *roomSeq {
	v, _ := s.rooms.LoadOrStore(roomID, &roomSeq{})
	return v.(*roomSeq)
}

// insertNext assigns the next sequence number for the room and runs the
// insert under the room lock. The lock spans only this room's reservation
// and write; sends in other rooms proceed in parallel.
func (s *sequencer) insertNext(ctx context.Context, repo message_repo.MessageRepoContract, roomID string, build func(seq int64) *entity.Message) (*entity.Message, *app_error.AppError) {
	rs := s.roomFor(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.seeded {
		max, err := repo.MaxSequence(ctx, roomID)
		if err != nil {
			return nil, err
		}
		rs.last = max
		rs.seeded = true
	}

	seq := rs.last + 1
	msg := build(seq)
	msg.Seq = seq

	if err := repo.Insert(ctx, msg); err != nil {
		return nil, err
	}

	rs.last = seq
	return msg, nil
}
