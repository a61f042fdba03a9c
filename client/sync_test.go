package client

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prolaunch/chat-core/internal/dtos/chat_dto"
)

// newTestSync builds a sync layer over a transport that was never started,
// so Send fails fast and every state change comes from envelopes we feed in
// through handleEnvelope.
func newTestSync(t *testing.T) *Sync {
	t.Helper()
	tr := NewTransport(TransportOptions{URL: "ws://127.0.0.1:0/ws"})
	return NewSync(tr, SyncOptions{})
}

func envOf(t *testing.T, evType, roomID string, payload any) Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{Type: evType, RoomID: roomID, Data: data, Timestamp: time.Now().Unix()}
}

func serverMessage(roomID, messageID string, seq int64) chat_dto.MessageResponse {
	return chat_dto.MessageResponse{
		MessageID:   messageID,
		RoomID:      roomID,
		SenderID:    "bob",
		Content:     "hello",
		ContentType: "text",
		Seq:         seq,
		CreatedAt:   time.Now(),
	}
}

func TestApplyMessage_ReplayIsIdempotent(t *testing.T) {
	s := newTestSync(t)
	msg := serverMessage("room-1", "m1", 1)

	s.handleEnvelope(envOf(t, chat_dto.TypeNewMessage, "room-1", chat_dto.NewMessagePayload{Message: msg}))
	s.handleEnvelope(envOf(t, chat_dto.TypeNewMessage, "room-1", chat_dto.NewMessagePayload{Message: msg}))

	got := s.Messages("room-1")
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].MessageID)
	assert.Equal(t, StatusConfirmed, got[0].Status)
}

func TestApplyMessage_SeqOrdering(t *testing.T) {
	s := newTestSync(t)

	// history pages arrive newest-first; the list must still come out ascending
	for _, seq := range []int64{5, 2, 4, 1, 3} {
		msg := serverMessage("room-1", "m"+string(rune('0'+seq)), seq)
		s.applyMessage(msg, "")
	}

	got := s.Messages("room-1")
	require.Len(t, got, 5)
	for i, m := range got {
		assert.Equal(t, int64(i+1), m.Seq)
	}
}

func TestSendMessage_OptimisticReconcileOnce(t *testing.T) {
	s := newTestSync(t)

	optimisticID, err := s.SendMessage("room-1", "hi there", "text")
	require.Error(t, err, "transport is disconnected")
	require.NotEmpty(t, optimisticID)

	// the optimistic entry is visible while unconfirmed
	got := s.Messages("room-1")
	require.Len(t, got, 1)
	assert.Empty(t, got[0].MessageID)

	confirmed := serverMessage("room-1", "m1", 1)
	confirmed.OptimisticID = optimisticID
	s.applyMessage(confirmed, optimisticID)

	got = s.Messages("room-1")
	require.Len(t, got, 1, "the echo replaces the optimistic entry, never duplicates it")
	assert.Equal(t, "m1", got[0].MessageID)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, StatusConfirmed, got[0].Status)

	// duplicate echo (bus redelivery) is a no-op
	s.applyMessage(confirmed, optimisticID)
	assert.Len(t, s.Messages("room-1"), 1)
}

func TestApplyMessage_ForeignOptimisticIDInsertsNormally(t *testing.T) {
	s := newTestSync(t)

	// another device of the same user sent this; we hold no matching entry
	msg := serverMessage("room-1", "m9", 1)
	s.applyMessage(msg, "opt-unknown")

	got := s.Messages("room-1")
	require.Len(t, got, 1)
	assert.Equal(t, "m9", got[0].MessageID)
	assert.Equal(t, StatusConfirmed, got[0].Status)
}

func TestMarkRead_BatchesAndRequeuesOnSendFailure(t *testing.T) {
	s := newTestSync(t)

	s.MarkRead("room-1", "m1", "m2")
	s.MarkRead("room-1", "m2", "m3")

	s.mu.Lock()
	assert.Len(t, s.pendingReceipts["room-1"], 3, "ids are deduplicated in the batch")
	s.mu.Unlock()

	// transport is down: the flush must put the batch back
	s.flushReceipts("room-1")

	s.mu.Lock()
	assert.Len(t, s.pendingReceipts["room-1"], 3)
	s.mu.Unlock()
}

func TestSweepStalled_FlipsSendingToFailed(t *testing.T) {
	s := newTestSync(t)

	var failedRoom, failedOpt string
	s.OnMessageFailed = func(roomID, optimisticID string) {
		failedRoom, failedOpt = roomID, optimisticID
	}

	optimisticID, _ := s.SendMessage("room-1", "stalls", "text")

	// pretend the command went out long ago and no echo came back
	s.mu.Lock()
	entry := s.rooms["room-1"].byOptimistic[optimisticID]
	entry.Status = StatusSending
	entry.submittedAt = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	s.sweepStalled()

	got := s.Messages("room-1")
	require.Len(t, got, 1)
	assert.Equal(t, StatusFailed, got[0].Status)
	assert.Equal(t, "room-1", failedRoom)
	assert.Equal(t, optimisticID, failedOpt)
}

func TestRetryMessage_KeepsOptimisticID(t *testing.T) {
	s := newTestSync(t)

	optimisticID, _ := s.SendMessage("room-1", "retry me", "text")
	_ = s.RetryMessage("room-1", optimisticID)

	s.mu.Lock()
	entry := s.rooms["room-1"].byOptimistic[optimisticID]
	s.mu.Unlock()
	require.NotNil(t, entry)
	assert.Equal(t, optimisticID, entry.OptimisticID)

	// even after a failed retry, the server echo still reconciles the entry
	confirmed := serverMessage("room-1", "m1", 1)
	s.applyMessage(confirmed, optimisticID)
	got := s.Messages("room-1")
	require.Len(t, got, 1)
	assert.Equal(t, StatusConfirmed, got[0].Status)
}

func TestSendMessage_ClearsTypingState(t *testing.T) {
	s := newTestSync(t)

	s.Typing("room-1")
	s.mu.Lock()
	_, armed := s.typingStop["room-1"]
	s.mu.Unlock()
	require.True(t, armed, "typing arms the idle timer")

	_, _ = s.SendMessage("room-1", "done typing", "text")

	s.mu.Lock()
	_, armed = s.typingStop["room-1"]
	_, debounced := s.lastTypingSent["room-1"]
	s.mu.Unlock()
	assert.False(t, armed, "send cancels the idle timer")
	assert.False(t, debounced, "the next keystroke sends typing_start again")
}

func TestHandleEnvelope_TypingIndicator(t *testing.T) {
	s := newTestSync(t)

	s.handleEnvelope(envOf(t, chat_dto.TypeTypingIndicator, "room-1", chat_dto.TypingIndicatorPayload{RoomID: "room-1", UserID: "bob", Typing: true}))
	s.handleEnvelope(envOf(t, chat_dto.TypeTypingIndicator, "room-1", chat_dto.TypingIndicatorPayload{RoomID: "room-1", UserID: "carol", Typing: true}))
	assert.Equal(t, []string{"bob", "carol"}, s.TypingUsers("room-1"))

	s.handleEnvelope(envOf(t, chat_dto.TypeTypingIndicator, "room-1", chat_dto.TypingIndicatorPayload{RoomID: "room-1", UserID: "bob", Typing: false}))
	assert.Equal(t, []string{"carol"}, s.TypingUsers("room-1"))
}

func TestHandleEnvelope_UserStatus(t *testing.T) {
	s := newTestSync(t)
	assert.Equal(t, "offline", s.UserStatus("bob"), "unknown users default to offline")

	s.handleEnvelope(envOf(t, chat_dto.TypeUserStatusChanged, "", chat_dto.UserStatusPayload{UserID: "bob", Status: "online"}))
	assert.Equal(t, "online", s.UserStatus("bob"))

	s.handleEnvelope(envOf(t, chat_dto.TypeUserStatusChanged, "", chat_dto.UserStatusPayload{UserID: "bob", Status: "offline"}))
	assert.Equal(t, "offline", s.UserStatus("bob"))
}

func TestHandleEnvelope_ReadReceiptFirstWins(t *testing.T) {
	s := newTestSync(t)
	s.applyMessage(serverMessage("room-1", "m1", 1), "")

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	s.handleEnvelope(envOf(t, chat_dto.TypeReadReceipt, "room-1", chat_dto.ReadReceiptPayload{RoomID: "room-1", UserID: "carol", MessageIDs: []string{"m1"}, ReadAt: first}))
	s.handleEnvelope(envOf(t, chat_dto.TypeReadReceipt, "room-1", chat_dto.ReadReceiptPayload{RoomID: "room-1", UserID: "carol", MessageIDs: []string{"m1"}, ReadAt: later}))

	got := s.Messages("room-1")
	require.Len(t, got, 1)
	require.Contains(t, got[0].ReadBy, "carol")
	assert.True(t, got[0].ReadBy["carol"].Equal(first), "a replayed receipt keeps the original timestamp")
}

func TestHandleEnvelope_Reactions(t *testing.T) {
	s := newTestSync(t)
	s.applyMessage(serverMessage("room-1", "m1", 1), "")

	add := chat_dto.ReactionPayload{MessageID: "m1", RoomID: "room-1", UserID: "carol", Emoji: "👍"}
	s.handleEnvelope(envOf(t, chat_dto.TypeReactionAdded, "room-1", add))
	s.handleEnvelope(envOf(t, chat_dto.TypeReactionAdded, "room-1", add))

	got := s.Messages("room-1")
	require.Len(t, got, 1)
	assert.Equal(t, []string{"carol"}, got[0].Reactions["👍"], "repeated add stays a single entry")

	s.handleEnvelope(envOf(t, chat_dto.TypeReactionRemoved, "room-1", add))
	got = s.Messages("room-1")
	assert.NotContains(t, got[0].Reactions, "👍")
}

func TestHandleEnvelope_EditAndDelete(t *testing.T) {
	s := newTestSync(t)
	s.applyMessage(serverMessage("room-1", "m1", 1), "")

	editedAt := time.Now()
	s.handleEnvelope(envOf(t, chat_dto.TypeMessageUpdated, "room-1", chat_dto.MessageUpdatedPayload{
		MessageID: "m1", RoomID: "room-1", Content: "edited", EditedAt: editedAt,
	}))

	got := s.Messages("room-1")
	require.Len(t, got, 1)
	assert.Equal(t, "edited", got[0].Content)
	require.NotNil(t, got[0].EditedAt)

	s.handleEnvelope(envOf(t, chat_dto.TypeMessageDeleted, "room-1", chat_dto.MessageDeletedPayload{
		MessageID: "m1", RoomID: "room-1", DeletedAt: time.Now(),
	}))

	got = s.Messages("room-1")
	require.Len(t, got, 1, "deleted messages tombstone in place")
	assert.Empty(t, got[0].Content)
	assert.NotNil(t, got[0].DeletedAt)
}

// historyPage builds the server's answer for one get_history command over a
// room whose newest message is topSeq.
func historyPage(cmd Command, topSeq int64, limit int) chat_dto.HistoryResponse {
	start := topSeq
	if cmd.BeforeSeq != nil {
		start = *cmd.BeforeSeq - 1
	}
	page := chat_dto.HistoryResponse{RoomID: cmd.RoomID}
	for seq := start; seq > start-int64(limit) && seq >= 1; seq-- {
		page.Messages = append(page.Messages, chat_dto.MessageResponse{
			MessageID: fmt.Sprintf("m%d", seq),
			RoomID:    cmd.RoomID,
			SenderID:  "bob",
			Content:   "hello",
			Seq:       seq,
			CreatedAt: time.Now(),
		})
	}
	page.HasMore = start-int64(limit) >= 1
	return page
}

func TestReconnectBackfill_PagesToLastKnownSeq(t *testing.T) {
	const topSeq, limit = 48, 5

	histReqs := make(chan Command, 8)
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd Command
			if json.Unmarshal(data, &cmd) != nil || cmd.Type != chat_dto.TypeGetHistory {
				continue
			}
			histReqs <- cmd

			page := historyPage(cmd, topSeq, limit)
			payload, _ := json.Marshal(page)
			env := Envelope{Type: chat_dto.TypeMessageHistory, RoomID: cmd.RoomID, Data: payload, Timestamp: time.Now().Unix()}
			data, _ = json.Marshal(env)
			if conn.WriteMessage(websocket.TextMessage, data) != nil {
				return
			}
		}
	})

	tr := NewTransport(TransportOptions{URL: wsURL(srv)})
	s := NewSync(tr, SyncOptions{HistoryLimit: limit})

	// the client saw up to seq 40 before the connection dropped
	for seq := int64(38); seq <= 40; seq++ {
		s.applyMessage(serverMessage("room-1", fmt.Sprintf("m%d", seq), seq), "")
	}
	s.mu.Lock()
	s.joined["room-1"] = struct{}{}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()
	go func() { _ = tr.Run(ctx) }()
	defer tr.Close()

	nextReq := func() Command {
		select {
		case cmd := <-histReqs:
			return cmd
		case <-time.After(3 * time.Second):
			t.Fatal("expected a get_history request")
			return Command{}
		}
	}

	first := nextReq()
	assert.Nil(t, first.BeforeSeq, "first page starts from the newest message")

	second := nextReq()
	require.NotNil(t, second.BeforeSeq, "a gap wider than one page keeps paging backwards")
	assert.Equal(t, int64(44), *second.BeforeSeq)

	// the second page reaches seq 39 <= lastSeq+1, so paging stops
	select {
	case cmd := <-histReqs:
		t.Fatalf("backfill must stop once the gap is closed, got BeforeSeq=%v", cmd.BeforeSeq)
	case <-time.After(300 * time.Millisecond):
	}

	// no message between the drop and the reconnect was lost
	require.Eventually(t, func() bool {
		return len(s.Messages("room-1")) == 11
	}, 3*time.Second, 10*time.Millisecond)
	got := s.Messages("room-1")
	for i, m := range got {
		assert.Equal(t, int64(38+i), m.Seq)
	}
}

func TestHandleEnvelope_HistoryPageMergesWithLive(t *testing.T) {
	s := newTestSync(t)

	// a live message lands first, then a backfill page containing it again
	s.applyMessage(serverMessage("room-1", "m3", 3), "")

	page := chat_dto.HistoryResponse{
		RoomID: "room-1",
		Messages: []chat_dto.MessageResponse{
			serverMessage("room-1", "m3", 3),
			serverMessage("room-1", "m2", 2),
			serverMessage("room-1", "m1", 1),
		},
	}
	s.handleEnvelope(envOf(t, chat_dto.TypeMessageHistory, "room-1", page))

	got := s.Messages("room-1")
	require.Len(t, got, 3)
	for i, m := range got {
		assert.Equal(t, int64(i+1), m.Seq)
	}
}
