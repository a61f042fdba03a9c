package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/prolaunch/chat-core/internal/dtos/chat_dto"
)

type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusFailed    MessageStatus = "failed"
	StatusConfirmed MessageStatus = "confirmed"
)

// LocalMessage is one entry in a room's synchronized message list.
// Confirmed entries carry the server-assigned seq; optimistic entries sit
// after them until the matching new_message arrives.
type LocalMessage struct {
	MessageID    string
	RoomID       string
	SenderID     string
	Content      string
	ContentType  string
	ParentID     string
	Seq          int64
	OptimisticID string
	Status       MessageStatus
	CreatedAt    time.Time
	EditedAt     *time.Time
	DeletedAt    *time.Time
	Reactions    map[string][]string
	ReadBy       map[string]time.Time

	submittedAt time.Time
}

type roomState struct {
	ordered      []*LocalMessage // confirmed, ascending seq
	pending      []*LocalMessage // sending/failed, submit order
	byID         map[string]*LocalMessage
	byOptimistic map[string]*LocalMessage
	typingUsers  map[string]bool
	lastSeq      int64
}

func newRoomState() *roomState {
	return &roomState{
		byID:         make(map[string]*LocalMessage),
		byOptimistic: make(map[string]*LocalMessage),
		typingUsers:  make(map[string]bool),
	}
}

type SyncOptions struct {
	// SendTimeout flips a still-unconfirmed optimistic entry to failed.
	SendTimeout time.Duration
	// ReceiptFlushInterval batches mark_read commands.
	ReceiptFlushInterval time.Duration
	// TypingDebounce suppresses repeat typing_start within the window.
	TypingDebounce time.Duration
	// TypingIdle auto-sends typing_stop after the last Typing call.
	TypingIdle time.Duration

	HistoryLimit int
}

func (o *SyncOptions) withDefaults() {
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.ReceiptFlushInterval <= 0 {
		o.ReceiptFlushInterval = 2 * time.Second
	}
	if o.TypingDebounce <= 0 {
		o.TypingDebounce = 3 * time.Second
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = 5 * time.Second
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
}

// Sync applies server envelopes to local room state and owns the client
// side of the chat invariants: idempotent replay, at-most-once optimistic
// reconcile, batched receipts, debounced typing.
type Sync struct {
	transport *Transport
	opts      SyncOptions

	mu     sync.Mutex
	rooms  map[string]*roomState
	joined map[string]struct{}

	pendingReceipts map[string]map[string]struct{}
	lastTypingSent  map[string]time.Time
	typingStop      map[string]*time.Timer

	// backfill holds, per room, the last locally known seq at the moment of
	// a (re)connect; history pages keep going backwards until the gap down
	// to that seq is closed.
	backfill map[string]int64

	presence map[string]string

	// OnMessageFailed fires when an optimistic entry times out.
	OnMessageFailed func(roomID, optimisticID string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSync(transport *Transport, opts SyncOptions) *Sync {
	opts.withDefaults()
	s := &Sync{
		transport:       transport,
		opts:            opts,
		rooms:           make(map[string]*roomState),
		joined:          make(map[string]struct{}),
		pendingReceipts: make(map[string]map[string]struct{}),
		lastTypingSent:  make(map[string]time.Time),
		typingStop:      make(map[string]*time.Timer),
		backfill:        make(map[string]int64),
		presence:        make(map[string]string),
	}
	transport.OnConnect = s.onConnect
	return s
}

// Start consumes transport events until Stop or transport shutdown.
func (s *Sync) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.eventLoop()
	go s.maintenanceLoop()
}

func (s *Sync) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	for _, timer := range s.typingStop {
		timer.Stop()
	}
	s.mu.Unlock()
}

func (s *Sync) eventLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case env, ok := <-s.transport.Events():
			if !ok {
				return
			}
			s.handleEnvelope(env)
		}
	}
}

func (s *Sync) maintenanceLoop() {
	defer s.wg.Done()

	flush := time.NewTicker(s.opts.ReceiptFlushInterval)
	sweep := time.NewTicker(s.opts.SendTimeout / 2)
	defer flush.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-flush.C:
			s.flushAllReceipts()
		case <-sweep.C:
			s.sweepStalled()
		}
	}
}

// onConnect runs after every successful (re)connect: rejoin rooms, backfill
// the gap with a history page, and resend unconfirmed optimistic entries.
// Server-side dedup makes the resend safe.
func (s *Sync) onConnect() {
	s.mu.Lock()
	joined := make([]string, 0, len(s.joined))
	for roomID := range s.joined {
		joined = append(joined, roomID)
		if rs, ok := s.rooms[roomID]; ok && rs.lastSeq > 0 {
			s.backfill[roomID] = rs.lastSeq
		}
	}
	var resend []*LocalMessage
	for _, rs := range s.rooms {
		for _, entry := range rs.pending {
			if entry.Status == StatusSending {
				resend = append(resend, entry)
			}
		}
	}
	s.mu.Unlock()

	for _, roomID := range joined {
		if err := s.transport.Send(Command{Type: chat_dto.TypeJoinRoom, RoomID: roomID}); err != nil {
			log.Warn().Err(err).Str("roomID", roomID).Msg("chat client: rejoin failed")
			continue
		}
		_ = s.transport.Send(Command{Type: chat_dto.TypeGetHistory, RoomID: roomID, Limit: s.opts.HistoryLimit})
	}

	for _, entry := range resend {
		_ = s.transport.Send(Command{
			Type:         chat_dto.TypeSendMessage,
			RoomID:       entry.RoomID,
			Content:      entry.Content,
			ContentType:  entry.ContentType,
			ParentID:     entry.ParentID,
			OptimisticID: entry.OptimisticID,
		})
	}
}

func (s *Sync) JoinRoom(roomID string) error {
	if err := s.transport.Send(Command{Type: chat_dto.TypeJoinRoom, RoomID: roomID}); err != nil {
		return err
	}

	s.mu.Lock()
	s.joined[roomID] = struct{}{}
	if s.rooms[roomID] == nil {
		s.rooms[roomID] = newRoomState()
	}
	s.mu.Unlock()

	return s.transport.Send(Command{Type: chat_dto.TypeGetHistory, RoomID: roomID, Limit: s.opts.HistoryLimit})
}

// LeaveRoom flushes any batched receipts for the room before the
// unsubscribe goes out.
func (s *Sync) LeaveRoom(roomID string) error {
	s.flushReceipts(roomID)

	s.mu.Lock()
	delete(s.joined, roomID)
	delete(s.backfill, roomID)
	if timer, ok := s.typingStop[roomID]; ok {
		timer.Stop()
		delete(s.typingStop, roomID)
	}
	delete(s.lastTypingSent, roomID)
	s.mu.Unlock()

	return s.transport.Send(Command{Type: chat_dto.TypeLeaveRoom, RoomID: roomID})
}

// SendMessage inserts an optimistic entry and ships the command. The entry
// stays in the list as sending until the echo arrives or the timeout flips
// it to failed.
func (s *Sync) SendMessage(roomID, content, contentType string) (string, error) {
	optimisticID := uuid.New().String()

	entry := &LocalMessage{
		RoomID:       roomID,
		Content:      content,
		ContentType:  contentType,
		OptimisticID: optimisticID,
		Status:       StatusSending,
		CreatedAt:    time.Now(),
		submittedAt:  time.Now(),
	}

	s.mu.Lock()
	rs := s.room(roomID)
	rs.pending = append(rs.pending, entry)
	rs.byOptimistic[optimisticID] = entry
	s.mu.Unlock()

	s.clearTyping(roomID)

	err := s.transport.Send(Command{
		Type:         chat_dto.TypeSendMessage,
		RoomID:       roomID,
		Content:      content,
		ContentType:  contentType,
		OptimisticID: optimisticID,
	})
	if err != nil {
		s.mu.Lock()
		entry.Status = StatusFailed
		s.mu.Unlock()
		return optimisticID, err
	}

	return optimisticID, nil
}

// RetryMessage resends a failed optimistic entry under its original
// optimisticID, so a send that actually landed is deduplicated server-side.
func (s *Sync) RetryMessage(roomID, optimisticID string) error {
	s.mu.Lock()
	rs := s.room(roomID)
	entry, ok := rs.byOptimistic[optimisticID]
	if !ok || entry.Status == StatusConfirmed {
		s.mu.Unlock()
		return nil
	}
	entry.Status = StatusSending
	entry.submittedAt = time.Now()
	cmd := Command{
		Type:         chat_dto.TypeSendMessage,
		RoomID:       roomID,
		Content:      entry.Content,
		ContentType:  entry.ContentType,
		ParentID:     entry.ParentID,
		OptimisticID: optimisticID,
	}
	s.mu.Unlock()

	return s.transport.Send(cmd)
}

// Typing reports local typing activity. Repeat calls inside the debounce
// window only re-arm the idle timer; typing_stop goes out automatically
// after the idle timeout.
func (s *Sync) Typing(roomID string) {
	now := time.Now()

	s.mu.Lock()
	last, sent := s.lastTypingSent[roomID]
	shouldSend := !sent || now.Sub(last) >= s.opts.TypingDebounce
	if shouldSend {
		s.lastTypingSent[roomID] = now
	}

	if timer, ok := s.typingStop[roomID]; ok {
		timer.Stop()
	}
	s.typingStop[roomID] = time.AfterFunc(s.opts.TypingIdle, func() {
		s.mu.Lock()
		delete(s.lastTypingSent, roomID)
		delete(s.typingStop, roomID)
		s.mu.Unlock()
		_ = s.transport.Send(Command{Type: chat_dto.TypeTypingStop, RoomID: roomID})
	})
	s.mu.Unlock()

	if shouldSend {
		_ = s.transport.Send(Command{Type: chat_dto.TypeTypingStart, RoomID: roomID})
	}
}

// clearTyping cancels the idle timer and, if a typing_start went out, emits
// the matching typing_stop. An explicit send makes the indicator absent.
func (s *Sync) clearTyping(roomID string) {
	s.mu.Lock()
	if timer, ok := s.typingStop[roomID]; ok {
		timer.Stop()
		delete(s.typingStop, roomID)
	}
	_, wasTyping := s.lastTypingSent[roomID]
	delete(s.lastTypingSent, roomID)
	s.mu.Unlock()

	if wasTyping {
		_ = s.transport.Send(Command{Type: chat_dto.TypeTypingStop, RoomID: roomID})
	}
}

// MarkRead batches receipt ids; the maintenance loop or a room leave
// flushes them as one mark_read command.
func (s *Sync) MarkRead(roomID string, messageIDs ...string) {
	if len(messageIDs) == 0 {
		return
	}

	s.mu.Lock()
	if s.pendingReceipts[roomID] == nil {
		s.pendingReceipts[roomID] = make(map[string]struct{})
	}
	for _, id := range messageIDs {
		s.pendingReceipts[roomID][id] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *Sync) flushAllReceipts() {
	s.mu.Lock()
	roomIDs := make([]string, 0, len(s.pendingReceipts))
	for roomID := range s.pendingReceipts {
		roomIDs = append(roomIDs, roomID)
	}
	s.mu.Unlock()

	for _, roomID := range roomIDs {
		s.flushReceipts(roomID)
	}
}

func (s *Sync) flushReceipts(roomID string) {
	s.mu.Lock()
	ids := s.pendingReceipts[roomID]
	if len(ids) == 0 {
		s.mu.Unlock()
		return
	}
	batch := make([]string, 0, len(ids))
	for id := range ids {
		batch = append(batch, id)
	}
	delete(s.pendingReceipts, roomID)
	s.mu.Unlock()

	sort.Strings(batch)
	if err := s.transport.Send(Command{Type: chat_dto.TypeMarkRead, RoomID: roomID, MessageIDs: batch}); err != nil {
		// put them back for the next flush
		s.MarkRead(roomID, batch...)
	}
}

func (s *Sync) sweepStalled() {
	now := time.Now()

	s.mu.Lock()
	var failed []struct{ roomID, optimisticID string }
	for roomID, rs := range s.rooms {
		for _, entry := range rs.pending {
			if entry.Status == StatusSending && now.Sub(entry.submittedAt) > s.opts.SendTimeout {
				entry.Status = StatusFailed
				failed = append(failed, struct{ roomID, optimisticID string }{roomID, entry.OptimisticID})
			}
		}
	}
	s.mu.Unlock()

	if s.OnMessageFailed != nil {
		for _, f := range failed {
			s.OnMessageFailed(f.roomID, f.optimisticID)
		}
	}
}

// Messages snapshots a room's list: confirmed entries in ascending seq
// order, then unconfirmed optimistic entries in submit order.
func (s *Sync) Messages(roomID string) []LocalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.rooms[roomID]
	if !ok {
		return nil
	}

	out := make([]LocalMessage, 0, len(rs.ordered)+len(rs.pending))
	for _, m := range rs.ordered {
		out = append(out, *m)
	}
	for _, m := range rs.pending {
		if m.Status != StatusConfirmed {
			out = append(out, *m)
		}
	}
	return out
}

func (s *Sync) TypingUsers(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	users := make([]string, 0, len(rs.typingUsers))
	for userID := range rs.typingUsers {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

func (s *Sync) UserStatus(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status, ok := s.presence[userID]; ok {
		return status
	}
	return "offline"
}

func (s *Sync) room(roomID string) *roomState {
	if s.rooms[roomID] == nil {
		s.rooms[roomID] = newRoomState()
	}
	return s.rooms[roomID]
}

func (s *Sync) handleEnvelope(env Envelope) {
	switch env.Type {
	case chat_dto.TypeNewMessage:
		var payload chat_dto.NewMessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		s.applyMessage(payload.Message, payload.OptimisticID)

	case chat_dto.TypeMessageHistory:
		var payload chat_dto.HistoryResponse
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		for _, msg := range payload.Messages {
			s.applyMessage(msg, msg.OptimisticID)
		}
		s.continueBackfill(payload)

	case chat_dto.TypeMessageUpdated:
		var payload chat_dto.MessageUpdatedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		s.mu.Lock()
		if entry, ok := s.room(payload.RoomID).byID[payload.MessageID]; ok {
			entry.Content = payload.Content
			editedAt := payload.EditedAt
			entry.EditedAt = &editedAt
		}
		s.mu.Unlock()

	case chat_dto.TypeMessageDeleted:
		var payload chat_dto.MessageDeletedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		s.mu.Lock()
		if entry, ok := s.room(payload.RoomID).byID[payload.MessageID]; ok {
			deletedAt := payload.DeletedAt
			entry.DeletedAt = &deletedAt
			entry.Content = ""
		}
		s.mu.Unlock()

	case chat_dto.TypeTypingIndicator:
		var payload chat_dto.TypingIndicatorPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		s.mu.Lock()
		rs := s.room(payload.RoomID)
		if payload.Typing {
			rs.typingUsers[payload.UserID] = true
		} else {
			delete(rs.typingUsers, payload.UserID)
		}
		s.mu.Unlock()

	case chat_dto.TypeReadReceipt:
		var payload chat_dto.ReadReceiptPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		s.mu.Lock()
		rs := s.room(payload.RoomID)
		for _, id := range payload.MessageIDs {
			if entry, ok := rs.byID[id]; ok {
				if entry.ReadBy == nil {
					entry.ReadBy = make(map[string]time.Time)
				}
				if _, seen := entry.ReadBy[payload.UserID]; !seen {
					entry.ReadBy[payload.UserID] = payload.ReadAt
				}
			}
		}
		s.mu.Unlock()

	case chat_dto.TypeReactionAdded, chat_dto.TypeReactionRemoved:
		var payload chat_dto.ReactionPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		s.applyReaction(env.Type, payload)

	case chat_dto.TypeUserStatusChanged:
		var payload chat_dto.UserStatusPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		s.mu.Lock()
		s.presence[payload.UserID] = payload.Status
		s.mu.Unlock()

	case chat_dto.TypeError:
		log.Warn().Str("roomID", env.RoomID).RawJSON("data", env.Data).Msg("chat client: server error envelope")
	}
}

// continueBackfill pages history backwards after a reconnect until the
// oldest returned seq reaches the last locally known one, so a gap wider
// than one page is never silently dropped.
func (s *Sync) continueBackfill(page chat_dto.HistoryResponse) {
	s.mu.Lock()
	target, ok := s.backfill[page.RoomID]
	if !ok {
		s.mu.Unlock()
		return
	}

	var oldest int64
	for _, msg := range page.Messages {
		if oldest == 0 || msg.Seq < oldest {
			oldest = msg.Seq
		}
	}

	if len(page.Messages) == 0 || !page.HasMore || oldest <= target+1 {
		delete(s.backfill, page.RoomID)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	before := oldest
	_ = s.transport.Send(Command{
		Type:      chat_dto.TypeGetHistory,
		RoomID:    page.RoomID,
		BeforeSeq: &before,
		Limit:     s.opts.HistoryLimit,
	})
}

// applyMessage is the replay-idempotent core: a message already known by id
// is ignored, an optimistic match is reconciled exactly once, and anything
// else is inserted in seq order.
func (s *Sync) applyMessage(msg chat_dto.MessageResponse, optimisticID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs := s.room(msg.RoomID)

	if _, ok := rs.byID[msg.MessageID]; ok {
		return
	}

	if optimisticID != "" {
		if entry, ok := rs.byOptimistic[optimisticID]; ok && entry.Status != StatusConfirmed {
			entry.MessageID = msg.MessageID
			entry.SenderID = msg.SenderID
			entry.Seq = msg.Seq
			entry.CreatedAt = msg.CreatedAt
			entry.Status = StatusConfirmed

			rs.removePending(entry)
			rs.insertOrdered(entry)
			rs.byID[msg.MessageID] = entry
			if msg.Seq > rs.lastSeq {
				rs.lastSeq = msg.Seq
			}
			return
		}
	}

	entry := &LocalMessage{
		MessageID:    msg.MessageID,
		RoomID:       msg.RoomID,
		SenderID:     msg.SenderID,
		Content:      msg.Content,
		ContentType:  msg.ContentType,
		ParentID:     msg.ParentID,
		Seq:          msg.Seq,
		OptimisticID: optimisticID,
		Status:       StatusConfirmed,
		CreatedAt:    msg.CreatedAt,
		EditedAt:     msg.EditedAt,
		DeletedAt:    msg.DeletedAt,
	}
	rs.insertOrdered(entry)
	rs.byID[msg.MessageID] = entry
	if msg.Seq > rs.lastSeq {
		rs.lastSeq = msg.Seq
	}
}

func (s *Sync) applyReaction(evType string, payload chat_dto.ReactionPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.room(payload.RoomID).byID[payload.MessageID]
	if !ok {
		return
	}
	if entry.Reactions == nil {
		entry.Reactions = make(map[string][]string)
	}

	users := entry.Reactions[payload.Emoji]
	idx := -1
	for i, u := range users {
		if u == payload.UserID {
			idx = i
			break
		}
	}

	if evType == chat_dto.TypeReactionAdded {
		if idx < 0 {
			entry.Reactions[payload.Emoji] = append(users, payload.UserID)
		}
		return
	}

	if idx >= 0 {
		entry.Reactions[payload.Emoji] = append(users[:idx], users[idx+1:]...)
		if len(entry.Reactions[payload.Emoji]) == 0 {
			delete(entry.Reactions, payload.Emoji)
		}
	}
}

func (rs *roomState) insertOrdered(entry *LocalMessage) {
	i := sort.Search(len(rs.ordered), func(i int) bool {
		return rs.ordered[i].Seq >= entry.Seq
	})
	rs.ordered = append(rs.ordered, nil)
	copy(rs.ordered[i+1:], rs.ordered[i:])
	rs.ordered[i] = entry
}

func (rs *roomState) removePending(entry *LocalMessage) {
	for i, e := range rs.pending {
		if e == entry {
			rs.pending = append(rs.pending[:i], rs.pending[i+1:]...)
			return
		}
	}
}
