package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type typingKey struct {
	RoomID string
	UserID string
}

type typingEntry struct {
	timer     *time.Timer
	expiresAt time.Time
	gen       uint64 // re-arming bumps gen so a stale timer fire is ignored
}

// TypingExpiredFunc is called outside the tracker lock when a typing entry
// hits its TTL without renewal.
type TypingExpiredFunc func(roomID, userID string)

// Tracker owns the ephemeral state that never touches storage: typing
// indicators with TTL expiry and per-user live connection counts. It is
// injected into the gateway, never reached through globals.
type Tracker struct {
	mu       sync.Mutex
	typing   map[typingKey]*typingEntry
	conns    map[string]int // userID -> live connection count
	ttl      time.Duration
	onExpire TypingExpiredFunc
	closed   bool
}

func NewTracker(ttl time.Duration, onExpire TypingExpiredFunc) *Tracker {
	return &Tracker{
		typing:   make(map[typingKey]*typingEntry),
		conns:    make(map[string]int),
		ttl:      ttl,
		onExpire: onExpire,
	}
}

// StartTyping arms (or re-arms) the TTL timer for (room, user). Re-arming
// cancels the previous timer, so there is at most one live timer per pair.
// Returns true on the absent -> typing edge.
func (t *Tracker) StartTyping(roomID, userID string) bool {
	key := typingKey{RoomID: roomID, UserID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}

	now := time.Now()
	if entry, ok := t.typing[key]; ok {
		entry.timer.Stop()
		entry.gen++
		entry.expiresAt = now.Add(t.ttl)
		gen := entry.gen
		entry.timer = time.AfterFunc(t.ttl, func() { t.expire(key, gen) })
		return false
	}

	entry := &typingEntry{expiresAt: now.Add(t.ttl)}
	gen := entry.gen
	entry.timer = time.AfterFunc(t.ttl, func() { t.expire(key, gen) })
	t.typing[key] = entry
	return true
}

// StopTyping cancels the timer and clears the entry. Returns true if the
// user was typing. Called on explicit typing_stop, on send, and on room
// unsubscribe.
func (t *Tracker) StopTyping(roomID, userID string) bool {
	key := typingKey{RoomID: roomID, UserID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.typing[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(t.typing, key)
	return true
}

func (t *Tracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	entry, ok := t.typing[key]
	if !ok || entry.gen != gen {
		// renewed or stopped since this timer was armed
		t.mu.Unlock()
		return
	}
	delete(t.typing, key)
	onExpire := t.onExpire
	t.mu.Unlock()

	log.Debug().Str("roomID", key.RoomID).Str("userID", key.UserID).Msg("presence: typing indicator expired")
	if onExpire != nil {
		onExpire(key.RoomID, key.UserID)
	}
}

// IsTyping double-checks the deadline so a not-yet-fired timer cannot make
// an expired entry look live.
func (t *Tracker) IsTyping(roomID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.typing[typingKey{RoomID: roomID, UserID: userID}]
	return ok && entry.expiresAt.After(time.Now())
}

func (t *Tracker) TypingUsers(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var users []string
	for key, entry := range t.typing {
		if key.RoomID == roomID && entry.expiresAt.After(now) {
			users = append(users, key.UserID)
		}
	}
	return users
}

// ConnOpened records a live connection for the user and reports whether this
// was the 0 -> 1 edge. Only edges produce user_status_changed broadcasts; a
// second device coming online is silent.
func (t *Tracker) ConnOpened(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.conns[userID]++
	return t.conns[userID] == 1
}

// ConnClosed reports whether this was the 1 -> 0 edge.
func (t *Tracker) ConnClosed(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.conns[userID]
	if n <= 1 {
		delete(t.conns, userID)
		return n == 1
	}
	t.conns[userID] = n - 1
	return false
}

func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[userID] > 0
}

func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for key, entry := range t.typing {
		entry.timer.Stop()
		delete(t.typing, key)
	}
}
