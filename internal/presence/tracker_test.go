package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartTyping_Edges(t *testing.T) {
	tracker := NewTracker(time.Second, nil)
	defer tracker.Close()

	assert.True(t, tracker.StartTyping("room-1", "alice"), "first StartTyping is the absent -> typing edge")
	assert.False(t, tracker.StartTyping("room-1", "alice"), "renewal inside the TTL is not an edge")
	assert.True(t, tracker.StartTyping("room-2", "alice"), "typing state is per room")
}

func TestTypingTTL_Boundary(t *testing.T) {
	ttl := 100 * time.Millisecond
	tracker := NewTracker(ttl, nil)
	defer tracker.Close()

	tracker.StartTyping("room-1", "alice")

	// just before the deadline
	time.Sleep(ttl - 40*time.Millisecond)
	assert.True(t, tracker.IsTyping("room-1", "alice"), "indicator should still be live before TTL")

	// just after the deadline
	time.Sleep(80 * time.Millisecond)
	assert.False(t, tracker.IsTyping("room-1", "alice"), "indicator should be gone after TTL")
}

func TestTypingExpiry_Callback(t *testing.T) {
	var mu sync.Mutex
	var expired []string

	tracker := NewTracker(50*time.Millisecond, func(roomID, userID string) {
		mu.Lock()
		expired = append(expired, roomID+"/"+userID)
		mu.Unlock()
	})
	defer tracker.Close()

	tracker.StartTyping("room-1", "alice")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(expired) == 1
	}, time.Second, 10*time.Millisecond, "expiry callback should fire once")

	mu.Lock()
	assert.Equal(t, []string{"room-1/alice"}, expired)
	mu.Unlock()
}

func TestTypingRenewal_SuppressesExpiry(t *testing.T) {
	var mu sync.Mutex
	fired := 0

	ttl := 80 * time.Millisecond
	tracker := NewTracker(ttl, func(roomID, userID string) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer tracker.Close()

	tracker.StartTyping("room-1", "alice")

	// keep renewing across several would-be deadlines
	for i := 0; i < 4; i++ {
		time.Sleep(ttl / 2)
		tracker.StartTyping("room-1", "alice")
	}

	mu.Lock()
	assert.Zero(t, fired, "renewals must suppress the expiry callback")
	mu.Unlock()
	assert.True(t, tracker.IsTyping("room-1", "alice"))
}

func TestStopTyping(t *testing.T) {
	var mu sync.Mutex
	fired := 0

	tracker := NewTracker(50*time.Millisecond, func(roomID, userID string) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer tracker.Close()

	tracker.StartTyping("room-1", "alice")
	assert.True(t, tracker.StopTyping("room-1", "alice"), "StopTyping returns true when the user was typing")
	assert.False(t, tracker.StopTyping("room-1", "alice"), "second stop is a no-op")
	assert.False(t, tracker.IsTyping("room-1", "alice"))

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Zero(t, fired, "cancelled timers must not fire the expiry callback")
	mu.Unlock()
}

func TestTypingUsers(t *testing.T) {
	tracker := NewTracker(time.Second, nil)
	defer tracker.Close()

	tracker.StartTyping("room-1", "alice")
	tracker.StartTyping("room-1", "bob")
	tracker.StartTyping("room-2", "carol")

	users := tracker.TypingUsers("room-1")
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)
}

func TestConnEdges_TwoDevices(t *testing.T) {
	tracker := NewTracker(time.Second, nil)
	defer tracker.Close()

	// two devices, one user
	assert.True(t, tracker.ConnOpened("alice"), "first connection is the online edge")
	assert.False(t, tracker.ConnOpened("alice"), "second device is silent")
	assert.True(t, tracker.IsOnline("alice"))

	assert.False(t, tracker.ConnClosed("alice"), "one device left, still online")
	assert.True(t, tracker.IsOnline("alice"))
	assert.True(t, tracker.ConnClosed("alice"), "last connection is the offline edge")
	assert.False(t, tracker.IsOnline("alice"))
}

func TestConnClosed_Underflow(t *testing.T) {
	tracker := NewTracker(time.Second, nil)
	defer tracker.Close()

	assert.False(t, tracker.ConnClosed("ghost"), "closing an untracked user is not an edge")
	assert.False(t, tracker.IsOnline("ghost"))
}

func TestClose_StopsTimers(t *testing.T) {
	var mu sync.Mutex
	fired := 0

	tracker := NewTracker(30*time.Millisecond, func(roomID, userID string) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	tracker.StartTyping("room-1", "alice")
	tracker.Close()

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	assert.Zero(t, fired, "Close must cancel pending expiry timers")
	mu.Unlock()

	assert.False(t, tracker.StartTyping("room-1", "bob"), "a closed tracker accepts no new state")
}
