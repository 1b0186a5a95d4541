package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTypingState_Transitions(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	ttl := 2500 * time.Millisecond

	// NotTyping -> Typing is a transition
	var state TypingState
	require.False(t, state.Active(now))
	state, started := state.Start(now, ttl)
	require.True(t, started)
	require.True(t, state.Active(now))

	// A keep-alive only pushes the deadline
	state, started = state.Start(now.Add(time.Second), ttl)
	require.False(t, started)
	require.Equal(t, now.Add(time.Second+ttl), state.ExpiresAt)

	// The first timer fires before the new deadline and changes nothing
	state, expired := state.Expire(now.Add(ttl))
	require.False(t, expired)
	require.True(t, state.Active(now.Add(ttl)))

	// Then the deadline passes
	state, expired = state.Expire(now.Add(time.Second + ttl))
	require.True(t, expired)
	require.False(t, state.Active(now.Add(time.Second+ttl)))

	// Expiring twice is a no-op
	_, expired = state.Expire(now.Add(time.Hour))
	require.False(t, expired)
}

func TestTypingState_Stop(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

	state, _ := TypingState{}.Start(now, time.Second)
	state, wasTyping := state.Stop(now.Add(100 * time.Millisecond))
	require.True(t, wasTyping)
	require.Equal(t, TypingState{}, state)

	// Stopping while not typing is not announced
	_, wasTyping = state.Stop(now)
	require.False(t, wasTyping)

	// Nor is stopping after the deadline passed
	stale, _ := TypingState{}.Start(now, time.Second)
	_, wasTyping = stale.Stop(now.Add(2 * time.Second))
	require.False(t, wasTyping)
}
