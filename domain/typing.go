package domain

import "time"

// TypingState is NotTyping when the zero value, Typing(expiresAt) otherwise.
type TypingState struct {
	ExpiresAt time.Time
}

func (s TypingState) Active(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.Before(s.ExpiresAt)
}

// Start re-arms the state and reports whether it was a NotTyping -> Typing transition.
func (s TypingState) Start(now time.Time, ttl time.Duration) (TypingState, bool) {
	started := !s.Active(now)
	return TypingState{ExpiresAt: now.Add(ttl)}, started
}

// Stop reports whether the user was typing.
func (s TypingState) Stop(now time.Time) (TypingState, bool) {
	return TypingState{}, s.Active(now)
}

// Expire only fires when the deadline is reached; a keep-alive received since
// the timer was armed pushes ExpiresAt forward and makes it a no-op.
func (s TypingState) Expire(now time.Time) (TypingState, bool) {
	if s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt) {
		return s, false
	}
	return TypingState{}, true
}
