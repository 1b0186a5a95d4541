package domain

import (
	"regexp"
	"time"

	"hire-chat/errors"
)

type ThreadStatus string

const (
	ThreadOpen   ThreadStatus = "open"
	ThreadClosed ThreadStatus = "closed"
)

var threadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidThreadID guards identifiers that end up in storage keys and file paths.
func ValidThreadID(id string) bool {
	return threadIDPattern.MatchString(id)
}

// Thread is the conversation attached to one job application.
type Thread struct {
	ID          ThreadID     `json:"id" validate:"required,threadid"`
	CandidateID UserID       `json:"candidateId" validate:"required,max=128"`
	EmployerID  UserID       `json:"employerId" validate:"required,max=128,nefield=CandidateID"`
	Status      ThreadStatus `json:"status" validate:"omitempty,oneof=open closed"`
	ClosedAt    *time.Time   `json:"closedAt,omitempty"`
}

func (t Thread) IsParticipant(userID UserID) bool {
	return userID != "" && (userID == t.CandidateID || userID == t.EmployerID)
}

// Counterpart returns the other party of the conversation.
func (t Thread) Counterpart(userID UserID) (UserID, error) {
	switch userID {
	case t.CandidateID:
		return t.EmployerID, nil
	case t.EmployerID:
		return t.CandidateID, nil
	default:
		return "", errors.ErrForbidden
	}
}

func (t Thread) Closed() bool {
	return t.Status == ThreadClosed
}

// Authorize checks userID may read the thread, and also write to it when write is set.
func (t Thread) Authorize(userID UserID, write bool) error {
	if !t.IsParticipant(userID) {
		return errors.ErrForbidden
	}
	if write && t.Closed() {
		return errors.ErrThreadClosed
	}
	return nil
}

// Close marks the thread as closed at the given time. Closing twice keeps the first date.
func (t Thread) Close(at time.Time) Thread {
	if t.Closed() && t.ClosedAt != nil {
		return t
	}
	t.Status = ThreadClosed
	at = at.UTC()
	t.ClosedAt = &at
	return t
}

// Expired reports whether a closed thread is past the retention window.
func (t Thread) Expired(now time.Time, retention time.Duration) bool {
	return t.Closed() && t.ClosedAt != nil && now.Sub(*t.ClosedAt) >= retention
}
