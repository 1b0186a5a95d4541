package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

type (
	ThreadID  string
	UserID    string
	SessionID string
	MessageID string
)

type Attachment struct {
	URL  string `json:"url" validate:"required,max=512"`
	Name string `json:"name" validate:"required,max=255"`
}

// Message is immutable once stored, except for IsRead which only moves from false to true.
type Message struct {
	ID          MessageID    `json:"id"`
	ThreadID    ThreadID     `json:"threadId"`
	SenderID    UserID       `json:"senderId"`
	ReceiverID  UserID       `json:"receiverId"`
	Body        string       `json:"body"`
	Lang        string       `json:"lang,omitempty"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
	IsRead      bool         `json:"isRead"`
}

// NewMessageID returns a lexicographically sortable identifier.
func NewMessageID() MessageID {
	return MessageID(ulid.Make().String())
}

// Now is the timestamp used for createdAt. Microsecond precision keeps cursors
// stable across every store backend.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Before reports whether m sorts strictly before o in the (createdAt, id) order.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

func (m Message) Cursor() Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// Page is one slice of a thread history in ascending order.
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor *Cursor   `json:"nextCursor"`
	HasMore    bool      `json:"hasMore"`
}
