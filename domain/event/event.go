package event

import (
	"time"

	"hire-chat/domain"
)

type Name string

const (
	NameJoined          Name = "joined"
	NameRoomSnapshot    Name = "roomSnapshot"
	NamePresenceChanged Name = "presenceChanged"
	NameMessageNew      Name = "messageNew"
	NameMessageAck      Name = "messageAck"
	NameTypingChanged   Name = "typingChanged"
	NameReadReceipt     Name = "readReceipt"
	NameThreadClosed    Name = "threadClosed"
	NameError           Name = "error"
)

// Event is sent from the server to a client session.
// The set is closed: only the types in this file implement it.
type Event interface {
	Name() Name
	Thread() domain.ThreadID
	event()
}

// Joined tells a client it may now send, unless the thread is already closed.
type Joined struct {
	ThreadID domain.ThreadID `json:"threadId"`
	Closed   bool            `json:"closed"`
}

type RoomSnapshot struct {
	ThreadID      domain.ThreadID `json:"threadId"`
	MemberUserIDs []domain.UserID `json:"memberUserIds"`
}

type PresenceChanged struct {
	ThreadID   domain.ThreadID `json:"threadId"`
	UserID     domain.UserID   `json:"userId"`
	Online     bool            `json:"online"`
	LastSeenAt *time.Time      `json:"lastSeenAt,omitempty"`
}

type MessageNew struct {
	domain.Message
}

type MessageAck struct {
	ThreadID        domain.ThreadID  `json:"threadId"`
	ClientMessageID string           `json:"clientMessageId"`
	ID              domain.MessageID `json:"id"`
	CreatedAt       time.Time        `json:"createdAt"`
}

type TypingChanged struct {
	ThreadID domain.ThreadID `json:"threadId"`
	UserID   domain.UserID   `json:"userId"`
	IsTyping bool            `json:"isTyping"`
}

type ReadReceipt struct {
	ThreadID   domain.ThreadID    `json:"threadId"`
	MessageIDs []domain.MessageID `json:"messageIds"`
}

type ThreadClosed struct {
	ThreadID domain.ThreadID `json:"threadId"`
	ClosedAt time.Time       `json:"closedAt"`
}

type Error struct {
	Code            string          `json:"code"`
	Message         string          `json:"message"`
	ThreadID        domain.ThreadID `json:"threadId,omitempty"`
	ClientMessageID string          `json:"clientMessageId,omitempty"`
}

func (Joined) Name() Name          { return NameJoined }
func (RoomSnapshot) Name() Name    { return NameRoomSnapshot }
func (PresenceChanged) Name() Name { return NamePresenceChanged }
func (MessageNew) Name() Name      { return NameMessageNew }
func (MessageAck) Name() Name      { return NameMessageAck }
func (TypingChanged) Name() Name   { return NameTypingChanged }
func (ReadReceipt) Name() Name     { return NameReadReceipt }
func (ThreadClosed) Name() Name    { return NameThreadClosed }
func (Error) Name() Name           { return NameError }

func (e Joined) Thread() domain.ThreadID          { return e.ThreadID }
func (e RoomSnapshot) Thread() domain.ThreadID    { return e.ThreadID }
func (e PresenceChanged) Thread() domain.ThreadID { return e.ThreadID }
func (e MessageNew) Thread() domain.ThreadID      { return e.ThreadID }
func (e MessageAck) Thread() domain.ThreadID      { return e.ThreadID }
func (e TypingChanged) Thread() domain.ThreadID   { return e.ThreadID }
func (e ReadReceipt) Thread() domain.ThreadID     { return e.ThreadID }
func (e ThreadClosed) Thread() domain.ThreadID    { return e.ThreadID }
func (e Error) Thread() domain.ThreadID           { return e.ThreadID }

func (Joined) event()          {}
func (RoomSnapshot) event()    {}
func (PresenceChanged) event() {}
func (MessageNew) event()      {}
func (MessageAck) event()      {}
func (TypingChanged) event()   {}
func (ReadReceipt) event()     {}
func (ThreadClosed) event()    {}
func (Error) event()           {}
