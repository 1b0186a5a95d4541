package domain

// Command is a client request addressed to one thread.
// The set is closed: only the types in this file implement it.
type Command interface {
	Thread() ThreadID
	command()
}

type Join struct {
	ThreadID ThreadID `json:"threadId" validate:"required,threadid"`
}

type Leave struct {
	ThreadID ThreadID `json:"threadId" validate:"required,threadid"`
}

type Send struct {
	ThreadID        ThreadID     `json:"threadId" validate:"required,threadid"`
	Body            string       `json:"body" validate:"max=20000"`
	Attachments     []Attachment `json:"attachments" validate:"max=10,dive"`
	ClientMessageID string       `json:"clientMessageId" validate:"required,max=64"`
}

type Typing struct {
	ThreadID ThreadID `json:"threadId" validate:"required,threadid"`
	IsTyping bool     `json:"isTyping"`
}

type MarkRead struct {
	ThreadID   ThreadID    `json:"threadId" validate:"required,threadid"`
	MessageIDs []MessageID `json:"messageIds" validate:"required,min=1,max=200,dive,required,max=64"`
}

func (c Join) Thread() ThreadID     { return c.ThreadID }
func (c Leave) Thread() ThreadID    { return c.ThreadID }
func (c Send) Thread() ThreadID     { return c.ThreadID }
func (c Typing) Thread() ThreadID   { return c.ThreadID }
func (c MarkRead) Thread() ThreadID { return c.ThreadID }

func (Join) command()     {}
func (Leave) command()    {}
func (Send) command()     {}
func (Typing) command()   {}
func (MarkRead) command() {}
