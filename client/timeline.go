// Package client holds the client side of the chat: the local timeline with
// optimistic sends, the read receipt flusher and a reconnecting session.
package client

import (
	"slices"
	"time"

	"github.com/samber/lo"

	"hire-chat/domain"
	"hire-chat/domain/event"
)

type Status int

const (
	Pending Status = iota
	Confirmed
	// Failed is a send the server refused. It stays in place until the user sends it again.
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	default:
		return "confirmed"
	}
}

// Record is one line of the timeline. A pending record only has its TempID,
// the server id and createdAt arrive with the ack.
type Record struct {
	Status  Status
	TempID  string
	Message domain.Message
	SentAt  time.Time
	// Error is the code of the refusal of a failed record.
	Error string
}

// Stalled flags a pending record older than timeout. It is never resent automatically.
func (r Record) Stalled(now time.Time, timeout time.Duration) bool {
	return r.Status == Pending && now.Sub(r.SentAt) > timeout
}

func (r Record) Key() string {
	if r.Status == Confirmed {
		return string(r.Message.ID)
	}
	return "tmp:" + r.TempID
}

// Timeline is the local view of one thread. Records received from the server are
// ordered by (createdAt, id); pending records are appended and confirmed where they stand.
type Timeline struct {
	ThreadID domain.ThreadID
	records  []Record
	ids      map[domain.MessageID]struct{}
}

func NewTimeline(threadID domain.ThreadID) *Timeline {
	return &Timeline{ThreadID: threadID, ids: make(map[domain.MessageID]struct{})}
}

// AddPending renders an outgoing message before the server acknowledged it.
func (t *Timeline) AddPending(tempID string, m domain.Message, at time.Time) {
	if t.unsentIndex(tempID) >= 0 {
		return
	}
	t.records = append(t.records, Record{Status: Pending, TempID: tempID, Message: m, SentAt: at})
}

// Consume applies a server event to the timeline. It reports whether something changed.
func (t *Timeline) Consume(e event.Event) bool {
	if e.Thread() != t.ThreadID {
		return false
	}
	switch evt := e.(type) {
	case event.MessageAck:
		return t.confirm(evt)
	case event.MessageNew:
		return t.insert(evt.Message)
	case event.ReadReceipt:
		return t.markRead(evt.MessageIDs)
	case event.Error:
		return t.fail(evt)
	}
	return false
}

// Retry turns a failed record back to pending and returns what to send again.
func (t *Timeline) Retry(tempID string, at time.Time) (domain.Message, bool) {
	i := t.unsentIndex(tempID)
	if i < 0 || t.records[i].Status != Failed {
		return domain.Message{}, false
	}
	r := &t.records[i]
	r.Status, r.Error, r.SentAt = Pending, "", at
	return r.Message, true
}

// Prepend merges an older history page. Known ids are skipped.
func (t *Timeline) Prepend(messages []domain.Message) int {
	added := 0
	for _, m := range messages {
		if t.insert(m) {
			added++
		}
	}
	return added
}

// Records returns a copy of the timeline in display order.
func (t *Timeline) Records() []Record {
	return slices.Clone(t.records)
}

func (t *Timeline) Pending() []Record {
	return lo.Filter(t.records, func(r Record, _ int) bool { return r.Status == Pending })
}

func (t *Timeline) Failed() []Record {
	return lo.Filter(t.records, func(r Record, _ int) bool { return r.Status == Failed })
}

// Oldest returns the cursor of the oldest confirmed message, used to backfill.
func (t *Timeline) Oldest() (domain.Cursor, bool) {
	for _, r := range t.records {
		if r.Status == Confirmed {
			return r.Message.Cursor(), true
		}
	}
	return domain.Cursor{}, false
}

// confirm swaps the pending record for the stored message in place, keeping its position.
func (t *Timeline) confirm(ack event.MessageAck) bool {
	i := t.unsentIndex(ack.ClientMessageID)
	if i < 0 {
		return false
	}
	if _, known := t.ids[ack.ID]; known {
		// A history refetch brought the message before its ack
		t.records = slices.Delete(t.records, i, i+1)
		return true
	}
	r := &t.records[i]
	r.Status, r.Error = Confirmed, ""
	r.Message.ID = ack.ID
	r.Message.ThreadID = ack.ThreadID
	r.Message.CreatedAt = ack.CreatedAt
	t.ids[ack.ID] = struct{}{}
	return true
}

func (t *Timeline) insert(m domain.Message) bool {
	if _, known := t.ids[m.ID]; known {
		return false
	}
	t.ids[m.ID] = struct{}{}
	t.records = slices.Insert(t.records, t.position(m), Record{Status: Confirmed, Message: m})
	return true
}

// position is before the first confirmed record sorting after m,
// otherwise before the trailing unconfirmed records.
func (t *Timeline) position(m domain.Message) int {
	if i := slices.IndexFunc(t.records, func(r Record) bool {
		return r.Status == Confirmed && m.Before(r.Message)
	}); i >= 0 {
		return i
	}
	at := len(t.records)
	for at > 0 && t.records[at-1].Status != Confirmed {
		at--
	}
	return at
}

func (t *Timeline) markRead(ids []domain.MessageID) bool {
	read := lo.SliceToMap(ids, func(id domain.MessageID) (domain.MessageID, struct{}) { return id, struct{}{} })
	changed := false
	for i := range t.records {
		r := &t.records[i]
		if _, ok := read[r.Message.ID]; ok && r.Status == Confirmed && !r.Message.IsRead {
			r.Message.IsRead = true
			changed = true
		}
	}
	return changed
}

// fail marks the pending record named by the error. Errors about other commands are ignored.
func (t *Timeline) fail(e event.Error) bool {
	if e.ClientMessageID == "" {
		return false
	}
	i := t.unsentIndex(e.ClientMessageID)
	if i < 0 || t.records[i].Status != Pending {
		return false
	}
	t.records[i].Status = Failed
	t.records[i].Error = e.Code
	return true
}

// unsentIndex finds a pending or failed record.
func (t *Timeline) unsentIndex(tempID string) int {
	return slices.IndexFunc(t.records, func(r Record) bool {
		return r.Status != Confirmed && r.TempID == tempID
	})
}
