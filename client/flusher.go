package client

import (
	"log/slog"
	"slices"
	"sync"

	"hire-chat/domain"
)

const (
	// NearBottom is how close to the bottom of the list, in pixels, the viewport must be.
	NearBottom = 120
	maxBatch   = 200
)

// Flusher queues unread inbound message ids of one thread and sends them as a
// markRead batch only while the user can plausibly see them.
type Flusher struct {
	threadID domain.ThreadID
	send     func(domain.MarkRead) error
	log      *slog.Logger

	mu           sync.Mutex
	queue        []domain.MessageID
	queued       map[domain.MessageID]struct{}
	connected    bool
	focused      bool
	visible      bool
	snapshotSeen bool
	fromBottom   int
}

func NewFlusher(threadID domain.ThreadID, log *slog.Logger, send func(domain.MarkRead) error) *Flusher {
	return &Flusher{
		threadID: threadID,
		send:     send,
		log:      log,
		queued:   make(map[domain.MessageID]struct{}),
		focused:  true,
		visible:  true,
	}
}

// Enqueue adds ids to the queue then tries to flush.
func (f *Flusher) Enqueue(ids ...domain.MessageID) {
	f.update(func() {
		for _, id := range ids {
			if _, ok := f.queued[id]; ok {
				continue
			}
			f.queued[id] = struct{}{}
			f.queue = append(f.queue, id)
		}
	})
}

// SetConnected tracks the socket. A new connection must see a fresh roomSnapshot.
func (f *Flusher) SetConnected(connected bool) {
	f.update(func() {
		f.connected = connected
		if !connected {
			f.snapshotSeen = false
		}
	})
}

func (f *Flusher) SetFocused(focused bool) { f.update(func() { f.focused = focused }) }

func (f *Flusher) SetVisible(visible bool) { f.update(func() { f.visible = visible }) }

func (f *Flusher) SnapshotSeen() { f.update(func() { f.snapshotSeen = true }) }

// SetScroll records the distance in pixels between the viewport and the bottom of the list.
func (f *Flusher) SetScroll(fromBottom int) { f.update(func() { f.fromBottom = fromBottom }) }

func (f *Flusher) Queued() []domain.MessageID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.queue)
}

// Ready reports whether every flushing condition holds.
func (f *Flusher) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready()
}

func (f *Flusher) ready() bool {
	return f.connected && f.focused && f.visible && f.snapshotSeen && f.fromBottom <= NearBottom
}

func (f *Flusher) update(apply func()) {
	f.mu.Lock()
	apply()
	f.mu.Unlock()
	f.Flush()
}

// Flush sends the queue in batches while the conditions hold.
// A failed batch goes back to the queue for the next attempt.
func (f *Flusher) Flush() {
	for {
		f.mu.Lock()
		if !f.ready() || len(f.queue) == 0 {
			f.mu.Unlock()
			return
		}
		n := min(len(f.queue), maxBatch)
		batch := slices.Clone(f.queue[:n])
		f.queue = f.queue[n:]
		f.mu.Unlock()

		if err := f.send(domain.MarkRead{ThreadID: f.threadID, MessageIDs: batch}); err != nil {
			f.log.Debug("Read receipts not sent", "thread_id", f.threadID, "count", len(batch), "error", err)
			f.mu.Lock()
			f.queue = append(batch, f.queue...)
			f.mu.Unlock()
			return
		}

		f.mu.Lock()
		for _, id := range batch {
			delete(f.queued, id)
		}
		f.mu.Unlock()
	}
}
