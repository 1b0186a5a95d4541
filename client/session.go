package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hire-chat/domain"
	"hire-chat/domain/event"
	"hire-chat/domain/wire"
	"hire-chat/errors"
)

type Config struct {
	// SocketURL is the websocket endpoint, e.g. ws://localhost:8080/ws
	SocketURL    string
	Token        string
	UserID       domain.UserID
	HistoryLimit int
	WriteWait    time.Duration
	EventBuffer  int
}

// Session keeps one connection to the gateway alive. On every reconnect it
// joins again each thread it had joined and refetches their latest page.
type Session struct {
	cfg     Config
	log     *slog.Logger
	history *History
	dialer  *websocket.Dialer
	backoff *Backoff
	events  chan event.Event

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.Mutex
	threads  map[domain.ThreadID]*thread
	snapshot map[domain.ThreadID][]domain.UserID
}

type thread struct {
	timeline *Timeline
	flusher  *Flusher
	closed   bool
}

func NewSession(cfg Config, history *History, log *slog.Logger) *Session {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 30
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	return &Session{
		cfg:      cfg,
		log:      log,
		history:  history,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff:  NewBackoff(),
		events:   make(chan event.Event, cfg.EventBuffer),
		threads:  make(map[domain.ThreadID]*thread),
		snapshot: make(map[domain.ThreadID][]domain.UserID),
	}
}

// Events streams every server event after it was applied to the local state.
// Events are dropped when nobody reads them.
func (s *Session) Events() <-chan event.Event {
	return s.events
}

// Run connects and reconnects until ctx is done or the token is refused.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.events)
	for {
		conn, err := s.dial(ctx)
		switch {
		case errors.Is(err, errors.ErrUnauthenticated):
			return err
		case err == nil:
			s.backoff.Reset()
			s.serve(ctx, conn)
		default:
			s.log.Warn("Connection failed", "attempt", s.backoff.Attempt(), "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		delay := s.backoff.Next()
		s.log.Info("Reconnecting", "in", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{"Authorization": {"Bearer " + s.cfg.Token}}
	conn, res, err := s.dialer.DialContext(ctx, s.cfg.SocketURL, header)
	if err != nil {
		if res != nil && res.StatusCode == http.StatusUnauthorized {
			return nil, errors.ErrUnauthenticated
		}
		return nil, fmt.Errorf("%w: %v", errors.ErrTransport, err)
	}
	return conn, nil
}

// serve owns conn until it breaks.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) {
	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	defer func() {
		stop()
		s.writeMu.Lock()
		s.conn = nil
		s.writeMu.Unlock()
		_ = conn.Close()
		for _, t := range s.opened() {
			t.flusher.SetConnected(false)
		}
	}()

	s.log.Info("Connected", "url", s.cfg.SocketURL)
	for threadID, t := range s.opened() {
		if err := s.write(domain.Join{ThreadID: threadID}); err != nil {
			return
		}
		t.flusher.SetConnected(true)
		go s.refresh(ctx, threadID)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("Connection lost", "error", err)
			}
			return
		}
		e, err := wire.DecodeEvent(raw)
		if err != nil {
			s.log.Debug("Unreadable event", "error", err)
			continue
		}
		s.apply(e)
	}
}

// Join opens a thread: it loads its latest page then joins the room.
func (s *Session) Join(ctx context.Context, threadID domain.ThreadID) error {
	s.mu.Lock()
	t, ok := s.threads[threadID]
	if !ok {
		t = &thread{
			timeline: NewTimeline(threadID),
			flusher:  NewFlusher(threadID, s.log, func(cmd domain.MarkRead) error { return s.write(cmd) }),
		}
		s.threads[threadID] = t
	}
	s.mu.Unlock()

	if err := s.refresh(ctx, threadID); err != nil {
		return err
	}
	if err := s.write(domain.Join{ThreadID: threadID}); err != nil {
		// Joined again by the next connection
		s.log.Debug("Join deferred", "thread_id", threadID, "error", err)
		return nil
	}
	t.flusher.SetConnected(true)
	return nil
}

func (s *Session) Leave(threadID domain.ThreadID) error {
	s.mu.Lock()
	_, ok := s.threads[threadID]
	delete(s.threads, threadID)
	delete(s.snapshot, threadID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.write(domain.Leave{ThreadID: threadID})
}

// Send renders a pending message then hands it to the server.
// Nothing is emitted once the thread is known to be closed.
func (s *Session) Send(threadID domain.ThreadID, body string, attachments []domain.Attachment) (string, error) {
	s.mu.Lock()
	t, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: thread %s is not open", errors.ErrValidation, threadID)
	}
	if t.closed {
		s.mu.Unlock()
		return "", errors.ErrThreadClosed
	}
	tempID := uuid.NewString()
	t.timeline.AddPending(tempID, domain.Message{
		ThreadID:    threadID,
		SenderID:    s.cfg.UserID,
		Body:        body,
		Attachments: attachments,
	}, time.Now())
	s.mu.Unlock()

	// A lost send stays pending, the user may send it again
	return tempID, s.write(domain.Send{
		ThreadID:        threadID,
		Body:            body,
		Attachments:     attachments,
		ClientMessageID: tempID,
	})
}

// Resend sends a failed record again under its original client id.
func (s *Session) Resend(threadID domain.ThreadID, tempID string) error {
	s.mu.Lock()
	t, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: thread %s is not open", errors.ErrValidation, threadID)
	}
	if t.closed {
		s.mu.Unlock()
		return errors.ErrThreadClosed
	}
	m, ok := t.timeline.Retry(tempID, time.Now())
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no failed message %s", errors.ErrValidation, tempID)
	}
	return s.write(domain.Send{
		ThreadID:        threadID,
		Body:            m.Body,
		Attachments:     m.Attachments,
		ClientMessageID: tempID,
	})
}

func (s *Session) Typing(threadID domain.ThreadID, typing bool) error {
	if s.Closed(threadID) {
		return errors.ErrThreadClosed
	}
	return s.write(domain.Typing{ThreadID: threadID, IsTyping: typing})
}

// LoadOlder backfills the page preceding the oldest loaded message.
func (s *Session) LoadOlder(ctx context.Context, threadID domain.ThreadID) (added int, hasMore bool, err error) {
	s.mu.Lock()
	t, ok := s.threads[threadID]
	var cursor *domain.Cursor
	if ok {
		if oldest, found := t.timeline.Oldest(); found {
			cursor = &oldest
		}
	}
	s.mu.Unlock()
	if !ok {
		return 0, false, fmt.Errorf("%w: thread %s is not open", errors.ErrValidation, threadID)
	}

	page, err := s.history.Before(ctx, threadID, s.cfg.HistoryLimit, cursor)
	if err != nil {
		return 0, false, err
	}
	return s.merge(threadID, page.Messages), page.HasMore, nil
}

// MarkClosed disables sending on the thread.
func (s *Session) MarkClosed(threadID domain.ThreadID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[threadID]; ok {
		t.closed = true
	}
}

func (s *Session) Closed(threadID domain.ThreadID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	return ok && t.closed
}

func (s *Session) Timeline(threadID domain.ThreadID) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[threadID]; ok {
		return t.timeline.Records()
	}
	return nil
}

func (s *Session) Members(threadID domain.ThreadID) []domain.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot[threadID]
}

// Flusher exposes the read receipt policy so the UI can report focus, visibility and scroll.
func (s *Session) Flusher(threadID domain.ThreadID) (*Flusher, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, false
	}
	return t.flusher, true
}

// refresh fetches the latest page, covering whatever was missed while disconnected.
func (s *Session) refresh(ctx context.Context, threadID domain.ThreadID) error {
	page, err := s.history.Latest(ctx, threadID, s.cfg.HistoryLimit)
	if err != nil {
		s.log.Warn("History refresh failed", "thread_id", threadID, "error", err)
		return err
	}
	s.merge(threadID, page.Messages)
	return nil
}

func (s *Session) merge(threadID domain.ThreadID, messages []domain.Message) int {
	s.mu.Lock()
	t, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	added := t.timeline.Prepend(messages)
	var unread []domain.MessageID
	for _, m := range messages {
		if m.ReceiverID == s.cfg.UserID && !m.IsRead {
			unread = append(unread, m.ID)
		}
	}
	s.mu.Unlock()

	if len(unread) > 0 {
		t.flusher.Enqueue(unread...)
	}
	return added
}

func (s *Session) apply(e event.Event) {
	s.mu.Lock()
	t, ok := s.threads[e.Thread()]
	if ok {
		t.timeline.Consume(e)
	}
	switch evt := e.(type) {
	case event.RoomSnapshot:
		s.snapshot[evt.ThreadID] = evt.MemberUserIDs
	case event.PresenceChanged:
		members := slices.DeleteFunc(slices.Clone(s.snapshot[evt.ThreadID]), func(id domain.UserID) bool { return id == evt.UserID })
		if evt.Online {
			members = append(members, evt.UserID)
			slices.Sort(members)
		}
		s.snapshot[evt.ThreadID] = members
	case event.Joined:
		if ok && evt.Closed {
			t.closed = true
		}
	case event.ThreadClosed:
		if ok {
			t.closed = true
		}
	case event.Error:
		if ok && evt.Code == errors.CodeClosed {
			t.closed = true
		}
	}
	s.mu.Unlock()

	if ok {
		switch evt := e.(type) {
		case event.RoomSnapshot:
			t.flusher.SnapshotSeen()
		case event.MessageNew:
			if evt.SenderID != s.cfg.UserID && !evt.IsRead {
				t.flusher.Enqueue(evt.ID)
			}
		}
	}

	select {
	case s.events <- e:
	default:
		s.log.Debug("Event dropped", "event", e.Name())
	}
}

func (s *Session) write(cmd domain.Command) error {
	raw, err := wire.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("%w: not connected", errors.ErrTransport)
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrTransport, err)
	}
	return nil
}

func (s *Session) opened() map[domain.ThreadID]*thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make(map[domain.ThreadID]*thread, len(s.threads))
	for id, t := range s.threads {
		res[id] = t
	}
	return res
}
