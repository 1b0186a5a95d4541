package runtime

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"hire-chat/contract"
	"hire-chat/domain"
	"hire-chat/domain/event"
	"hire-chat/moderation"
	"hire-chat/repositories"
	"hire-chat/runtime/workers"
)

type fakeSession struct {
	id     domain.SessionID
	userID domain.UserID

	mu     sync.Mutex
	events []event.Event
}

func newFakeSession(id domain.SessionID, userID domain.UserID) *fakeSession {
	return &fakeSession{id: id, userID: userID}
}

func (s *fakeSession) ID() domain.SessionID  { return s.id }
func (s *fakeSession) UserID() domain.UserID { return s.userID }

func (s *fakeSession) Consume(_ context.Context, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// drain returns the events received since the last call.
func (s *fakeSession) drain() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	s.events = nil
	return events
}

func (s *fakeSession) received(name event.Name) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []event.Event
	for _, e := range s.events {
		if e.Name() == name {
			res = append(res, e)
		}
	}
	return res
}

type fixture struct {
	ctx          context.Context
	orchestrator *Orchestrator
	threads      repositories.ThreadRepository
	messages     repositories.MessageRepository
}

type option func(*RoomConfig, *contract.RateLimiter, *SendLimit)

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	log := slog.Default()
	supervisor := workers.NewSupervisor(log, 10*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		supervisor.Wait()
		_ = db.Close()
	})

	f := &fixture{
		ctx:      ctx,
		threads:  repositories.NewThreadRepository(db),
		messages: repositories.NewMessageRepository(db, log),
	}
	cfg := RoomConfig{
		Messages:    f.messages,
		Threads:     f.threads,
		Sanitizer:   moderation.NewSanitizer(0, nil),
		Node:        "node-test",
		TypingTTL:   time.Second,
		IdleTimeout: time.Minute,
		MailboxSize: 16,
	}
	var limiter contract.RateLimiter
	var sendLimit SendLimit
	for _, opt := range opts {
		opt(&cfg, &limiter, &sendLimit)
	}
	f.orchestrator = NewOrchestrator(ctx, log, supervisor, cfg, limiter, sendLimit)

	require.NoError(t, f.threads.SaveThread(ctx, domain.Thread{
		ID:          "t1",
		CandidateID: "candidate",
		EmployerID:  "employer",
		Status:      domain.ThreadOpen,
	}))
	return f
}

func (f *fixture) join(t *testing.T, s *fakeSession) {
	t.Helper()
	require.NoError(t, f.orchestrator.Dispatch(f.ctx, s, domain.Join{ThreadID: "t1"}))
}
