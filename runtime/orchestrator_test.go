package runtime

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"hire-chat/contract"
	"hire-chat/domain"
	"hire-chat/domain/event"
	"hire-chat/domain/wire"
	"hire-chat/errors"
	"hire-chat/mocks"
)

func TestOrchestrator_JoinAndPresence(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	candidate := newFakeSession("s-candidate", "candidate")
	employer := newFakeSession("s-employer", "employer")

	// Given the candidate in the room
	f.join(t, candidate)
	events := candidate.drain()
	req.Len(events, 2)
	req.Equal(event.Joined{ThreadID: "t1"}, events[0])
	req.Equal(event.RoomSnapshot{ThreadID: "t1", MemberUserIDs: []domain.UserID{"candidate"}}, events[1])

	// When the employer joins
	f.join(t, employer)

	// Then the candidate sees the employer coming online
	req.Equal([]event.Event{event.PresenceChanged{ThreadID: "t1", UserID: "employer", Online: true}}, candidate.drain())
	// And the employer snapshot lists both participants
	req.Equal(event.RoomSnapshot{ThreadID: "t1", MemberUserIDs: []domain.UserID{"candidate", "employer"}}, employer.drain()[1])
}

func TestOrchestrator_SecondTabIsNotAnnounced(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	employer := newFakeSession("s-employer", "employer")
	f.join(t, employer)

	f.join(t, newFakeSession("s-candidate-1", "candidate"))
	employer.drain()

	// When the candidate opens a second tab
	f.join(t, newFakeSession("s-candidate-2", "candidate"))

	// Then no presence change is broadcast
	req.Empty(employer.drain())
}

func TestOrchestrator_JoinForbidden(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	err := f.orchestrator.Dispatch(f.ctx, newFakeSession("s1", "stranger"), domain.Join{ThreadID: "t1"})
	req.ErrorIs(err, errors.ErrForbidden)

	err = f.orchestrator.Dispatch(f.ctx, newFakeSession("s1", "candidate"), domain.Join{ThreadID: "unknown"})
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestOrchestrator_CommandsRequireJoin(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := newFakeSession("s1", "candidate")

	// No room yet
	err := f.orchestrator.Dispatch(f.ctx, s, domain.Send{ThreadID: "t1", Body: "hi", ClientMessageID: "c1"})
	req.ErrorIs(err, errors.ErrValidation)
	req.NoError(f.orchestrator.Dispatch(f.ctx, s, domain.Leave{ThreadID: "t1"}))

	// Room running but this session never joined
	f.join(t, newFakeSession("s2", "employer"))
	err = f.orchestrator.Dispatch(f.ctx, s, domain.Typing{ThreadID: "t1", IsTyping: true})
	req.ErrorIs(err, errors.ErrValidation)
	err = f.orchestrator.Dispatch(f.ctx, s, domain.MarkRead{ThreadID: "t1", MessageIDs: []domain.MessageID{"m1"}})
	req.ErrorIs(err, errors.ErrValidation)
}

func TestOrchestrator_SendDelivery(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	origin := newFakeSession("s-candidate-1", "candidate")
	otherTab := newFakeSession("s-candidate-2", "candidate")
	employer := newFakeSession("s-employer", "employer")
	for _, s := range []*fakeSession{origin, otherTab, employer} {
		f.join(t, s)
	}
	for _, s := range []*fakeSession{origin, otherTab, employer} {
		s.drain()
	}

	// When the candidate sends from the first tab
	err := f.orchestrator.Dispatch(f.ctx, origin, domain.Send{ThreadID: "t1", Body: "  <b>Hello</b> there ", ClientMessageID: "c1"})
	req.NoError(err)

	// Then the origin only gets the ack
	originEvents := origin.drain()
	req.Len(originEvents, 1)
	ack, ok := originEvents[0].(event.MessageAck)
	req.True(ok)
	req.Equal("c1", ack.ClientMessageID)

	// And the other tab and the employer get the message
	for _, s := range []*fakeSession{otherTab, employer} {
		events := s.drain()
		req.Len(events, 1)
		msg, ok := events[0].(event.MessageNew)
		req.True(ok)
		req.Equal(ack.ID, msg.ID)
		req.Equal("bHello/b there", msg.Body)
		req.Equal(domain.UserID("employer"), msg.ReceiverID)
		req.False(msg.IsRead)
	}

	// When the same clientMessageId is sent again
	err = f.orchestrator.Dispatch(f.ctx, origin, domain.Send{ThreadID: "t1", Body: "Hello there", ClientMessageID: "c1"})
	req.NoError(err)

	// Then the original ack is replayed and nothing is broadcast
	req.Equal([]event.Event{ack}, origin.drain())
	req.Empty(employer.drain())

	page, err := f.messages.History(f.ctx, "t1", 10, nil)
	req.NoError(err)
	req.Len(page.Messages, 1)
}

func TestOrchestrator_SendRejected(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := newFakeSession("s1", "candidate")
	f.join(t, s)

	err := f.orchestrator.Dispatch(f.ctx, s, domain.Send{ThreadID: "t1", Body: "   ", ClientMessageID: "c1"})
	req.ErrorIs(err, errors.ErrEmptyBody)

	err = f.orchestrator.Dispatch(f.ctx, s, domain.Send{
		ThreadID:        "t1",
		ClientMessageID: "c2",
		Attachments:     []domain.Attachment{{URL: "/api/files/other/cv.pdf", Name: "cv.pdf"}},
	})
	req.ErrorIs(err, errors.ErrValidation)

	// Given the thread closed by the employer
	thread, err := f.threads.GetThread(f.ctx, "t1")
	req.NoError(err)
	thread = thread.Close(time.Now())
	req.NoError(f.threads.SaveThread(f.ctx, thread))

	// Then sending is refused but the room stays readable
	err = f.orchestrator.Dispatch(f.ctx, s, domain.Send{ThreadID: "t1", Body: "still there?", ClientMessageID: "c3"})
	req.ErrorIs(err, errors.ErrThreadClosed)
	req.NoError(f.orchestrator.Dispatch(f.ctx, newFakeSession("s2", "employer"), domain.Join{ThreadID: "t1"}))
}

func TestOrchestrator_SendWithAttachmentOnly(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := newFakeSession("s1", "candidate")
	f.join(t, s)
	s.drain()

	err := f.orchestrator.Dispatch(f.ctx, s, domain.Send{
		ThreadID:        "t1",
		ClientMessageID: "c1",
		Attachments:     []domain.Attachment{{URL: "/api/files/t1/cv.pdf", Name: "cv.pdf"}},
	})
	req.NoError(err)
	req.Len(s.received(event.NameMessageAck), 1)
}

func TestOrchestrator_MarkRead(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	candidate := newFakeSession("s-candidate", "candidate")
	employer := newFakeSession("s-employer", "employer")
	f.join(t, candidate)
	f.join(t, employer)

	req.NoError(f.orchestrator.Dispatch(f.ctx, candidate, domain.Send{ThreadID: "t1", Body: "Hello", ClientMessageID: "c1"}))
	ack := candidate.received(event.NameMessageAck)[0].(event.MessageAck)
	candidate.drain()
	employer.drain()

	// When the employer reads the message
	err := f.orchestrator.Dispatch(f.ctx, employer, domain.MarkRead{ThreadID: "t1", MessageIDs: []domain.MessageID{ack.ID}})
	req.NoError(err)

	// Then only the sender gets the receipt
	req.Equal([]event.Event{event.ReadReceipt{ThreadID: "t1", MessageIDs: []domain.MessageID{ack.ID}}}, candidate.drain())
	req.Empty(employer.drain())

	// When the sender tries to mark its own message
	err = f.orchestrator.Dispatch(f.ctx, candidate, domain.MarkRead{ThreadID: "t1", MessageIDs: []domain.MessageID{ack.ID}})
	req.NoError(err)
	req.Empty(employer.drain())
}

func TestOrchestrator_Typing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, func(cfg *RoomConfig, _ *contract.RateLimiter, _ *SendLimit) {
		cfg.TypingTTL = 50 * time.Millisecond
	})
	candidate := newFakeSession("s-candidate", "candidate")
	employer := newFakeSession("s-employer", "employer")
	f.join(t, candidate)
	f.join(t, employer)
	candidate.drain()

	// When the employer keeps typing
	for range 3 {
		req.NoError(f.orchestrator.Dispatch(f.ctx, employer, domain.Typing{ThreadID: "t1", IsTyping: true}))
	}

	// Then the candidate is told once
	req.Equal([]event.Event{event.TypingChanged{ThreadID: "t1", UserID: "employer", IsTyping: true}}, candidate.drain())
	req.Empty(employer.received(event.NameTypingChanged))

	// And the state expires without keep-alive
	req.Eventually(func() bool {
		return len(candidate.received(event.NameTypingChanged)) == 1
	}, time.Second, 10*time.Millisecond)
	req.Equal(event.TypingChanged{ThreadID: "t1", UserID: "employer", IsTyping: false}, candidate.drain()[0])
}

func TestOrchestrator_TypingClearedBySend(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	candidate := newFakeSession("s-candidate", "candidate")
	employer := newFakeSession("s-employer", "employer")
	f.join(t, candidate)
	f.join(t, employer)

	req.NoError(f.orchestrator.Dispatch(f.ctx, candidate, domain.Typing{ThreadID: "t1", IsTyping: true}))

	// Given a late joiner
	late := newFakeSession("s-employer-2", "employer")
	f.join(t, late)
	// Then it learns who is typing
	req.Equal([]event.Event{event.TypingChanged{ThreadID: "t1", UserID: "candidate", IsTyping: true}}, late.received(event.NameTypingChanged))
	employer.drain()

	// When the candidate sends
	req.NoError(f.orchestrator.Dispatch(f.ctx, candidate, domain.Send{ThreadID: "t1", Body: "done", ClientMessageID: "c1"}))

	// Then the message comes before the typing stop
	events := employer.drain()
	req.Len(events, 2)
	req.Equal(event.NameMessageNew, events[0].Name())
	req.Equal(event.TypingChanged{ThreadID: "t1", UserID: "candidate", IsTyping: false}, events[1])
}

func TestOrchestrator_LeaveAndDisconnect(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	candidate := newFakeSession("s-candidate", "candidate")
	employer := newFakeSession("s-employer", "employer")
	f.join(t, candidate)
	f.join(t, employer)
	candidate.drain()

	// When the employer connection drops
	f.orchestrator.Disconnect(employer)

	// Then the candidate sees the employer offline with a last seen date
	events := candidate.drain()
	req.Len(events, 1)
	presence, ok := events[0].(event.PresenceChanged)
	req.True(ok)
	req.Equal(domain.UserID("employer"), presence.UserID)
	req.False(presence.Online)
	req.NotNil(presence.LastSeenAt)

	// And a second leave is a no-op
	req.NoError(f.orchestrator.Dispatch(f.ctx, employer, domain.Leave{ThreadID: "t1"}))
	req.Empty(candidate.drain())
}

func TestOrchestrator_IdleRoomRetires(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, func(cfg *RoomConfig, _ *contract.RateLimiter, _ *SendLimit) {
		cfg.IdleTimeout = 20 * time.Millisecond
	})
	s := newFakeSession("s1", "candidate")
	f.join(t, s)
	req.Equal(1, f.orchestrator.Rooms())

	// A joined session keeps the room alive
	time.Sleep(60 * time.Millisecond)
	req.Equal(1, f.orchestrator.Rooms())

	req.NoError(f.orchestrator.Dispatch(f.ctx, s, domain.Leave{ThreadID: "t1"}))
	req.Eventually(func() bool { return f.orchestrator.Rooms() == 0 }, time.Second, 10*time.Millisecond)

	// Then a new join spawns a fresh room
	f.join(t, s)
	req.Equal(1, f.orchestrator.Rooms())
}

func TestOrchestrator_RateLimitedSend(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	limiter := mocks.NewMockRateLimiter(ctrl)
	limiter.EXPECT().Allow(gomock.Any(), "send:candidate", 8, 10*time.Second).Return(false, nil)

	f := newFixture(t, func(_ *RoomConfig, l *contract.RateLimiter, limit *SendLimit) {
		*l = limiter
		*limit = SendLimit{Limit: 8, Window: 10 * time.Second}
	})
	s := newFakeSession("s1", "candidate")
	f.join(t, s)

	err := f.orchestrator.Dispatch(f.ctx, s, domain.Send{ThreadID: "t1", Body: "spam", ClientMessageID: "c1"})
	req.ErrorIs(err, errors.ErrRateLimited)
}

func TestOrchestrator_Relay(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	relay := mocks.NewMockRelay(ctrl)

	var published []wire.RelayMessage
	relay.EXPECT().Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg wire.RelayMessage) error {
			published = append(published, msg)
			return nil
		}).AnyTimes()

	f := newFixture(t, func(cfg *RoomConfig, _ *contract.RateLimiter, _ *SendLimit) {
		cfg.Relay = relay
	})
	candidate := newFakeSession("s-candidate", "candidate")
	f.join(t, candidate)
	candidate.drain()

	// Then the local presence change was forwarded
	req.Len(published, 1)
	req.Equal("node-test", published[0].Origin)
	req.Equal(domain.UserID("candidate"), published[0].ExcludeUser)

	// When another node reports the employer online
	remote, err := wire.NewRelayMessage("node-other", event.PresenceChanged{ThreadID: "t1", UserID: "employer", Online: true}, "", "employer")
	req.NoError(err)
	f.orchestrator.Deliver(remote)

	// Then the local session sees it and it is not published back
	req.Eventually(func() bool { return len(candidate.received(event.NamePresenceChanged)) == 1 }, time.Second, 10*time.Millisecond)
	req.Len(published, 1)

	// And later joiners count the remote user as a member
	late := newFakeSession("s-candidate-2", "candidate")
	f.join(t, late)
	req.Equal(event.RoomSnapshot{ThreadID: "t1", MemberUserIDs: []domain.UserID{"candidate", "employer"}}, late.drain()[1])

	// Own broadcasts echoed by Redis are ignored
	own, err := wire.NewRelayMessage("node-test", event.TypingChanged{ThreadID: "t1", UserID: "x", IsTyping: true}, "", "x")
	req.NoError(err)
	f.orchestrator.Deliver(own)
	req.NoError(f.orchestrator.Dispatch(f.ctx, candidate, domain.Typing{ThreadID: "t1", IsTyping: false}))
	req.Empty(candidate.received(event.NameTypingChanged))
}

func TestOrchestrator_SameClientIDFromBothParticipants(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	candidate := newFakeSession("s-candidate", "candidate")
	employer := newFakeSession("s-employer", "employer")
	f.join(t, candidate)
	f.join(t, employer)
	candidate.drain()
	employer.drain()

	// Given the candidate sent c1
	req.NoError(f.orchestrator.Dispatch(f.ctx, candidate, domain.Send{ThreadID: "t1", Body: "hello from candidate", ClientMessageID: "c1"}))
	candidateAck := candidate.received(event.NameMessageAck)[0].(event.MessageAck)
	employer.drain()

	// When the employer picks the same client id
	req.NoError(f.orchestrator.Dispatch(f.ctx, employer, domain.Send{ThreadID: "t1", Body: "reply from employer", ClientMessageID: "c1"}))

	// Then it is stored, acknowledged with its own id and delivered
	acks := employer.received(event.NameMessageAck)
	req.Len(acks, 1)
	req.NotEqual(candidateAck.ID, acks[0].(event.MessageAck).ID)
	delivered := candidate.received(event.NameMessageNew)
	req.Len(delivered, 1)
	req.Equal("reply from employer", delivered[0].(event.MessageNew).Body)
	req.Equal(domain.UserID("employer"), delivered[0].(event.MessageNew).SenderID)

	page, err := f.messages.History(f.ctx, "t1", 10, nil)
	req.NoError(err)
	req.Len(page.Messages, 2)
}

func TestOrchestrator_ThreadClosedReachesSessions(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	relay := mocks.NewMockRelay(ctrl)

	var mu sync.Mutex
	var published []wire.RelayMessage
	relay.EXPECT().Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg wire.RelayMessage) error {
			mu.Lock()
			defer mu.Unlock()
			published = append(published, msg)
			return nil
		}).AnyTimes()

	f := newFixture(t, func(cfg *RoomConfig, _ *contract.RateLimiter, _ *SendLimit) {
		cfg.Relay = relay
	})
	candidate := newFakeSession("s-candidate", "candidate")
	employer := newFakeSession("s-employer", "employer")
	f.join(t, candidate)
	f.join(t, employer)
	req.NoError(f.orchestrator.Dispatch(f.ctx, candidate, domain.Typing{ThreadID: "t1", IsTyping: true}))
	candidate.drain()
	employer.drain()

	// When the thread is closed over REST
	thread, err := f.threads.GetThread(f.ctx, "t1")
	req.NoError(err)
	thread = thread.Close(time.Now())
	req.NoError(f.threads.SaveThread(f.ctx, thread))
	f.orchestrator.ThreadClosed(f.ctx, thread)

	// Then both participants are told, and the candidate stops typing
	want := event.ThreadClosed{ThreadID: "t1", ClosedAt: *thread.ClosedAt}
	req.Eventually(func() bool { return len(candidate.received(event.NameThreadClosed)) == 1 }, time.Second, 5*time.Millisecond)
	req.Eventually(func() bool { return len(employer.received(event.NameThreadClosed)) == 1 }, time.Second, 5*time.Millisecond)
	req.Equal(want, candidate.received(event.NameThreadClosed)[0])
	req.Len(employer.received(event.NameTypingChanged), 1)

	// And the other processes hear about it
	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, msg := range published {
			if e, err := msg.Event(); err == nil && e.Name() == event.NameThreadClosed {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// And later joiners learn it from joined
	late := newFakeSession("s-employer-2", "employer")
	f.join(t, late)
	req.Equal(event.Joined{ThreadID: "t1", Closed: true}, late.drain()[0])
}

func TestOrchestrator_ThreadClosedWithoutLocalRoom(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	relay := mocks.NewMockRelay(ctrl)
	closedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// Only the other processes may have sessions on the thread
	relay.EXPECT().Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg wire.RelayMessage) error {
			e, err := msg.Event()
			req.NoError(err)
			req.Equal(event.ThreadClosed{ThreadID: "t1", ClosedAt: closedAt}, e)
			req.Equal("node-test", msg.Origin)
			return nil
		})

	f := newFixture(t, func(cfg *RoomConfig, _ *contract.RateLimiter, _ *SendLimit) {
		cfg.Relay = relay
	})
	f.orchestrator.ThreadClosed(f.ctx, domain.Thread{ID: "t1", Status: domain.ThreadClosed, ClosedAt: &closedAt})
	req.Zero(f.orchestrator.Rooms())
}

func TestRoom_FullMailboxIsUnavailable(t *testing.T) {
	req := require.New(t)
	room := NewRoom("t1", RoomConfig{MailboxSize: 1}, slog.Default(), func(*Room) bool { return true })

	// Given a room that has not drained its mailbox yet
	room.pending.Add(1)
	req.NoError(room.offer(request{input: domain.Leave{ThreadID: "t1"}}))

	// When another command arrives
	room.pending.Add(1)
	err := room.offer(request{input: domain.Leave{ThreadID: "t1"}})

	// Then it is refused right away
	req.ErrorIs(err, errors.ErrRoomUnavailable)
	req.Equal("unavailable", errors.Code(err))
	req.Equal(int64(1), room.pending.Load())
}

func TestOrchestrator_SendStoresAndIndexes(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockMessageStore(ctrl)
	search := mocks.NewMockSearchIndex(ctrl)

	// Given a store that keeps the message as is and an index
	messages.EXPECT().Create(gomock.Any(), gomock.Any(), "c1").
		DoAndReturn(func(_ context.Context, message domain.Message, _ string) (domain.Message, bool, error) {
			req.Equal(domain.UserID("candidate"), message.SenderID)
			req.Equal(domain.UserID("employer"), message.ReceiverID)
			return message, false, nil
		})
	search.EXPECT().Index(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, message domain.Message) error {
			req.Equal("hello", message.Body)
			return nil
		})

	f := newFixture(t, func(cfg *RoomConfig, _ *contract.RateLimiter, _ *SendLimit) {
		cfg.Messages = messages
		cfg.Search = search
	})
	candidate := newFakeSession("s-candidate", "candidate")
	f.join(t, candidate)
	candidate.drain()

	// When the candidate sends
	req.NoError(f.orchestrator.Dispatch(f.ctx, candidate, domain.Send{ThreadID: "t1", Body: "hello", ClientMessageID: "c1"}))

	// Then the sender gets the ack of the stored message
	acks := candidate.received(event.NameMessageAck)
	req.Len(acks, 1)
	req.Equal("c1", acks[0].(event.MessageAck).ClientMessageID)
}
