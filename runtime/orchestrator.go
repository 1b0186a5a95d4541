package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hire-chat/contract"
	"hire-chat/domain"
	"hire-chat/domain/event"
	"hire-chat/domain/wire"
	"hire-chat/errors"
	"hire-chat/observability"
)

// SendLimit bounds how many messages one user may send per window.
// A zero Limit disables the check.
type SendLimit struct {
	Limit  int
	Window time.Duration
}

// Orchestrator routes commands to the room of their thread.
// Rooms are spawned on join and retire themselves once idle.
type Orchestrator struct {
	ctx        context.Context
	log        *slog.Logger
	supervisor contract.ISupervisor
	cfg        RoomConfig
	limiter    contract.RateLimiter
	sendLimit  SendLimit

	mu       sync.Mutex
	rooms    map[domain.ThreadID]*Room
	sessions map[domain.SessionID]map[domain.ThreadID]contract.Session
}

func NewOrchestrator(
	ctx context.Context,
	log *slog.Logger,
	supervisor contract.ISupervisor,
	cfg RoomConfig,
	limiter contract.RateLimiter,
	sendLimit SendLimit,
) *Orchestrator {
	return &Orchestrator{
		ctx:        ctx,
		log:        log,
		supervisor: supervisor,
		cfg:        cfg,
		limiter:    limiter,
		sendLimit:  sendLimit,
		rooms:      make(map[domain.ThreadID]*Room),
		sessions:   make(map[domain.SessionID]map[domain.ThreadID]contract.Session),
	}
}

// Dispatch hands cmd to its room and waits for the outcome.
// Events produced by the command are delivered through the session.
func (o *Orchestrator) Dispatch(ctx context.Context, session contract.Session, cmd domain.Command) error {
	if _, ok := cmd.(domain.Send); ok {
		if err := o.allowSend(ctx, session.UserID()); err != nil {
			return err
		}
	}

	room, ok := o.acquire(cmd)
	if !ok {
		if _, leaving := cmd.(domain.Leave); leaving {
			return nil
		}
		return errNotJoined
	}

	req := request{ctx: ctx, session: session, input: cmd, reply: make(chan error, 1)}
	if err := room.offer(req); err != nil {
		o.log.Warn("Room unavailable", "thread_id", room.id, "session_id", session.ID())
		return err
	}

	var err error
	select {
	case err = <-req.reply:
	case <-room.done:
		return errors.ErrRoomUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}

	if err == nil {
		o.track(session, cmd)
	}
	return err
}

// Disconnect leaves every room the session joined.
func (o *Orchestrator) Disconnect(session contract.Session) {
	o.mu.Lock()
	threads := o.sessions[session.ID()]
	delete(o.sessions, session.ID())
	o.mu.Unlock()

	for threadID := range threads {
		ctx, cancel := context.WithTimeout(o.ctx, 5*time.Second)
		if err := o.Dispatch(ctx, session, domain.Leave{ThreadID: threadID}); err != nil {
			o.log.Warn("Leave on disconnect failed", "session_id", session.ID(), "thread_id", threadID, "error", err)
		}
		cancel()
	}
}

// Deliver feeds a broadcast from another process to the local room, if any.
func (o *Orchestrator) Deliver(msg wire.RelayMessage) {
	if msg.Origin == o.cfg.Node {
		return
	}
	o.mu.Lock()
	room, ok := o.rooms[msg.ThreadID]
	o.mu.Unlock()
	if !ok {
		return
	}
	room.post(relayed{msg: msg})
}

// ThreadClosed tells every session of the thread, here and on the other processes, that it was closed.
func (o *Orchestrator) ThreadClosed(ctx context.Context, thread domain.Thread) {
	e := event.ThreadClosed{ThreadID: thread.ID, ClosedAt: time.Now().UTC()}
	if thread.ClosedAt != nil {
		e.ClosedAt = *thread.ClosedAt
	}

	o.mu.Lock()
	room, ok := o.rooms[thread.ID]
	if ok {
		room.pending.Add(1)
	}
	o.mu.Unlock()
	if ok {
		// The room relays it itself
		if err := room.enqueue(ctx, request{ctx: o.ctx, input: threadClosed{e: e}}); err == nil {
			return
		}
	}

	if o.cfg.Relay == nil {
		return
	}
	msg, err := wire.NewRelayMessage(o.cfg.Node, e, "", "")
	if err != nil {
		o.log.Error("Relay encoding failed", "event", e.Name(), "error", err)
		return
	}
	if err := o.cfg.Relay.Publish(ctx, msg); err != nil {
		o.log.Warn("Relay publish failed", "event", e.Name(), "error", err)
	}
}

// Rooms returns the number of running rooms.
func (o *Orchestrator) Rooms() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.rooms)
}

// acquire returns the room for cmd with a pending request reserved on it.
func (o *Orchestrator) acquire(cmd domain.Command) (*Room, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	threadID := cmd.Thread()
	room, ok := o.rooms[threadID]
	if !ok {
		if _, joining := cmd.(domain.Join); !joining {
			return nil, false
		}
		room = NewRoom(threadID, o.cfg, o.log, o.retire)
		o.rooms[threadID] = room
		observability.ActiveRooms.Inc()
		o.supervisor.Start(o.ctx, room)
		o.log.Debug("Room spawned", "thread_id", threadID)
	}
	room.pending.Add(1)
	return room, true
}

// retire is called by an idle room. It is refused when a request raced in.
func (o *Orchestrator) retire(room *Room) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if room.pending.Load() > 0 || o.rooms[room.id] != room {
		return false
	}
	delete(o.rooms, room.id)
	observability.ActiveRooms.Dec()
	return true
}

func (o *Orchestrator) track(session contract.Session, cmd domain.Command) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch cmd.(type) {
	case domain.Join:
		threads, ok := o.sessions[session.ID()]
		if !ok {
			threads = make(map[domain.ThreadID]contract.Session)
			o.sessions[session.ID()] = threads
		}
		threads[cmd.Thread()] = session
	case domain.Leave:
		if threads, ok := o.sessions[session.ID()]; ok {
			delete(threads, cmd.Thread())
			if len(threads) == 0 {
				delete(o.sessions, session.ID())
			}
		}
	}
}

func (o *Orchestrator) allowSend(ctx context.Context, userID domain.UserID) error {
	if o.limiter == nil || o.sendLimit.Limit <= 0 {
		return nil
	}
	ok, err := o.limiter.Allow(ctx, fmt.Sprintf("send:%s", userID), o.sendLimit.Limit, o.sendLimit.Window)
	if err != nil {
		// Fail open
		o.log.Warn("Rate limiter unavailable", "error", err)
		return nil
	}
	if !ok {
		observability.RateLimitHits.WithLabelValues("send").Inc()
		return errors.ErrRateLimited
	}
	return nil
}
