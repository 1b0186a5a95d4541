package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hire-chat/contract"
	"hire-chat/domain"
	"hire-chat/domain/event"
	"hire-chat/domain/wire"
	"hire-chat/errors"
	"hire-chat/moderation"
	"hire-chat/observability"
)

var errNotJoined = fmt.Errorf("%w: join the thread first", errors.ErrValidation)

// RoomConfig holds the collaborators shared by every room.
type RoomConfig struct {
	Messages    contract.MessageStore
	Threads     contract.ThreadStore
	Search      contract.SearchIndex
	Relay       contract.Relay
	Sanitizer   moderation.Sanitizer
	Node        string
	TypingTTL   time.Duration
	IdleTimeout time.Duration
	MailboxSize int
}

type request struct {
	ctx     context.Context
	session contract.Session
	input   any
	reply   chan error
}

// Internal inputs posted to the mailbox besides client commands.
type (
	typingExpired struct{ userID domain.UserID }
	relayed       struct{ msg wire.RelayMessage }
	threadClosed  struct{ e event.ThreadClosed }
)

// Room serializes every command of one thread on a single goroutine.
// Presence and typing state are only touched from Run.
type Room struct {
	id       domain.ThreadID
	cfg      RoomConfig
	log      *slog.Logger
	mailbox  chan request
	done     chan struct{}
	stopOnce sync.Once
	pending  atomic.Int64
	retire   func(*Room) bool

	presence *Presence
	typing   map[domain.UserID]domain.TypingState
	timers   map[domain.UserID]*time.Timer
}

func NewRoom(id domain.ThreadID, cfg RoomConfig, log *slog.Logger, retire func(*Room) bool) *Room {
	return &Room{
		id:       id,
		cfg:      cfg,
		log:      log.With("thread_id", id),
		mailbox:  make(chan request, cfg.MailboxSize),
		done:     make(chan struct{}),
		retire:   retire,
		presence: NewPresence(),
		typing:   make(map[domain.UserID]domain.TypingState),
		timers:   make(map[domain.UserID]*time.Timer),
	}
}

func (r *Room) ID() domain.ThreadID { return r.id }

// Run processes the mailbox until the context is canceled or the room stays idle.
// Returning nil tells the supervisor not to restart it.
func (r *Room) Run(ctx context.Context) error {
	idle := time.NewTimer(r.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			r.stop()
			return nil
		case req := <-r.mailbox:
			r.handle(req)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.cfg.IdleTimeout)
		case <-idle.C:
			if r.idle() && r.retire(r) {
				r.log.Debug("Room idle, stopping")
				r.stop()
				return nil
			}
			idle.Reset(r.cfg.IdleTimeout)
		}
	}
}

// enqueue hands a request to the room. The caller must have incremented pending.
func (r *Room) enqueue(ctx context.Context, req request) error {
	select {
	case r.mailbox <- req:
		return nil
	case <-r.done:
		r.pending.Add(-1)
		return errors.ErrRoomUnavailable
	case <-ctx.Done():
		r.pending.Add(-1)
		return ctx.Err()
	}
}

// offer is enqueue for client commands: a full mailbox is refused instead of waited on.
// The caller must have incremented pending.
func (r *Room) offer(req request) error {
	select {
	case r.mailbox <- req:
		return nil
	case <-r.done:
	default:
	}
	r.pending.Add(-1)
	return errors.ErrRoomUnavailable
}

// post is used by timers and the relay; nobody waits for the outcome.
func (r *Room) post(input any) {
	r.pending.Add(1)
	_ = r.enqueue(context.Background(), request{ctx: context.Background(), input: input})
}

func (r *Room) idle() bool {
	return r.presence.Empty() && len(r.timers) == 0 && len(r.mailbox) == 0
}

func (r *Room) stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		for userID, timer := range r.timers {
			timer.Stop()
			delete(r.timers, userID)
		}
	})
}

func (r *Room) handle(req request) {
	defer r.pending.Add(-1)
	defer func() {
		if p := recover(); p != nil {
			r.reply(req, errors.ErrRoomUnavailable)
			panic(p)
		}
	}()

	var err error
	switch in := req.input.(type) {
	case domain.Join:
		err = r.join(req.ctx, req.session)
	case domain.Leave:
		r.leave(req.ctx, req.session.ID())
	case domain.Send:
		start := time.Now()
		err = r.send(req.ctx, req.session, in)
		observability.SendLatency.Observe(time.Since(start).Seconds())
	case domain.Typing:
		err = r.setTyping(req.ctx, req.session, in.IsTyping)
	case domain.MarkRead:
		err = r.markRead(req.ctx, req.session, in.MessageIDs)
	case typingExpired:
		r.expireTyping(req.ctx, in.userID)
	case relayed:
		r.deliverRelayed(req.ctx, in.msg)
	case threadClosed:
		r.closed(req.ctx, in.e)
	default:
		err = fmt.Errorf("%w: unsupported input %T", errors.ErrValidation, in)
	}
	if cmd, ok := req.input.(domain.Command); ok {
		observability.CommandsTotal.WithLabelValues(commandName(cmd), errors.Code(err)).Inc()
	}
	r.reply(req, err)
}

func (r *Room) reply(req request, err error) {
	if req.reply == nil {
		return
	}
	select {
	case req.reply <- err:
	default:
	}
}

func (r *Room) join(ctx context.Context, session contract.Session) error {
	thread, err := r.cfg.Threads.GetThread(ctx, r.id)
	if err != nil {
		return err
	}
	userID := session.UserID()
	if err := thread.Authorize(userID, false); err != nil {
		return err
	}

	_, first := r.presence.Add(session)
	r.deliver(ctx, session, event.Joined{ThreadID: r.id, Closed: thread.Closed()})
	r.deliver(ctx, session, event.RoomSnapshot{ThreadID: r.id, MemberUserIDs: r.presence.Members()})

	// Let the joiner see who is already typing
	now := time.Now()
	for typist, state := range r.typing {
		if typist != userID && state.Active(now) {
			r.deliver(ctx, session, event.TypingChanged{ThreadID: r.id, UserID: typist, IsTyping: true})
		}
	}

	if first {
		r.log.Debug("User online", "user_id", userID)
		r.broadcast(ctx, event.PresenceChanged{ThreadID: r.id, UserID: userID, Online: true}, "", userID)
	}
	return nil
}

func (r *Room) leave(ctx context.Context, sessionID domain.SessionID) {
	userID, removed, last := r.presence.Remove(sessionID)
	if !removed || !last {
		return
	}
	r.clearTyping(ctx, userID)
	lastSeenAt := time.Now().UTC()
	r.log.Debug("User offline", "user_id", userID)
	r.broadcast(ctx, event.PresenceChanged{ThreadID: r.id, UserID: userID, Online: false, LastSeenAt: &lastSeenAt}, "", userID)
}

func (r *Room) send(ctx context.Context, session contract.Session, cmd domain.Send) error {
	if !r.presence.Has(session.ID()) {
		return errNotJoined
	}
	thread, err := r.cfg.Threads.GetThread(ctx, r.id)
	if err != nil {
		return err
	}
	senderID := session.UserID()
	if err := thread.Authorize(senderID, true); err != nil {
		return err
	}
	if err := r.checkAttachments(cmd.Attachments); err != nil {
		return err
	}
	body, err := r.cfg.Sanitizer.Clean(cmd.Body, len(cmd.Attachments) > 0)
	if err != nil {
		return err
	}
	receiverID, err := thread.Counterpart(senderID)
	if err != nil {
		return err
	}

	attachments := cmd.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	message := domain.Message{
		ID:          domain.NewMessageID(),
		ThreadID:    r.id,
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Body:        body,
		Lang:        r.cfg.Sanitizer.Language(body),
		Attachments: attachments,
		CreatedAt:   domain.Now(),
	}
	stored, duplicate, err := r.cfg.Messages.Create(ctx, message, cmd.ClientMessageID)
	if err != nil {
		r.log.Error("Message not persisted", "user_id", senderID, "error", err)
		return err
	}

	r.deliver(ctx, session, event.MessageAck{
		ThreadID:        r.id,
		ClientMessageID: cmd.ClientMessageID,
		ID:              stored.ID,
		CreatedAt:       stored.CreatedAt,
	})
	if duplicate {
		observability.DuplicateSends.Inc()
		r.log.Debug("Duplicate send, ack replayed", "client_message_id", cmd.ClientMessageID)
		return nil
	}
	observability.MessagesSent.Inc()

	if r.cfg.Search != nil {
		if err := r.cfg.Search.Index(ctx, stored); err != nil {
			r.log.Warn("Message not indexed", "message_id", stored.ID, "error", err)
		}
	}
	r.broadcast(ctx, event.MessageNew{Message: stored}, session.ID(), "")
	r.clearTyping(ctx, senderID)
	return nil
}

// checkAttachments only accepts files uploaded to this thread.
func (r *Room) checkAttachments(attachments []domain.Attachment) error {
	prefix := fmt.Sprintf("/api/files/%s/", r.id)
	for _, a := range attachments {
		if !strings.HasPrefix(a.URL, prefix) || strings.Contains(a.URL, "..") {
			return fmt.Errorf("%w: attachment %q does not belong to this thread", errors.ErrValidation, a.Name)
		}
	}
	return nil
}

func (r *Room) markRead(ctx context.Context, session contract.Session, ids []domain.MessageID) error {
	if !r.presence.Has(session.ID()) {
		return errNotJoined
	}
	readerID := session.UserID()
	read, err := r.cfg.Messages.MarkRead(ctx, r.id, readerID, ids)
	if err != nil {
		return err
	}
	if len(read) == 0 {
		return nil
	}
	r.broadcast(ctx, event.ReadReceipt{ThreadID: r.id, MessageIDs: read}, "", readerID)
	return nil
}

func (r *Room) setTyping(ctx context.Context, session contract.Session, isTyping bool) error {
	if !r.presence.Has(session.ID()) {
		return errNotJoined
	}
	userID := session.UserID()
	if !isTyping {
		r.clearTyping(ctx, userID)
		return nil
	}

	state, started := r.typing[userID].Start(time.Now(), r.cfg.TypingTTL)
	r.typing[userID] = state
	if timer, ok := r.timers[userID]; ok {
		timer.Stop()
	}
	r.timers[userID] = time.AfterFunc(r.cfg.TypingTTL, func() {
		r.post(typingExpired{userID: userID})
	})
	if started {
		r.broadcast(ctx, event.TypingChanged{ThreadID: r.id, UserID: userID, IsTyping: true}, "", userID)
	}
	return nil
}

func (r *Room) expireTyping(ctx context.Context, userID domain.UserID) {
	state, ok := r.typing[userID]
	if !ok {
		return
	}
	next, expired := state.Expire(time.Now())
	if !expired {
		// Re-armed since this timer was set
		return
	}
	r.typing[userID] = next
	r.forgetTyping(userID)
	r.broadcast(ctx, event.TypingChanged{ThreadID: r.id, UserID: userID, IsTyping: false}, "", userID)
}

// clearTyping ends the user's typing state, announcing it only if it was active.
func (r *Room) clearTyping(ctx context.Context, userID domain.UserID) {
	state, ok := r.typing[userID]
	if !ok {
		return
	}
	_, wasTyping := state.Stop(time.Now())
	r.forgetTyping(userID)
	if wasTyping {
		r.broadcast(ctx, event.TypingChanged{ThreadID: r.id, UserID: userID, IsTyping: false}, "", userID)
	}
}

func (r *Room) forgetTyping(userID domain.UserID) {
	delete(r.typing, userID)
	if timer, ok := r.timers[userID]; ok {
		timer.Stop()
		delete(r.timers, userID)
	}
}

// broadcast delivers e to local sessions, skipping excludeSession and every
// session of excludeUser, then forwards it to the other processes.
func (r *Room) broadcast(ctx context.Context, e event.Event, excludeSession domain.SessionID, excludeUser domain.UserID) {
	r.fanout(ctx, e, excludeSession, excludeUser)
	if r.cfg.Relay == nil {
		return
	}
	msg, err := wire.NewRelayMessage(r.cfg.Node, e, excludeSession, excludeUser)
	if err != nil {
		r.log.Error("Relay encoding failed", "event", e.Name(), "error", err)
		return
	}
	if err := r.cfg.Relay.Publish(ctx, msg); err != nil {
		r.log.Warn("Relay publish failed", "event", e.Name(), "error", err)
	}
}

func (r *Room) fanout(ctx context.Context, e event.Event, excludeSession domain.SessionID, excludeUser domain.UserID) {
	for _, s := range r.presence.Sessions() {
		if s.ID() == excludeSession || (excludeUser != "" && s.UserID() == excludeUser) {
			continue
		}
		r.deliver(ctx, s, e)
	}
}

func (r *Room) deliver(ctx context.Context, session contract.Session, e event.Event) {
	if err := session.Consume(ctx, e); err != nil {
		observability.DroppedEvents.WithLabelValues(errors.Code(err)).Inc()
		r.log.Warn("Event not delivered", "session_id", session.ID(), "event", e.Name(), "error", err)
	}
}

// closed announces the end of the conversation. Nobody can type in a closed thread.
func (r *Room) closed(ctx context.Context, e event.ThreadClosed) {
	for userID := range r.typing {
		r.clearTyping(ctx, userID)
	}
	r.broadcast(ctx, e, "", "")
}

func (r *Room) deliverRelayed(ctx context.Context, msg wire.RelayMessage) {
	e, err := msg.Event()
	if err != nil {
		r.log.Warn("Relayed event ignored", "origin", msg.Origin, "error", err)
		return
	}
	if presence, ok := e.(event.PresenceChanged); ok {
		r.presence.SetRemote(presence.UserID, presence.Online)
	}
	r.fanout(ctx, e, msg.ExcludeSession, msg.ExcludeUser)
}

func commandName(cmd domain.Command) string {
	switch cmd.(type) {
	case domain.Join:
		return wire.CommandJoin
	case domain.Leave:
		return wire.CommandLeave
	case domain.Send:
		return wire.CommandSend
	case domain.Typing:
		return wire.CommandTyping
	case domain.MarkRead:
		return wire.CommandMarkRead
	}
	return "unknown"
}
