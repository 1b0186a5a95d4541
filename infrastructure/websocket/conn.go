package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hire-chat/contract"
	"hire-chat/domain"
	"hire-chat/domain/event"
	"hire-chat/domain/wire"
	"hire-chat/errors"
	"hire-chat/observability"
)

// Conn is the session of one authenticated websocket.
// Events are queued in a bounded buffer drained by the write pump.
type Conn struct {
	id       domain.SessionID
	userID   domain.UserID
	ws       *websocket.Conn
	log      *slog.Logger
	settings Settings

	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

var _ contract.Session = (*Conn)(nil)

func newConn(id domain.SessionID, userID domain.UserID, ws *websocket.Conn, log *slog.Logger, settings Settings) *Conn {
	return &Conn{
		id:       id,
		userID:   userID,
		ws:       ws,
		log:      log.With("session_id", id, "user_id", userID),
		settings: settings,
		out:      make(chan []byte, settings.BufferSize),
		closed:   make(chan struct{}),
	}
}

func (c *Conn) ID() domain.SessionID  { return c.id }
func (c *Conn) UserID() domain.UserID { return c.userID }

// Consume never blocks. A full buffer means the peer is too slow and the connection is closed.
func (c *Conn) Consume(_ context.Context, e event.Event) error {
	frame, err := wire.EncodeEvent(e)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return errors.ErrTransport
	default:
	}
	select {
	case c.out <- frame:
		return nil
	default:
		c.log.Warn("Slow consumer, closing connection", "buffer", cap(c.out))
		c.Close()
		return errors.ErrSlowConsumer
	}
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// readPump decodes commands until the socket fails or stays silent past the pong wait.
func (c *Conn) readPump(ctx context.Context, orchestrator contract.IOrchestrator) {
	c.ws.SetReadLimit(c.settings.MaxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("Connection lost", "error", err)
			}
			return
		}
		select {
		case <-c.closed:
			return
		default:
		}

		cmd, err := wire.DecodeCommand(raw)
		if err != nil {
			c.reject("", "", err)
			continue
		}
		if err := orchestrator.Dispatch(ctx, c, cmd); err != nil {
			var clientMessageID string
			if send, ok := cmd.(domain.Send); ok {
				clientMessageID = send.ClientMessageID
			}
			c.reject(cmd.Thread(), clientMessageID, err)
		}
	}
}

func (c *Conn) reject(threadID domain.ThreadID, clientMessageID string, err error) {
	code := errors.Code(err)
	if code == errors.CodeInternal || code == errors.CodePersistence {
		c.log.Error("Command failed", "thread_id", threadID, "error", err)
	}
	_ = c.Consume(context.Background(), event.FromError(threadID, clientMessageID, err))
}

// writePump owns every write to the socket, pings included.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.settings.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("Write failed", "error", err)
				c.Close()
				return
			}
			observability.OutboundFrames.Inc()
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			c.flush()
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes what is already queued, the last error event included.
func (c *Conn) flush() {
	for {
		select {
		case frame := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
