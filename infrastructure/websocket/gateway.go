package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hire-chat/auth"
	"hire-chat/contract"
	"hire-chat/domain"
	"hire-chat/errors"
	"hire-chat/observability"
)

type Settings struct {
	BufferSize    int
	PongWait      time.Duration
	PingPeriod    time.Duration
	WriteWait     time.Duration
	MaxFrameBytes int64
	Origins       []string
}

func DefaultSettings() Settings {
	return Settings{
		BufferSize:    64,
		PongWait:      60 * time.Second,
		PingPeriod:    54 * time.Second,
		WriteWait:     10 * time.Second,
		MaxFrameBytes: 64 << 10,
		Origins:       []string{"*"},
	}
}

// Gateway upgrades authenticated requests and multiplexes commands to the orchestrator.
type Gateway struct {
	ctx          context.Context
	log          *slog.Logger
	orchestrator contract.IOrchestrator
	validator    auth.Validator
	settings     Settings
	upgrader     websocket.Upgrader
}

func NewGateway(
	ctx context.Context,
	log *slog.Logger,
	orchestrator contract.IOrchestrator,
	validator auth.Validator,
	settings Settings,
) *Gateway {
	g := &Gateway{
		ctx:          ctx,
		log:          log,
		orchestrator: orchestrator,
		validator:    validator,
		settings:     settings,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.Authenticate(g.validator, r)
	if err != nil {
		http.Error(w, err.Error(), errors.HTTPStatus(err))
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already answered
		g.log.Debug("Upgrade failed", "user_id", userID, "error", err)
		return
	}

	conn := newConn(domain.SessionID(uuid.NewString()), userID, ws, g.log, g.settings)
	observability.ActiveConnections.Inc()
	conn.log.Debug("Connected")

	go conn.writePump()
	stop := context.AfterFunc(g.ctx, conn.Close)

	conn.readPump(g.ctx, g.orchestrator)

	stop()
	conn.Close()
	g.orchestrator.Disconnect(conn)
	observability.ActiveConnections.Dec()
	conn.log.Debug("Disconnected")
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(g.settings.Origins, "*") {
		return true
	}
	return slices.Contains(g.settings.Origins, origin)
}
