package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"hire-chat/domain"
	"hire-chat/domain/wire"
	"hire-chat/errors"
	"hire-chat/observability"
)

const channelPrefix = "chat:thread:"

func Channel(threadID domain.ThreadID) string {
	return channelPrefix + string(threadID)
}

// Redis forwards room broadcasts through Redis pub/sub.
// Publish only enqueues, the Publisher worker writes to Redis.
type Redis struct {
	client *redis.Client
	node   string
	log    *slog.Logger
	out    chan wire.RelayMessage
}

func NewRedis(client *redis.Client, node string, log *slog.Logger, bufferSize int) *Redis {
	return &Redis{
		client: client,
		node:   node,
		log:    log,
		out:    make(chan wire.RelayMessage, bufferSize),
	}
}

func (r *Redis) Publish(_ context.Context, msg wire.RelayMessage) error {
	select {
	case r.out <- msg:
		return nil
	default:
		observability.DroppedEvents.WithLabelValues("relay_full").Inc()
		return fmt.Errorf("%w: relay buffer full", errors.ErrTransport)
	}
}

// Publisher returns the worker draining the outgoing buffer.
func (r *Redis) Publisher() *Publisher {
	return &Publisher{relay: r}
}

// Subscriber returns the worker feeding remote broadcasts to target.
func (r *Redis) Subscriber(target Deliverer) *Subscriber {
	return &Subscriber{relay: r, target: target}
}

type Publisher struct {
	relay *Redis
}

func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-p.relay.out:
			payload, err := json.Marshal(msg)
			if err != nil {
				p.relay.log.Error("Relay message not encoded", "thread_id", msg.ThreadID, "error", err)
				continue
			}
			if err := p.relay.client.Publish(ctx, Channel(msg.ThreadID), payload).Err(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.relay.log.Warn("Relay publish failed", "thread_id", msg.ThreadID, "error", err)
				continue
			}
			observability.RelayMessages.WithLabelValues("out").Inc()
		}
	}
}

type Subscriber struct {
	relay  *Redis
	target Deliverer
}

// Run returns an error when the subscription breaks so the supervisor resubscribes.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.relay.client.PSubscribe(ctx, channelPrefix+"*")
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: subscribe: %v", errors.ErrTransport, err)
	}
	s.relay.log.Info("Relay subscribed", "node", s.relay.node)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("%w: relay subscription closed", errors.ErrTransport)
			}
			s.handle(m)
		}
	}
}

func (s *Subscriber) handle(m *redis.Message) {
	var msg wire.RelayMessage
	if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
		s.relay.log.Warn("Relay message ignored", "channel", m.Channel, "error", err)
		return
	}
	if msg.Origin == s.relay.node {
		return
	}
	if msg.ThreadID == "" {
		msg.ThreadID = domain.ThreadID(strings.TrimPrefix(m.Channel, channelPrefix))
	}
	observability.RelayMessages.WithLabelValues("in").Inc()
	s.target.Deliver(msg)
}
