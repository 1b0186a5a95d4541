package relay

import (
	"context"

	"hire-chat/domain/wire"
)

// Local is used by single-process deployments, nothing leaves the process.
type Local struct{}

func (Local) Publish(context.Context, wire.RelayMessage) error { return nil }

// Deliverer receives broadcasts published by other processes.
type Deliverer interface {
	Deliver(msg wire.RelayMessage)
}
