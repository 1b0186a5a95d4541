// Package wire maps commands and events to the {"event": name, "data": payload} JSON envelope.
package wire

import (
	"encoding/json"
	"fmt"

	"hire-chat/domain"
	"hire-chat/domain/event"
	"hire-chat/errors"
)

const (
	CommandJoin     = "join"
	CommandLeave    = "leave"
	CommandSend     = "send"
	CommandTyping   = "typing"
	CommandMarkRead = "markRead"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeCommand parses and validates an inbound frame.
// Unknown event names and malformed payloads are validation errors.
func DecodeCommand(raw []byte) (domain.Command, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrValidation, err.Error())
	}
	var cmd domain.Command
	switch env.Event {
	case CommandJoin:
		cmd = &domain.Join{}
	case CommandLeave:
		cmd = &domain.Leave{}
	case CommandSend:
		cmd = &domain.Send{}
	case CommandTyping:
		cmd = &domain.Typing{}
	case CommandMarkRead:
		cmd = &domain.MarkRead{}
	default:
		return nil, fmt.Errorf("%w %q", errors.ErrUnknownEvent, env.Event)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data", errors.ErrValidation)
	}
	if err := json.Unmarshal(env.Data, cmd); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrValidation, err.Error())
	}
	if err := domain.Validate(cmd); err != nil {
		return nil, err
	}
	return deref(cmd), nil
}

func deref(cmd domain.Command) domain.Command {
	switch c := cmd.(type) {
	case *domain.Join:
		return *c
	case *domain.Leave:
		return *c
	case *domain.Send:
		return *c
	case *domain.Typing:
		return *c
	case *domain.MarkRead:
		return *c
	default:
		return cmd
	}
}

func EncodeCommand(cmd domain.Command) ([]byte, error) {
	var name string
	switch cmd.(type) {
	case domain.Join:
		name = CommandJoin
	case domain.Leave:
		name = CommandLeave
	case domain.Send:
		name = CommandSend
	case domain.Typing:
		name = CommandTyping
	case domain.MarkRead:
		name = CommandMarkRead
	default:
		return nil, fmt.Errorf("%w %T", errors.ErrUnknownEvent, cmd)
	}
	return encode(name, cmd)
}

func EncodeEvent(e event.Event) ([]byte, error) {
	return encode(string(e.Name()), e)
}

// DecodeEvent is the client side counterpart of EncodeEvent.
func DecodeEvent(raw []byte) (event.Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrValidation, err.Error())
	}
	var e event.Event
	switch event.Name(env.Event) {
	case event.NameJoined:
		e = &event.Joined{}
	case event.NameRoomSnapshot:
		e = &event.RoomSnapshot{}
	case event.NamePresenceChanged:
		e = &event.PresenceChanged{}
	case event.NameMessageNew:
		e = &event.MessageNew{}
	case event.NameMessageAck:
		e = &event.MessageAck{}
	case event.NameTypingChanged:
		e = &event.TypingChanged{}
	case event.NameReadReceipt:
		e = &event.ReadReceipt{}
	case event.NameThreadClosed:
		e = &event.ThreadClosed{}
	case event.NameError:
		e = &event.Error{}
	default:
		return nil, fmt.Errorf("%w %q", errors.ErrUnknownEvent, env.Event)
	}
	if err := json.Unmarshal(env.Data, e); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrValidation, err.Error())
	}
	switch v := e.(type) {
	case *event.Joined:
		return *v, nil
	case *event.RoomSnapshot:
		return *v, nil
	case *event.PresenceChanged:
		return *v, nil
	case *event.MessageNew:
		return *v, nil
	case *event.MessageAck:
		return *v, nil
	case *event.TypingChanged:
		return *v, nil
	case *event.ReadReceipt:
		return *v, nil
	case *event.ThreadClosed:
		return *v, nil
	case *event.Error:
		return *v, nil
	}
	return e, nil
}

func encode(name string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: name, Data: data})
}
