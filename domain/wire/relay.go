package wire

import (
	"encoding/json"

	"hire-chat/domain"
	"hire-chat/domain/event"
)

// RelayMessage is a room broadcast forwarded to the other server processes.
// Exclusions follow the local delivery rules of the originating room.
type RelayMessage struct {
	Origin         string           `json:"origin"`
	ThreadID       domain.ThreadID  `json:"threadId"`
	ExcludeSession domain.SessionID `json:"excludeSession,omitempty"`
	ExcludeUser    domain.UserID    `json:"excludeUser,omitempty"`
	Frame          json.RawMessage  `json:"frame"`
}

func NewRelayMessage(origin string, e event.Event, excludeSession domain.SessionID, excludeUser domain.UserID) (RelayMessage, error) {
	frame, err := EncodeEvent(e)
	if err != nil {
		return RelayMessage{}, err
	}
	return RelayMessage{
		Origin:         origin,
		ThreadID:       e.Thread(),
		ExcludeSession: excludeSession,
		ExcludeUser:    excludeUser,
		Frame:          frame,
	}, nil
}

func (m RelayMessage) Event() (event.Event, error) {
	return DecodeEvent(m.Frame)
}
