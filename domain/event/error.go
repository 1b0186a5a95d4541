package event

import (
	"hire-chat/domain"
	"hire-chat/errors"
)

// FromError builds the "error" event sent back to the session that caused err.
func FromError(threadID domain.ThreadID, clientMessageID string, err error) Error {
	return Error{
		Code:            errors.Code(err),
		Message:         err.Error(),
		ThreadID:        threadID,
		ClientMessageID: clientMessageID,
	}
}
