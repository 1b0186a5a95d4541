package repositories

import (
	"fmt"
	"time"

	"hire-chat/domain"

	"google.golang.org/protobuf/encoding/protowire"
)

// Badger values are protobuf encoded by hand so the records stay readable
// by any protobuf tool without generated code.
const (
	msgFieldID protowire.Number = iota + 1
	msgFieldThread
	msgFieldSender
	msgFieldReceiver
	msgFieldBody
	msgFieldCreatedAt
	msgFieldIsRead
	msgFieldAttachment
	msgFieldLang
	msgFieldClientMessageID
)

const (
	attFieldURL protowire.Number = iota + 1
	attFieldName
)

const (
	threadFieldID protowire.Number = iota + 1
	threadFieldCandidate
	threadFieldEmployer
	threadFieldStatus
	threadFieldClosedAt
)

type diskMessage struct {
	domain.Message
	ClientMessageID string
}

func marshalMessage(m diskMessage) []byte {
	var b []byte
	b = appendString(b, msgFieldID, string(m.ID))
	b = appendString(b, msgFieldThread, string(m.ThreadID))
	b = appendString(b, msgFieldSender, string(m.SenderID))
	b = appendString(b, msgFieldReceiver, string(m.ReceiverID))
	b = appendString(b, msgFieldBody, m.Body)
	b = protowire.AppendTag(b, msgFieldCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.CreatedAt.UnixNano()))
	if m.IsRead {
		b = protowire.AppendTag(b, msgFieldIsRead, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	for _, a := range m.Attachments {
		var nested []byte
		nested = appendString(nested, attFieldURL, a.URL)
		nested = appendString(nested, attFieldName, a.Name)
		b = protowire.AppendTag(b, msgFieldAttachment, protowire.BytesType)
		b = protowire.AppendBytes(b, nested)
	}
	b = appendString(b, msgFieldLang, m.Lang)
	b = appendString(b, msgFieldClientMessageID, m.ClientMessageID)
	return b
}

func unmarshalMessage(b []byte) (diskMessage, error) {
	var m diskMessage
	m.Attachments = []domain.Attachment{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == msgFieldCreatedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.CreatedAt = time.Unix(0, int64(v)).UTC()
			return n, nil
		case num == msgFieldIsRead && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.IsRead = protowire.DecodeBool(v)
			return n, nil
		case num == msgFieldAttachment && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			a, err := unmarshalAttachment(v)
			m.Attachments = append(m.Attachments, a)
			return n, err
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			switch num {
			case msgFieldID:
				m.ID = domain.MessageID(v)
			case msgFieldThread:
				m.ThreadID = domain.ThreadID(v)
			case msgFieldSender:
				m.SenderID = domain.UserID(v)
			case msgFieldReceiver:
				m.ReceiverID = domain.UserID(v)
			case msgFieldBody:
				m.Body = v
			case msgFieldLang:
				m.Lang = v
			case msgFieldClientMessageID:
				m.ClientMessageID = v
			}
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return m, err
}

func unmarshalAttachment(b []byte) (domain.Attachment, error) {
	var a domain.Attachment
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeString(b)
		switch num {
		case attFieldURL:
			a.URL = v
		case attFieldName:
			a.Name = v
		}
		return n, nil
	})
	return a, err
}

func marshalThread(t domain.Thread) []byte {
	var b []byte
	b = appendString(b, threadFieldID, string(t.ID))
	b = appendString(b, threadFieldCandidate, string(t.CandidateID))
	b = appendString(b, threadFieldEmployer, string(t.EmployerID))
	b = appendString(b, threadFieldStatus, string(t.Status))
	if t.ClosedAt != nil {
		b = protowire.AppendTag(b, threadFieldClosedAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t.ClosedAt.UnixNano()))
	}
	return b
}

func unmarshalThread(b []byte) (domain.Thread, error) {
	var t domain.Thread
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == threadFieldClosedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			closedAt := time.Unix(0, int64(v)).UTC()
			t.ClosedAt = &closedAt
			return n, nil
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			switch num {
			case threadFieldID:
				t.ID = domain.ThreadID(v)
			case threadFieldCandidate:
				t.CandidateID = domain.UserID(v)
			case threadFieldEmployer:
				t.EmployerID = domain.UserID(v)
			case threadFieldStatus:
				t.Status = domain.ThreadStatus(v)
			}
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return t, err
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// consumeFields walks every field of b; fn returns how many bytes it consumed.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("decoding tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("decoding field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
