package repositories

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Describe decodes a raw badger entry for the debug inspector.
func Describe(key string, val []byte) (kind, detail string) {
	switch {
	case strings.HasPrefix(key, "msg:"):
		m, err := unmarshalMessage(val)
		if err != nil {
			return "MESSAGE", "unreadable: " + err.Error()
		}
		read := lo.Ternary(m.IsRead, "read", "unread")
		return "MESSAGE", fmt.Sprintf("%s -> %s (%s, %d attachments): %s", m.SenderID, m.ReceiverID, read, len(m.Attachments), m.Body)
	case strings.HasPrefix(key, threadPrefix):
		t, err := unmarshalThread(val)
		if err != nil {
			return "THREAD", "unreadable: " + err.Error()
		}
		return "THREAD", fmt.Sprintf("%s / %s %s", t.CandidateID, t.EmployerID, t.Status)
	case strings.HasPrefix(key, "mid:"), strings.HasPrefix(key, "idem:"):
		return "INDEX", string(val)
	}
	return "UNKNOWN", fmt.Sprintf("%d bytes", len(val))
}
