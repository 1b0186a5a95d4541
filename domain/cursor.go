package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hire-chat/errors"
)

// Cursor points at a message in the (createdAt, id) order.
// On the wire it is an opaque base64 token.
type Cursor struct {
	CreatedAt time.Time
	ID        MessageID
}

func (c Cursor) String() string {
	raw := fmt.Sprintf("%d:%s", c.CreatedAt.UnixNano(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func ParseCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, errors.ErrInvalidCursor
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return Cursor{}, errors.ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || nanos < 0 {
		return Cursor{}, errors.ErrInvalidCursor
	}
	return Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: MessageID(id)}, nil
}

func (c Cursor) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Cursor) UnmarshalJSON(data []byte) error {
	var token string
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}
	parsed, err := ParseCursor(token)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
