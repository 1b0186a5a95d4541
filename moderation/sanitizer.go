package moderation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"hire-chat/errors"

	"github.com/abadojack/whatlanggo"
)

const DefaultMaxBodyLength = 2000

var (
	dataURIPattern = regexp.MustCompile(`(?i)data:[^;\s]+;base64,[A-Za-z0-9+/=]+`)
	base64Pattern  = regexp.MustCompile(`[A-Za-z0-9+/]{32,}={0,2}`)
	tagPattern     = regexp.MustCompile(`[<>]`)
)

// Sanitizer turns a raw message body into the plain text that gets persisted.
type Sanitizer struct {
	maxLength int
	censor    *Censor
}

// NewSanitizer builds a sanitizer; censor may be nil.
func NewSanitizer(maxLength int, censor *Censor) Sanitizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxBodyLength
	}
	return Sanitizer{maxLength: maxLength, censor: censor}
}

// Clean truncates, strips markup and inline binary payloads, then censors.
// A body left empty is only accepted when the message carries attachments.
func (s Sanitizer) Clean(body string, hasAttachments bool) (string, error) {
	body = truncate(body, s.maxLength)
	body = tagPattern.ReplaceAllString(body, "")
	body = dataURIPattern.ReplaceAllString(body, "")
	body = base64Pattern.ReplaceAllString(body, "")
	body = strings.TrimSpace(body)
	if body == "" && !hasAttachments {
		return "", errors.ErrEmptyBody
	}
	if s.censor != nil {
		body = s.censor.Apply(body)
	}
	return body, nil
}

// Language returns the ISO 639-1 code of body when detection is reliable.
func (s Sanitizer) Language(body string) string {
	if utf8.RuneCountInString(body) < 12 {
		return ""
	}
	info := whatlanggo.Detect(body)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
