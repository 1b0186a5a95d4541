package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"hire-chat/domain"
	"hire-chat/errors"
)

const (
	DefaultMaxBytes = 10 << 20
	sniffLen        = 3072
	maxNameLen      = 120
)

var AllowedTypes = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"application/pdf",
	"text/plain",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeName keeps letters, digits, dot, dash and underscore. Anything else becomes "_".
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if len(name) > maxNameLen {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:maxNameLen-len(ext)] + ext
	}
	if name == "" || name == "_" {
		name = "file"
	}
	return name
}

func URL(threadID domain.ThreadID, name string) string {
	return fmt.Sprintf("/api/files/%s/%s", threadID, name)
}

// Attachments stores uploaded files under <root>/<threadId>/<name>.
type Attachments struct {
	root     string
	maxBytes int64
	log      *slog.Logger
}

func NewAttachments(root string, maxBytes int64, log *slog.Logger) (*Attachments, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: file root %s: %v", errors.ErrPersistence, root, err)
	}
	return &Attachments{root: root, maxBytes: maxBytes, log: log}, nil
}

// Save sniffs the content type, enforces the size limit then writes the file.
// The name is made safe and suffixed when another file already uses it.
func (a *Attachments) Save(_ context.Context, threadID domain.ThreadID, name string, content io.Reader) (domain.Attachment, int64, error) {
	if !domain.ValidThreadID(string(threadID)) {
		return domain.Attachment{}, 0, fmt.Errorf("%w: thread id", errors.ErrValidation)
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(content, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return domain.Attachment{}, 0, fmt.Errorf("%w: reading upload: %v", errors.ErrTransport, err)
	}
	head = head[:n]
	if n == 0 {
		return domain.Attachment{}, 0, fmt.Errorf("%w: empty file", errors.ErrValidation)
	}
	detected := mimetype.Detect(head)
	if !Allowed(detected) {
		return domain.Attachment{}, 0, fmt.Errorf("%w: %s", errors.ErrFileType, detected.String())
	}

	dir := filepath.Join(a.root, string(threadID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return domain.Attachment{}, 0, fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return domain.Attachment{}, 0, fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	hash := sha256.New()
	limited := io.LimitReader(io.MultiReader(bytes.NewReader(head), content), a.maxBytes+1)
	size, err := io.Copy(io.MultiWriter(tmp, hash), limited)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return domain.Attachment{}, 0, fmt.Errorf("%w: writing upload: %v", errors.ErrPersistence, err)
	}
	if size > a.maxBytes {
		return domain.Attachment{}, 0, fmt.Errorf("%w: limit is %d bytes", errors.ErrFileTooLarge, a.maxBytes)
	}

	stored := a.available(dir, SafeName(name))
	if err := os.Rename(tmp.Name(), filepath.Join(dir, stored)); err != nil {
		return domain.Attachment{}, 0, fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}
	a.log.Debug("Attachment stored",
		"thread_id", threadID,
		"name", stored,
		"mime", detected.String(),
		"size", size,
		"sha256", hex.EncodeToString(hash.Sum(nil)),
	)
	return domain.Attachment{URL: URL(threadID, stored), Name: stored}, size, nil
}

// available returns name, or name with a short random suffix if it is taken.
func (a *Attachments) available(dir, name string) string {
	if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s-%s%s", base, uuid.NewString()[:8], ext)
}

// Path resolves a stored file. Names that SafeName would change are rejected.
func (a *Attachments) Path(threadID domain.ThreadID, name string) (string, error) {
	if !domain.ValidThreadID(string(threadID)) || name == "" || SafeName(name) != name {
		return "", fmt.Errorf("%w: file name", errors.ErrValidation)
	}
	path := filepath.Join(a.root, string(threadID), name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", errors.ErrNotFound
	}
	return path, nil
}

func (a *Attachments) DeleteThread(_ context.Context, threadID domain.ThreadID) error {
	if !domain.ValidThreadID(string(threadID)) {
		return fmt.Errorf("%w: thread id", errors.ErrValidation)
	}
	if err := os.RemoveAll(filepath.Join(a.root, string(threadID))); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}
	return nil
}

// Allowed matches the detected type itself, never its parents: html is a child of text/plain.
func Allowed(detected *mimetype.MIME) bool {
	for _, allowed := range AllowedTypes {
		if detected.Is(allowed) {
			return true
		}
	}
	return false
}
