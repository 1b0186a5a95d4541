package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"hire-chat/contract"
	"hire-chat/domain"
	"hire-chat/errors"
	"hire-chat/observability"
)

type IChatService interface {
	History(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, limit int, before string) (domain.Page, error)
	Upload(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, files []Upload) ([]domain.Attachment, error)
	File(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, name string) (string, error)
	Search(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, query string, limit int) ([]domain.SearchHit, error)
	ClearMessages(ctx context.Context, userID domain.UserID, threadID domain.ThreadID) (int, error)
	SaveThread(ctx context.Context, userID domain.UserID, thread domain.Thread) (domain.Thread, error)
	CloseThread(ctx context.Context, userID domain.UserID, threadID domain.ThreadID) (domain.Thread, error)
	DeleteThread(ctx context.Context, userID domain.UserID, threadID domain.ThreadID) error
}

// Upload is one file of a multipart attachment request.
type Upload struct {
	Name    string
	Content io.Reader
}

type Limits struct {
	HistoryDefault int
	HistoryMax     int
	Uploads        int
	UploadWindow   time.Duration
}

// ChatService serves the REST side of the chat. Real-time traffic goes through the rooms.
type ChatService struct {
	log         *slog.Logger
	threads     contract.ThreadStore
	messages    contract.MessageStore
	search      contract.SearchIndex
	attachments contract.AttachmentStore
	limiter     contract.RateLimiter
	notifier    contract.ThreadNotifier
	limits      Limits
	now         func() time.Time
}

func NewChatService(
	log *slog.Logger,
	threads contract.ThreadStore,
	messages contract.MessageStore,
	search contract.SearchIndex,
	attachments contract.AttachmentStore,
	limiter contract.RateLimiter,
	limits Limits,
) *ChatService {
	if limits.HistoryMax <= 0 {
		limits.HistoryMax = 100
	}
	if limits.HistoryDefault <= 0 || limits.HistoryDefault > limits.HistoryMax {
		limits.HistoryDefault = min(30, limits.HistoryMax)
	}
	return &ChatService{
		log:         log,
		threads:     threads,
		messages:    messages,
		search:      search,
		attachments: attachments,
		limiter:     limiter,
		limits:      limits,
		now:         time.Now,
	}
}

// WithNotifier lets the live rooms learn about threads closed over REST.
func (s *ChatService) WithNotifier(notifier contract.ThreadNotifier) *ChatService {
	s.notifier = notifier
	return s
}

// History returns messages strictly older than before, oldest first.
// A zero limit means the default page size, larger ones are capped.
func (s *ChatService) History(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, limit int, before string) (domain.Page, error) {
	if _, err := s.authorize(ctx, userID, threadID, false); err != nil {
		return domain.Page{}, err
	}
	switch {
	case limit < 0:
		return domain.Page{}, fmt.Errorf("%w: limit must be positive", errors.ErrValidation)
	case limit == 0:
		limit = s.limits.HistoryDefault
	case limit > s.limits.HistoryMax:
		limit = s.limits.HistoryMax
	}
	var cursor *domain.Cursor
	if before != "" {
		c, err := domain.ParseCursor(before)
		if err != nil {
			return domain.Page{}, err
		}
		cursor = &c
	}
	return s.messages.History(ctx, threadID, limit, cursor)
}

func (s *ChatService) Upload(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, files []Upload) ([]domain.Attachment, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no file", errors.ErrValidation)
	}
	if _, err := s.authorize(ctx, userID, threadID, true); err != nil {
		return nil, err
	}
	if err := s.allowUpload(ctx, userID); err != nil {
		return nil, err
	}
	res := make([]domain.Attachment, 0, len(files))
	for _, f := range files {
		attachment, size, err := s.attachments.Save(ctx, threadID, f.Name, f.Content)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		s.log.Debug("File uploaded", "thread_id", threadID, "user_id", userID, "name", attachment.Name, "size", size)
		res = append(res, attachment)
	}
	return res, nil
}

func (s *ChatService) File(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, name string) (string, error) {
	if _, err := s.authorize(ctx, userID, threadID, false); err != nil {
		return "", err
	}
	return s.attachments.Path(threadID, name)
}

func (s *ChatService) Search(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, query string, limit int) ([]domain.SearchHit, error) {
	if s.search == nil {
		return nil, fmt.Errorf("%w: search is disabled", errors.ErrRoomUnavailable)
	}
	if _, err := s.authorize(ctx, userID, threadID, false); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.limits.HistoryMax {
		limit = s.limits.HistoryDefault
	}
	return s.search.Search(ctx, threadID, query, limit)
}

// ClearMessages removes every message of the thread with its files and search documents.
func (s *ChatService) ClearMessages(ctx context.Context, userID domain.UserID, threadID domain.ThreadID) (int, error) {
	if _, err := s.authorize(ctx, userID, threadID, false); err != nil {
		return 0, err
	}
	deleted, err := s.messages.DeleteThreadMessages(ctx, threadID)
	if err != nil {
		return 0, err
	}
	if err := s.attachments.DeleteThread(ctx, threadID); err != nil {
		return deleted, err
	}
	if s.search != nil {
		if err := s.search.DeleteThread(ctx, threadID); err != nil {
			return deleted, err
		}
	}
	s.log.Info("Thread messages cleared", "thread_id", threadID, "user_id", userID, "deleted", deleted)
	return deleted, nil
}

// SaveThread creates a thread or updates an existing one. Only its employer may do so,
// and the participants of an existing thread cannot be swapped.
func (s *ChatService) SaveThread(ctx context.Context, userID domain.UserID, thread domain.Thread) (domain.Thread, error) {
	if thread.Status == "" {
		thread.Status = domain.ThreadOpen
	}
	if err := domain.Validate(thread); err != nil {
		return domain.Thread{}, err
	}
	if thread.EmployerID != userID {
		return domain.Thread{}, errors.ErrForbidden
	}

	existing, err := s.threads.GetThread(ctx, thread.ID)
	switch {
	case err == nil:
		if existing.EmployerID != thread.EmployerID || existing.CandidateID != thread.CandidateID {
			return domain.Thread{}, fmt.Errorf("%w: participants cannot change", errors.ErrValidation)
		}
		if existing.Closed() {
			thread = thread.Close(*existing.ClosedAt)
		}
	case errors.Is(err, errors.ErrNotFound):
	default:
		return domain.Thread{}, err
	}
	if thread.Status == domain.ThreadClosed && thread.ClosedAt == nil {
		thread = thread.Close(s.now())
	}
	if err := s.threads.SaveThread(ctx, thread); err != nil {
		return domain.Thread{}, err
	}
	return thread, nil
}

// CloseThread ends the conversation. Further sends and uploads are refused,
// history stays readable until the archiver purges it.
func (s *ChatService) CloseThread(ctx context.Context, userID domain.UserID, threadID domain.ThreadID) (domain.Thread, error) {
	thread, err := s.authorize(ctx, userID, threadID, false)
	if err != nil {
		return domain.Thread{}, err
	}
	if thread.Closed() {
		return thread, nil
	}
	thread = thread.Close(s.now())
	if err := s.threads.SaveThread(ctx, thread); err != nil {
		return domain.Thread{}, err
	}
	s.log.Info("Thread closed", "thread_id", threadID, "user_id", userID)
	if s.notifier != nil {
		s.notifier.ThreadClosed(ctx, thread)
	}
	return thread, nil
}

// DeleteThread removes the thread and everything attached to it.
func (s *ChatService) DeleteThread(ctx context.Context, userID domain.UserID, threadID domain.ThreadID) error {
	if _, err := s.ClearMessages(ctx, userID, threadID); err != nil {
		return err
	}
	return s.threads.DeleteThread(ctx, threadID)
}

func (s *ChatService) authorize(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, write bool) (domain.Thread, error) {
	if !domain.ValidThreadID(string(threadID)) {
		return domain.Thread{}, fmt.Errorf("%w: threadId", errors.ErrValidation)
	}
	thread, err := s.threads.GetThread(ctx, threadID)
	if err != nil {
		return domain.Thread{}, err
	}
	return thread, thread.Authorize(userID, write)
}

func (s *ChatService) allowUpload(ctx context.Context, userID domain.UserID) error {
	if s.limiter == nil || s.limits.Uploads <= 0 {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, fmt.Sprintf("upload:%s", userID), s.limits.Uploads, s.limits.UploadWindow)
	if err != nil {
		s.log.Warn("Rate limiter unavailable", "error", err)
		return nil
	}
	if !ok {
		observability.RateLimitHits.WithLabelValues("upload").Inc()
		return errors.ErrRateLimited
	}
	return nil
}
