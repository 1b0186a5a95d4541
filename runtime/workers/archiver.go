package workers

import (
	"context"
	"log/slog"
	"time"

	"hire-chat/contract"
	"hire-chat/domain"
	"hire-chat/observability"
)

// Archiver purges threads closed for longer than the retention period:
// their messages, attachments and search documents, then the thread itself.
type Archiver struct {
	log         *slog.Logger
	threads     contract.ThreadStore
	messages    contract.MessageStore
	attachments contract.AttachmentStore
	search      contract.SearchIndex
	retention   time.Duration
	interval    time.Duration
	now         func() time.Time
}

func NewArchiver(
	log *slog.Logger,
	threads contract.ThreadStore,
	messages contract.MessageStore,
	attachments contract.AttachmentStore,
	search contract.SearchIndex,
	retention, interval time.Duration,
) *Archiver {
	return &Archiver{
		log:         log,
		threads:     threads,
		messages:    messages,
		attachments: attachments,
		search:      search,
		retention:   retention,
		interval:    interval,
		now:         time.Now,
	}
}

func (w *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("Archive sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep purges every expired thread once and returns how many were removed.
// A thread failing to purge is kept for the next sweep.
func (w *Archiver) Sweep(ctx context.Context) (int, error) {
	expired, err := w.threads.ListExpiredThreads(ctx, w.now(), w.retention)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, thread := range expired {
		if ctx.Err() != nil {
			return purged, ctx.Err()
		}
		if err := w.purge(ctx, thread.ID); err != nil {
			w.log.Warn("Thread not archived", "thread_id", thread.ID, "error", err)
			continue
		}
		purged++
		observability.ArchivedThreads.Inc()
	}
	if purged > 0 {
		w.log.Info("Archived closed threads", "count", purged)
	}
	return purged, nil
}

func (w *Archiver) purge(ctx context.Context, threadID domain.ThreadID) error {
	deleted, err := w.messages.DeleteThreadMessages(ctx, threadID)
	if err != nil {
		return err
	}
	if w.attachments != nil {
		if err := w.attachments.DeleteThread(ctx, threadID); err != nil {
			return err
		}
	}
	if w.search != nil {
		if err := w.search.DeleteThread(ctx, threadID); err != nil {
			return err
		}
	}
	w.log.Debug("Thread purged", "thread_id", threadID, "messages", deleted)
	return w.threads.DeleteThread(ctx, threadID)
}
