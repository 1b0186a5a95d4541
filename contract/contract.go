//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"io"
	"reflect"
	"time"

	"hire-chat/domain"
	"hire-chat/domain/event"
	"hire-chat/domain/wire"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives server events. Consume must not block on a slow peer.
type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
}

// Session is one authenticated connection.
type Session interface {
	EventSink
	ID() domain.SessionID
	UserID() domain.UserID
}

type IOrchestrator interface {
	Dispatch(ctx context.Context, session Session, cmd domain.Command) error
	Disconnect(session Session)
}

type MessageStore interface {
	// Create persists message unless its sender already used clientMessageID in the
	// thread, in which case the original message is returned with duplicate set.
	Create(ctx context.Context, message domain.Message, clientMessageID string) (stored domain.Message, duplicate bool, err error)
	History(ctx context.Context, threadID domain.ThreadID, limit int, before *domain.Cursor) (domain.Page, error)
	// MarkRead flips isRead for ids addressed to readerID and returns every id now read.
	MarkRead(ctx context.Context, threadID domain.ThreadID, readerID domain.UserID, ids []domain.MessageID) ([]domain.MessageID, error)
	DeleteThreadMessages(ctx context.Context, threadID domain.ThreadID) (int, error)
}

type ThreadStore interface {
	GetThread(ctx context.Context, id domain.ThreadID) (domain.Thread, error)
	SaveThread(ctx context.Context, thread domain.Thread) error
	DeleteThread(ctx context.Context, id domain.ThreadID) error
	ListExpiredThreads(ctx context.Context, now time.Time, retention time.Duration) ([]domain.Thread, error)
}

type SearchIndex interface {
	Index(ctx context.Context, message domain.Message) error
	Search(ctx context.Context, threadID domain.ThreadID, query string, limit int) ([]domain.SearchHit, error)
	DeleteThread(ctx context.Context, threadID domain.ThreadID) error
}

type AttachmentStore interface {
	Save(ctx context.Context, threadID domain.ThreadID, name string, content io.Reader) (domain.Attachment, int64, error)
	Path(threadID domain.ThreadID, name string) (string, error)
	DeleteThread(ctx context.Context, threadID domain.ThreadID) error
}

// Relay carries room broadcasts to the other server processes.
type Relay interface {
	Publish(ctx context.Context, msg wire.RelayMessage) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ThreadNotifier tells the live rooms about thread changes made outside of them.
type ThreadNotifier interface {
	ThreadClosed(ctx context.Context, thread domain.Thread)
}
