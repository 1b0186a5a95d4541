package repositories

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"hire-chat/domain"
	"hire-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

// MessageRepository is the single-process message log backed by BadgerDB.
//
// Keys:
//
//	msg:{thread}:{createdAt padded to 19 digits}:{id} -> message record
//	mid:{thread}:{id}                                -> msg key
//	idem:{thread}:{sender}:{clientMessageId}         -> msg key
//
// The zero padded timestamp makes lexicographic key order match the
// (createdAt, id) order, so history is a reverse prefix scan.
type MessageRepository struct {
	db     *badger.DB
	log    *slog.Logger
	cipher BodyCipher
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

// WithCipher encrypts the bodies written from now on. Older plain bodies stay readable.
func (r MessageRepository) WithCipher(c BodyCipher) MessageRepository {
	r.cipher = c
	return r
}

func messagePrefix(threadID domain.ThreadID) []byte {
	return []byte(fmt.Sprintf("msg:%s:", threadID))
}

func messageKey(threadID domain.ThreadID, createdAt time.Time, id domain.MessageID) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", threadID, createdAt.UnixNano(), id))
}

func messageIDKey(threadID domain.ThreadID, id domain.MessageID) []byte {
	return []byte(fmt.Sprintf("mid:%s:%s", threadID, id))
}

// idempotencyKey is scoped to the sender: both participants may pick the same client id.
func idempotencyKey(threadID domain.ThreadID, senderID domain.UserID, clientMessageID string) []byte {
	return []byte(fmt.Sprintf("idem:%s:%s:%s", threadID, senderID, clientMessageID))
}

// Create stores the message and its idempotency entry in one transaction.
func (r MessageRepository) Create(_ context.Context, m domain.Message, clientMessageID string) (domain.Message, bool, error) {
	var stored domain.Message
	duplicate := false
	err := r.db.Update(func(txn *badger.Txn) error {
		if clientMessageID != "" {
			item, err := txn.Get(idempotencyKey(m.ThreadID, m.SenderID, clientMessageID))
			switch {
			case err == nil:
				key, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				existing, err := load(txn, key)
				if err != nil {
					return err
				}
				existing.Body = r.cipher.Open(existing.Body)
				stored, duplicate = existing.Message, true
				return nil
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
		}

		record := diskMessage{Message: m, ClientMessageID: clientMessageID}
		sealed, err := r.cipher.Seal(m.Body)
		if err != nil {
			return err
		}
		record.Body = sealed
		key := messageKey(m.ThreadID, m.CreatedAt, m.ID)
		if err := txn.Set(key, marshalMessage(record)); err != nil {
			return err
		}
		if err := txn.Set(messageIDKey(m.ThreadID, m.ID), key); err != nil {
			return err
		}
		if clientMessageID != "" {
			if err := txn.Set(idempotencyKey(m.ThreadID, m.SenderID, clientMessageID), key); err != nil {
				return err
			}
		}
		stored = m
		return nil
	})
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("%w: storing message: %s", errors.ErrPersistence, err.Error())
	}
	return stored, duplicate, nil
}

// History returns up to limit messages strictly older than before, in ascending order.
func (r MessageRepository) History(_ context.Context, threadID domain.ThreadID, limit int, before *domain.Cursor) (domain.Page, error) {
	var collected []domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(threadID)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch before {
		case nil:
			// Past the newest key of the thread, then walk backwards
			seekKey = append(slices.Clone(prefix), '~')
		default:
			seekKey = messageKey(threadID, before.CreatedAt, before.ID)
		}

		it.Seek(seekKey)
		if before != nil && it.ValidForPrefix(prefix) && bytes.Equal(it.Item().Key(), seekKey) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix) && len(collected) <= limit; it.Next() {
			err := it.Item().Value(func(value []byte) error {
				dm, err := unmarshalMessage(value)
				if err != nil {
					return err
				}
				dm.Body = r.cipher.Open(dm.Body)
				collected = append(collected, dm.Message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Page{}, fmt.Errorf("%w: reading history: %s", errors.ErrPersistence, err.Error())
	}
	return newPage(collected, limit), nil
}

// newPage turns newest-first rows (at most limit+1) into an ascending page.
func newPage(newestFirst []domain.Message, limit int) domain.Page {
	hasMore := len(newestFirst) > limit
	if hasMore {
		newestFirst = newestFirst[:limit]
	}
	messages := slices.Clone(newestFirst)
	slices.Reverse(messages)
	if messages == nil {
		messages = []domain.Message{}
	}
	page := domain.Page{Messages: messages, HasMore: hasMore}
	if len(messages) > 0 {
		page.NextCursor = lo.ToPtr(messages[0].Cursor())
	}
	return page
}

func (r MessageRepository) MarkRead(_ context.Context, threadID domain.ThreadID, readerID domain.UserID, ids []domain.MessageID) ([]domain.MessageID, error) {
	var read []domain.MessageID
	err := r.db.Update(func(txn *badger.Txn) error {
		read = nil
		for _, id := range lo.Uniq(ids) {
			item, err := txn.Get(messageIDKey(threadID, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			key, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			dm, err := load(txn, key)
			if err != nil {
				return err
			}
			if dm.ReceiverID != readerID {
				continue
			}
			if !dm.IsRead {
				dm.IsRead = true
				if err := txn.Set(key, marshalMessage(dm)); err != nil {
					return err
				}
			}
			read = append(read, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marking read: %s", errors.ErrPersistence, err.Error())
	}
	return read, nil
}

// DeleteThreadMessages removes the messages and their indexes, returning how many messages were dropped.
func (r MessageRepository) DeleteThreadMessages(_ context.Context, threadID domain.ThreadID) (int, error) {
	prefix := messagePrefix(threadID)
	count := 0
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: counting messages: %s", errors.ErrPersistence, err.Error())
	}
	err = r.db.DropPrefix(
		prefix,
		[]byte(fmt.Sprintf("mid:%s:", threadID)),
		[]byte(fmt.Sprintf("idem:%s:", threadID)),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting messages: %s", errors.ErrPersistence, err.Error())
	}
	r.log.Debug("Thread messages deleted", "thread_id", threadID, "count", count)
	return count, nil
}

func load(txn *badger.Txn, key []byte) (diskMessage, error) {
	item, err := txn.Get(key)
	if err != nil {
		return diskMessage{}, err
	}
	var dm diskMessage
	err = item.Value(func(value []byte) error {
		dm, err = unmarshalMessage(value)
		return err
	})
	return dm, err
}
