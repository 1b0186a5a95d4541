package repositories

import (
	"context"
	"fmt"
	"time"

	"hire-chat/domain"
	"hire-chat/errors"

	"github.com/dgraph-io/badger/v4"
)

const threadPrefix = "thread:"

type ThreadRepository struct {
	db *badger.DB
}

func NewThreadRepository(db *badger.DB) ThreadRepository {
	return ThreadRepository{db: db}
}

func threadKey(id domain.ThreadID) []byte {
	return []byte(threadPrefix + string(id))
}

func (r ThreadRepository) GetThread(_ context.Context, id domain.ThreadID) (domain.Thread, error) {
	var thread domain.Thread
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(threadKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			thread, err = unmarshalThread(value)
			return err
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return domain.Thread{}, fmt.Errorf("thread %s: %w", id, errors.ErrNotFound)
	case err != nil:
		return domain.Thread{}, fmt.Errorf("%w: reading thread: %s", errors.ErrPersistence, err.Error())
	}
	return thread, nil
}

func (r ThreadRepository) SaveThread(_ context.Context, thread domain.Thread) error {
	if thread.Status == "" {
		thread.Status = domain.ThreadOpen
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(threadKey(thread.ID), marshalThread(thread))
	})
	if err != nil {
		return fmt.Errorf("%w: saving thread: %s", errors.ErrPersistence, err.Error())
	}
	return nil
}

func (r ThreadRepository) DeleteThread(_ context.Context, id domain.ThreadID) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(threadKey(id))
	})
	if err != nil {
		return fmt.Errorf("%w: deleting thread: %s", errors.ErrPersistence, err.Error())
	}
	return nil
}

// ListExpiredThreads returns closed threads whose retention window has elapsed.
func (r ThreadRepository) ListExpiredThreads(_ context.Context, now time.Time, retention time.Duration) ([]domain.Thread, error) {
	var expired []domain.Thread
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = []byte(threadPrefix)
		it := txn.NewIterator(options)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				thread, err := unmarshalThread(value)
				if err != nil {
					return err
				}
				if thread.Expired(now, retention) {
					expired = append(expired, thread)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing threads: %s", errors.ErrPersistence, err.Error())
	}
	return expired, nil
}
