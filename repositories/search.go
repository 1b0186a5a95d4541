package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"hire-chat/domain"
	"hire-chat/errors"

	"github.com/blugelabs/bluge"
)

const (
	fieldID      = "_id"
	fieldThread  = "thread"
	fieldSender  = "sender"
	fieldBody    = "body"
	fieldCreated = "created"

	deleteBatchSize = 500
)

// SearchRepository keeps a full text index of message bodies, one document per message.
type SearchRepository struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewSearchRepository(writer *bluge.Writer, log *slog.Logger) SearchRepository {
	return SearchRepository{writer: writer, log: log}
}

func (r SearchRepository) Index(_ context.Context, m domain.Message) error {
	if strings.TrimSpace(m.Body) == "" {
		return nil
	}
	doc := bluge.NewDocument(string(m.ID))
	doc.AddField(bluge.NewKeywordField(fieldThread, string(m.ThreadID)).StoreValue())
	doc.AddField(bluge.NewKeywordField(fieldSender, string(m.SenderID)).StoreValue())
	doc.AddField(bluge.NewTextField(fieldBody, m.Body).StoreValue())
	doc.AddField(bluge.NewDateTimeField(fieldCreated, m.CreatedAt).StoreValue())
	if err := r.writer.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("%w: indexing message: %s", errors.ErrPersistence, err.Error())
	}
	return nil
}

// Search matches query against the bodies of one thread, best score first.
func (r SearchRepository) Search(ctx context.Context, threadID domain.ThreadID, query string, limit int) ([]domain.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", errors.ErrValidation)
	}
	q := bluge.NewBooleanQuery().
		AddMust(bluge.NewTermQuery(string(threadID)).SetField(fieldThread)).
		AddMust(bluge.NewMatchQuery(query).SetField(fieldBody))

	reader, err := r.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("%w: opening index reader: %s", errors.ErrPersistence, err.Error())
	}
	defer func() { _ = reader.Close() }()

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, q))
	if err != nil {
		return nil, fmt.Errorf("%w: searching: %s", errors.ErrPersistence, err.Error())
	}

	hits := []domain.SearchHit{}
	match, err := iterator.Next()
	for err == nil && match != nil {
		hit := domain.SearchHit{Score: match.Score}
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case fieldID:
				hit.MessageID = domain.MessageID(value)
			case fieldSender:
				hit.SenderID = domain.UserID(value)
			case fieldBody:
				hit.Body = string(value)
			case fieldCreated:
				if createdAt, err := bluge.DecodeDateTime(value); err == nil {
					hit.CreatedAt = createdAt.UTC()
				}
			}
			return true
		})
		if visitErr != nil {
			return nil, visitErr
		}
		hits = append(hits, hit)
		match, err = iterator.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading search results: %s", errors.ErrPersistence, err.Error())
	}
	return hits, nil
}

// DeleteThread removes every document of the thread, batch by batch.
func (r SearchRepository) DeleteThread(ctx context.Context, threadID domain.ThreadID) error {
	for {
		ids, err := r.threadDocuments(ctx, threadID)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		batch := bluge.NewBatch()
		for _, id := range ids {
			batch.Delete(bluge.Identifier(id))
		}
		if err := r.writer.Batch(batch); err != nil {
			return fmt.Errorf("%w: deleting documents: %s", errors.ErrPersistence, err.Error())
		}
		r.log.Debug("Search documents deleted", "thread_id", threadID, "count", len(ids))
	}
}

func (r SearchRepository) threadDocuments(ctx context.Context, threadID domain.ThreadID) ([]string, error) {
	reader, err := r.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("%w: opening index reader: %s", errors.ErrPersistence, err.Error())
	}
	defer func() { _ = reader.Close() }()

	q := bluge.NewTermQuery(string(threadID)).SetField(fieldThread)
	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(deleteBatchSize, q))
	if err != nil {
		return nil, fmt.Errorf("%w: searching: %s", errors.ErrPersistence, err.Error())
	}
	var ids []string
	match, err := iterator.Next()
	for err == nil && match != nil {
		_ = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == fieldID {
				ids = append(ids, string(value))
				return false
			}
			return true
		})
		match, err = iterator.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading search results: %s", errors.ErrPersistence, err.Error())
	}
	return ids, nil
}
