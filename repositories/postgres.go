package repositories

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"hire-chat/domain"
	"hire-chat/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

//go:embed postgres_schema.sql
var postgresSchema string

// PostgresRepository stores messages and threads in a database shared by
// every server process.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	log    *slog.Logger
	cipher BodyCipher
}

func NewPostgresRepository(ctx context.Context, databaseURL string, log *slog.Logger) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRepository{pool: pool, log: log}, nil
}

// EnsureSchema creates the chat tables when they are missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, postgresSchema)
	return err
}

// WithCipher encrypts the bodies written from now on. Older plain bodies stay readable.
func (r *PostgresRepository) WithCipher(c BodyCipher) *PostgresRepository {
	r.cipher = c
	return r
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const messageColumns = `id, thread_id, sender_id, receiver_id, body, lang, attachments, created_at, is_read`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	err := row.Scan(
		&m.ID,
		&m.ThreadID,
		&m.SenderID,
		&m.ReceiverID,
		&m.Body,
		&m.Lang,
		&m.Attachments,
		&m.CreatedAt,
		&m.IsRead,
	)
	if m.Attachments == nil {
		m.Attachments = []domain.Attachment{}
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, err
}

func (r *PostgresRepository) Create(ctx context.Context, m domain.Message, clientMessageID string) (domain.Message, bool, error) {
	attachments := lo.Ternary(m.Attachments == nil, []domain.Attachment{}, m.Attachments)
	body, err := r.cipher.Seal(m.Body)
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("%w: sealing message: %s", errors.ErrPersistence, err.Error())
	}
	stored, err := scanMessage(r.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (`+messageColumns+`, client_message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))
		ON CONFLICT (thread_id, sender_id, client_message_id) DO NOTHING
		RETURNING `+messageColumns,
		m.ID, m.ThreadID, m.SenderID, m.ReceiverID, body, m.Lang, attachments, m.CreatedAt, m.IsRead, clientMessageID,
	))
	if err == nil {
		stored.Body = r.cipher.Open(stored.Body)
		return stored, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, false, fmt.Errorf("%w: storing message: %s", errors.ErrPersistence, err.Error())
	}

	// The conflict target matched: replay the original message.
	existing, err := scanMessage(r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM chat_messages WHERE thread_id = $1 AND sender_id = $2 AND client_message_id = $3
	`, m.ThreadID, m.SenderID, clientMessageID))
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("%w: loading duplicate: %s", errors.ErrPersistence, err.Error())
	}
	existing.Body = r.cipher.Open(existing.Body)
	return existing, true, nil
}

func (r *PostgresRepository) History(ctx context.Context, threadID domain.ThreadID, limit int, before *domain.Cursor) (domain.Page, error) {
	var (
		rows pgx.Rows
		err  error
	)
	switch before {
	case nil:
		rows, err = r.pool.Query(ctx, `
			SELECT `+messageColumns+`
			FROM chat_messages WHERE thread_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, threadID, limit+1)
	default:
		rows, err = r.pool.Query(ctx, `
			SELECT `+messageColumns+`
			FROM chat_messages WHERE thread_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, threadID, before.CreatedAt, before.ID, limit+1)
	}
	if err != nil {
		return domain.Page{}, fmt.Errorf("%w: reading history: %s", errors.ErrPersistence, err.Error())
	}
	defer rows.Close()

	var newestFirst []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return domain.Page{}, fmt.Errorf("%w: scanning message: %s", errors.ErrPersistence, err.Error())
		}
		m.Body = r.cipher.Open(m.Body)
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return domain.Page{}, fmt.Errorf("%w: reading history: %s", errors.ErrPersistence, err.Error())
	}
	return newPage(newestFirst, limit), nil
}

func (r *PostgresRepository) MarkRead(ctx context.Context, threadID domain.ThreadID, readerID domain.UserID, ids []domain.MessageID) ([]domain.MessageID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE chat_messages SET is_read = TRUE
		WHERE thread_id = $1 AND receiver_id = $2 AND id = ANY($3)
		RETURNING id
	`, threadID, readerID, lo.Map(ids, func(id domain.MessageID, _ int) string { return string(id) }))
	if err != nil {
		return nil, fmt.Errorf("%w: marking read: %s", errors.ErrPersistence, err.Error())
	}
	read, err := pgx.CollectRows(rows, pgx.RowTo[domain.MessageID])
	if err != nil {
		return nil, fmt.Errorf("%w: marking read: %s", errors.ErrPersistence, err.Error())
	}
	return read, nil
}

func (r *PostgresRepository) DeleteThreadMessages(ctx context.Context, threadID domain.ThreadID) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM chat_messages WHERE thread_id = $1`, threadID)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting messages: %s", errors.ErrPersistence, err.Error())
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) GetThread(ctx context.Context, id domain.ThreadID) (domain.Thread, error) {
	var t domain.Thread
	err := r.pool.QueryRow(ctx, `
		SELECT id, candidate_id, employer_id, status, closed_at
		FROM chat_threads WHERE id = $1
	`, id).Scan(&t.ID, &t.CandidateID, &t.EmployerID, &t.Status, &t.ClosedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.Thread{}, fmt.Errorf("thread %s: %w", id, errors.ErrNotFound)
	case err != nil:
		return domain.Thread{}, fmt.Errorf("%w: reading thread: %s", errors.ErrPersistence, err.Error())
	}
	return t, nil
}

func (r *PostgresRepository) SaveThread(ctx context.Context, t domain.Thread) error {
	status := lo.Ternary(t.Status == "", domain.ThreadOpen, t.Status)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chat_threads (id, candidate_id, employer_id, status, closed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			candidate_id = EXCLUDED.candidate_id,
			employer_id = EXCLUDED.employer_id,
			status = EXCLUDED.status,
			closed_at = EXCLUDED.closed_at
	`, t.ID, t.CandidateID, t.EmployerID, status, t.ClosedAt)
	if err != nil {
		return fmt.Errorf("%w: saving thread: %s", errors.ErrPersistence, err.Error())
	}
	return nil
}

// DeleteThread cascades to the thread messages through the foreign key.
func (r *PostgresRepository) DeleteThread(ctx context.Context, id domain.ThreadID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM chat_threads WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%w: deleting thread: %s", errors.ErrPersistence, err.Error())
	}
	return nil
}

func (r *PostgresRepository) ListExpiredThreads(ctx context.Context, now time.Time, retention time.Duration) ([]domain.Thread, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, candidate_id, employer_id, status, closed_at
		FROM chat_threads WHERE status = $1 AND closed_at <= $2
	`, domain.ThreadClosed, now.Add(-retention))
	if err != nil {
		return nil, fmt.Errorf("%w: listing threads: %s", errors.ErrPersistence, err.Error())
	}
	threads, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Thread, error) {
		var t domain.Thread
		err := row.Scan(&t.ID, &t.CandidateID, &t.EmployerID, &t.Status, &t.ClosedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing threads: %s", errors.ErrPersistence, err.Error())
	}
	return threads, nil
}
