package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"hire-chat/auth"
	"hire-chat/domain"
	"hire-chat/infrastructure/ratelimit"
	"hire-chat/infrastructure/storage"
	"hire-chat/repositories"
	"hire-chat/services"
)

type api struct {
	t        *testing.T
	server   *httptest.Server
	tokens   auth.Tokens
	messages repositories.MessageRepository
	search   repositories.SearchRepository
}

func newAPI(t *testing.T) *api {
	t.Helper()
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelError)

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	req.NoError(err)
	attachments, err := storage.NewAttachments(t.TempDir(), 1<<20, log)
	req.NoError(err)
	t.Cleanup(func() {
		_ = writer.Close()
		_ = db.Close()
	})

	threads := repositories.NewThreadRepository(db)
	a := &api{
		t:        t,
		tokens:   auth.NewTokens("test-secret"),
		messages: repositories.NewMessageRepository(db, log),
		search:   repositories.NewSearchRepository(writer, log),
	}
	service := services.NewChatService(log, threads, a.messages, a.search, attachments, ratelimit.NewMemory(), services.Limits{
		HistoryDefault: 30,
		HistoryMax:     100,
		Uploads:        12,
		UploadWindow:   time.Minute,
	})
	a.server = httptest.NewServer(NewRouter(RouterConfig{
		Log:            log,
		Service:        service,
		Validator:      a.tokens,
		Origins:        []string{"*"},
		MaxUploadBytes: 1 << 20,
	}))
	t.Cleanup(a.server.Close)

	req.NoError(threads.SaveThread(context.Background(), domain.Thread{
		ID:          "t1",
		CandidateID: "candidate",
		EmployerID:  "employer",
		Status:      domain.ThreadOpen,
	}))
	return a
}

func (a *api) do(method, path string, userID domain.UserID, contentType string, body []byte) *http.Response {
	a.t.Helper()
	r, err := http.NewRequest(method, a.server.URL+path, bytes.NewReader(body))
	require.NoError(a.t, err)
	if userID != "" {
		token, err := a.tokens.Generate(userID, nil, time.Hour)
		require.NoError(a.t, err)
		r.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(r)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *api) seed(n int) []domain.Message {
	a.t.Helper()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	res := make([]domain.Message, 0, n)
	for i := range n {
		m := domain.Message{
			ID:          domain.NewMessageID(),
			ThreadID:    "t1",
			SenderID:    "candidate",
			ReceiverID:  "employer",
			Body:        "message about the backend developer position",
			Attachments: []domain.Attachment{},
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		stored, _, err := a.messages.Create(context.Background(), m, string(m.ID))
		require.NoError(a.t, err)
		require.NoError(a.t, a.search.Index(context.Background(), stored))
		res = append(res, stored)
	}
	return res
}

func TestRouter_Unauthenticated(t *testing.T) {
	req := require.New(t)
	a := newAPI(t)

	resp := a.do(http.MethodGet, "/api/history?threadId=t1", "", "", nil)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
	body := decode[errorResponse](t, resp)
	req.Equal("auth", body.Code)

	// Health and metrics stay public
	req.Equal(http.StatusOK, a.do(http.MethodGet, "/healthz", "", "", nil).StatusCode)
	req.Equal(http.StatusOK, a.do(http.MethodGet, "/metrics", "", "", nil).StatusCode)
}

func TestRouter_HistoryPagination(t *testing.T) {
	req := require.New(t)
	a := newAPI(t)
	seeded := a.seed(5)

	// When the latest page of 2 is requested
	resp := a.do(http.MethodGet, "/api/history?threadId=t1&limit=2", "employer", "", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	page := decode[historyResponse](t, resp)

	// Then the two newest come back oldest first
	req.Len(page.Messages, 2)
	req.Equal(seeded[3].ID, page.Messages[0].ID)
	req.Equal(seeded[4].ID, page.Messages[1].ID)
	req.True(page.HasMore)
	req.NotNil(page.NextCursor)

	// When walking back to the start
	var all []domain.Message
	all = append(page.Messages, all...)
	for page.HasMore {
		resp = a.do(http.MethodGet, "/api/history?threadId=t1&limit=2&before="+page.NextCursor.String(), "employer", "", nil)
		req.Equal(http.StatusOK, resp.StatusCode)
		page = decode[historyResponse](t, resp)
		all = append(page.Messages, all...)
	}

	// Then every message was seen exactly once, in order
	req.Len(all, 5)
	for i, m := range all {
		req.Equal(seeded[i].ID, m.ID)
	}
}

func TestRouter_HistoryErrors(t *testing.T) {
	req := require.New(t)
	a := newAPI(t)

	req.Equal(http.StatusForbidden, a.do(http.MethodGet, "/api/history?threadId=t1", "stranger", "", nil).StatusCode)
	req.Equal(http.StatusNotFound, a.do(http.MethodGet, "/api/history?threadId=nope", "candidate", "", nil).StatusCode)
	req.Equal(http.StatusBadRequest, a.do(http.MethodGet, "/api/history", "candidate", "", nil).StatusCode)
	req.Equal(http.StatusBadRequest, a.do(http.MethodGet, "/api/history?threadId=t1&before=zzz", "candidate", "", nil).StatusCode)
	req.Equal(http.StatusBadRequest, a.do(http.MethodGet, "/api/history?threadId=t1&limit=abc", "candidate", "", nil).StatusCode)
}

func multipartBody(t *testing.T, threadID string, files map[string][]byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("threadId", threadID))
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestRouter_UploadAndServe(t *testing.T) {
	req := require.New(t)
	a := newAPI(t)
	notes := []byte("Interview planned on Monday at 10am.")

	// When the candidate uploads a text file
	body, contentType := multipartBody(t, "t1", map[string][]byte{"my notes.txt": notes})
	resp := a.do(http.MethodPost, "/api/attachments", "candidate", contentType, body)
	req.Equal(http.StatusOK, resp.StatusCode)
	attachments := decode[[]domain.Attachment](t, resp)

	// Then a safe url is returned
	req.Len(attachments, 1)
	req.Equal("/api/files/t1/my_notes.txt", attachments[0].URL)

	// And the employer can download it
	resp = a.do(http.MethodGet, attachments[0].URL, "employer", "", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	var got bytes.Buffer
	_, err := got.ReadFrom(resp.Body)
	req.NoError(err)
	req.Equal(notes, got.Bytes())

	// But not a stranger
	req.Equal(http.StatusForbidden, a.do(http.MethodGet, attachments[0].URL, "stranger", "", nil).StatusCode)
}

func TestRouter_UploadRejected(t *testing.T) {
	req := require.New(t)
	a := newAPI(t)

	body, contentType := multipartBody(t, "t1", map[string][]byte{"page.html": []byte("<html><script>alert(1)</script></html>")})
	resp := a.do(http.MethodPost, "/api/attachments", "candidate", contentType, body)
	req.Equal(http.StatusBadRequest, resp.StatusCode)

	// Closed thread
	req.Equal(http.StatusOK, a.do(http.MethodPost, "/api/thread/close?threadId=t1", "employer", "", nil).StatusCode)
	body, contentType = multipartBody(t, "t1", map[string][]byte{"notes.txt": []byte("hello there")})
	resp = a.do(http.MethodPost, "/api/attachments", "candidate", contentType, body)
	req.Equal(http.StatusForbidden, resp.StatusCode)
	req.Equal("closed", decode[errorResponse](t, resp).Code)
}

func TestRouter_ThreadLifecycle(t *testing.T) {
	req := require.New(t)
	a := newAPI(t)
	a.seed(3)

	// Given a new thread created by its employer
	thread := `{"id":"t2","candidateId":"candidate","employerId":"employer"}`
	resp := a.do(http.MethodPut, "/api/thread", "employer", "application/json", []byte(thread))
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal(domain.ThreadOpen, decode[domain.Thread](t, resp).Status)

	// The candidate cannot create threads for others
	resp = a.do(http.MethodPut, "/api/thread", "candidate", "application/json", []byte(thread))
	req.Equal(http.StatusForbidden, resp.StatusCode)

	// Search finds the seeded messages
	resp = a.do(http.MethodGet, "/api/search?threadId=t1&q=developer", "candidate", "", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Len(decode[searchResponse](t, resp).Hits, 3)

	// Clearing the messages empties history and search
	resp = a.do(http.MethodDelete, "/api/messages?threadId=t1", "employer", "", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal(3, decode[map[string]int](t, resp)["deleted"])
	page := decode[historyResponse](t, a.do(http.MethodGet, "/api/history?threadId=t1", "employer", "", nil))
	req.Empty(page.Messages)
	req.False(page.HasMore)
	req.Nil(page.NextCursor)

	// Deleting the thread makes it unknown
	req.Equal(http.StatusNoContent, a.do(http.MethodDelete, "/api/thread?threadId=t1", "candidate", "", nil).StatusCode)
	req.Equal(http.StatusNotFound, a.do(http.MethodGet, "/api/history?threadId=t1", "candidate", "", nil).StatusCode)
}
