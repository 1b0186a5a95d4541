package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"hire-chat/domain"
	"hire-chat/errors"
)

func TestHistory_Before(t *testing.T) {
	req := require.New(t)
	cursor := message(71).Cursor()

	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		next := message(41).Cursor()
		_ = json.NewEncoder(w).Encode(domain.Page{Messages: messages(41, 70), NextCursor: &next, HasMore: true})
	}))
	defer server.Close()

	page, err := NewHistory(server.URL+"/", "tok", nil).Before(context.Background(), "t1", 30, &cursor)
	req.NoError(err)

	req.Equal("/api/history", got.URL.Path)
	req.Equal("t1", got.URL.Query().Get("threadId"))
	req.Equal("30", got.URL.Query().Get("limit"))
	req.Equal(cursor.String(), got.URL.Query().Get("before"))
	req.Equal("Bearer tok", got.Header.Get("Authorization"))

	req.Len(page.Messages, 30)
	req.True(page.HasMore)
	req.NotNil(page.NextCursor)
	req.Equal(domain.MessageID("m041"), page.NextCursor.ID)
}

func TestHistory_ErrorBody(t *testing.T) {
	req := require.New(t)
	status := http.StatusForbidden
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		if status == http.StatusForbidden {
			_, _ = w.Write([]byte(`{"code":"forbidden","error":"not a participant of this thread"}`))
		}
	}))
	defer server.Close()
	history := NewHistory(server.URL, "tok", nil)

	_, err := history.Latest(context.Background(), "t1", 0)
	req.ErrorIs(err, errors.ErrForbidden)

	// A proxy error has no json body
	status = http.StatusBadGateway
	_, err = history.Latest(context.Background(), "t1", 0)
	req.ErrorIs(err, errors.ErrTransport)
}
