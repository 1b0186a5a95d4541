package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hire-chat/domain"
	"hire-chat/errors"
)

// History reads pages of a thread over the REST api.
type History struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHistory(baseURL, token string, httpClient *http.Client) *History {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &History{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// Latest returns the most recent page of the thread.
func (h *History) Latest(ctx context.Context, threadID domain.ThreadID, limit int) (domain.Page, error) {
	return h.Before(ctx, threadID, limit, nil)
}

// Before returns the page just older than cursor, or the latest page when cursor is nil.
func (h *History) Before(ctx context.Context, threadID domain.ThreadID, limit int, cursor *domain.Cursor) (domain.Page, error) {
	query := url.Values{"threadId": {string(threadID)}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if cursor != nil {
		query.Set("before", cursor.String())
	}
	var page domain.Page
	if err := h.get(ctx, "/api/history?"+query.Encode(), &page); err != nil {
		return domain.Page{}, err
	}
	return page, nil
}

func (h *History) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	res, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrTransport, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		var body struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil || body.Code == "" {
			return fmt.Errorf("%w: status %d", errors.ErrTransport, res.StatusCode)
		}
		return errors.FromCode(body.Code, body.Error)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", errors.ErrTransport, err)
	}
	return nil
}
