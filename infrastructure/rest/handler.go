package rest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"hire-chat/auth"
	"hire-chat/domain"
	"hire-chat/errors"
	"hire-chat/services"
)

const (
	maxUploadFiles  = 10
	multipartMemory = 8 << 20
)

type Handler struct {
	log            *slog.Logger
	service        services.IChatService
	maxUploadBytes int64
}

func NewHandler(log *slog.Logger, service services.IChatService, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{log: log, service: service, maxUploadBytes: maxUploadBytes}
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	message := err.Error()
	if errors.Code(err) == errors.CodeInternal || errors.Code(err) == errors.CodePersistence {
		message = "internal error"
	}
	writeJSON(w, errors.HTTPStatus(err), errorResponse{Code: errors.Code(err), Error: message})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := errors.HTTPStatus(err); status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, err)
}

func caller(r *http.Request) domain.UserID {
	userID, _ := auth.UserIDFrom(r.Context())
	return userID
}

func threadParam(r *http.Request) (domain.ThreadID, error) {
	threadID := r.URL.Query().Get("threadId")
	if threadID == "" {
		return "", fmt.Errorf("%w: threadId is required", errors.ErrValidation)
	}
	return domain.ThreadID(threadID), nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", errors.ErrValidation, name)
	}
	return v, nil
}

type historyResponse struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor *domain.Cursor   `json:"nextCursor"`
	HasMore    bool             `json:"hasMore"`
}

// History GET /api/history?threadId&limit&before
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	threadID, err := threadParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.service.History(r.Context(), caller(r), threadID, limit, r.URL.Query().Get("before"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	messages := page.Messages
	if messages == nil {
		messages = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: messages, NextCursor: page.NextCursor, HasMore: page.HasMore})
}

// Upload POST /api/attachments, multipart with a threadId field and one or more "files".
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes*maxUploadFiles+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, errors.ErrFileTooLarge)
			return
		}
		h.fail(w, r, fmt.Errorf("%w: %v", errors.ErrValidation, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	threadID := domain.ThreadID(r.FormValue("threadId"))
	headers := r.MultipartForm.File["files"]
	if len(headers) > maxUploadFiles {
		h.fail(w, r, fmt.Errorf("%w: at most %d files", errors.ErrValidation, maxUploadFiles))
		return
	}

	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	uploads := make([]services.Upload, 0, len(headers))
	for _, header := range headers {
		if header.Size > h.maxUploadBytes {
			h.fail(w, r, fmt.Errorf("%w: %s", errors.ErrFileTooLarge, header.Filename))
			return
		}
		f, err := header.Open()
		if err != nil {
			h.fail(w, r, fmt.Errorf("%w: %v", errors.ErrValidation, err))
			return
		}
		opened = append(opened, f)
		uploads = append(uploads, services.Upload{Name: header.Filename, Content: f})
	}

	attachments, err := h.service.Upload(r.Context(), caller(r), threadID, uploads)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attachments)
}

// File GET /api/files/{threadId}/{name}
func (h *Handler) File(w http.ResponseWriter, r *http.Request) {
	threadID := domain.ThreadID(chi.URLParam(r, "threadId"))
	path, err := h.service.File(r.Context(), caller(r), threadID, chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, path)
}

type searchResponse struct {
	Hits []domain.SearchHit `json:"hits"`
}

// Search GET /api/search?threadId&q&limit
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	threadID, err := threadParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	hits, err := h.service.Search(r.Context(), caller(r), threadID, r.URL.Query().Get("q"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Hits: lo.Ternary(hits == nil, []domain.SearchHit{}, hits)})
}

// ClearMessages DELETE /api/messages?threadId
func (h *Handler) ClearMessages(w http.ResponseWriter, r *http.Request) {
	threadID, err := threadParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	deleted, err := h.service.ClearMessages(r.Context(), caller(r), threadID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// SaveThread PUT /api/thread with the thread as body.
func (h *Handler) SaveThread(w http.ResponseWriter, r *http.Request) {
	var thread domain.Thread
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&thread); err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", errors.ErrValidation, err))
		return
	}
	saved, err := h.service.SaveThread(r.Context(), caller(r), thread)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// CloseThread POST /api/thread/close?threadId
func (h *Handler) CloseThread(w http.ResponseWriter, r *http.Request) {
	threadID, err := threadParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	thread, err := h.service.CloseThread(r.Context(), caller(r), threadID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// DeleteThread DELETE /api/thread?threadId
func (h *Handler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID, err := threadParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteThread(r.Context(), caller(r), threadID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
