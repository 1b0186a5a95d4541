package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hire-chat/auth"
	"hire-chat/services"
)

type RouterConfig struct {
	Log            *slog.Logger
	Service        services.IChatService
	Validator      auth.Validator
	Gateway        http.Handler
	Origins        []string
	MaxUploadBytes int64
	// Health reports whether the stores are reachable.
	Health func(ctx context.Context) error
}

func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(cfg.Log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	h := NewHandler(cfg.Log, cfg.Service, cfg.MaxUploadBytes)

	r.Get("/healthz", healthz(cfg.Health))
	r.Handle("/metrics", promhttp.Handler())
	if cfg.Gateway != nil {
		r.Handle("/ws", cfg.Gateway)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Validator, func(w http.ResponseWriter, _ *http.Request, err error) {
			writeError(w, err)
		}))

		r.Get("/history", h.History)
		r.Post("/attachments", h.Upload)
		r.Get("/files/{threadId}/{name}", h.File)
		r.Get("/search", h.Search)
		r.Delete("/messages", h.ClearMessages)
		r.Put("/thread", h.SaveThread)
		r.Post("/thread/close", h.CloseThread)
		r.Delete("/thread", h.DeleteThread)
	})

	return r
}

func healthz(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
