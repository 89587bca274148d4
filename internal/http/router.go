package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transcript-channel-worker/internal/events"
	"transcript-channel-worker/internal/models"
	"transcript-channel-worker/internal/schema"
	"transcript-channel-worker/internal/service/catalog"
	"transcript-channel-worker/internal/service/channel"
	"transcript-channel-worker/internal/service/command"
)

const maxCommandBytes = 64 << 10

// Worker is what the router needs from the application.
type Worker interface {
	Ready() bool
	Snapshots() []models.ChannelSnapshot
	Dispatch(ctx context.Context, cmd models.Command) (models.CommandResult, error)
}

// NewRouter constructs the HTTP router for the worker. stream serves the
// live event feed and may be nil.
func NewRouter(worker Worker, stream http.Handler) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !worker.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/channels", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, worker.Snapshots())
		})
		r.Post("/commands", func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			cmd, err := events.DecodeCommand(body)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			res, err := worker.Dispatch(r.Context(), cmd)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})
		if stream != nil {
			r.Handle("/events", stream)
		}
	})

	return r
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, schema.ErrUnknownCommand),
		errors.Is(err, schema.ErrMissingField),
		errors.Is(err, schema.ErrInvalidField):
		return http.StatusBadRequest
	case errors.Is(err, channel.ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrUnsupportedLanguage),
		errors.Is(err, catalog.ErrUnknownModel),
		errors.Is(err, channel.ErrDisabled),
		errors.Is(err, command.ErrNothingApplied):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
