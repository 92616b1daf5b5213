// Package webhook exposes the inbound HTTP ingress surface: the chainhook
// delivery endpoint that feeds the dispatcher, and the DAO-creation webhook
// that seeds a new DAO's rows. It is the only HTTP surface this backend
// carries; everything else (REST APIs, UI) is an external collaborator.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"daobackend/chainhook"
	"daobackend/store"
)

const maxWebhookBodyBytes = 4 << 20

// Config captures the dependencies required to construct the server.
type Config struct {
	Store      store.Gateway
	Dispatcher *chainhook.Dispatcher
	Auth       Authenticator
	Logger     *slog.Logger
}

// Server serves the chainhook and DAO-creation webhooks.
type Server struct {
	store      store.Gateway
	dispatcher *chainhook.Dispatcher
	auth       Authenticator
	logger     *slog.Logger

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	if cfg.Auth == nil {
		cfg.Auth = NoopAuthenticator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		auth:       cfg.Auth,
		logger:     cfg.Logger,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(correlationID)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/chainhook", s.handleChainhook)
	r.With(s.auth.Middleware).Post("/webhooks/dao", s.handleDAOCreate)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("webhook: encode response", "error", err)
	}
}

func (s *Server) writeError(r *http.Request, w http.ResponseWriter, status int, code string, err error) {
	id := correlationIDFrom(r.Context())
	s.logger.Error("webhook: request failed",
		"correlation_id", id,
		"status", status,
		"code", code,
		"error", err,
	)
	s.writeJSON(w, status, errorBody{Error: err.Error(), Code: code, CorrelationID: id})
}

type errorBody struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

type correlationIDKeyType struct{}

var correlationIDKey correlationIDKeyType

func withCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// correlationID attaches a per-delivery uuid to the request context, used to
// tie a rejected or logged payload back to a single inbound call (§7).
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-Id", id)
		next.ServeHTTP(w, r.WithContext(withCorrelationID(r.Context(), id)))
	})
}
