// Package server exposes the aggregation engine as a read-only HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/analysis-engine/internal/config"
	"github.com/sells-group/analysis-engine/internal/engine"
	"github.com/sells-group/analysis-engine/internal/query"
)

// Engine is the slice of the aggregation engine the API serves.
type Engine interface {
	Fetch(ctx context.Context, f query.Filters) (*engine.Page, error)
	EmptyPage(ctx context.Context, f query.Filters) *engine.Page
	Capabilities(ctx context.Context) map[string]bool
}

// Server is the HTTP read API.
type Server struct {
	engine Engine
	cfg    config.ServerConfig
	log    *zap.Logger
}

// New creates a Server.
func New(eng Engine, cfg config.ServerConfig) *Server {
	return &Server{
		engine: eng,
		cfg:    cfg,
		log:    zap.L().With(zap.String("component", "server")),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/companies", s.handleCompanies)
		r.Get("/capabilities", s.handleCapabilities)
	})

	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("starting server", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	page, err := s.engine.Fetch(r.Context(), f)
	if err != nil {
		// The caller still gets a well-formed page shape, never a stack trace.
		s.log.Error("page request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		s.writeJSON(w, http.StatusInternalServerError, s.engine.EmptyPage(r.Context(), f))
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"available": s.engine.Capabilities(r.Context()),
	})
}

// parseFilters reads the request parameters. Unknown outcome tokens pass
// through; the planner drops what it cannot back with a column.
func parseFilters(r *http.Request) (query.Filters, error) {
	q := r.URL.Query()
	f := query.Filters{
		Code:  strings.TrimSpace(q.Get("code")),
		Query: strings.TrimSpace(q.Get("q")),
	}

	var err error
	if f.Page, err = intParam(q.Get("page"), "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = intParam(q.Get("page_size"), "page_size"); err != nil {
		return f, err
	}
	if raw := q.Get("industry"); raw != "" {
		f.IndustryID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, eris.New("invalid industry parameter")
		}
	}
	if raw := q.Get("broad"); raw != "" {
		f.Broad = raw == "1" || strings.EqualFold(raw, "true")
	}

	switch sort := q.Get("sort"); sort {
	case "", string(query.SortRevenue):
		f.Sort = query.SortRevenue
	case string(query.SortStartedAt):
		f.Sort = query.SortStartedAt
	default:
		return f, eris.New("invalid sort parameter")
	}

	for _, raw := range q["outcome"] {
		for _, token := range strings.Split(raw, ",") {
			if token = strings.TrimSpace(token); token != "" {
				f.Outcomes = append(f.Outcomes, token)
			}
		}
	}
	return f, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, eris.New("invalid " + name + " parameter")
	}
	return n, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("write response", zap.Error(err))
	}
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestLogger tags every request with a generated id and logs its outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))

		s.log.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
