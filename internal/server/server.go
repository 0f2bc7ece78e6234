// Package server provides the HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/bryan-buckman/pulse/internal/database"
	"github.com/bryan-buckman/pulse/internal/ingest"
	"github.com/bryan-buckman/pulse/internal/model"
	"github.com/bryan-buckman/pulse/internal/newsletter"
	"github.com/bryan-buckman/pulse/internal/opml"
)

const historyLimit = 50

// Store is the persistence the handlers need.
type Store interface {
	ListSources(ctx context.Context) ([]model.Source, error)
	GetSourceByURL(ctx context.Context, url string) (*model.Source, error)
	CreateSource(ctx context.Context, name, url string, kind model.SourceKind) (*model.Source, error)
	DeleteSource(ctx context.Context, url string) (int64, error)
	AddFeedback(ctx context.Context, fb model.Feedback) (*model.Feedback, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
}

// FeedIngester ingests a single source.
type FeedIngester interface {
	IngestFeed(ctx context.Context, source model.Source) (ingest.Result, error)
}

// Newsletter generates and sends digests.
type Newsletter interface {
	Generate(ctx context.Context) (*model.Digest, error)
	Send(ctx context.Context) (string, error)
}

// Config controls cross-origin access to the API. A wildcard origin
// always disables credentials.
type Config struct {
	AllowedOrigins   []string
	AllowCredentials bool
}

// Server is the HTTP API server.
type Server struct {
	cfg        Config
	store      Store
	ingester   FeedIngester
	newsletter Newsletter
	router     chi.Router
	httpServer *http.Server
	logger     zerolog.Logger
}

// New creates a new server.
func New(cfg Config, store Store, ingester FeedIngester, nl Newsletter, logger zerolog.Logger) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			cfg.AllowCredentials = false
		}
	}
	s := &Server{
		cfg:        cfg,
		store:      store,
		ingester:   ingester,
		newsletter: nl,
		logger:     logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: s.cfg.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)

	r.Route("/sources", func(r chi.Router) {
		r.Get("/", s.handleListSources)
		r.Post("/", s.handleCreateSource)
		r.Delete("/", s.handleDeleteSource)
		r.Post("/ingest", s.handleIngest)
		r.Post("/opml", s.handleImportOPML)
		r.Get("/opml", s.handleExportOPML)
	})

	r.Route("/newsletter", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Post("/send", s.handleSend)
		r.Get("/history", s.handleHistory)
	})

	r.Post("/feedback", s.handleFeedback)

	s.router = r
}

// ServeHTTP makes the server usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Sources ---

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		s.fail(w, "Failed to list sources", http.StatusInternalServerError, err)
		return
	}
	if sources == nil {
		sources = []model.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		URL  string `json:"url"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = string(model.KindRSS)
	}
	kind, err := model.ParseSourceKind(req.Type)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = req.URL
	}

	src, err := s.store.CreateSource(r.Context(), req.Name, req.URL, kind)
	if errors.Is(err, database.ErrDuplicate) {
		http.Error(w, "Source already exists", http.StatusConflict)
		return
	}
	if err != nil {
		s.fail(w, "Failed to create source", http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	deleted, err := s.store.DeleteSource(r.Context(), url)
	if err != nil {
		s.fail(w, "Failed to delete source", http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"deleted": deleted,
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	src, err := s.store.GetSourceByURL(r.Context(), url)
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "Source not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.fail(w, "Failed to load source", http.StatusInternalServerError, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	res, err := s.ingester.IngestFeed(ctx, *src)
	if err != nil {
		s.fail(w, fmt.Sprintf("Ingest error: %v", err), http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"inserted":       res.Inserted,
		"processed":      len(res.Processed),
		"dedup_degraded": res.DedupDegraded,
	})
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("opml")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	res, err := opml.Import(r.Context(), s.store, file)
	if err != nil {
		s.fail(w, fmt.Sprintf("Failed to import OPML: %v", err), http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"imported": res.Imported,
		"skipped":  res.Skipped,
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		s.fail(w, "Failed to get sources", http.StatusInternalServerError, err)
		return
	}
	data, err := opml.Export("Pulse Sources", sources, time.Now())
	if err != nil {
		s.fail(w, "Failed to export", http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=pulse-sources.opml")
	w.Write(data)
}

// --- Newsletter ---

type digestItem struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	URL     string `json:"url"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	d, err := s.newsletter.Generate(r.Context())
	if errors.Is(err, newsletter.ErrNoItems) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.fail(w, "Failed to generate newsletter", http.StatusInternalServerError, err)
		return
	}
	items := make([]digestItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, digestItem{Title: it.Title, Summary: it.Summary, URL: it.URL})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"html":  d.HTML,
		"text":  d.Text,
		"items": items,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	subject, err := s.newsletter.Send(r.Context())
	if errors.Is(err, newsletter.ErrNoItems) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.fail(w, fmt.Sprintf("Send failed: %v", err), http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "sent",
		"subject": subject,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := historyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, "Failed to list runs", http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// --- Feedback ---

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb model.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if fb.ItemID <= 0 {
		http.Error(w, "item_id is required", http.StatusBadRequest)
		return
	}
	if fb.Thumbs != "up" && fb.Thumbs != "down" {
		http.Error(w, `thumbs must be "up" or "down"`, http.StatusBadRequest)
		return
	}
	created, err := s.store.AddFeedback(r.Context(), fb)
	if err != nil {
		s.fail(w, "Failed to store feedback", http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// --- Helpers ---

func (s *Server) fail(w http.ResponseWriter, msg string, code int, err error) {
	s.logger.Error().Err(err).Int("status", code).Msg(msg)
	http.Error(w, msg, code)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
