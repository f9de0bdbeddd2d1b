package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/muralhub/wallpaper-service/internal/config"
	"github.com/muralhub/wallpaper-service/internal/ingestion"
	"github.com/muralhub/wallpaper-service/internal/logger"
	"github.com/muralhub/wallpaper-service/internal/providers"
	"github.com/muralhub/wallpaper-service/internal/storage"
)

const defaultSimilarLimit = 10

// Server exposes the read-side catalog API. It only consumes the
// catalog through query operations; the ingestion pipeline is the
// single write path for everything except download counters.
type Server struct {
	storage   storage.Storage
	ingestor  *ingestion.Service
	providers map[string]providers.Provider
	log       *logger.Logger
	server    *http.Server
}

// NewServer creates a new HTTP server. The provider map, keyed by
// source name, is only used for best-effort download reporting.
func NewServer(cfg config.ServerConfig, store storage.Storage, ingestor *ingestion.Service, provs []providers.Provider, log *logger.Logger) *Server {
	s := &Server{
		storage:   store,
		ingestor:  ingestor,
		providers: make(map[string]providers.Provider, len(provs)),
		log:       log,
	}
	for _, p := range provs {
		s.providers[p.Name()] = p
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Route("/api", func(r chi.Router) {
		r.Get("/wallpapers", s.handleListWallpapers)
		r.Get("/wallpapers/{id}", s.handleGetWallpaper)
		r.Get("/wallpapers/{id}/similar", s.handleSimilarWallpapers)
		r.Post("/wallpapers/{id}/download", s.handleDownload)
		r.Get("/categories", s.handleListCategories)
		r.Get("/categories/{slug}", s.handleGetCategory)
		r.Post("/ingest", s.handleIngest)
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.storage.GetIngestionStatus(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to retrieve status")
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleListWallpapers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	opts := storage.ListOptions{
		Page:     parseIntParam(query.Get("page"), 1),
		Limit:    parseIntParam(query.Get("limit"), 20),
		Category: query.Get("category"),
		Sort:     query.Get("sort"),
	}
	switch opts.Sort {
	case "", storage.SortPopular, storage.SortNewest, storage.SortRandom:
	default:
		s.respondError(w, http.StatusBadRequest, "sort must be one of popular, newest, random")
		return
	}
	if opts.Limit > storage.MaxListLimit {
		opts.Limit = storage.MaxListLimit
	}

	page, err := s.storage.ListWallpapers(r.Context(), opts)
	if err != nil {
		s.log.Error("failed to list wallpapers", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to retrieve wallpapers")
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetWallpaper(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	wallpaper, err := s.storage.GetWallpaperByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "wallpaper not found")
		return
	}
	if err != nil {
		s.log.Error("failed to get wallpaper", "id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to retrieve wallpaper")
		return
	}
	s.respondJSON(w, http.StatusOK, wallpaper)
}

func (s *Server) handleSimilarWallpapers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := parseIntParam(r.URL.Query().Get("limit"), defaultSimilarLimit)
	if limit > storage.MaxListLimit {
		limit = storage.MaxListLimit
	}

	similar, err := s.storage.GetSimilarWallpapers(r.Context(), id, limit)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "wallpaper not found")
		return
	}
	if err != nil {
		s.log.Error("failed to get similar wallpapers", "id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to retrieve similar wallpapers")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"wallpapers": similar,
		"count":      len(similar),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	wallpaper, err := s.storage.GetWallpaperByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "wallpaper not found")
		return
	}
	if err != nil {
		s.log.Error("failed to get wallpaper", "id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to track download")
		return
	}

	if err := s.storage.IncrementDownloads(r.Context(), id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Error("failed to increment downloads", "id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to track download")
		return
	}

	// Report the download upstream. Best-effort: some providers' terms
	// require it, but a failure must never surface to the client.
	if provider, ok := s.providers[wallpaper.Source]; ok {
		go func(externalID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := provider.TrackDownload(ctx, externalID); err != nil {
				s.log.Warn("failed to report download upstream",
					"provider", provider.Name(), "external_id", externalID, "error", err)
			}
		}(wallpaper.ExternalID)
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.storage.GetCategories(r.Context())
	if err != nil {
		s.log.Error("failed to list categories", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to retrieve categories")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"categories": categories,
		"count":      len(categories),
	})
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	category, err := s.storage.GetCategoryBySlug(r.Context(), slug)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "category not found")
		return
	}
	if err != nil {
		s.log.Error("failed to get category", "slug", slug, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to retrieve category")
		return
	}
	s.respondJSON(w, http.StatusOK, category)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingestor.TriggerCycle() {
		s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		return
	}
	s.respondJSON(w, http.StatusConflict, map[string]string{"status": "already_running"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func parseIntParam(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}
