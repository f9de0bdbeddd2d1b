package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/muralhub/wallpaper-service/internal/config"
	"github.com/muralhub/wallpaper-service/internal/logger"
	"github.com/muralhub/wallpaper-service/internal/models"
	"github.com/muralhub/wallpaper-service/internal/providers"
	"github.com/muralhub/wallpaper-service/internal/storage"
)

const orientationPortrait = "portrait"

// Service orchestrates ingestion cycles: it drives both provider
// adapters across every category, deduplicates against the catalog,
// and reconciles category counts afterwards. Categories are processed
// sequentially with pacing delays on purpose — that is the rate-limit
// compliance mechanism for the upstream APIs, not a simplification.
type Service struct {
	config    config.IngestionConfig
	store     storage.Storage
	primary   providers.Provider
	secondary providers.Provider
	cursor    *PageCursor
	log       *logger.Logger

	// runMu guarantees at most one cycle mutates the cursor at a time.
	// A tick that fires while a cycle is still running is skipped, not
	// queued.
	runMu sync.Mutex
}

// NewService creates a new ingestion service. The primary provider is
// tried first for every category; the secondary only serves as a
// fallback when the primary is unavailable.
func NewService(cfg config.IngestionConfig, store storage.Storage, primary, secondary providers.Provider, log *logger.Logger) *Service {
	cursor := NewPageCursor(map[string]int{
		primary.Name():   pageWindow(primary.Name()),
		secondary.Name(): pageWindow(secondary.Name()),
	})
	return &Service{
		config:    cfg,
		store:     store,
		primary:   primary,
		secondary: secondary,
		cursor:    cursor,
		log:       log,
	}
}

// Cursor exposes the page cursor, mainly for inspection in tests and
// the status surface.
func (s *Service) Cursor() *PageCursor { return s.cursor }

// Start runs one eager cycle to seed an empty catalog, then triggers a
// cycle on every interval tick until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.runGuarded(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runGuarded(ctx)
		}
	}
}

// TriggerCycle starts one ingestion cycle in the background, for the
// manual refresh endpoint. Returns false when a cycle is already
// running.
func (s *Service) TriggerCycle() bool {
	if !s.runMu.TryLock() {
		return false
	}
	go func() {
		defer s.runMu.Unlock()
		if _, err := s.runCycle(context.Background()); err != nil {
			s.log.Error("manual ingestion cycle failed", "error", err)
		}
	}()
	return true
}

// RunCycle runs one complete ingestion cycle synchronously, skipping
// if one is already in progress. Returns the number of newly added
// records.
func (s *Service) RunCycle(ctx context.Context) (int, error) {
	if !s.runMu.TryLock() {
		return 0, nil
	}
	defer s.runMu.Unlock()
	return s.runCycle(ctx)
}

func (s *Service) runGuarded(ctx context.Context) {
	if !s.runMu.TryLock() {
		s.log.Warn("ingestion cycle still running, skipping tick")
		return
	}
	defer s.runMu.Unlock()
	if _, err := s.runCycle(ctx); err != nil {
		s.log.Error("ingestion cycle failed", "error", err)
	}
}

// runCycle is the cycle state machine. Per-category and per-record
// failures are contained here; only store unavailability escalates,
// failing the cycle outward to the scheduler loop.
func (s *Service) runCycle(ctx context.Context) (int, error) {
	started := time.Now().UTC()
	s.log.Info("starting ingestion cycle")
	s.setStatus(ctx, models.IngestionStatus{
		LastAttempt: started,
		Status:      "running",
	})

	primaryPage := s.cursor.Advance(s.primary.Name())
	s.cursor.Advance(s.secondary.Name())

	categories, err := s.store.GetCategories(ctx)
	if err != nil {
		err = fmt.Errorf("failed to list categories: %w", err)
		s.setFailure(ctx, started, err)
		return 0, err
	}

	totalNew := 0
	for i, category := range categories {
		added, err := s.ingestCategory(ctx, category, primaryPage)
		if err != nil {
			s.setFailure(ctx, started, err)
			return totalNew, err
		}
		totalNew += added

		if i < len(categories)-1 {
			if err := s.pause(ctx); err != nil {
				s.setFailure(ctx, started, err)
				return totalNew, err
			}
		}
	}

	featured, err := s.ingestFeatured(ctx, primaryPage)
	if err != nil {
		s.setFailure(ctx, started, err)
		return totalNew, err
	}
	totalNew += featured

	if err := s.store.ReconcileCategoryCounts(ctx); err != nil {
		err = fmt.Errorf("failed to reconcile category counts: %w", err)
		s.setFailure(ctx, started, err)
		return totalNew, err
	}

	now := time.Now().UTC()
	s.setStatus(ctx, models.IngestionStatus{
		LastSuccessfulRun: now,
		LastAttempt:       started,
		Status:            "success",
		RecordsIngested:   totalNew,
	})
	s.log.Info("ingestion cycle complete",
		"new_records", totalNew,
		"categories", len(categories),
		"duration", now.Sub(started).String())
	return totalNew, nil
}

// ingestCategory fetches one category's worth of photos and upserts
// them. Provider failures are absorbed (the category records zero new
// items); store failures propagate and fail the cycle.
func (s *Service) ingestCategory(ctx context.Context, category models.Category, page int) (int, error) {
	wallpapers, err := s.fetchCategory(ctx, category, page)
	if err != nil {
		s.log.Warn("both providers failed, skipping category",
			"category", category.Slug, "error", err)
		return 0, nil
	}
	if len(wallpapers) == 0 {
		return 0, nil
	}

	// The exists check only decides what counts as newly added; the
	// whole batch is still upserted so re-fetched records get their
	// display fields and fetched_at refreshed. Downloads stay with the
	// store on update, so ingestion can never clobber the counter.
	newCount := 0
	for _, w := range wallpapers {
		exists, err := s.store.WallpaperExists(ctx, w.ExternalID, w.Source)
		if err != nil {
			return 0, fmt.Errorf("failed to check existence of %s: %w", w.ID, err)
		}
		if !exists {
			newCount++
		}
	}

	if _, err := s.store.UpsertWallpapers(ctx, wallpapers); err != nil {
		return 0, fmt.Errorf("failed to upsert wallpapers for category %s: %w", category.Slug, err)
	}

	s.log.Info("category ingested",
		"category", category.Slug,
		"fetched", len(wallpapers),
		"new", newCount)
	return newCount, nil
}

// ingestFeatured pulls one page of the primary provider's curated
// feed, which is what marks records as featured. Provider failure is
// absorbed like any category's; store failure propagates.
func (s *Service) ingestFeatured(ctx context.Context, page int) (int, error) {
	if err := s.pause(ctx); err != nil {
		return 0, err
	}

	wallpapers, err := s.primary.CuratedPhotos(ctx, "", page, s.config.PerPage)
	if err != nil {
		s.log.Warn("featured fetch failed, skipping", "provider", s.primary.Name(), "error", err)
		return 0, nil
	}
	if len(wallpapers) == 0 {
		return 0, nil
	}

	newCount := 0
	for _, w := range wallpapers {
		exists, err := s.store.WallpaperExists(ctx, w.ExternalID, w.Source)
		if err != nil {
			return 0, fmt.Errorf("failed to check existence of %s: %w", w.ID, err)
		}
		if !exists {
			newCount++
		}
	}

	if _, err := s.store.UpsertWallpapers(ctx, wallpapers); err != nil {
		return 0, fmt.Errorf("failed to upsert featured wallpapers: %w", err)
	}

	s.log.Info("featured feed ingested", "fetched", len(wallpapers), "new", newCount)
	return newCount, nil
}

// fetchCategory asks the primary provider at the cursor page and falls
// back to the secondary at page 1 (cursors are not shared across
// providers) when the primary is unavailable.
func (s *Service) fetchCategory(ctx context.Context, category models.Category, page int) ([]models.Wallpaper, error) {
	wallpapers, primaryErr := s.primary.SearchPhotos(ctx, category.SearchQuery, category.Slug, page, s.config.PerPage, orientationPortrait)
	if primaryErr == nil {
		return wallpapers, nil
	}

	s.log.Warn("primary provider unavailable, falling back",
		"provider", s.primary.Name(),
		"category", category.Slug,
		"error", primaryErr)

	if err := s.pause(ctx); err != nil {
		return nil, err
	}

	wallpapers, secondaryErr := s.secondary.SearchPhotos(ctx, category.SearchQuery, category.Slug, 1, s.config.PerPage, orientationPortrait)
	if secondaryErr != nil {
		return nil, errors.Join(primaryErr, secondaryErr)
	}
	return wallpapers, nil
}

// pause is the pacing delay between upstream requests. It is the only
// thing keeping total request rate under the providers' ceilings, so
// it must not be removed without adding an explicit rate limiter.
func (s *Service) pause(ctx context.Context) error {
	if s.config.CategoryDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.config.CategoryDelay):
		return nil
	}
}

func (s *Service) setStatus(ctx context.Context, status models.IngestionStatus) {
	if err := s.store.UpdateIngestionStatus(ctx, status); err != nil {
		s.log.Warn("failed to update ingestion status", "error", err)
	}
}

func (s *Service) setFailure(ctx context.Context, started time.Time, cause error) {
	s.setStatus(ctx, models.IngestionStatus{
		LastAttempt:  started,
		Status:       "failure",
		ErrorMessage: cause.Error(),
	})
}
