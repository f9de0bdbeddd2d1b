package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/muralhub/wallpaper-service/internal/config"
	"github.com/muralhub/wallpaper-service/internal/models"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db *sql.DB
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance and
// ensures the schema exists.
func NewPostgreSQLStorage(cfg config.StorageConfig) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	storage := &PostgreSQLStorage{db: db}
	if err := storage.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return storage, nil
}

func (p *PostgreSQLStorage) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS wallpapers (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			external_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			photographer TEXT NOT NULL DEFAULT '',
			photographer_url TEXT NOT NULL DEFAULT '',
			url_thumb TEXT NOT NULL,
			url_regular TEXT NOT NULL,
			url_full TEXT NOT NULL,
			url_raw TEXT NOT NULL DEFAULT '',
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			color TEXT NOT NULL DEFAULT '',
			blur_hash TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			downloads BIGINT NOT NULL DEFAULT 0,
			is_featured BOOLEAN NOT NULL DEFAULT FALSE,
			is_ai_generated BOOLEAN NOT NULL DEFAULT FALSE,
			fetched_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (external_id, source)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wallpapers_category ON wallpapers (category)`,
		`CREATE INDEX IF NOT EXISTS idx_wallpapers_downloads ON wallpapers (downloads DESC)`,
		`CREATE TABLE IF NOT EXISTS categories (
			slug TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			icon TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			search_query TEXT NOT NULL DEFAULT '',
			wallpaper_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_status (
			id TEXT PRIMARY KEY,
			last_successful_run TIMESTAMPTZ,
			last_attempt TIMESTAMPTZ,
			status TEXT NOT NULL DEFAULT 'never_run',
			error_message TEXT NOT NULL DEFAULT '',
			records_ingested INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// WallpaperExists reports whether a record with the given upstream
// identity is already in the catalog.
func (p *PostgreSQLStorage) WallpaperExists(ctx context.Context, externalID, source string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM wallpapers WHERE external_id = $1 AND source = $2)`,
		externalID, source).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check wallpaper existence: %w", err)
	}
	return exists, nil
}

// UpsertWallpapers writes records with ON CONFLICT on the
// (external_id, source) pair. Downloads and created_at are untouched
// on conflict so ingestion never resets the download counter.
func (p *PostgreSQLStorage) UpsertWallpapers(ctx context.Context, wallpapers []models.Wallpaper) (int, error) {
	const query = `
		INSERT INTO wallpapers (
			id, source, external_id, title, photographer, photographer_url,
			url_thumb, url_regular, url_full, url_raw,
			width, height, color, blur_hash, category, tags,
			downloads, is_featured, is_ai_generated,
			fetched_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 0, $17, $18, $19, $20, $20)
		ON CONFLICT (external_id, source) DO UPDATE SET
			title = EXCLUDED.title,
			photographer = EXCLUDED.photographer,
			photographer_url = EXCLUDED.photographer_url,
			url_thumb = EXCLUDED.url_thumb,
			url_regular = EXCLUDED.url_regular,
			url_full = EXCLUDED.url_full,
			url_raw = EXCLUDED.url_raw,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			color = EXCLUDED.color,
			blur_hash = EXCLUDED.blur_hash,
			category = EXCLUDED.category,
			tags = EXCLUDED.tags,
			is_featured = EXCLUDED.is_featured,
			is_ai_generated = EXCLUDED.is_ai_generated,
			fetched_at = EXCLUDED.fetched_at,
			updated_at = EXCLUDED.updated_at`

	written := 0
	for _, w := range wallpapers {
		now := time.Now().UTC()
		_, err := p.db.ExecContext(ctx, query,
			w.ID, w.Source, w.ExternalID, w.Title, w.Photographer, w.PhotographerURL,
			w.URLThumb, w.URLRegular, w.URLFull, w.URLRaw,
			w.Width, w.Height, w.Color, w.BlurHash, w.Category, pq.Array(w.Tags),
			w.IsFeatured, w.IsAIGenerated, w.FetchedAt, now)
		if err != nil {
			return written, fmt.Errorf("failed to upsert wallpaper %s: %w", w.ID, err)
		}
		written++
	}
	return written, nil
}

// ReconcileCategoryCounts recomputes every category's wallpaper_count
// from the wallpapers table in one statement.
func (p *PostgreSQLStorage) ReconcileCategoryCounts(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE categories c SET wallpaper_count = (
			SELECT COUNT(*) FROM wallpapers w WHERE w.category = c.slug
		)`)
	if err != nil {
		return fmt.Errorf("failed to reconcile category counts: %w", err)
	}
	return nil
}

// SeedCategories inserts any missing categories, leaving existing rows
// untouched.
func (p *PostgreSQLStorage) SeedCategories(ctx context.Context, categories []models.Category) error {
	for _, c := range categories {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO categories (slug, name, icon, color, search_query)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (slug) DO NOTHING`,
			c.Slug, c.Name, c.Icon, c.Color, c.SearchQuery)
		if err != nil {
			return fmt.Errorf("failed to seed category %s: %w", c.Slug, err)
		}
	}
	return nil
}

// GetCategories returns all categories ordered by name ascending.
func (p *PostgreSQLStorage) GetCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT slug, name, icon, color, search_query, wallpaper_count, created_at
		FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.Slug, &c.Name, &c.Icon, &c.Color, &c.SearchQuery, &c.WallpaperCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// GetCategoryBySlug returns one category or ErrNotFound.
func (p *PostgreSQLStorage) GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	var c models.Category
	err := p.db.QueryRowContext(ctx, `
		SELECT slug, name, icon, color, search_query, wallpaper_count, created_at
		FROM categories WHERE slug = $1`, slug).
		Scan(&c.Slug, &c.Name, &c.Icon, &c.Color, &c.SearchQuery, &c.WallpaperCount, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category %s: %w", slug, err)
	}
	return &c, nil
}

const wallpaperColumns = `
	id, source, external_id, title, photographer, photographer_url,
	url_thumb, url_regular, url_full, url_raw,
	width, height, color, blur_hash, category, tags,
	downloads, is_featured, is_ai_generated,
	fetched_at, created_at, updated_at`

// ListWallpapers returns one page of the catalog. Random sort uses an
// unseeded ORDER BY random(), an independent draw per call.
func (p *PostgreSQLStorage) ListWallpapers(ctx context.Context, opts ListOptions) (*models.WallpaperPage, error) {
	page, limit := normalizePage(opts.Page, opts.Limit)

	where := ""
	args := []interface{}{}
	if opts.Category != "" {
		where = "WHERE category = $1"
		args = append(args, opts.Category)
	}

	var total int64
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM wallpapers "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count wallpapers: %w", err)
	}

	var order string
	switch opts.Sort {
	case SortPopular:
		order = "ORDER BY downloads DESC, created_at DESC"
	case SortRandom:
		order = "ORDER BY random()"
	default:
		order = "ORDER BY created_at DESC"
	}

	offset := (page - 1) * limit
	if opts.Sort == SortRandom {
		// A random page is an independent draw, not a continuation.
		offset = 0
	}

	query := fmt.Sprintf("SELECT %s FROM wallpapers %s %s LIMIT $%d OFFSET $%d",
		wallpaperColumns, where, order, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallpapers: %w", err)
	}
	defer rows.Close()

	wallpapers, err := scanWallpapers(rows)
	if err != nil {
		return nil, err
	}

	return &models.WallpaperPage{
		Wallpapers: wallpapers,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages(total, limit),
	}, nil
}

// GetWallpaperByID returns one wallpaper or ErrNotFound.
func (p *PostgreSQLStorage) GetWallpaperByID(ctx context.Context, id string) (*models.Wallpaper, error) {
	row := p.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM wallpapers WHERE id = $1", wallpaperColumns), id)
	w, err := scanWallpaper(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallpaper %s: %w", id, err)
	}
	return w, nil
}

// GetSimilarWallpapers samples random wallpapers from the same
// category, excluding the record itself.
func (p *PostgreSQLStorage) GetSimilarWallpapers(ctx context.Context, id string, limit int) ([]models.Wallpaper, error) {
	base, err := p.GetWallpaperByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM wallpapers
			WHERE category = $1 AND id <> $2
			ORDER BY random() LIMIT $3`, wallpaperColumns),
		base.Category, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample similar wallpapers: %w", err)
	}
	defer rows.Close()

	return scanWallpapers(rows)
}

// IncrementDownloads bumps a wallpaper's download counter.
func (p *PostgreSQLStorage) IncrementDownloads(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx,
		`UPDATE wallpapers SET downloads = downloads + 1, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment downloads for %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateIngestionStatus persists the latest ingestion cycle outcome.
func (p *PostgreSQLStorage) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ingestion_status (id, last_successful_run, last_attempt, status, error_message, records_ingested)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			last_successful_run = EXCLUDED.last_successful_run,
			last_attempt = EXCLUDED.last_attempt,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			records_ingested = EXCLUDED.records_ingested`,
		ingestionStatusID, status.LastSuccessfulRun, status.LastAttempt,
		status.Status, status.ErrorMessage, status.RecordsIngested)
	if err != nil {
		return fmt.Errorf("failed to update ingestion status: %w", err)
	}
	return nil
}

// GetIngestionStatus retrieves the current ingestion status.
func (p *PostgreSQLStorage) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	var s models.IngestionStatus
	var lastRun, lastAttempt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT last_successful_run, last_attempt, status, error_message, records_ingested
		FROM ingestion_status WHERE id = $1`, ingestionStatusID).
		Scan(&lastRun, &lastAttempt, &s.Status, &s.ErrorMessage, &s.RecordsIngested)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.IngestionStatus{Status: "never_run"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion status: %w", err)
	}
	s.LastSuccessfulRun = lastRun.Time
	s.LastAttempt = lastAttempt.Time
	return &s, nil
}

// Close closes the database connection pool.
func (p *PostgreSQLStorage) Close() error {
	return p.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWallpaper(row rowScanner) (*models.Wallpaper, error) {
	var w models.Wallpaper
	var tags pq.StringArray
	err := row.Scan(
		&w.ID, &w.Source, &w.ExternalID, &w.Title, &w.Photographer, &w.PhotographerURL,
		&w.URLThumb, &w.URLRegular, &w.URLFull, &w.URLRaw,
		&w.Width, &w.Height, &w.Color, &w.BlurHash, &w.Category, &tags,
		&w.Downloads, &w.IsFeatured, &w.IsAIGenerated,
		&w.FetchedAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.Tags = []string(tags)
	if w.Tags == nil {
		w.Tags = []string{}
	}
	return &w, nil
}

func scanWallpapers(rows *sql.Rows) ([]models.Wallpaper, error) {
	wallpapers := []models.Wallpaper{}
	for rows.Next() {
		w, err := scanWallpaper(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallpaper: %w", err)
		}
		wallpapers = append(wallpapers, *w)
	}
	return wallpapers, rows.Err()
}
