package storage

import (
	"context"
	"fmt"

	"github.com/muralhub/wallpaper-service/internal/config"
	"github.com/muralhub/wallpaper-service/internal/models"
)

// Sort orders accepted by ListWallpapers.
const (
	SortPopular = "popular"
	SortNewest  = "newest"
	SortRandom  = "random"
)

// MaxListLimit caps the page size of catalog listings.
const MaxListLimit = 50

// ListOptions describes one catalog listing query. Category filters by
// slug when non-empty. Sort defaults to SortNewest when empty. Random
// sort is an independent unseeded draw per call, not a stable shuffle;
// repeated pages may overlap.
type ListOptions struct {
	Page     int
	Limit    int
	Category string
	Sort     string
}

// Storage interface defines the contract for catalog persistence.
// Upserts are keyed on the (external_id, source) pair, never on the
// derived ID, and must be idempotent per record.
type Storage interface {
	// Ingestion side
	WallpaperExists(ctx context.Context, externalID, source string) (bool, error)
	UpsertWallpapers(ctx context.Context, wallpapers []models.Wallpaper) (int, error)
	ReconcileCategoryCounts(ctx context.Context) error

	// Categories
	SeedCategories(ctx context.Context, categories []models.Category) error
	GetCategories(ctx context.Context) ([]models.Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error)

	// Read side
	ListWallpapers(ctx context.Context, opts ListOptions) (*models.WallpaperPage, error)
	GetWallpaperByID(ctx context.Context, id string) (*models.Wallpaper, error)
	GetSimilarWallpapers(ctx context.Context, id string, limit int) ([]models.Wallpaper, error)
	IncrementDownloads(ctx context.Context, id string) error

	// Ingestion status
	UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error
	GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error)

	Close() error
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "mongodb":
		return NewMongoDBStorage(cfg)
	case "dynamodb":
		return NewDynamoDBStorage(cfg)
	case "postgresql":
		return NewPostgreSQLStorage(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
