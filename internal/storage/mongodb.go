package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/muralhub/wallpaper-service/internal/config"
	"github.com/muralhub/wallpaper-service/internal/models"
)

const ingestionStatusID = "ingestion_status"

// MongoDBStorage implements Storage interface using MongoDB
type MongoDBStorage struct {
	client     *mongo.Client
	wallpapers *mongo.Collection
	categories *mongo.Collection
	status     *mongo.Collection
}

// NewMongoDBStorage creates a new MongoDB storage instance and ensures
// the indexes the catalog depends on, most importantly the unique
// compound index on (external_id, source).
func NewMongoDBStorage(cfg config.StorageConfig) (*MongoDBStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.MongoDBName)
	storage := &MongoDBStorage{
		client:     client,
		wallpapers: db.Collection("wallpapers"),
		categories: db.Collection("categories"),
		status:     db.Collection("ingestion_status"),
	}

	if err := storage.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	return storage, nil
}

func (m *MongoDBStorage) ensureIndexes(ctx context.Context) error {
	_, err := m.wallpapers.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "external_id", Value: 1}, {Key: "source", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "downloads", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	return err
}

// WallpaperExists reports whether a record with the given upstream
// identity is already in the catalog.
func (m *MongoDBStorage) WallpaperExists(ctx context.Context, externalID, source string) (bool, error) {
	count, err := m.wallpapers.CountDocuments(ctx,
		bson.M{"external_id": externalID, "source": source},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check wallpaper existence: %w", err)
	}
	return count > 0, nil
}

// UpsertWallpapers writes records keyed on (external_id, source).
// Existing records have their display fields refreshed; downloads and
// created_at are only set on insert so ingestion never resets the
// download counter.
func (m *MongoDBStorage) UpsertWallpapers(ctx context.Context, wallpapers []models.Wallpaper) (int, error) {
	written := 0
	for _, w := range wallpapers {
		now := time.Now().UTC()
		filter := bson.M{"external_id": w.ExternalID, "source": w.Source}
		update := bson.M{
			"$set": bson.M{
				"title":            w.Title,
				"photographer":     w.Photographer,
				"photographer_url": w.PhotographerURL,
				"url_thumb":        w.URLThumb,
				"url_regular":      w.URLRegular,
				"url_full":         w.URLFull,
				"url_raw":          w.URLRaw,
				"width":            w.Width,
				"height":           w.Height,
				"color":            w.Color,
				"blur_hash":        w.BlurHash,
				"category":         w.Category,
				"tags":             w.Tags,
				"is_featured":      w.IsFeatured,
				"is_ai_generated":  w.IsAIGenerated,
				"fetched_at":       w.FetchedAt,
				"updated_at":       now,
			},
			"$setOnInsert": bson.M{
				"_id":        w.ID,
				"downloads":  int64(0),
				"created_at": now,
			},
		}

		_, err := m.wallpapers.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		if err != nil {
			return written, fmt.Errorf("failed to upsert wallpaper %s: %w", w.ID, err)
		}
		written++
	}
	return written, nil
}

// ReconcileCategoryCounts recomputes every category's wallpaper_count
// from the wallpapers collection. Safe to run alongside upserts; a
// count may reflect a slightly stale snapshot and self-heals on the
// next run.
func (m *MongoDBStorage) ReconcileCategoryCounts(ctx context.Context) error {
	categories, err := m.GetCategories(ctx)
	if err != nil {
		return err
	}

	for _, c := range categories {
		count, err := m.wallpapers.CountDocuments(ctx, bson.M{"category": c.Slug})
		if err != nil {
			return fmt.Errorf("failed to count wallpapers for category %s: %w", c.Slug, err)
		}
		_, err = m.categories.UpdateByID(ctx, c.Slug, bson.M{"$set": bson.M{"wallpaper_count": count}})
		if err != nil {
			return fmt.Errorf("failed to update count for category %s: %w", c.Slug, err)
		}
	}
	return nil
}

// SeedCategories inserts any missing categories. Existing ones are
// left untouched so operator edits to display fields survive restarts.
func (m *MongoDBStorage) SeedCategories(ctx context.Context, categories []models.Category) error {
	for _, c := range categories {
		doc := bson.M{
			"name":            c.Name,
			"icon":            c.Icon,
			"color":           c.Color,
			"search_query":    c.SearchQuery,
			"wallpaper_count": int64(0),
			"created_at":      time.Now().UTC(),
		}
		_, err := m.categories.UpdateByID(ctx, c.Slug,
			bson.M{"$setOnInsert": doc},
			options.Update().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("failed to seed category %s: %w", c.Slug, err)
		}
	}
	return nil
}

// GetCategories returns all categories ordered by name ascending.
func (m *MongoDBStorage) GetCategories(ctx context.Context) ([]models.Category, error) {
	cursor, err := m.categories.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer cursor.Close(ctx)

	var categories []models.Category
	if err := cursor.All(ctx, &categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}
	return categories, nil
}

// GetCategoryBySlug returns one category or ErrNotFound.
func (m *MongoDBStorage) GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	var category models.Category
	err := m.categories.FindOne(ctx, bson.M{"_id": slug}).Decode(&category)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category %s: %w", slug, err)
	}
	return &category, nil
}

// ListWallpapers returns one page of the catalog. Random sort draws an
// independent unseeded sample per call.
func (m *MongoDBStorage) ListWallpapers(ctx context.Context, opts ListOptions) (*models.WallpaperPage, error) {
	page, limit := normalizePage(opts.Page, opts.Limit)

	filter := bson.M{}
	if opts.Category != "" {
		filter["category"] = opts.Category
	}

	total, err := m.wallpapers.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count wallpapers: %w", err)
	}

	var wallpapers []models.Wallpaper
	if opts.Sort == SortRandom {
		cursor, err := m.wallpapers.Aggregate(ctx, mongo.Pipeline{
			{{Key: "$match", Value: filter}},
			{{Key: "$sample", Value: bson.M{"size": limit}}},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to sample wallpapers: %w", err)
		}
		defer cursor.Close(ctx)
		if err := cursor.All(ctx, &wallpapers); err != nil {
			return nil, fmt.Errorf("failed to decode wallpapers: %w", err)
		}
	} else {
		findOpts := options.Find().
			SetSort(listSortOrder(opts.Sort)).
			SetSkip(int64((page - 1) * limit)).
			SetLimit(int64(limit))
		cursor, err := m.wallpapers.Find(ctx, filter, findOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to list wallpapers: %w", err)
		}
		defer cursor.Close(ctx)
		if err := cursor.All(ctx, &wallpapers); err != nil {
			return nil, fmt.Errorf("failed to decode wallpapers: %w", err)
		}
	}

	if wallpapers == nil {
		wallpapers = []models.Wallpaper{}
	}
	return &models.WallpaperPage{
		Wallpapers: wallpapers,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages(total, limit),
	}, nil
}

func listSortOrder(sort string) bson.D {
	switch sort {
	case SortPopular:
		return bson.D{{Key: "downloads", Value: -1}, {Key: "created_at", Value: -1}}
	default:
		return bson.D{{Key: "created_at", Value: -1}}
	}
}

// GetWallpaperByID returns one wallpaper or ErrNotFound.
func (m *MongoDBStorage) GetWallpaperByID(ctx context.Context, id string) (*models.Wallpaper, error) {
	var wallpaper models.Wallpaper
	err := m.wallpapers.FindOne(ctx, bson.M{"_id": id}).Decode(&wallpaper)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallpaper %s: %w", id, err)
	}
	return &wallpaper, nil
}

// GetSimilarWallpapers samples random wallpapers from the same
// category, excluding the record itself.
func (m *MongoDBStorage) GetSimilarWallpapers(ctx context.Context, id string, limit int) ([]models.Wallpaper, error) {
	base, err := m.GetWallpaperByID(ctx, id)
	if err != nil {
		return nil, err
	}

	cursor, err := m.wallpapers.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"category": base.Category, "_id": bson.M{"$ne": id}}}},
		{{Key: "$sample", Value: bson.M{"size": limit}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sample similar wallpapers: %w", err)
	}
	defer cursor.Close(ctx)

	var wallpapers []models.Wallpaper
	if err := cursor.All(ctx, &wallpapers); err != nil {
		return nil, fmt.Errorf("failed to decode wallpapers: %w", err)
	}
	if wallpapers == nil {
		wallpapers = []models.Wallpaper{}
	}
	return wallpapers, nil
}

// IncrementDownloads bumps a wallpaper's download counter. This is the
// only write path allowed to touch downloads.
func (m *MongoDBStorage) IncrementDownloads(ctx context.Context, id string) error {
	result, err := m.wallpapers.UpdateByID(ctx, id, bson.M{
		"$inc": bson.M{"downloads": int64(1)},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("failed to increment downloads for %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateIngestionStatus persists the latest ingestion cycle outcome.
func (m *MongoDBStorage) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	_, err := m.status.ReplaceOne(ctx,
		bson.M{"_id": ingestionStatusID},
		bson.M{
			"_id":                 ingestionStatusID,
			"last_successful_run": status.LastSuccessfulRun,
			"last_attempt":        status.LastAttempt,
			"status":              status.Status,
			"error_message":       status.ErrorMessage,
			"records_ingested":    status.RecordsIngested,
		},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to update ingestion status: %w", err)
	}
	return nil
}

// GetIngestionStatus retrieves the current ingestion status.
func (m *MongoDBStorage) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	var status models.IngestionStatus
	err := m.status.FindOne(ctx, bson.M{"_id": ingestionStatusID}).Decode(&status)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &models.IngestionStatus{Status: "never_run"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion status: %w", err)
	}
	return &status, nil
}

// Close disconnects the MongoDB client.
func (m *MongoDBStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return page, limit
}

func totalPages(total int64, limit int) int {
	if total == 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}
