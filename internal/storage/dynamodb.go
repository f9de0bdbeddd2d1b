package storage

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/muralhub/wallpaper-service/internal/config"
	"github.com/muralhub/wallpaper-service/internal/models"
)

// DynamoDBStorage implements Storage interface using AWS DynamoDB.
// Wallpapers are keyed on the derived ID; since that ID is nothing but
// the namespaced (source, external_id) pair, the hash key carries the
// same uniqueness constraint the other backends enforce with a
// compound index. Listings are scan-based, which is fine at wallpaper
// catalog scale.
type DynamoDBStorage struct {
	client          *dynamodb.DynamoDB
	tableName       string
	categoriesTable string
	statusTable     string
}

// NewDynamoDBStorage creates a new DynamoDB storage instance
func NewDynamoDBStorage(cfg config.StorageConfig) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	storage := &DynamoDBStorage{
		client:          dynamodb.New(sess),
		tableName:       cfg.TableName,
		categoriesTable: cfg.TableName + "_categories",
		statusTable:     cfg.TableName + "_status",
	}

	for _, spec := range []struct{ table, key string }{
		{storage.tableName, "id"},
		{storage.categoriesTable, "slug"},
		{storage.statusTable, "id"},
	} {
		if err := storage.ensureTable(spec.table, spec.key); err != nil {
			return nil, fmt.Errorf("failed to ensure table %s exists: %w", spec.table, err)
		}
	}

	return storage, nil
}

// ensureTable creates a DynamoDB table if it doesn't exist
func (d *DynamoDBStorage) ensureTable(tableName, keyName string) error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err == nil {
		return nil // Table already exists
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(tableName),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(keyName),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(keyName),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}

	_, err = d.client.CreateTable(input)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
}

// WallpaperExists reports whether a record with the given upstream
// identity is already in the catalog.
func (d *DynamoDBStorage) WallpaperExists(ctx context.Context, externalID, source string) (bool, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(models.WallpaperID(source, externalID))},
		},
		ProjectionExpression: aws.String("id"),
	})
	if err != nil {
		return false, fmt.Errorf("failed to check wallpaper existence: %w", err)
	}
	return result.Item != nil, nil
}

// UpsertWallpapers writes records with per-record UpdateItem calls.
// if_not_exists keeps downloads and created_at stable across
// re-ingestion of the same photo.
func (d *DynamoDBStorage) UpsertWallpapers(ctx context.Context, wallpapers []models.Wallpaper) (int, error) {
	written := 0
	for _, w := range wallpapers {
		if err := d.upsertWallpaper(ctx, w); err != nil {
			return written, fmt.Errorf("failed to upsert wallpaper %s: %w", w.ID, err)
		}
		written++
	}
	return written, nil
}

func (d *DynamoDBStorage) upsertWallpaper(ctx context.Context, w models.Wallpaper) error {
	item, err := dynamodbattribute.MarshalMap(w)
	if err != nil {
		return fmt.Errorf("failed to marshal wallpaper: %w", err)
	}

	nowAv, err := dynamodbattribute.Marshal(w.FetchedAt)
	if err != nil {
		return fmt.Errorf("failed to marshal timestamp: %w", err)
	}
	item["updated_at"] = nowAv
	delete(item, "id")
	delete(item, "downloads")
	delete(item, "created_at")

	sets := make([]string, 0, len(item)+2)
	names := map[string]*string{
		"#downloads":  aws.String("downloads"),
		"#created_at": aws.String("created_at"),
	}
	values := map[string]*dynamodb.AttributeValue{
		":zero":    {N: aws.String("0")},
		":created": nowAv,
	}
	i := 0
	for attr, value := range item {
		name := fmt.Sprintf("#f%d", i)
		placeholder := fmt.Sprintf(":v%d", i)
		names[name] = aws.String(attr)
		values[placeholder] = value
		sets = append(sets, name+" = "+placeholder)
		i++
	}
	sets = append(sets,
		"#downloads = if_not_exists(#downloads, :zero)",
		"#created_at = if_not_exists(#created_at, :created)")

	_, err = d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(w.ID)},
		},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	return err
}

// scanWallpapers reads the whole wallpapers table.
func (d *DynamoDBStorage) scanWallpapers(ctx context.Context, category string) ([]models.Wallpaper, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(d.tableName),
	}
	if category != "" {
		input.FilterExpression = aws.String("#category = :category")
		input.ExpressionAttributeNames = map[string]*string{
			"#category": aws.String("category"),
		}
		input.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{
			":category": {S: aws.String(category)},
		}
	}

	var wallpapers []models.Wallpaper
	err := d.client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, last bool) bool {
		var batch []models.Wallpaper
		if err := dynamodbattribute.UnmarshalListOfMaps(page.Items, &batch); err == nil {
			wallpapers = append(wallpapers, batch...)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan wallpapers: %w", err)
	}
	return wallpapers, nil
}

// ReconcileCategoryCounts recomputes every category's wallpaper_count
// from one pass over the wallpapers table.
func (d *DynamoDBStorage) ReconcileCategoryCounts(ctx context.Context) error {
	wallpapers, err := d.scanWallpapers(ctx, "")
	if err != nil {
		return err
	}
	counts := make(map[string]int64)
	for _, w := range wallpapers {
		counts[w.Category]++
	}

	categories, err := d.GetCategories(ctx)
	if err != nil {
		return err
	}
	for _, c := range categories {
		_, err := d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(d.categoriesTable),
			Key: map[string]*dynamodb.AttributeValue{
				"slug": {S: aws.String(c.Slug)},
			},
			UpdateExpression: aws.String("SET wallpaper_count = :count"),
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":count": {N: aws.String(fmt.Sprintf("%d", counts[c.Slug]))},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to update count for category %s: %w", c.Slug, err)
		}
	}
	return nil
}

// SeedCategories inserts any missing categories, leaving existing
// items untouched.
func (d *DynamoDBStorage) SeedCategories(ctx context.Context, categories []models.Category) error {
	for _, c := range categories {
		item, err := dynamodbattribute.MarshalMap(c)
		if err != nil {
			return fmt.Errorf("failed to marshal category %s: %w", c.Slug, err)
		}
		_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(d.categoriesTable),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(slug)"),
		})
		if err != nil {
			if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
				continue // Category already seeded
			}
			return fmt.Errorf("failed to seed category %s: %w", c.Slug, err)
		}
	}
	return nil
}

// GetCategories returns all categories ordered by name ascending.
func (d *DynamoDBStorage) GetCategories(ctx context.Context) ([]models.Category, error) {
	result, err := d.client.ScanWithContext(ctx, &dynamodb.ScanInput{
		TableName: aws.String(d.categoriesTable),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan categories: %w", err)
	}

	var categories []models.Category
	if err := dynamodbattribute.UnmarshalListOfMaps(result.Items, &categories); err != nil {
		return nil, fmt.Errorf("failed to unmarshal categories: %w", err)
	}

	sort.Slice(categories, func(i, j int) bool {
		return categories[i].Name < categories[j].Name
	})
	return categories, nil
}

// GetCategoryBySlug returns one category or ErrNotFound.
func (d *DynamoDBStorage) GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.categoriesTable),
		Key: map[string]*dynamodb.AttributeValue{
			"slug": {S: aws.String(slug)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get category %s: %w", slug, err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var category models.Category
	if err := dynamodbattribute.UnmarshalMap(result.Item, &category); err != nil {
		return nil, fmt.Errorf("failed to unmarshal category: %w", err)
	}
	return &category, nil
}

// ListWallpapers returns one page of the catalog, sorted in memory
// after a scan. Random sort is an independent unseeded shuffle.
func (d *DynamoDBStorage) ListWallpapers(ctx context.Context, opts ListOptions) (*models.WallpaperPage, error) {
	page, limit := normalizePage(opts.Page, opts.Limit)

	wallpapers, err := d.scanWallpapers(ctx, opts.Category)
	if err != nil {
		return nil, err
	}
	total := int64(len(wallpapers))

	switch opts.Sort {
	case SortRandom:
		rand.Shuffle(len(wallpapers), func(i, j int) {
			wallpapers[i], wallpapers[j] = wallpapers[j], wallpapers[i]
		})
	case SortPopular:
		sort.Slice(wallpapers, func(i, j int) bool {
			if wallpapers[i].Downloads != wallpapers[j].Downloads {
				return wallpapers[i].Downloads > wallpapers[j].Downloads
			}
			return wallpapers[i].CreatedAt.After(wallpapers[j].CreatedAt)
		})
	default:
		sort.Slice(wallpapers, func(i, j int) bool {
			return wallpapers[i].CreatedAt.After(wallpapers[j].CreatedAt)
		})
	}

	start := (page - 1) * limit
	if opts.Sort == SortRandom {
		// A random page is an independent draw, not a continuation.
		start = 0
	}
	if start > len(wallpapers) {
		start = len(wallpapers)
	}
	end := start + limit
	if end > len(wallpapers) {
		end = len(wallpapers)
	}

	return &models.WallpaperPage{
		Wallpapers: wallpapers[start:end],
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages(total, limit),
	}, nil
}

// GetWallpaperByID returns one wallpaper or ErrNotFound.
func (d *DynamoDBStorage) GetWallpaperByID(ctx context.Context, id string) (*models.Wallpaper, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(id)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get wallpaper %s: %w", id, err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var wallpaper models.Wallpaper
	if err := dynamodbattribute.UnmarshalMap(result.Item, &wallpaper); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wallpaper: %w", err)
	}
	return &wallpaper, nil
}

// GetSimilarWallpapers samples random wallpapers from the same
// category, excluding the record itself.
func (d *DynamoDBStorage) GetSimilarWallpapers(ctx context.Context, id string, limit int) ([]models.Wallpaper, error) {
	base, err := d.GetWallpaperByID(ctx, id)
	if err != nil {
		return nil, err
	}

	wallpapers, err := d.scanWallpapers(ctx, base.Category)
	if err != nil {
		return nil, err
	}

	similar := make([]models.Wallpaper, 0, len(wallpapers))
	for _, w := range wallpapers {
		if w.ID != id {
			similar = append(similar, w)
		}
	}
	rand.Shuffle(len(similar), func(i, j int) {
		similar[i], similar[j] = similar[j], similar[i]
	})
	if len(similar) > limit {
		similar = similar[:limit]
	}
	return similar, nil
}

// IncrementDownloads bumps a wallpaper's download counter.
func (d *DynamoDBStorage) IncrementDownloads(ctx context.Context, id string) error {
	_, err := d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(id)},
		},
		UpdateExpression:    aws.String("ADD downloads :one"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":one": {N: aws.String("1")},
		},
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return ErrNotFound
		}
		return fmt.Errorf("failed to increment downloads for %s: %w", id, err)
	}
	return nil
}

// UpdateIngestionStatus persists the latest ingestion cycle outcome.
func (d *DynamoDBStorage) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	item, err := dynamodbattribute.MarshalMap(status)
	if err != nil {
		return fmt.Errorf("failed to marshal ingestion status: %w", err)
	}
	item["id"] = &dynamodb.AttributeValue{S: aws.String(ingestionStatusID)}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.statusTable),
		Item:      item,
	})
	return err
}

// GetIngestionStatus retrieves the current ingestion status.
func (d *DynamoDBStorage) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.statusTable),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(ingestionStatusID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion status: %w", err)
	}
	if result.Item == nil {
		return &models.IngestionStatus{Status: "never_run"}, nil
	}

	var status models.IngestionStatus
	if err := dynamodbattribute.UnmarshalMap(result.Item, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ingestion status: %w", err)
	}
	return &status, nil
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
