package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/muralhub/wallpaper-service/internal/config"
	"github.com/muralhub/wallpaper-service/internal/logger"
	"github.com/muralhub/wallpaper-service/internal/models"
	"github.com/muralhub/wallpaper-service/internal/providers"
	"github.com/muralhub/wallpaper-service/internal/storage"
)

// stubProvider is a scripted Provider for orchestrator tests.
type stubProvider struct {
	name    string
	search  func(query, category string, page int) ([]models.Wallpaper, error)
	curated func(page int) ([]models.Wallpaper, error)

	mu    sync.Mutex
	calls []searchCall
}

type searchCall struct {
	Query    string
	Category string
	Page     int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) SearchPhotos(ctx context.Context, query, category string, page, perPage int, orientation string) ([]models.Wallpaper, error) {
	s.mu.Lock()
	s.calls = append(s.calls, searchCall{Query: query, Category: category, Page: page})
	s.mu.Unlock()
	return s.search(query, category, page)
}

func (s *stubProvider) CuratedPhotos(ctx context.Context, category string, page, perPage int) ([]models.Wallpaper, error) {
	if s.curated == nil {
		return nil, nil
	}
	return s.curated(page)
}

func (s *stubProvider) GetPhoto(ctx context.Context, externalID string) (*models.Wallpaper, error) {
	return nil, &providers.ProviderError{Provider: s.name, Err: errors.New("not scripted")}
}

func (s *stubProvider) TrackDownload(ctx context.Context, externalID string) error { return nil }

func (s *stubProvider) searchCalls() []searchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]searchCall(nil), s.calls...)
}

func failingProvider(name string) *stubProvider {
	return &stubProvider{
		name: name,
		search: func(query, category string, page int) ([]models.Wallpaper, error) {
			return nil, &providers.ProviderError{Provider: name, Err: errors.New("upstream down")}
		},
	}
}

// memStore is an in-memory Storage with real upsert semantics, so the
// cycle-level properties (idempotence, reconciliation, download
// preservation) can be asserted against actual state.
type memStore struct {
	mu         sync.Mutex
	wallpapers map[string]models.Wallpaper
	categories map[string]models.Category
	status     models.IngestionStatus
}

func newMemStore(categories ...models.Category) *memStore {
	s := &memStore{
		wallpapers: make(map[string]models.Wallpaper),
		categories: make(map[string]models.Category),
		status:     models.IngestionStatus{Status: "never_run"},
	}
	for _, c := range categories {
		s.categories[c.Slug] = c
	}
	return s
}

func pairKey(externalID, source string) string { return source + "|" + externalID }

func (s *memStore) WallpaperExists(ctx context.Context, externalID, source string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.wallpapers[pairKey(externalID, source)]
	return ok, nil
}

func (s *memStore) UpsertWallpapers(ctx context.Context, wallpapers []models.Wallpaper) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, w := range wallpapers {
		key := pairKey(w.ExternalID, w.Source)
		if existing, ok := s.wallpapers[key]; ok {
			w.Downloads = existing.Downloads
			w.CreatedAt = existing.CreatedAt
		} else {
			w.Downloads = 0
			w.CreatedAt = now
		}
		w.UpdatedAt = now
		s.wallpapers[key] = w
	}
	return len(wallpapers), nil
}

func (s *memStore) ReconcileCategoryCounts(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slug, c := range s.categories {
		var count int64
		for _, w := range s.wallpapers {
			if w.Category == slug {
				count++
			}
		}
		c.WallpaperCount = count
		s.categories[slug] = c
	}
	return nil
}

func (s *memStore) SeedCategories(ctx context.Context, categories []models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range categories {
		if _, ok := s.categories[c.Slug]; !ok {
			s.categories[c.Slug] = c
		}
	}
	return nil
}

func (s *memStore) GetCategories(ctx context.Context) ([]models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	categories := make([]models.Category, 0, len(s.categories))
	for _, c := range s.categories {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	return categories, nil
}

func (s *memStore) GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[slug]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

func (s *memStore) ListWallpapers(ctx context.Context, opts storage.ListOptions) (*models.WallpaperPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var wallpapers []models.Wallpaper
	for _, w := range s.wallpapers {
		if opts.Category == "" || w.Category == opts.Category {
			wallpapers = append(wallpapers, w)
		}
	}
	return &models.WallpaperPage{Wallpapers: wallpapers, Total: int64(len(wallpapers))}, nil
}

func (s *memStore) GetWallpaperByID(ctx context.Context, id string) (*models.Wallpaper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallpapers {
		if w.ID == id {
			return &w, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *memStore) GetSimilarWallpapers(ctx context.Context, id string, limit int) ([]models.Wallpaper, error) {
	return nil, nil
}

func (s *memStore) IncrementDownloads(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.wallpapers {
		if w.ID == id {
			w.Downloads++
			s.wallpapers[key] = w
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *memStore) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	return nil
}

func (s *memStore) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.status
	return &status, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) get(t *testing.T, externalID, source string) models.Wallpaper {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallpapers[pairKey(externalID, source)]
	require.True(t, ok, "wallpaper %s/%s not in store", source, externalID)
	return w
}

func testConfig() config.IngestionConfig {
	return config.IngestionConfig{
		Interval:      time.Hour,
		CategoryDelay: time.Millisecond,
		PerPage:       30,
	}
}

func testWallpapers(source, category string, n int) []models.Wallpaper {
	wallpapers := make([]models.Wallpaper, n)
	for i := range wallpapers {
		externalID := fmt.Sprintf("%s-%d", category, i+1)
		wallpapers[i] = models.Wallpaper{
			ID:         models.WallpaperID(source, externalID),
			Source:     source,
			ExternalID: externalID,
			Title:      "Untitled",
			URLThumb:   "https://example.com/thumb.jpg",
			URLRegular: "https://example.com/regular.jpg",
			URLFull:    "https://example.com/full.jpg",
			Category:   category,
			Tags:       []string{},
			FetchedAt:  time.Now().UTC(),
		}
	}
	return wallpapers
}

func TestService_RunCycle_SeedsEmptyCatalog(t *testing.T) {
	store := newMemStore(models.Category{Slug: "nature", Name: "Nature", SearchQuery: "nature landscape"})

	primary := &stubProvider{
		name: models.SourceUnsplash,
		search: func(query, category string, page int) ([]models.Wallpaper, error) {
			return testWallpapers(models.SourceUnsplash, category, 5), nil
		},
	}
	secondary := failingProvider(models.SourcePexels)

	service := NewService(testConfig(), store, primary, secondary, logger.NewNop())

	total, err := service.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 5, total)

	page, err := store.ListWallpapers(context.Background(), storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)

	nature, err := store.GetCategoryBySlug(context.Background(), "nature")
	require.NoError(t, err)
	assert.Equal(t, int64(5), nature.WallpaperCount)

	// Cursor advanced from 1 to 2 and the fetch used the advanced page
	assert.Equal(t, 2, service.Cursor().Page(models.SourceUnsplash))
	calls := primary.searchCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, searchCall{Query: "nature landscape", Category: "nature", Page: 2}, calls[0])

	// Secondary never called when the primary succeeds
	assert.Empty(t, secondary.searchCalls())

	status, err := store.GetIngestionStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "success", status.Status)
	assert.Equal(t, 5, status.RecordsIngested)
}

func TestService_RunCycle_Idempotent(t *testing.T) {
	store := newMemStore(models.Category{Slug: "nature", Name: "Nature", SearchQuery: "nature"})

	primary := &stubProvider{
		name: models.SourceUnsplash,
		search: func(query, category string, page int) ([]models.Wallpaper, error) {
			return testWallpapers(models.SourceUnsplash, category, 5), nil
		},
	}
	service := NewService(testConfig(), store, primary, failingProvider(models.SourcePexels), logger.NewNop())

	first, err := service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, first)

	second, err := service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second)

	page, err := store.ListWallpapers(context.Background(), storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)

	nature, err := store.GetCategoryBySlug(context.Background(), "nature")
	require.NoError(t, err)
	assert.Equal(t, int64(5), nature.WallpaperCount)
}

func TestService_RunCycle_RefreshDoesNotTouchDownloads(t *testing.T) {
	store := newMemStore(models.Category{Slug: "nature", Name: "Nature", SearchQuery: "nature"})

	seeded := testWallpapers(models.SourceUnsplash, "nature", 1)
	seeded[0].ExternalID = "42"
	seeded[0].ID = models.WallpaperID(models.SourceUnsplash, "42")
	seeded[0].Title = "Old Title"
	_, err := store.UpsertWallpapers(context.Background(), seeded)
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		require.NoError(t, store.IncrementDownloads(context.Background(), seeded[0].ID))
	}

	primary := &stubProvider{
		name: models.SourceUnsplash,
		search: func(query, category string, page int) ([]models.Wallpaper, error) {
			refreshed := seeded[0]
			refreshed.Title = "New Title"
			refreshed.URLRegular = "https://example.com/regular-v2.jpg"
			refreshed.Downloads = 0
			return []models.Wallpaper{refreshed}, nil
		},
	}
	service := NewService(testConfig(), store, primary, failingProvider(models.SourcePexels), logger.NewNop())

	total, err := service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, total, "re-fetched record is not newly added")

	stored := store.get(t, "42", models.SourceUnsplash)
	assert.Equal(t, "New Title", stored.Title)
	assert.Equal(t, "https://example.com/regular-v2.jpg", stored.URLRegular)
	assert.Equal(t, int64(7), stored.Downloads, "ingestion must not touch the download counter")
}

func TestService_RunCycle_FallbackToSecondary(t *testing.T) {
	store := newMemStore(models.Category{Slug: "nature", Name: "Nature", SearchQuery: "nature"})

	primary := failingProvider(models.SourceUnsplash)
	secondary := &stubProvider{
		name: models.SourcePexels,
		search: func(query, category string, page int) ([]models.Wallpaper, error) {
			return testWallpapers(models.SourcePexels, category, 3), nil
		},
	}
	service := NewService(testConfig(), store, primary, secondary, logger.NewNop())

	total, err := service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	stored := store.get(t, "nature-1", models.SourcePexels)
	assert.Equal(t, models.SourcePexels, stored.Source)

	// Fallback always starts from page 1 regardless of the cursor
	calls := secondary.searchCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].Page)
}

func TestService_RunCycle_PartialFailureIsolation(t *testing.T) {
	store := newMemStore(
		models.Category{Slug: "animals", Name: "Animals", SearchQuery: "animals"},
		models.Category{Slug: "broken", Name: "Broken", SearchQuery: "broken"},
		models.Category{Slug: "city", Name: "City", SearchQuery: "city"},
	)

	script := func(name string, count int) func(query, category string, page int) ([]models.Wallpaper, error) {
		return func(query, category string, page int) ([]models.Wallpaper, error) {
			if category == "broken" {
				return nil, &providers.ProviderError{Provider: name, Err: errors.New("upstream down")}
			}
			return testWallpapers(name, category, count), nil
		}
	}
	primary := &stubProvider{name: models.SourceUnsplash, search: script(models.SourceUnsplash, 2)}
	secondary := &stubProvider{name: models.SourcePexels, search: script(models.SourcePexels, 2)}

	service := NewService(testConfig(), store, primary, secondary, logger.NewNop())

	total, err := service.RunCycle(context.Background())
	require.NoError(t, err, "a single category's failure is never fatal to the cycle")
	assert.Equal(t, 4, total)

	status, err := store.GetIngestionStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "success", status.Status)
}

func TestService_RunCycle_EmptyCategoryList(t *testing.T) {
	store := newMemStore()
	service := NewService(testConfig(), store, failingProvider(models.SourceUnsplash), failingProvider(models.SourcePexels), logger.NewNop())

	total, err := service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestService_RunCycle_SkipsWhenAlreadyRunning(t *testing.T) {
	store := newMemStore(models.Category{Slug: "nature", Name: "Nature", SearchQuery: "nature"})
	primary := &stubProvider{
		name: models.SourceUnsplash,
		search: func(query, category string, page int) ([]models.Wallpaper, error) {
			return testWallpapers(models.SourceUnsplash, category, 1), nil
		},
	}
	service := NewService(testConfig(), store, primary, failingProvider(models.SourcePexels), logger.NewNop())

	service.runMu.Lock()
	total, err := service.RunCycle(context.Background())
	service.runMu.Unlock()

	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, primary.searchCalls(), "skipped cycle must not touch providers")
}

func TestService_RunCycle_IngestsFeaturedFeed(t *testing.T) {
	store := newMemStore(models.Category{Slug: "nature", Name: "Nature", SearchQuery: "nature"})

	primary := &stubProvider{
		name: models.SourceUnsplash,
		search: func(query, category string, page int) ([]models.Wallpaper, error) {
			return testWallpapers(models.SourceUnsplash, category, 2), nil
		},
		curated: func(page int) ([]models.Wallpaper, error) {
			featured := testWallpapers(models.SourceUnsplash, "", 2)
			for i := range featured {
				featured[i].ExternalID = fmt.Sprintf("featured-%d", i+1)
				featured[i].ID = models.WallpaperID(models.SourceUnsplash, featured[i].ExternalID)
				featured[i].IsFeatured = true
			}
			return featured, nil
		},
	}
	service := NewService(testConfig(), store, primary, failingProvider(models.SourcePexels), logger.NewNop())

	total, err := service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	stored := store.get(t, "featured-1", models.SourceUnsplash)
	assert.True(t, stored.IsFeatured)
}

// MockStorage is a testify mock of the Storage interface, used for the
// store-failure paths where asserting on call flow matters more than
// on resulting state.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) WallpaperExists(ctx context.Context, externalID, source string) (bool, error) {
	args := m.Called(ctx, externalID, source)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) UpsertWallpapers(ctx context.Context, wallpapers []models.Wallpaper) (int, error) {
	args := m.Called(ctx, wallpapers)
	return args.Int(0), args.Error(1)
}

func (m *MockStorage) ReconcileCategoryCounts(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStorage) SeedCategories(ctx context.Context, categories []models.Category) error {
	args := m.Called(ctx, categories)
	return args.Error(0)
}

func (m *MockStorage) GetCategories(ctx context.Context) ([]models.Category, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Category), args.Error(1)
}

func (m *MockStorage) GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Category), args.Error(1)
}

func (m *MockStorage) ListWallpapers(ctx context.Context, opts storage.ListOptions) (*models.WallpaperPage, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WallpaperPage), args.Error(1)
}

func (m *MockStorage) GetWallpaperByID(ctx context.Context, id string) (*models.Wallpaper, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallpaper), args.Error(1)
}

func (m *MockStorage) GetSimilarWallpapers(ctx context.Context, id string, limit int) ([]models.Wallpaper, error) {
	args := m.Called(ctx, id, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Wallpaper), args.Error(1)
}

func (m *MockStorage) IncrementDownloads(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStorage) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	args := m.Called(ctx, status)
	return args.Error(0)
}

func (m *MockStorage) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.IngestionStatus), args.Error(1)
}

func (m *MockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestService_RunCycle_StoreUnavailableFailsCycle(t *testing.T) {
	mockStorage := new(MockStorage)
	mockStorage.On("UpdateIngestionStatus", mock.Anything, mock.AnythingOfType("models.IngestionStatus")).Return(nil)
	mockStorage.On("GetCategories", mock.Anything).Return(nil, errors.New("connection refused"))

	service := NewService(testConfig(), mockStorage, failingProvider(models.SourceUnsplash), failingProvider(models.SourcePexels), logger.NewNop())

	total, err := service.RunCycle(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list categories")
	assert.Zero(t, total)
	mockStorage.AssertExpectations(t)
}

func TestService_RunCycle_ExistsCheckFailureFailsCycle(t *testing.T) {
	mockStorage := new(MockStorage)
	mockStorage.On("UpdateIngestionStatus", mock.Anything, mock.AnythingOfType("models.IngestionStatus")).Return(nil)
	mockStorage.On("GetCategories", mock.Anything).Return([]models.Category{
		{Slug: "nature", Name: "Nature", SearchQuery: "nature"},
	}, nil)
	mockStorage.On("WallpaperExists", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("connection reset"))

	primary := &stubProvider{
		name: models.SourceUnsplash,
		search: func(query, category string, page int) ([]models.Wallpaper, error) {
			return testWallpapers(models.SourceUnsplash, category, 1), nil
		},
	}
	service := NewService(testConfig(), mockStorage, primary, failingProvider(models.SourcePexels), logger.NewNop())

	_, err := service.RunCycle(context.Background())

	assert.Error(t, err)
	mockStorage.AssertExpectations(t)
}
