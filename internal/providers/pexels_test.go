package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muralhub/wallpaper-service/internal/logger"
	"github.com/muralhub/wallpaper-service/internal/models"
)

const pexelsSearchPayload = `{
	"photos": [
		{
			"id": 7654321,
			"width": 3000,
			"height": 5000,
			"photographer": "Ana Costa",
			"photographer_url": "https://pexels.example.com/@ana",
			"avg_color": "#223344",
			"alt": "City skyline at night",
			"src": {
				"original": "https://images.example.com/7654321.jpg",
				"large2x": "https://images.example.com/7654321.jpg?large2x",
				"large": "https://images.example.com/7654321.jpg?large",
				"medium": "https://images.example.com/7654321.jpg?medium",
				"small": "https://images.example.com/7654321.jpg?small",
				"tiny": "https://images.example.com/7654321.jpg?tiny"
			}
		}
	]
}`

func testPexels(t *testing.T, handler http.HandlerFunc) *PexelsProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider := NewPexelsProvider("test-key", 5*time.Second, logger.NewNop())
	provider.baseURL = server.URL
	return provider
}

func TestPexelsProvider_SearchPhotos(t *testing.T) {
	var gotPath, gotAuth string
	provider := testPexels(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(pexelsSearchPayload))
	})

	wallpapers, err := provider.SearchPhotos(context.Background(), "city skyline", "city", 1, 40, "portrait")

	require.NoError(t, err)
	assert.Equal(t, "/v1/search", gotPath)
	assert.Equal(t, "test-key", gotAuth)

	require.Len(t, wallpapers, 1)
	w := wallpapers[0]
	assert.Equal(t, "pexels_7654321", w.ID)
	assert.Equal(t, models.SourcePexels, w.Source)
	assert.Equal(t, "7654321", w.ExternalID)
	assert.Equal(t, "City skyline at night", w.Title)
	assert.Equal(t, "Ana Costa", w.Photographer)
	assert.Equal(t, "https://images.example.com/7654321.jpg?small", w.URLThumb)
	assert.Equal(t, "https://images.example.com/7654321.jpg?large", w.URLRegular)
	assert.Equal(t, "https://images.example.com/7654321.jpg?large2x", w.URLFull)
	assert.Equal(t, "https://images.example.com/7654321.jpg", w.URLRaw)
	assert.Equal(t, "#223344", w.Color)
	assert.Equal(t, "city", w.Category)
	assert.Equal(t, []string{}, w.Tags, "tags default to an empty sequence")
}

func TestPexelsProvider_SearchPhotos_ClampsPerPage(t *testing.T) {
	var gotPerPage string
	provider := testPexels(t, func(w http.ResponseWriter, r *http.Request) {
		gotPerPage = r.URL.Query().Get("per_page")
		w.Write([]byte(`{"photos": []}`))
	})

	_, err := provider.SearchPhotos(context.Background(), "city", "city", 1, 500, "")

	require.NoError(t, err)
	assert.Equal(t, "80", gotPerPage)
}

func TestPexelsProvider_SearchPhotos_UpstreamError(t *testing.T) {
	provider := testPexels(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	wallpapers, err := provider.SearchPhotos(context.Background(), "city", "city", 1, 40, "")

	assert.Nil(t, wallpapers)
	var provErr *ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, models.SourcePexels, provErr.Provider)
}

func TestPexelsProvider_CuratedPhotosMarksFeatured(t *testing.T) {
	provider := testPexels(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/curated", r.URL.Path)
		w.Write([]byte(pexelsSearchPayload))
	})

	wallpapers, err := provider.CuratedPhotos(context.Background(), "", 1, 40)

	require.NoError(t, err)
	require.Len(t, wallpapers, 1)
	assert.True(t, wallpapers[0].IsFeatured)
}

func TestPexelsProvider_TrackDownloadIsNoOp(t *testing.T) {
	called := false
	provider := testPexels(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	err := provider.TrackDownload(context.Background(), "7654321")

	require.NoError(t, err)
	assert.False(t, called, "Pexels has no download-report endpoint")
}

func TestNormalizePexelsPhoto_Fallbacks(t *testing.T) {
	photo := pexelsPhoto{ID: 99}
	photo.Src.Tiny = "tiny"
	photo.Src.Medium = "medium"
	photo.Src.Original = "original"

	w, err := normalizePexelsPhoto(photo, "ocean", false)

	require.NoError(t, err)
	assert.Equal(t, "tiny", w.URLThumb, "thumb falls back to tiny")
	assert.Equal(t, "medium", w.URLRegular, "regular falls back to medium")
	assert.Equal(t, "original", w.URLFull, "full falls back to original")
	assert.Equal(t, "Untitled", w.Title)
	assert.Equal(t, "Unknown", w.Photographer)
}

func TestNormalizePexelsPhoto_NoUsableURL(t *testing.T) {
	photo := pexelsPhoto{ID: 100}

	_, err := normalizePexelsPhoto(photo, "", false)

	assert.ErrorIs(t, err, errNoUsableURL)
}
