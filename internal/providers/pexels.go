package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/muralhub/wallpaper-service/internal/logger"
	"github.com/muralhub/wallpaper-service/internal/models"
)

const (
	pexelsBaseURL    = "https://api.pexels.com"
	pexelsMaxPerPage = 80
)

// PexelsProvider adapts the Pexels API to the Provider interface.
type PexelsProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// NewPexelsProvider creates a Pexels adapter.
func NewPexelsProvider(apiKey string, timeout time.Duration, log *logger.Logger) *PexelsProvider {
	return &PexelsProvider{
		apiKey:  apiKey,
		baseURL: pexelsBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (p *PexelsProvider) Name() string { return models.SourcePexels }

type pexelsPhoto struct {
	ID              int64  `json:"id"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Photographer    string `json:"photographer"`
	PhotographerURL string `json:"photographer_url"`
	AvgColor        string `json:"avg_color"`
	Alt             string `json:"alt"`
	Src             struct {
		Original string `json:"original"`
		Large2x  string `json:"large2x"`
		Large    string `json:"large"`
		Medium   string `json:"medium"`
		Small    string `json:"small"`
		Tiny     string `json:"tiny"`
	} `json:"src"`
}

type pexelsPhotosResponse struct {
	Photos []pexelsPhoto `json:"photos"`
}

// SearchPhotos queries the Pexels search endpoint.
func (p *PexelsProvider) SearchPhotos(ctx context.Context, query, category string, page, perPage int, orientation string) ([]models.Wallpaper, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(clampPerPage(perPage, pexelsMaxPerPage)))
	if orientation != "" {
		params.Set("orientation", orientation)
	}

	return p.fetchList(ctx, "/v1/search?"+params.Encode(), category, false)
}

// CuratedPhotos returns the curated feed. Records from this path are
// marked featured.
func (p *PexelsProvider) CuratedPhotos(ctx context.Context, category string, page, perPage int) ([]models.Wallpaper, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(clampPerPage(perPage, pexelsMaxPerPage)))

	return p.fetchList(ctx, "/v1/curated?"+params.Encode(), category, true)
}

// GetPhoto fetches a single photo by id.
func (p *PexelsProvider) GetPhoto(ctx context.Context, externalID string) (*models.Wallpaper, error) {
	body, err := p.get(ctx, "/v1/photos/"+url.PathEscape(externalID))
	if err != nil {
		return nil, err
	}

	var photo pexelsPhoto
	if err := json.Unmarshal(body, &photo); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("failed to unmarshal photo response: %w", err)}
	}

	w, err := normalizePexelsPhoto(photo, "", false)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	return &w, nil
}

// TrackDownload is a no-op: Pexels has no download-report endpoint.
func (p *PexelsProvider) TrackDownload(ctx context.Context, externalID string) error {
	return nil
}

func (p *PexelsProvider) fetchList(ctx context.Context, path, category string, featured bool) ([]models.Wallpaper, error) {
	body, err := p.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var resp pexelsPhotosResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("failed to unmarshal photos response: %w", err)}
	}

	wallpapers := make([]models.Wallpaper, 0, len(resp.Photos))
	for _, photo := range resp.Photos {
		w, err := normalizePexelsPhoto(photo, category, featured)
		if err != nil {
			p.log.Warn("dropping malformed upstream record",
				"provider", p.Name(), "external_id", photo.ID, "error", err)
			continue
		}
		wallpapers = append(wallpapers, w)
	}
	return wallpapers, nil
}

func (p *PexelsProvider) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("failed to make request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("API returned status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return body, nil
}

// normalizePexelsPhoto maps a native Pexels photo into the canonical
// shape. Pure; the URL tier fallbacks are fixed: thumb falls back from
// small to tiny, regular from large to medium, full from large2x to
// original.
func normalizePexelsPhoto(photo pexelsPhoto, category string, featured bool) (models.Wallpaper, error) {
	thumb := firstNonEmpty(photo.Src.Small, photo.Src.Tiny)
	regular := firstNonEmpty(photo.Src.Large, photo.Src.Medium)
	full := firstNonEmpty(photo.Src.Large2x, photo.Src.Original)
	if thumb == "" || regular == "" || full == "" {
		return models.Wallpaper{}, errNoUsableURL
	}

	externalID := strconv.FormatInt(photo.ID, 10)
	now := time.Now().UTC()
	return models.Wallpaper{
		ID:              models.WallpaperID(models.SourcePexels, externalID),
		Source:          models.SourcePexels,
		ExternalID:      externalID,
		Title:           firstNonEmpty(photo.Alt, "Untitled"),
		Photographer:    firstNonEmpty(photo.Photographer, "Unknown"),
		PhotographerURL: photo.PhotographerURL,
		URLThumb:        thumb,
		URLRegular:      regular,
		URLFull:         full,
		URLRaw:          photo.Src.Original,
		Width:           photo.Width,
		Height:          photo.Height,
		Color:           photo.AvgColor,
		Category:        category,
		Tags:            []string{},
		IsFeatured:      featured,
		FetchedAt:       now,
	}, nil
}
