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
	unsplashBaseURL    = "https://api.unsplash.com"
	unsplashMaxPerPage = 30
)

// UnsplashProvider adapts the Unsplash API to the Provider interface.
type UnsplashProvider struct {
	accessKey  string
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// NewUnsplashProvider creates an Unsplash adapter. The timeout bounds
// every request; a hung upstream surfaces as a ProviderError instead
// of stalling the ingestion cycle.
func NewUnsplashProvider(accessKey string, timeout time.Duration, log *logger.Logger) *UnsplashProvider {
	return &UnsplashProvider{
		accessKey: accessKey,
		baseURL:   unsplashBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (p *UnsplashProvider) Name() string { return models.SourceUnsplash }

// unsplashPhoto is the provider-native photo shape, reduced to the
// fields normalization reads.
type unsplashPhoto struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	AltDescription string `json:"alt_description"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Color          string `json:"color"`
	BlurHash       string `json:"blur_hash"`
	URLs           struct {
		Raw     string `json:"raw"`
		Full    string `json:"full"`
		Regular string `json:"regular"`
		Small   string `json:"small"`
		Thumb   string `json:"thumb"`
	} `json:"urls"`
	User struct {
		Name  string `json:"name"`
		Links struct {
			HTML string `json:"html"`
		} `json:"links"`
	} `json:"user"`
	Tags []struct {
		Title string `json:"title"`
	} `json:"tags"`
}

type unsplashSearchResponse struct {
	Results []unsplashPhoto `json:"results"`
}

// SearchPhotos queries the Unsplash search endpoint.
func (p *UnsplashProvider) SearchPhotos(ctx context.Context, query, category string, page, perPage int, orientation string) ([]models.Wallpaper, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(clampPerPage(perPage, unsplashMaxPerPage)))
	if orientation != "" {
		params.Set("orientation", orientation)
	}

	body, err := p.get(ctx, "/search/photos?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp unsplashSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("failed to unmarshal search response: %w", err)}
	}

	return p.normalizeAll(resp.Results, category, false), nil
}

// CuratedPhotos returns the popular feed. Records from this path are
// marked featured.
func (p *UnsplashProvider) CuratedPhotos(ctx context.Context, category string, page, perPage int) ([]models.Wallpaper, error) {
	params := url.Values{}
	params.Set("order_by", "popular")
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(clampPerPage(perPage, unsplashMaxPerPage)))

	body, err := p.get(ctx, "/photos?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var photos []unsplashPhoto
	if err := json.Unmarshal(body, &photos); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("failed to unmarshal photos response: %w", err)}
	}

	return p.normalizeAll(photos, category, true), nil
}

// GetPhoto fetches a single photo by id.
func (p *UnsplashProvider) GetPhoto(ctx context.Context, externalID string) (*models.Wallpaper, error) {
	body, err := p.get(ctx, "/photos/"+url.PathEscape(externalID))
	if err != nil {
		return nil, err
	}

	var photo unsplashPhoto
	if err := json.Unmarshal(body, &photo); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("failed to unmarshal photo response: %w", err)}
	}

	w, err := normalizeUnsplashPhoto(photo, "", false)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	return &w, nil
}

// TrackDownload hits the download endpoint the Unsplash API guidelines
// require whenever a user downloads a photo.
func (p *UnsplashProvider) TrackDownload(ctx context.Context, externalID string) error {
	_, err := p.get(ctx, "/photos/"+url.PathEscape(externalID)+"/download")
	return err
}

func (p *UnsplashProvider) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Client-ID "+p.accessKey)
	req.Header.Set("Accept-Version", "v1")

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

func (p *UnsplashProvider) normalizeAll(photos []unsplashPhoto, category string, featured bool) []models.Wallpaper {
	wallpapers := make([]models.Wallpaper, 0, len(photos))
	for _, photo := range photos {
		w, err := normalizeUnsplashPhoto(photo, category, featured)
		if err != nil {
			p.log.Warn("dropping malformed upstream record",
				"provider", p.Name(), "external_id", photo.ID, "error", err)
			continue
		}
		wallpapers = append(wallpapers, w)
	}
	return wallpapers
}

// normalizeUnsplashPhoto maps a native Unsplash photo into the
// canonical shape. Pure; the URL tier fallbacks are fixed:
// thumb falls back to small, regular to full, full to raw.
func normalizeUnsplashPhoto(photo unsplashPhoto, category string, featured bool) (models.Wallpaper, error) {
	thumb := firstNonEmpty(photo.URLs.Thumb, photo.URLs.Small)
	regular := firstNonEmpty(photo.URLs.Regular, photo.URLs.Full)
	full := firstNonEmpty(photo.URLs.Full, photo.URLs.Raw)
	if thumb == "" || regular == "" || full == "" {
		return models.Wallpaper{}, errNoUsableURL
	}

	tags := make([]string, 0, len(photo.Tags))
	for _, t := range photo.Tags {
		if t.Title != "" {
			tags = append(tags, t.Title)
		}
	}

	now := time.Now().UTC()
	return models.Wallpaper{
		ID:              models.WallpaperID(models.SourceUnsplash, photo.ID),
		Source:          models.SourceUnsplash,
		ExternalID:      photo.ID,
		Title:           firstNonEmpty(photo.Description, photo.AltDescription, "Untitled"),
		Photographer:    firstNonEmpty(photo.User.Name, "Unknown"),
		PhotographerURL: photo.User.Links.HTML,
		URLThumb:        thumb,
		URLRegular:      regular,
		URLFull:         full,
		URLRaw:          photo.URLs.Raw,
		Width:           photo.Width,
		Height:          photo.Height,
		Color:           photo.Color,
		BlurHash:        photo.BlurHash,
		Category:        category,
		Tags:            tags,
		IsFeatured:      featured,
		FetchedAt:       now,
	}, nil
}
