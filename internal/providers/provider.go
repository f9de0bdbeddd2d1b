package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/muralhub/wallpaper-service/internal/models"
)

// Provider is the capability set the ingestion pipeline needs from an
// upstream photo source. Both adapters normalize their native response
// shapes into models.Wallpaper, so the orchestrator's fallback logic
// never sees a provider-specific record.
type Provider interface {
	// Name returns the source identifier stored on every record this
	// provider produces (e.g. models.SourceUnsplash).
	Name() string

	// SearchPhotos runs a keyword search and returns normalized
	// records tagged with the given category slug. perPage is clamped
	// to the provider's documented maximum.
	SearchPhotos(ctx context.Context, query, category string, page, perPage int, orientation string) ([]models.Wallpaper, error)

	// CuratedPhotos returns the provider's popular/curated feed,
	// normalized. category may be empty.
	CuratedPhotos(ctx context.Context, category string, page, perPage int) ([]models.Wallpaper, error)

	// GetPhoto fetches a single photo by its provider-native ID.
	GetPhoto(ctx context.Context, externalID string) (*models.Wallpaper, error)

	// TrackDownload reports a download to the provider. Best-effort:
	// callers log failures and move on, they never propagate them.
	TrackDownload(ctx context.Context, externalID string) error
}

// ProviderError marks an upstream as unavailable: transport failure,
// timeout, or a non-2xx response. The orchestrator recovers from it by
// falling back to the secondary provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// errNoUsableURL is returned by the normalizers when a photo has no
// image URL at a required tier after all fallbacks. Such records are
// dropped individually, they never fail a batch.
var errNoUsableURL = errors.New("no usable image URL at any tier")

func clampPerPage(perPage, max int) int {
	if perPage <= 0 {
		return max
	}
	if perPage > max {
		return max
	}
	return perPage
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
