package ingestion

import (
	"sync"

	"github.com/muralhub/wallpaper-service/internal/models"
)

// Page windows bound how deep into each provider's result pages the
// pipeline cycles before wrapping back to page 1. Unsplash gets a
// tighter window because its rate ceiling is much lower.
const (
	unsplashPageWindow = 5
	pexelsPageWindow   = 10
	defaultPageWindow  = 5
)

func pageWindow(provider string) int {
	switch provider {
	case models.SourceUnsplash:
		return unsplashPageWindow
	case models.SourcePexels:
		return pexelsPageWindow
	default:
		return defaultPageWindow
	}
}

// PageCursor tracks the upstream page to request per provider so that
// consecutive ingestion cycles surface fresh content instead of
// re-reading page 1 forever. State is in-memory only; losing it on
// restart costs nothing but freshness ordering.
type PageCursor struct {
	mu      sync.Mutex
	pages   map[string]int
	windows map[string]int
}

// NewPageCursor initializes every provider's cursor at page 1.
func NewPageCursor(windows map[string]int) *PageCursor {
	pages := make(map[string]int, len(windows))
	for provider := range windows {
		pages[provider] = 1
	}
	return &PageCursor{pages: pages, windows: windows}
}

// Advance moves the provider's cursor to the next page in its window
// and returns it. Pages repeat the cycle 1, 2, ..., window, 1, ... and
// never reach 0 or exceed the window.
func (c *PageCursor) Advance(provider string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.windows[provider]
	if window < 1 {
		window = 1
	}
	next := (c.pages[provider] % window) + 1
	c.pages[provider] = next
	return next
}

// Page returns the provider's current page without advancing it.
func (c *PageCursor) Page(provider string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if page, ok := c.pages[provider]; ok {
		return page
	}
	return 1
}
