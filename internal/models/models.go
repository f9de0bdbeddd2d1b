package models

import "time"

// Wallpaper source identifiers. ExternalID values are only unique
// within a single source, so every derived ID is namespaced by one
// of these.
const (
	SourceUnsplash  = "unsplash"
	SourcePexels    = "pexels"
	SourceGenerated = "generated"
)

// Wallpaper is the canonical catalog entity. Records from every
// provider are normalized into this shape before they touch storage.
type Wallpaper struct {
	ID              string    `json:"id" bson:"_id"`
	Source          string    `json:"source" bson:"source"`
	ExternalID      string    `json:"external_id" bson:"external_id"`
	Title           string    `json:"title" bson:"title"`
	Photographer    string    `json:"photographer" bson:"photographer"`
	PhotographerURL string    `json:"photographer_url" bson:"photographer_url"`
	URLThumb        string    `json:"url_thumb" bson:"url_thumb"`
	URLRegular      string    `json:"url_regular" bson:"url_regular"`
	URLFull         string    `json:"url_full" bson:"url_full"`
	URLRaw          string    `json:"url_raw,omitempty" bson:"url_raw,omitempty"`
	Width           int       `json:"width" bson:"width"`
	Height          int       `json:"height" bson:"height"`
	Color           string    `json:"color,omitempty" bson:"color,omitempty"`
	BlurHash        string    `json:"blur_hash,omitempty" bson:"blur_hash,omitempty"`
	Category        string    `json:"category" bson:"category"`
	Tags            []string  `json:"tags" bson:"tags"`
	Downloads       int64     `json:"downloads" bson:"downloads"`
	IsFeatured      bool      `json:"is_featured" bson:"is_featured"`
	IsAIGenerated   bool      `json:"is_ai_generated" bson:"is_ai_generated"`
	FetchedAt       time.Time `json:"fetched_at" bson:"fetched_at"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" bson:"updated_at"`
}

// WallpaperID derives the catalog primary key for a record. The
// (source, external_id) pair remains the authoritative uniqueness
// constraint; the derived ID only namespaces it into one string.
func WallpaperID(source, externalID string) string {
	return source + "_" + externalID
}

// Category groups wallpapers and carries the query string the
// ingestion pipeline feeds to providers. WallpaperCount is a
// denormalized aggregate recomputed after every ingestion cycle.
type Category struct {
	Slug           string    `json:"slug" bson:"_id"`
	Name           string    `json:"name" bson:"name"`
	Icon           string    `json:"icon" bson:"icon"`
	Color          string    `json:"color" bson:"color"`
	SearchQuery    string    `json:"search_query" bson:"search_query"`
	WallpaperCount int64     `json:"wallpaper_count" bson:"wallpaper_count"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// IngestionStatus tracks the outcome of ingestion cycles.
type IngestionStatus struct {
	LastSuccessfulRun time.Time `json:"last_successful_run" bson:"last_successful_run"`
	LastAttempt       time.Time `json:"last_attempt" bson:"last_attempt"`
	Status            string    `json:"status" bson:"status"` // "success", "failure", "running", "never_run"
	ErrorMessage      string    `json:"error_message,omitempty" bson:"error_message,omitempty"`
	RecordsIngested   int       `json:"records_ingested" bson:"records_ingested"`
}

// WallpaperPage is one page of a catalog listing along with the
// pagination metadata the read API returns.
type WallpaperPage struct {
	Wallpapers []Wallpaper `json:"wallpapers"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	Total      int64       `json:"total"`
	TotalPages int         `json:"total_pages"`
}
