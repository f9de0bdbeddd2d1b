// Package categories holds the built-in category set the catalog is
// seeded with on first startup.
package categories

import "github.com/muralhub/wallpaper-service/internal/models"

// Defaults returns the built-in categories. Seeding is idempotent:
// existing categories are never overwritten, so operators can edit
// display fields or search queries without losing changes on restart.
func Defaults() []models.Category {
	return []models.Category{
		{Slug: "abstract", Name: "Abstract", Icon: "blur_on", Color: "#9C27B0", SearchQuery: "abstract pattern background"},
		{Slug: "animals", Name: "Animals", Icon: "pets", Color: "#795548", SearchQuery: "wildlife animal"},
		{Slug: "architecture", Name: "Architecture", Icon: "apartment", Color: "#607D8B", SearchQuery: "architecture building"},
		{Slug: "cars", Name: "Cars", Icon: "directions_car", Color: "#F44336", SearchQuery: "sports car automotive"},
		{Slug: "city", Name: "City", Icon: "location_city", Color: "#3F51B5", SearchQuery: "city skyline night"},
		{Slug: "dark", Name: "Dark", Icon: "dark_mode", Color: "#212121", SearchQuery: "dark moody minimal"},
		{Slug: "minimal", Name: "Minimal", Icon: "crop_square", Color: "#9E9E9E", SearchQuery: "minimal clean simple"},
		{Slug: "nature", Name: "Nature", Icon: "park", Color: "#4CAF50", SearchQuery: "nature landscape"},
		{Slug: "ocean", Name: "Ocean", Icon: "water", Color: "#03A9F4", SearchQuery: "ocean sea waves"},
		{Slug: "space", Name: "Space", Icon: "rocket_launch", Color: "#673AB7", SearchQuery: "space galaxy stars"},
	}
}
