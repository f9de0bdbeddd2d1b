package storage

import "errors"

// ErrNotFound is returned when a wallpaper or category does not exist.
var ErrNotFound = errors.New("record not found")
