package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Storage error constants
var (
	// ErrNotFound is a generic "not found" error
	ErrNotFound = errors.New("not found")

	// ErrSourceNotFound is returned when a source is not found
	ErrSourceNotFound = fmt.Errorf("source %w", ErrNotFound)

	// ErrIOCNotFound is returned when an IOC is not found
	ErrIOCNotFound = fmt.Errorf("IOC %w", ErrNotFound)

	// ErrArticleNotFound is returned when a news article is not found
	ErrArticleNotFound = fmt.Errorf("news article %w", ErrNotFound)

	// ErrDuplicate is returned when a unique constraint is violated
	ErrDuplicate = errors.New("already exists")
)

// isUniqueViolation matches the SQLite unique constraint message
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const (
	// Maximum size for JSON fields to prevent memory exhaustion
	maxJSONFieldSize = 1 << 20
)

// safeUnmarshalJSON unmarshals JSON with size validation
func safeUnmarshalJSON(data string, v interface{}) error {
	if len(data) > maxJSONFieldSize {
		return fmt.Errorf("JSON field exceeds maximum size (%d > %d bytes)", len(data), maxJSONFieldSize)
	}
	if data == "" || data == "null" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

// mustMarshalJSON encodes v, falling back to the given empty literal on error
func mustMarshalJSON(v interface{}, empty string) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return empty
	}
	return string(data)
}
