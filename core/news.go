package core

import (
	"strings"
	"time"
)

// NewsSource is a configured RSS/Atom feed of security news
type NewsSource struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Category    string     `json:"category,omitempty"`
	Enabled     bool       `json:"enabled"`
	LastFetchAt *time.Time `json:"last_fetch_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewsArticle is a news item, unique by URL
type NewsArticle struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Summary       string     `json:"summary,omitempty"`
	Content       string     `json:"content,omitempty"`
	SourceID      string     `json:"source_id,omitempty"`
	Category      string     `json:"category,omitempty"`
	Keywords      []string   `json:"keywords"`
	CVEReferences []string   `json:"cve_references"`
	RelatedIOCs   []string   `json:"related_iocs"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// SearchText returns title, summary and content joined and lower-cased
func (a *NewsArticle) SearchText() string {
	return strings.ToLower(a.Title + " " + a.Summary + " " + a.Content)
}
