package threat

import (
	"time"
)

// IngestResult tallies one Ingest call
type IngestResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	// Dropped counts candidates that failed validation
	Dropped int `json:"dropped"`
	// Failed counts candidates whose storage write failed
	Failed int `json:"failed"`
}

// Add accumulates other into r
func (r *IngestResult) Add(other IngestResult) {
	r.Created += other.Created
	r.Updated += other.Updated
	r.Dropped += other.Dropped
	r.Failed += other.Failed
}

// CorrelationStats summarizes one cross-source correlation pass
type CorrelationStats struct {
	CorrelationsFound int       `json:"correlations_found"`
	ConfidenceBoosts  int       `json:"confidence_boosts"`
	Timestamp         time.Time `json:"timestamp"`
}

// NewsLinkStats summarizes one news linking pass
type NewsLinkStats struct {
	ArticlesProcessed int       `json:"articles_processed"`
	LinksCreated      int       `json:"links_created"`
	Timestamp         time.Time `json:"timestamp"`
}

// RetentionStats summarizes one retention sweep
type RetentionStats struct {
	DeletedIOCs int64     `json:"deleted_iocs"`
	DeletedNews int64     `json:"deleted_news"`
	Timestamp   time.Time `json:"timestamp"`
}

// RelatedIOC is one entry of a related-indicator lookup
type RelatedIOC struct {
	ID              string  `json:"id"`
	Indicator       string  `json:"indicator"`
	Type            string  `json:"type"`
	Category        string  `json:"category,omitempty"`
	GeoCountry      string  `json:"geo_country,omitempty"`
	ConfidenceScore float64 `json:"confidence_score"`
	// Relation is "same_indicator" or "same_category_country"
	Relation string `json:"relation"`
}
