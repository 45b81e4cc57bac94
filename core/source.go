package core

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// SourceKind is the declared transport/format of a configured feed
type SourceKind string

const (
	SourceKindREST   SourceKind = "rest"
	SourceKindRSS    SourceKind = "rss"
	SourceKindCSV    SourceKind = "csv"
	SourceKindGitHub SourceKind = "github"
	SourceKindTAXII  SourceKind = "taxii"
	SourceKindJSON   SourceKind = "json"
	SourceKindText   SourceKind = "text"
)

// IsValid checks if the kind is known
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceKindREST, SourceKindRSS, SourceKindCSV, SourceKindGitHub,
		SourceKindTAXII, SourceKindJSON, SourceKindText:
		return true
	}
	return false
}

const (
	// DefaultFetchIntervalMinutes is used when a source declares no interval
	DefaultFetchIntervalMinutes = 60
	// UnhealthyFailureThreshold is the consecutive failure count at which a source reports unhealthy
	UnhealthyFailureThreshold = 3
	// MaxLastErrorLength bounds the stored last_error message
	MaxLastErrorLength = 500

	// ConfigKeyAPIKey is the only credential key the pipeline inspects
	ConfigKeyAPIKey = "api_key"
	// ConfigKeyAdapter explicitly selects an adapter by name
	ConfigKeyAdapter = "adapter"
)

// Source is a configured external feed that supplies IOC candidates
type Source struct {
	ID                   string                 `json:"id"`
	Name                 string                 `json:"name"`
	Kind                 SourceKind             `json:"kind"`
	URL                  string                 `json:"url"`
	Description          string                 `json:"description,omitempty"`
	Enabled              bool                   `json:"enabled"`
	TrustWeight          float64                `json:"trust_weight"`
	Config               map[string]interface{} `json:"config,omitempty"`
	FetchIntervalMinutes int                    `json:"fetch_interval_minutes"`

	// Health state, mutated only by the scheduler
	LastFetchAt         *time.Time `json:"last_fetch_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastError           *string    `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	NextFetchAt         *time.Time `json:"next_fetch_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FetchInterval returns the configured interval, falling back to the default
func (s *Source) FetchInterval() time.Duration {
	minutes := s.FetchIntervalMinutes
	if minutes <= 0 {
		minutes = DefaultFetchIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// IsDue reports whether the source should be fetched at now.
// A source that was never scheduled is due immediately.
func (s *Source) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	return s.NextFetchAt == nil || !s.NextFetchAt.After(now)
}

// IsHealthy is a reporting-only view; it never gates scheduling
func (s *Source) IsHealthy() bool {
	return s.ConsecutiveFailures < UnhealthyFailureThreshold
}

// ConfigString returns a string config value or "" if absent or not a string
func (s *Source) ConfigString(key string) string {
	if s.Config == nil {
		return ""
	}
	if v, ok := s.Config[key].(string); ok {
		return v
	}
	return ""
}

// CloneConfig returns a shallow copy of the config map so callers can
// substitute decrypted values without touching the stored record
func (s *Source) CloneConfig() map[string]interface{} {
	out := make(map[string]interface{}, len(s.Config))
	for k, v := range s.Config {
		out[k] = v
	}
	return out
}

// Health derives the reporting snapshot from source state
func (s *Source) Health() SourceHealth {
	return SourceHealth{
		SourceID:            s.ID,
		Name:                s.Name,
		Enabled:             s.Enabled,
		IsHealthy:           s.IsHealthy(),
		LastFetchAt:         s.LastFetchAt,
		LastSuccessAt:       s.LastSuccessAt,
		LastError:           s.LastError,
		ConsecutiveFailures: s.ConsecutiveFailures,
		NextFetchAt:         s.NextFetchAt,
	}
}

// SourceHealth is the read-only health projection consumed by reporting surfaces
type SourceHealth struct {
	SourceID            string     `json:"source_id"`
	Name                string     `json:"name"`
	Enabled             bool       `json:"enabled"`
	IsHealthy           bool       `json:"is_healthy"`
	LastFetchAt         *time.Time `json:"last_fetch_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastError           *string    `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	NextFetchAt         *time.Time `json:"next_fetch_at,omitempty"`
}

// NormalizeAdapterName lower-cases a name and strips all whitespace
func NormalizeAdapterName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "")
}

// TruncateError renders err for storage in last_error, bounded to MaxLastErrorLength runes
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if utf8.RuneCountInString(msg) <= MaxLastErrorLength {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:MaxLastErrorLength])
}

// ValidateSource checks the admin-supplied fields of a source
func ValidateSource(s *Source) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("source name cannot be empty")
	}
	if s.Kind != "" && !s.Kind.IsValid() {
		return fmt.Errorf("invalid source kind: %s", s.Kind)
	}
	if s.FetchIntervalMinutes < 0 {
		return fmt.Errorf("fetch interval cannot be negative: %d", s.FetchIntervalMinutes)
	}
	return nil
}
