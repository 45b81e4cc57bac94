package core

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// IOC Types and Constants
// =============================================================================

// IOCType represents the type of indicator of compromise
type IOCType string

const (
	IOCTypeIP         IOCType = "ip"
	IOCTypeDomain     IOCType = "domain"
	IOCTypeURL        IOCType = "url"
	IOCTypeHashMD5    IOCType = "hash-md5"
	IOCTypeHashSHA256 IOCType = "hash-sha256"
	IOCTypeCVE        IOCType = "cve"
)

// AllIOCTypes returns all valid IOC types for validation
var AllIOCTypes = []IOCType{
	IOCTypeIP, IOCTypeDomain, IOCTypeURL,
	IOCTypeHashMD5, IOCTypeHashSHA256, IOCTypeCVE,
}

// IsValid checks if the IOC type is valid
func (t IOCType) IsValid() bool {
	for _, valid := range AllIOCTypes {
		if t == valid {
			return true
		}
	}
	return false
}

const (
	// MaxConfidence is the ceiling for confidence scores
	MaxConfidence = 1.0
	// IngestConfidenceBump is added to an existing IOC each time it is re-ingested
	IngestConfidenceBump = 0.05
	// DefaultCandidateConfidence is used when an adapter supplies no score
	DefaultCandidateConfidence = 0.5
)

// Metadata is the free-form per-source payload kept alongside an IOC.
// Values must be JSON-encodable scalars, slices or maps.
type Metadata map[string]interface{}

// =============================================================================
// Candidate
// =============================================================================

// Candidate is an adapter's normalized, not-yet-persisted indicator record
type Candidate struct {
	Indicator       string   `json:"indicator" validate:"required"`
	Type            IOCType  `json:"type" validate:"required,ioctype"`
	Category        string   `json:"category,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	ConfidenceScore float64  `json:"confidence_score"`
	Metadata        Metadata `json:"metadata,omitempty"`
}

var (
	candidateValidator     *validator.Validate
	candidateValidatorOnce sync.Once
)

func newCandidateValidator() (*validator.Validate, error) {
	v := validator.New()
	err := v.RegisterValidation("ioctype", func(fl validator.FieldLevel) bool {
		return IOCType(fl.Field().String()).IsValid()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register ioctype validation: %w", err)
	}
	return v, nil
}

// getCandidateValidator panics if the custom tags cannot be registered, since
// every later Validate call would otherwise fail on an unknown tag
func getCandidateValidator() *validator.Validate {
	candidateValidatorOnce.Do(func() {
		v, err := newCandidateValidator()
		if err != nil {
			panic(err)
		}
		candidateValidator = v
	})
	return candidateValidator
}

// Normalize trims the indicator, canonicalizes it for its type and clamps the
// confidence into [0, 1]
func (c *Candidate) Normalize() {
	c.Indicator = NormalizeIndicator(c.Type, c.Indicator)
	c.Category = strings.ToLower(strings.TrimSpace(c.Category))
	c.ConfidenceScore = ClampConfidence(c.ConfidenceScore)
	if c.Metadata == nil {
		c.Metadata = Metadata{}
	}
}

// Validate reports whether the candidate has a non-empty indicator and a known type
func (c *Candidate) Validate() error {
	return getCandidateValidator().Struct(c)
}

// FilterValid normalizes candidates and drops the invalid ones.
// It returns the surviving candidates and the number dropped.
func FilterValid(candidates []Candidate) ([]Candidate, int) {
	valid := make([]Candidate, 0, len(candidates))
	dropped := 0
	for _, c := range candidates {
		c.Normalize()
		if err := c.Validate(); err != nil {
			dropped++
			continue
		}
		valid = append(valid, c)
	}
	return valid, dropped
}

// ClampConfidence bounds a confidence score to [0, MaxConfidence]
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > MaxConfidence {
		return MaxConfidence
	}
	return v
}

// =============================================================================
// IOC
// =============================================================================

// IOC is the canonical indicator record, unique by (Indicator, Type)
type IOC struct {
	ID        string  `json:"id"`
	Indicator string  `json:"indicator"`
	Type      IOCType `json:"type"`
	// SourceID is the first source that created the record
	SourceID string `json:"source_id"`

	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags"`

	ConfidenceScore float64  `json:"confidence_score"`
	ReputationScore *float64 `json:"reputation_score,omitempty"`

	GeoCountry   string   `json:"geo_country,omitempty"`
	GeoCity      string   `json:"geo_city,omitempty"`
	GeoLatitude  *float64 `json:"geo_latitude,omitempty"`
	GeoLongitude *float64 `json:"geo_longitude,omitempty"`
	ASN          string   `json:"asn,omitempty"`
	ASNOrg       string   `json:"asn_org,omitempty"`
	ReverseDNS   string   `json:"reverse_dns,omitempty"`
	ResolvedIP   string   `json:"resolved_ip,omitempty"`

	MitreTechniques []string `json:"mitre_techniques"`
	Metadata        Metadata `json:"metadata"`

	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	CorrelationCount int       `json:"correlation_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewIOCFromCandidate builds a new IOC attributed to sourceID
func NewIOCFromCandidate(id, sourceID string, c Candidate, now time.Time) *IOC {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	metadata := c.Metadata
	if metadata == nil {
		metadata = Metadata{}
	}
	return &IOC{
		ID:               id,
		Indicator:        c.Indicator,
		Type:             c.Type,
		SourceID:         sourceID,
		Category:         c.Category,
		Tags:             tags,
		ConfidenceScore:  ClampConfidence(c.ConfidenceScore),
		MitreTechniques:  []string{},
		Metadata:         metadata,
		FirstSeen:        now,
		LastSeen:         now,
		CorrelationCount: 1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Enrichment is the partial field set produced by enrichment lookups.
// Zero values mean the lookup produced nothing.
type Enrichment struct {
	GeoCountry   string   `json:"geo_country,omitempty" msgpack:"geo_country,omitempty"`
	GeoCity      string   `json:"geo_city,omitempty" msgpack:"geo_city,omitempty"`
	GeoLatitude  *float64 `json:"geo_latitude,omitempty" msgpack:"geo_latitude,omitempty"`
	GeoLongitude *float64 `json:"geo_longitude,omitempty" msgpack:"geo_longitude,omitempty"`
	ASN          string   `json:"asn,omitempty" msgpack:"asn,omitempty"`
	ASNOrg       string   `json:"asn_org,omitempty" msgpack:"asn_org,omitempty"`
	ReverseDNS   string   `json:"reverse_dns,omitempty" msgpack:"reverse_dns,omitempty"`
	ResolvedIP   string   `json:"resolved_ip,omitempty" msgpack:"resolved_ip,omitempty"`
}

// IsEmpty returns true when no lookup produced a value
func (e Enrichment) IsEmpty() bool {
	return e.GeoCountry == "" && e.GeoCity == "" && e.GeoLatitude == nil && e.GeoLongitude == nil &&
		e.ASN == "" && e.ASNOrg == "" && e.ReverseDNS == "" && e.ResolvedIP == ""
}

// Merge overlays non-empty fields of other onto e
func (e Enrichment) Merge(other Enrichment) Enrichment {
	if other.GeoCountry != "" {
		e.GeoCountry = other.GeoCountry
	}
	if other.GeoCity != "" {
		e.GeoCity = other.GeoCity
	}
	if other.GeoLatitude != nil {
		e.GeoLatitude = other.GeoLatitude
	}
	if other.GeoLongitude != nil {
		e.GeoLongitude = other.GeoLongitude
	}
	if other.ASN != "" {
		e.ASN = other.ASN
	}
	if other.ASNOrg != "" {
		e.ASNOrg = other.ASNOrg
	}
	if other.ReverseDNS != "" {
		e.ReverseDNS = other.ReverseDNS
	}
	if other.ResolvedIP != "" {
		e.ResolvedIP = other.ResolvedIP
	}
	return e
}

// ApplyEnrichment copies enrichment fields onto the IOC
func (ioc *IOC) ApplyEnrichment(e Enrichment) {
	ioc.GeoCountry = e.GeoCountry
	ioc.GeoCity = e.GeoCity
	ioc.GeoLatitude = e.GeoLatitude
	ioc.GeoLongitude = e.GeoLongitude
	ioc.ASN = e.ASN
	ioc.ASNOrg = e.ASNOrg
	ioc.ReverseDNS = e.ReverseDNS
	ioc.ResolvedIP = e.ResolvedIP
}

// =============================================================================
// Normalization and Detection
// =============================================================================

var (
	domainPattern = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
	md5Pattern    = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)
	sha256Pattern = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
	cvePattern    = regexp.MustCompile(`^CVE-\d{4}-\d{4,7}$`)
)

// NormalizeIndicator trims an indicator and canonicalizes case where the type
// is case-insensitive
func NormalizeIndicator(iocType IOCType, value string) string {
	normalized := strings.TrimSpace(value)

	switch iocType {
	case IOCTypeIP, IOCTypeHashMD5, IOCTypeHashSHA256:
		return strings.ToLower(normalized)
	case IOCTypeDomain:
		return strings.TrimSuffix(strings.ToLower(normalized), ".")
	case IOCTypeCVE:
		return strings.ToUpper(normalized)
	default:
		return normalized
	}
}

// DetectIOCType attempts to detect the IOC type based on the value format.
// Returns empty string if type cannot be determined.
func DetectIOCType(value string) IOCType {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if cvePattern.MatchString(strings.ToUpper(value)) {
		return IOCTypeCVE
	}

	if ip := net.ParseIP(value); ip != nil {
		return IOCTypeIP
	}

	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return IOCTypeURL
	}

	if sha256Pattern.MatchString(value) {
		return IOCTypeHashSHA256
	}
	if md5Pattern.MatchString(value) {
		return IOCTypeHashMD5
	}

	if domainPattern.MatchString(lower) {
		return IOCTypeDomain
	}

	return ""
}
