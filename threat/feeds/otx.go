package feeds

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/subrat243/Intelify/core"
)

// =============================================================================
// AlienVault OTX Adapter
// =============================================================================

const (
	otxName    = "otx"
	otxBaseURL = "https://otx.alienvault.com"

	otxDefaultPageSize = 50
)

var otxTypes = map[string]core.IOCType{
	"IPv4":            core.IOCTypeIP,
	"IPv6":            core.IOCTypeIP,
	"domain":          core.IOCTypeDomain,
	"hostname":        core.IOCTypeDomain,
	"URL":             core.IOCTypeURL,
	"URI":             core.IOCTypeURL,
	"FileHash-MD5":    core.IOCTypeHashMD5,
	"FileHash-SHA256": core.IOCTypeHashSHA256,
	"CVE":             core.IOCTypeCVE,
}

// knownCategories are the pulse tags promoted to an IOC category
var knownCategories = []string{"ransomware", "apt", "malware", "botnet", "c2", "phishing"}

// OTXAdapter pulls indicators from subscribed OTX pulses. It requires api_key.
type OTXAdapter struct {
	baseAdapter
	baseURL  string
	apiKey   string
	pageSize int
	since    *time.Time
}

// NewOTXAdapter is the Constructor for otx. When the source has succeeded
// before, only pulses modified since then are requested.
func NewOTXAdapter(cfg AdapterConfig) (Adapter, error) {
	base := strings.TrimSuffix(cfg.URL(otxBaseURL), "/")
	base = strings.TrimSuffix(base, "/api/v1")

	a := &OTXAdapter{
		baseAdapter: newBaseAdapter(otxName, cfg),
		baseURL:     base,
		apiKey:      cfg.APIKey(),
		pageSize:    cfg.Int("limit", otxDefaultPageSize),
	}
	if cfg.Source != nil && cfg.Source.LastSuccessAt != nil {
		since := cfg.Source.LastSuccessAt.UTC()
		a.since = &since
	}
	return a, nil
}

func (a *OTXAdapter) Fetch(ctx context.Context) ([]byte, error) {
	if a.apiKey == "" {
		return nil, core.NewFetchError(a.name, a.baseURL, 0, core.ErrMissingAPIKey)
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(a.pageSize))
	if a.since != nil {
		params.Set("modified_since", a.since.Format("2006-01-02T15:04:05"))
	}

	return a.fetcher.Fetch(ctx, a.name, Request{
		URL:   a.baseURL + "/api/v1/pulses/subscribed",
		Query: params,
		Header: map[string]string{
			"X-OTX-API-KEY": a.apiKey,
			"Accept":        "application/json",
		},
	})
}

type otxPulse struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Adversary  string         `json:"adversary"`
	TLP        string         `json:"tlp"`
	Tags       []string       `json:"tags"`
	Indicators []otxIndicator `json:"indicators"`
}

type otxIndicator struct {
	Indicator string `json:"indicator"`
	Type      string `json:"type"`
}

func (a *OTXAdapter) Parse(raw []byte) ([]core.Candidate, error) {
	if err := validateEnvelope(a.name, otxSchema, raw); err != nil {
		return nil, err
	}

	var payload struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, core.NewParseError(a.name, err)
	}

	var outcomes []core.Outcome
	for i, item := range payload.Results {
		var pulse otxPulse
		if err := json.Unmarshal(item, &pulse); err != nil {
			outcomes = append(outcomes, core.Err("pulse "+strconv.Itoa(i)+": "+err.Error()))
			continue
		}
		outcomes = append(outcomes, mapOTXPulse(pulse)...)
	}
	return a.collect(outcomes), nil
}

func mapOTXPulse(pulse otxPulse) []core.Outcome {
	confidence := 0.5
	if strings.TrimSpace(pulse.Adversary) != "" {
		confidence = 0.8
	}
	category := categoryFromTags(pulse.Tags)
	tags := dedupeStrings(pulse.Tags)

	outcomes := make([]core.Outcome, 0, len(pulse.Indicators))
	for _, ind := range pulse.Indicators {
		value := strings.TrimSpace(ind.Indicator)
		if value == "" {
			outcomes = append(outcomes, core.Skip("missing indicator"))
			continue
		}
		iocType, ok := otxTypes[ind.Type]
		if !ok {
			outcomes = append(outcomes, core.Skip("unsupported OTX type "+ind.Type))
			continue
		}

		outcomes = append(outcomes, core.Ok(core.Candidate{
			Indicator:       value,
			Type:            iocType,
			Category:        category,
			Tags:            tags,
			ConfidenceScore: confidence,
			Metadata: core.Metadata{
				"pulse_id":   pulse.ID,
				"pulse_name": pulse.Name,
				"adversary":  pulse.Adversary,
				"tlp":        pulse.TLP,
			},
		}))
	}
	return outcomes
}

// categoryFromTags returns the first tag naming a known category
func categoryFromTags(tags []string) string {
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		for _, known := range knownCategories {
			if t == known {
				return known
			}
		}
	}
	return ""
}
