package feeds

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/subrat243/Intelify/core"
)

const (
	abuseIPDBName = "abuseipdb"
	abuseIPDBURL  = "https://api.abuseipdb.com/api/v2/blacklist"
)

// AbuseIPDBAdapter pulls the AbuseIPDB blacklist. It requires api_key.
type AbuseIPDBAdapter struct {
	baseAdapter
	url               string
	apiKey            string
	confidenceMinimum int
	limit             int
}

// NewAbuseIPDBAdapter is the Constructor for abuseipdb
func NewAbuseIPDBAdapter(cfg AdapterConfig) (Adapter, error) {
	return &AbuseIPDBAdapter{
		baseAdapter:       newBaseAdapter(abuseIPDBName, cfg),
		url:               cfg.URL(abuseIPDBURL),
		apiKey:            cfg.APIKey(),
		confidenceMinimum: cfg.Int("confidence_minimum", 75),
		limit:             cfg.Int("limit", 10000),
	}, nil
}

// Fetch requests the blacklist with the configured floor and limit
func (a *AbuseIPDBAdapter) Fetch(ctx context.Context) ([]byte, error) {
	if a.apiKey == "" {
		return nil, core.NewFetchError(a.name, abuseIPDBURL, 0, core.ErrMissingAPIKey)
	}

	return a.fetcher.Fetch(ctx, a.name, Request{
		URL: a.url,
		Query: url.Values{
			"confidenceMinimum": {strconv.Itoa(a.confidenceMinimum)},
			"limit":             {strconv.Itoa(a.limit)},
		},
		Header: map[string]string{
			"Key":    a.apiKey,
			"Accept": "application/json",
		},
	})
}

type abuseIPDBEntry struct {
	IPAddress            string  `json:"ipAddress"`
	AbuseConfidenceScore float64 `json:"abuseConfidenceScore"`
	CountryCode          string  `json:"countryCode"`
	UsageType            string  `json:"usageType"`
	ISP                  string  `json:"isp"`
	TotalReports         int     `json:"totalReports"`
}

// Parse maps data[].ipAddress to ip candidates scored by abuseConfidenceScore
func (a *AbuseIPDBAdapter) Parse(raw []byte) ([]core.Candidate, error) {
	if err := validateEnvelope(a.name, abuseIPDBSchema, raw); err != nil {
		return nil, err
	}

	var payload struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, core.NewParseError(a.name, err)
	}

	outcomes := make([]core.Outcome, 0, len(payload.Data))
	for i, item := range payload.Data {
		var entry abuseIPDBEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			outcomes = append(outcomes, core.Err("record "+strconv.Itoa(i)+": "+err.Error()))
			continue
		}
		outcomes = append(outcomes, a.mapEntry(entry))
	}
	return a.collect(outcomes), nil
}

func (a *AbuseIPDBAdapter) mapEntry(entry abuseIPDBEntry) core.Outcome {
	ip := strings.TrimSpace(entry.IPAddress)
	if ip == "" {
		return core.Skip("missing ipAddress")
	}

	return core.Ok(core.Candidate{
		Indicator:       ip,
		Type:            core.IOCTypeIP,
		Category:        "malware",
		Tags:            []string{"abuse", "malicious-ip"},
		ConfidenceScore: entry.AbuseConfidenceScore / 100.0,
		Metadata: core.Metadata{
			"country_code":  entry.CountryCode,
			"usage_type":    entry.UsageType,
			"isp":           entry.ISP,
			"total_reports": entry.TotalReports,
		},
	})
}
