package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/subrat243/Intelify/core"
)

const (
	urlhausName = "urlhaus"
	urlhausURL  = "https://urlhaus-api.abuse.ch/v1/urls/recent/"
)

var urlhausThreatCategories = map[string]string{
	"malware_download": "malware",
	"phishing":         "phishing",
	"botnet_cc":        "c2",
}

// URLhausAdapter pulls recent malicious URLs from abuse.ch URLhaus
type URLhausAdapter struct {
	baseAdapter
	url    string
	apiKey string
	limit  int
}

// NewURLhausAdapter is the Constructor for urlhaus
func NewURLhausAdapter(cfg AdapterConfig) (Adapter, error) {
	return &URLhausAdapter{
		baseAdapter: newBaseAdapter(urlhausName, cfg),
		url:         cfg.URL(urlhausURL),
		apiKey:      cfg.APIKey(),
		limit:       cfg.Int("limit", 100),
	}, nil
}

func (a *URLhausAdapter) Fetch(ctx context.Context) ([]byte, error) {
	req := Request{
		URL: a.url,
		Form: url.Values{
			"query": {"get_recent"},
			"limit": {strconv.Itoa(a.limit)},
		},
	}
	if a.apiKey != "" {
		req.Header = map[string]string{"Auth-Key": a.apiKey}
	}
	return a.fetcher.Fetch(ctx, a.name, req)
}

type urlhausEntry struct {
	URL       string   `json:"url"`
	URLStatus string   `json:"url_status"`
	Threat    string   `json:"threat"`
	Tags      []string `json:"tags"`
	DateAdded string   `json:"date_added"`
	Reporter  string   `json:"reporter"`
	Host      string   `json:"host"`
}

// Parse requires query_status "ok"; anything else rejects the whole payload
func (a *URLhausAdapter) Parse(raw []byte) ([]core.Candidate, error) {
	if err := validateEnvelope(a.name, urlhausSchema, raw); err != nil {
		return nil, err
	}

	var payload struct {
		QueryStatus string            `json:"query_status"`
		URLs        []json.RawMessage `json:"urls"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, core.NewParseError(a.name, err)
	}
	if payload.QueryStatus != "ok" {
		return nil, core.NewParseError(a.name, fmt.Errorf("query_status %q", payload.QueryStatus))
	}

	outcomes := make([]core.Outcome, 0, len(payload.URLs))
	for i, item := range payload.URLs {
		var entry urlhausEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			outcomes = append(outcomes, core.Err("record "+strconv.Itoa(i)+": "+err.Error()))
			continue
		}
		outcomes = append(outcomes, mapURLhausEntry(entry))
	}
	return a.collect(outcomes), nil
}

func mapURLhausEntry(entry urlhausEntry) core.Outcome {
	malicious := strings.TrimSpace(entry.URL)
	if malicious == "" {
		return core.Skip("missing url")
	}

	threat := entry.Threat
	if threat == "" {
		threat = "malware"
	}
	category, ok := urlhausThreatCategories[threat]
	if !ok {
		category = "malware"
	}

	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}

	return core.Ok(core.Candidate{
		Indicator:       malicious,
		Type:            core.IOCTypeURL,
		Category:        category,
		Tags:            []string{"malicious-url", threat},
		ConfidenceScore: 0.8,
		Metadata: core.Metadata{
			"url_status": entry.URLStatus,
			"threat":     threat,
			"tags":       tags,
			"date_added": entry.DateAdded,
			"reporter":   entry.Reporter,
			"host":       entry.Host,
		},
	})
}
