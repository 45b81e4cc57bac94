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
	phishTankName     = "phishtank"
	phishTankURL      = "http://data.phishtank.com/data/online-valid.json"
	phishTankKeyedURL = "http://data.phishtank.com/data/%s/online-valid.json"
)

// PhishTankAdapter pulls the verified-online PhishTank dump. An api_key is
// optional and only changes the download path.
type PhishTankAdapter struct {
	baseAdapter
	url string
}

// NewPhishTankAdapter is the Constructor for phishtank
func NewPhishTankAdapter(cfg AdapterConfig) (Adapter, error) {
	endpoint := cfg.URL(phishTankURL)
	if key := cfg.APIKey(); key != "" && endpoint == phishTankURL {
		endpoint = fmt.Sprintf(phishTankKeyedURL, url.PathEscape(key))
	}
	return &PhishTankAdapter{
		baseAdapter: newBaseAdapter(phishTankName, cfg),
		url:         endpoint,
	}, nil
}

func (a *PhishTankAdapter) Fetch(ctx context.Context) ([]byte, error) {
	return a.fetcher.Fetch(ctx, a.name, Request{
		URL:    a.url,
		Header: map[string]string{"Accept": "application/json"},
	})
}

type phishTankEntry struct {
	PhishID          interface{} `json:"phish_id"`
	URL              string      `json:"url"`
	Target           string      `json:"target"`
	SubmissionTime   string      `json:"submission_time"`
	Verified         string      `json:"verified"`
	VerificationTime string      `json:"verification_time"`
}

func (a *PhishTankAdapter) Parse(raw []byte) ([]core.Candidate, error) {
	if err := validateEnvelope(a.name, phishTankSchema, raw); err != nil {
		return nil, err
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, core.NewParseError(a.name, err)
	}

	outcomes := make([]core.Outcome, 0, len(entries))
	for i, item := range entries {
		var entry phishTankEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			outcomes = append(outcomes, core.Err("record "+strconv.Itoa(i)+": "+err.Error()))
			continue
		}

		phishURL := strings.TrimSpace(entry.URL)
		if phishURL == "" {
			outcomes = append(outcomes, core.Skip("missing url"))
			continue
		}

		outcomes = append(outcomes, core.Ok(core.Candidate{
			Indicator:       phishURL,
			Type:            core.IOCTypeURL,
			Category:        "phishing",
			Tags:            []string{"phishing", "verified"},
			ConfidenceScore: 0.9,
			Metadata: core.Metadata{
				"phish_id":          entry.PhishID,
				"target":            entry.Target,
				"submission_time":   entry.SubmissionTime,
				"verified":          entry.Verified == "yes",
				"verification_time": entry.VerificationTime,
			},
		}))
	}
	return a.collect(outcomes), nil
}
