package feeds

import (
	"strings"

	"github.com/subrat243/Intelify/core"
)

// =============================================================================
// Source Templates
// =============================================================================

// Template is a ready-made source definition for a well-known feed
type Template struct {
	ID                   string                 `json:"id"`
	Name                 string                 `json:"name"`
	Description          string                 `json:"description"`
	Adapter              string                 `json:"adapter"`
	Kind                 core.SourceKind        `json:"kind"`
	URL                  string                 `json:"url"`
	RequiresAPIKey       bool                   `json:"requires_api_key"`
	FetchIntervalMinutes int                    `json:"fetch_interval_minutes"`
	TrustWeight          float64                `json:"trust_weight"`
	DefaultConfig        map[string]interface{} `json:"default_config,omitempty"`
	Tags                 []string               `json:"tags"`
}

// Templates returns every built-in template
func Templates() []*Template {
	return []*Template{
		{
			ID:                   "abuseipdb",
			Name:                 "AbuseIPDB",
			Description:          "Blacklist of IP addresses reported for abusive behaviour",
			Adapter:              abuseIPDBName,
			Kind:                 core.SourceKindREST,
			URL:                  abuseIPDBURL,
			RequiresAPIKey:       true,
			FetchIntervalMinutes: 360,
			TrustWeight:          0.8,
			DefaultConfig: map[string]interface{}{
				"confidence_minimum": 90,
				"limit":              10000,
			},
			Tags: []string{"ip", "abuse", "free-tier"},
		},
		{
			ID:                   "phishtank",
			Name:                 "PhishTank",
			Description:          "Community-verified phishing URLs",
			Adapter:              phishTankName,
			Kind:                 core.SourceKindREST,
			URL:                  phishTankURL,
			FetchIntervalMinutes: 60,
			TrustWeight:          0.85,
			Tags:                 []string{"url", "phishing", "free"},
		},
		{
			ID:                   "abuse-ch-urlhaus",
			Name:                 "Abuse.ch URLhaus",
			Description:          "Malicious URLs used for malware distribution",
			Adapter:              urlhausName,
			Kind:                 core.SourceKindREST,
			URL:                  urlhausURL,
			FetchIntervalMinutes: 120,
			TrustWeight:          0.8,
			DefaultConfig: map[string]interface{}{
				"limit": 1000,
			},
			Tags: []string{"url", "malware", "free"},
		},
		{
			ID:                   "abuse-ch-malwarebazaar",
			Name:                 "Abuse.ch MalwareBazaar",
			Description:          "Recent malware samples and their hashes",
			Adapter:              malwareBazaarName,
			Kind:                 core.SourceKindREST,
			URL:                  malwareBazaarURL,
			FetchIntervalMinutes: 240,
			TrustWeight:          0.85,
			DefaultConfig: map[string]interface{}{
				"selector": "100",
			},
			Tags: []string{"hash", "malware", "free"},
		},
		{
			ID:                   "alienvault-otx",
			Name:                 "AlienVault OTX",
			Description:          "Open Threat Exchange subscribed pulses",
			Adapter:              otxName,
			Kind:                 core.SourceKindREST,
			URL:                  otxBaseURL,
			RequiresAPIKey:       true,
			FetchIntervalMinutes: 360,
			TrustWeight:          0.7,
			DefaultConfig: map[string]interface{}{
				"limit": 50,
			},
			Tags: []string{"mixed", "community", "free"},
		},
		{
			ID:                   "abuse-ch-feodo-ipblocklist",
			Name:                 "Abuse.ch Feodo Tracker IP Blocklist",
			Description:          "Botnet C2 servers, one IP per line",
			Adapter:              textName,
			Kind:                 core.SourceKindText,
			URL:                  "https://feodotracker.abuse.ch/downloads/ipblocklist.txt",
			FetchIntervalMinutes: 60,
			TrustWeight:          0.9,
			DefaultConfig: map[string]interface{}{
				"category":   "c2",
				"confidence": 0.8,
				"tags":       []string{"botnet", "c2"},
			},
			Tags: []string{"ip", "c2", "free"},
		},
		{
			ID:                   "abuse-ch-urlhaus-csv",
			Name:                 "Abuse.ch URLhaus CSV dump",
			Description:          "Recent URLhaus additions as CSV",
			Adapter:              csvName,
			Kind:                 core.SourceKindCSV,
			URL:                  "https://urlhaus.abuse.ch/downloads/csv_recent/",
			FetchIntervalMinutes: 120,
			TrustWeight:          0.8,
			DefaultConfig: map[string]interface{}{
				"delimiter":    ",",
				"comment_char": "#",
				"skip_header":  false,
				"value_column": 2,
				"default_type": "url",
				"category":     "malware",
			},
			Tags: []string{"url", "malware", "free"},
		},
	}
}

// TemplateByID returns the template with id, or nil
func TemplateByID(id string) *Template {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, t := range Templates() {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// NewSource builds an enabled source from the template. apiKey may be a
// plaintext key or a stored credential reference; empty leaves it unset.
func (t *Template) NewSource(name, apiKey string) *core.Source {
	if strings.TrimSpace(name) == "" {
		name = t.Name
	}

	cfg := make(map[string]interface{}, len(t.DefaultConfig)+2)
	for k, v := range t.DefaultConfig {
		cfg[k] = v
	}
	cfg[core.ConfigKeyAdapter] = t.Adapter
	if apiKey != "" {
		cfg[core.ConfigKeyAPIKey] = apiKey
	}

	return &core.Source{
		Name:                 name,
		Kind:                 t.Kind,
		URL:                  t.URL,
		Description:          t.Description,
		Enabled:              true,
		TrustWeight:          t.TrustWeight,
		Config:               cfg,
		FetchIntervalMinutes: t.FetchIntervalMinutes,
	}
}
