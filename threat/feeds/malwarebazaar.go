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
	malwareBazaarName = "malwarebazaar"
	malwareBazaarURL  = "https://mb-api.abuse.ch/api/v1/"
)

// MalwareBazaarAdapter pulls recent sample hashes from abuse.ch MalwareBazaar
type MalwareBazaarAdapter struct {
	baseAdapter
	url      string
	apiKey   string
	selector string
}

// NewMalwareBazaarAdapter is the Constructor for malwarebazaar
func NewMalwareBazaarAdapter(cfg AdapterConfig) (Adapter, error) {
	return &MalwareBazaarAdapter{
		baseAdapter: newBaseAdapter(malwareBazaarName, cfg),
		url:         cfg.URL(malwareBazaarURL),
		apiKey:      cfg.APIKey(),
		selector:    cfg.String("selector", "100"),
	}, nil
}

func (a *MalwareBazaarAdapter) Fetch(ctx context.Context) ([]byte, error) {
	req := Request{
		URL: a.url,
		Form: url.Values{
			"query":    {"get_recent"},
			"selector": {a.selector},
		},
	}
	if a.apiKey != "" {
		req.Header = map[string]string{"Auth-Key": a.apiKey}
	}
	return a.fetcher.Fetch(ctx, a.name, req)
}

type malwareBazaarEntry struct {
	SHA256Hash string   `json:"sha256_hash"`
	MD5Hash    string   `json:"md5_hash"`
	FileType   string   `json:"file_type"`
	FileName   string   `json:"file_name"`
	Signature  string   `json:"signature"`
	Tags       []string `json:"tags"`
	FirstSeen  string   `json:"first_seen"`
	Reporter   string   `json:"reporter"`
}

// Parse emits a hash-sha256 candidate per sample, plus a hash-md5 candidate
// when the sample carries one
func (a *MalwareBazaarAdapter) Parse(raw []byte) ([]core.Candidate, error) {
	if err := validateEnvelope(a.name, malwareBazaarSchema, raw); err != nil {
		return nil, err
	}

	var payload struct {
		QueryStatus string            `json:"query_status"`
		Data        []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, core.NewParseError(a.name, err)
	}
	if payload.QueryStatus != "ok" {
		return nil, core.NewParseError(a.name, fmt.Errorf("query_status %q", payload.QueryStatus))
	}

	outcomes := make([]core.Outcome, 0, len(payload.Data))
	for i, item := range payload.Data {
		var entry malwareBazaarEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			outcomes = append(outcomes, core.Err("record "+strconv.Itoa(i)+": "+err.Error()))
			continue
		}
		outcomes = append(outcomes, mapMalwareBazaarEntry(entry)...)
	}
	return a.collect(outcomes), nil
}

func mapMalwareBazaarEntry(entry malwareBazaarEntry) []core.Outcome {
	sha256 := strings.TrimSpace(entry.SHA256Hash)
	if sha256 == "" {
		return []core.Outcome{core.Skip("missing sha256_hash")}
	}

	tags := dedupeStrings(append([]string{"malware-sample", entry.Signature}, entry.Tags...))
	metadata := core.Metadata{
		"file_type":  entry.FileType,
		"file_name":  entry.FileName,
		"signature":  entry.Signature,
		"first_seen": entry.FirstSeen,
		"reporter":   entry.Reporter,
	}

	outcomes := []core.Outcome{core.Ok(core.Candidate{
		Indicator:       sha256,
		Type:            core.IOCTypeHashSHA256,
		Category:        "malware",
		Tags:            tags,
		ConfidenceScore: 0.85,
		Metadata:        metadata,
	})}

	if md5 := strings.TrimSpace(entry.MD5Hash); md5 != "" {
		md5Meta := core.Metadata{"sha256_hash": sha256}
		for k, v := range metadata {
			md5Meta[k] = v
		}
		outcomes = append(outcomes, core.Ok(core.Candidate{
			Indicator:       md5,
			Type:            core.IOCTypeHashMD5,
			Category:        "malware",
			Tags:            tags,
			ConfidenceScore: 0.85,
			Metadata:        md5Meta,
		}))
	}
	return outcomes
}
