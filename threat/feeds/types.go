package feeds

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/subrat243/Intelify/core"
)

// =============================================================================
// Adapter Configuration
// =============================================================================

// AdapterConfig is what a Constructor receives. Source.Config already holds
// decrypted credentials.
type AdapterConfig struct {
	Source  *core.Source
	Fetcher *HTTPFetcher
	Logger  *zap.SugaredLogger
}

// APIKey returns the decrypted api_key, or ""
func (c AdapterConfig) APIKey() string {
	return strings.TrimSpace(c.String(core.ConfigKeyAPIKey, ""))
}

// URL returns the source URL, falling back to def
func (c AdapterConfig) URL(def string) string {
	if c.Source != nil && strings.TrimSpace(c.Source.URL) != "" {
		return strings.TrimSpace(c.Source.URL)
	}
	return def
}

func (c AdapterConfig) value(key string) (interface{}, bool) {
	if c.Source == nil || c.Source.Config == nil {
		return nil, false
	}
	v, ok := c.Source.Config[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns a config value as a string
func (c AdapterConfig) String(key, def string) string {
	v, ok := c.value(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Int returns a config value as an int. JSON numbers, YAML ints and numeric
// strings are all accepted.
func (c AdapterConfig) Int(key string, def int) int {
	v, ok := c.value(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// Float returns a config value as a float64
func (c AdapterConfig) Float(key string, def float64) float64 {
	v, ok := c.value(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns a config value as a bool
func (c AdapterConfig) Bool(key string, def bool) bool {
	v, ok := c.value(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	}
	return def
}

// Strings returns a config value as a string list. A comma separated string
// is split.
func (c AdapterConfig) Strings(key string) []string {
	v, ok := c.value(key)
	if !ok {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []string:
		out = append(out, t...)
	case []interface{}:
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
	case string:
		out = strings.Split(t, ",")
	}

	cleaned := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned
}

// =============================================================================
// Shared Adapter Base
// =============================================================================

type baseAdapter struct {
	name    string
	cfg     AdapterConfig
	fetcher *HTTPFetcher
	logger  *zap.SugaredLogger
}

func newBaseAdapter(name string, cfg AdapterConfig) baseAdapter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(defaultHTTPConfig())
	}
	return baseAdapter{name: name, cfg: cfg, fetcher: fetcher, logger: logger}
}

func (b *baseAdapter) Name() string { return b.name }

// collect turns per-record outcomes into candidates and reports the tally
func (b *baseAdapter) collect(outcomes []core.Outcome) []core.Candidate {
	candidates, stats := core.CollectOutcomes(outcomes)
	recordParseStats(b.name, stats)
	if stats.Skipped > 0 || stats.Rejected > 0 {
		b.logger.Debugw("Parsed feed with dropped records",
			"adapter", b.name,
			"accepted", stats.Accepted,
			"skipped", stats.Skipped,
			"rejected", stats.Rejected,
			"reasons", stats.Reasons)
	}
	return candidates
}

// parseIOCType maps the type spellings used by feeds onto ours
func parseIOCType(s string) core.IOCType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ip", "ipv4", "ipv6", "ip-dst", "ip-src", "ipv4-addr", "ipv6-addr", "ip_address":
		return core.IOCTypeIP
	case "domain", "hostname", "domain-name", "fqdn":
		return core.IOCTypeDomain
	case "url", "uri", "link":
		return core.IOCTypeURL
	case "md5", "hash-md5", "hash_md5", "filehash-md5":
		return core.IOCTypeHashMD5
	case "sha256", "sha-256", "hash-sha256", "hash_sha256", "filehash-sha256":
		return core.IOCTypeHashSHA256
	case "cve", "vulnerability":
		return core.IOCTypeCVE
	default:
		return ""
	}
}

// dedupeStrings drops empty and repeated entries, keeping first-seen order
func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
