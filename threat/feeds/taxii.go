package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/subrat243/Intelify/core"
)

// =============================================================================
// TAXII 2.1 Collection Adapter
// =============================================================================

const (
	taxiiName        = "taxii"
	taxiiMediaType   = "application/taxii+json;version=2.1"
	taxiiDefaultConf = 0.7
)

// stixComparison captures the first "<object>:<path> = '<value>'" comparison
// of a STIX pattern. The path may contain quoted hash names.
var stixComparison = regexp.MustCompile(`([a-z0-9-]+):([A-Za-z0-9_.'-]+?)\s*=\s*'((?:[^'\\]|\\.)*)'`)

var stixIndicatorCategories = map[string]string{
	"malicious-activity": "malware",
	"compromised":        "malware",
	"attribution":        "apt",
}

// TAXIIAdapter reads STIX 2.1 indicators from one TAXII collection. The
// source URL is the collection URL; username plus api_key enable basic auth.
type TAXIIAdapter struct {
	baseAdapter
	url      string
	username string
	apiKey   string
}

// NewTAXIIAdapter is the Constructor for taxii
func NewTAXIIAdapter(cfg AdapterConfig) (Adapter, error) {
	collection := strings.TrimSuffix(cfg.URL(""), "/")
	if collection == "" {
		return nil, fmt.Errorf("taxii adapter: source URL is required")
	}
	return &TAXIIAdapter{
		baseAdapter: newBaseAdapter(taxiiName, cfg),
		url:         collection,
		username:    cfg.String("username", ""),
		apiKey:      cfg.APIKey(),
	}, nil
}

func (a *TAXIIAdapter) Fetch(ctx context.Context) ([]byte, error) {
	req := Request{
		URL:    a.url + "/objects/",
		Query:  url.Values{"match[type]": {"indicator"}},
		Header: map[string]string{"Accept": taxiiMediaType},
	}
	if a.username != "" {
		req.Username = a.username
		req.Password = a.apiKey
	}
	return a.fetcher.Fetch(ctx, a.name, req)
}

type stixIndicator struct {
	Type           string   `json:"type"`
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Pattern        string   `json:"pattern"`
	PatternType    string   `json:"pattern_type"`
	ValidFrom      string   `json:"valid_from"`
	Confidence     *float64 `json:"confidence"`
	IndicatorTypes []string `json:"indicator_types"`
	Labels         []string `json:"labels"`
}

func (a *TAXIIAdapter) Parse(raw []byte) ([]core.Candidate, error) {
	if err := validateEnvelope(a.name, taxiiSchema, raw); err != nil {
		return nil, err
	}

	var envelope struct {
		Objects []json.RawMessage `json:"objects"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, core.NewParseError(a.name, err)
	}

	outcomes := make([]core.Outcome, 0, len(envelope.Objects))
	for i, item := range envelope.Objects {
		var obj stixIndicator
		if err := json.Unmarshal(item, &obj); err != nil {
			outcomes = append(outcomes, core.Err("object "+strconv.Itoa(i)+": "+err.Error()))
			continue
		}
		if obj.Type != "indicator" {
			outcomes = append(outcomes, core.Skip("not an indicator"))
			continue
		}
		outcomes = append(outcomes, mapSTIXIndicator(obj))
	}
	return a.collect(outcomes), nil
}

func mapSTIXIndicator(obj stixIndicator) core.Outcome {
	if obj.PatternType != "" && obj.PatternType != "stix" {
		return core.Skip("unsupported pattern_type " + obj.PatternType)
	}

	iocType, value := parseSTIXPattern(obj.Pattern)
	if value == "" {
		return core.Skip("no supported comparison in pattern")
	}

	confidence := taxiiDefaultConf
	if obj.Confidence != nil {
		confidence = *obj.Confidence / 100.0
	}

	category := ""
	for _, t := range obj.IndicatorTypes {
		if c, ok := stixIndicatorCategories[strings.ToLower(t)]; ok {
			category = c
			break
		}
	}

	return core.Ok(core.Candidate{
		Indicator:       value,
		Type:            iocType,
		Category:        category,
		Tags:            dedupeStrings(append(append([]string{}, obj.IndicatorTypes...), obj.Labels...)),
		ConfidenceScore: confidence,
		Metadata: core.Metadata{
			"stix_id":    obj.ID,
			"valid_from": obj.ValidFrom,
			"name":       obj.Name,
		},
	})
}

// parseSTIXPattern returns the type and value of the first supported
// comparison in pattern
func parseSTIXPattern(pattern string) (core.IOCType, string) {
	for _, m := range stixComparison.FindAllStringSubmatch(pattern, -1) {
		object, path := m[1], strings.ToLower(m[2])
		value := strings.ReplaceAll(m[3], `\'`, `'`)

		switch {
		case (object == "ipv4-addr" || object == "ipv6-addr") && path == "value":
			return core.IOCTypeIP, value
		case object == "domain-name" && path == "value":
			return core.IOCTypeDomain, value
		case object == "url" && path == "value":
			return core.IOCTypeURL, value
		case object == "file" && strings.Contains(path, "sha-256"):
			return core.IOCTypeHashSHA256, value
		case object == "file" && strings.Contains(path, "md5"):
			return core.IOCTypeHashMD5, value
		case object == "vulnerability" && path == "name":
			return core.IOCTypeCVE, value
		}
	}
	return "", ""
}
