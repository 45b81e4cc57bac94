package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/subrat243/Intelify/core"
)

// =============================================================================
// Generic JSON Adapter
// =============================================================================

const jsonName = "json"

// JSONAdapter maps an array of JSON objects to candidates.
//
// Config keys: items_path (dot path to the array, empty for a root array),
// value_field, type_field, default_type, category_field, confidence_field,
// confidence_scale.
type JSONAdapter struct {
	baseAdapter
	url             string
	itemsPath       string
	valueField      string
	typeField       string
	defaultType     core.IOCType
	category        string
	categoryField   string
	confidenceField string
	confidenceScale float64
	confidence      float64
}

// NewJSONAdapter is the Constructor for json
func NewJSONAdapter(cfg AdapterConfig) (Adapter, error) {
	a := &JSONAdapter{
		baseAdapter:     newBaseAdapter(jsonName, cfg),
		url:             cfg.URL(""),
		itemsPath:       cfg.String("items_path", ""),
		valueField:      cfg.String("value_field", "value"),
		typeField:       cfg.String("type_field", "type"),
		defaultType:     parseIOCType(cfg.String("default_type", "")),
		category:        cfg.String("category", ""),
		categoryField:   cfg.String("category_field", ""),
		confidenceField: cfg.String("confidence_field", ""),
		confidenceScale: cfg.Float("confidence_scale", 1),
		confidence:      cfg.Float("confidence", core.DefaultCandidateConfidence),
	}
	if a.url == "" {
		return nil, fmt.Errorf("json adapter: source URL is required")
	}
	if a.confidenceScale <= 0 {
		a.confidenceScale = 1
	}
	return a, nil
}

func (a *JSONAdapter) Fetch(ctx context.Context) ([]byte, error) {
	return a.fetcher.Fetch(ctx, a.name, Request{
		URL:    a.url,
		Header: map[string]string{"Accept": "application/json"},
	})
}

func (a *JSONAdapter) Parse(raw []byte) ([]core.Candidate, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, core.NewParseError(a.name, core.ErrEmptyPayload)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var root interface{}
	if err := decoder.Decode(&root); err != nil {
		return nil, core.NewParseError(a.name, err)
	}

	node, ok := lookupPath(root, a.itemsPath)
	if !ok {
		return nil, core.NewParseError(a.name, fmt.Errorf("items_path %q not found", a.itemsPath))
	}
	items, ok := node.([]interface{})
	if !ok {
		return nil, core.NewParseError(a.name, fmt.Errorf("items_path %q is not an array", a.itemsPath))
	}

	outcomes := make([]core.Outcome, 0, len(items))
	for i, item := range items {
		outcomes = append(outcomes, a.mapItem(item, i))
	}
	return a.collect(outcomes), nil
}

func (a *JSONAdapter) mapItem(item interface{}, index int) core.Outcome {
	var value string
	record, isObject := item.(map[string]interface{})
	switch {
	case isObject:
		value = stringAt(record, a.valueField)
	default:
		if s, ok := item.(string); ok {
			value = s
		} else {
			return core.Err("item " + strconv.Itoa(index) + ": not an object")
		}
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return core.Skip("missing " + a.valueField)
	}

	var iocType core.IOCType
	if isObject && a.typeField != "" {
		iocType = parseIOCType(stringAt(record, a.typeField))
	}
	if iocType == "" {
		iocType = a.defaultType
	}
	if iocType == "" {
		iocType = core.DetectIOCType(value)
	}
	if iocType == "" {
		return core.Skip("unrecognized indicator")
	}

	c := core.Candidate{
		Indicator:       value,
		Type:            iocType,
		Category:        a.category,
		ConfidenceScore: a.confidence,
		Metadata:        core.Metadata{},
	}
	if isObject {
		if a.categoryField != "" {
			if cat := stringAt(record, a.categoryField); cat != "" {
				c.Category = cat
			}
		}
		if a.confidenceField != "" {
			if f, ok := floatAt(record, a.confidenceField); ok {
				c.ConfidenceScore = f / a.confidenceScale
			}
		}
		if tags, ok := lookupPath(record, "tags"); ok {
			c.Tags = toStrings(tags)
		}
	}
	return core.Ok(c)
}

// lookupPath walks a dot-separated path through nested objects. An empty path
// returns node itself.
func lookupPath(node interface{}, path string) (interface{}, bool) {
	if path == "" {
		return node, true
	}
	current := node
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringAt(record map[string]interface{}, path string) string {
	v, ok := lookupPath(record, path)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func floatAt(record map[string]interface{}, path string) (float64, bool) {
	v, ok := lookupPath(record, path)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func toStrings(v interface{}) []string {
	switch t := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return dedupeStrings(out)
	case string:
		return dedupeStrings(strings.Split(t, ","))
	}
	return nil
}
