package feeds

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/subrat243/Intelify/core"
)

// Envelope schemas check the outer shape of JSON payloads before records are
// mapped. Per-record fields stay loose; a bad record is a Skip or Err outcome.
var (
	abuseIPDBSchema = mustSchema(`{
		"type": "object",
		"required": ["data"],
		"properties": {
			"data": {"type": "array", "items": {"type": "object"}}
		}
	}`)

	phishTankSchema = mustSchema(`{
		"type": "array",
		"items": {"type": "object"}
	}`)

	urlhausSchema = mustSchema(`{
		"type": "object",
		"required": ["query_status"],
		"properties": {
			"query_status": {"type": "string"},
			"urls": {"type": ["array", "null"], "items": {"type": "object"}}
		}
	}`)

	malwareBazaarSchema = mustSchema(`{
		"type": "object",
		"required": ["query_status"],
		"properties": {
			"query_status": {"type": "string"}
		}
	}`)

	otxSchema = mustSchema(`{
		"type": "object",
		"required": ["results"],
		"properties": {
			"results": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"indicators": {"type": ["array", "null"], "items": {"type": "object"}}
					}
				}
			}
		}
	}`)

	taxiiSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"more": {"type": "boolean"},
			"objects": {
				"type": "array",
				"items": {"type": "object", "required": ["type"]}
			}
		}
	}`)
)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid envelope schema: %v", err))
	}
	return schema
}

// validateEnvelope reports a *core.ParseError when raw is not JSON or does not
// match schema
func validateEnvelope(adapter string, schema *gojsonschema.Schema, raw []byte) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return core.NewParseError(adapter, core.ErrEmptyPayload)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return core.NewParseError(adapter, fmt.Errorf("invalid JSON: %w", err))
	}
	if result.Valid() {
		return nil
	}

	var msgs []string
	for i, e := range result.Errors() {
		if i == 3 {
			break
		}
		msgs = append(msgs, e.String())
	}
	return core.NewParseError(adapter, fmt.Errorf("unexpected payload shape: %s", strings.Join(msgs, "; ")))
}
