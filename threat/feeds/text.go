package feeds

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/subrat243/Intelify/core"
)

const textName = "text"

// TextAdapter reads a plain indicator list, one per line, such as a raw file
// hosted on GitHub. Lines starting with # are comments and anything after the
// first whitespace on a line is ignored.
type TextAdapter struct {
	baseAdapter
	url        string
	category   string
	confidence float64
	tags       []string
}

// NewTextAdapter is the Constructor for text and github sources
func NewTextAdapter(cfg AdapterConfig) (Adapter, error) {
	a := &TextAdapter{
		baseAdapter: newBaseAdapter(textName, cfg),
		url:         cfg.URL(""),
		category:    cfg.String("category", ""),
		confidence:  cfg.Float("confidence", 0.6),
		tags:        cfg.Strings("tags"),
	}
	if a.url == "" {
		return nil, fmt.Errorf("text adapter: source URL is required")
	}
	return a, nil
}

func (a *TextAdapter) Fetch(ctx context.Context) ([]byte, error) {
	return a.fetcher.Fetch(ctx, a.name, Request{URL: a.url})
}

func (a *TextAdapter) Parse(raw []byte) ([]core.Candidate, error) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var outcomes []core.Outcome
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		value := strings.Fields(line)[0]

		iocType := core.DetectIOCType(value)
		if iocType == "" {
			outcomes = append(outcomes, core.Skip("unrecognized indicator"))
			continue
		}
		outcomes = append(outcomes, core.Ok(core.Candidate{
			Indicator:       value,
			Type:            iocType,
			Category:        a.category,
			Tags:            a.tags,
			ConfidenceScore: a.confidence,
		}))
	}
	if err := scanner.Err(); err != nil {
		return nil, core.NewParseError(a.name, err)
	}
	return a.collect(outcomes), nil
}
