package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// SourceSeed declares a threat-intel source in sources.yaml
type SourceSeed struct {
	Name                 string                 `yaml:"name" validate:"required,max=128"`
	Kind                 string                 `yaml:"kind" validate:"omitempty,oneof=rest rss csv github taxii json text"`
	URL                  string                 `yaml:"url" validate:"omitempty,url"`
	Description          string                 `yaml:"description"`
	Enabled              *bool                  `yaml:"enabled"`
	TrustWeight          float64                `yaml:"trust_weight" validate:"gte=0,lte=1"`
	FetchIntervalMinutes int                    `yaml:"fetch_interval_minutes" validate:"gte=0,lte=10080"`
	Config               map[string]interface{} `yaml:"config"`
}

// IsEnabled defaults to true when the seed does not say otherwise
func (s SourceSeed) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type sourceSeedFile struct {
	Sources []SourceSeed `yaml:"sources"`
}

var seedValidator = validator.New()

// LoadSourceSeeds reads and validates source seeds. A missing file yields no seeds.
func LoadSourceSeeds(path string) ([]SourceSeed, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read source seeds %s: %w", path, err)
	}

	return ParseSourceSeeds(data)
}

// ParseSourceSeeds decodes and validates a sources.yaml document
func ParseSourceSeeds(data []byte) ([]SourceSeed, error) {
	var file sourceSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse source seeds: %w", err)
	}

	seen := make(map[string]bool, len(file.Sources))
	for i := range file.Sources {
		seed := &file.Sources[i]
		seed.Name = strings.TrimSpace(seed.Name)
		if err := seedValidator.Struct(seed); err != nil {
			return nil, fmt.Errorf("invalid source seed #%d (%s): %w", i+1, seed.Name, err)
		}
		if seen[seed.Name] {
			return nil, fmt.Errorf("duplicate source seed name: %s", seed.Name)
		}
		seen[seed.Name] = true
		if seed.TrustWeight == 0 {
			seed.TrustWeight = 1.0
		}
	}

	return file.Sources, nil
}
