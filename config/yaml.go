package config

import (
	"github.com/goccy/go-yaml"
)

type yamlParser struct{}

// YAML returns a koanf parser backed by goccy/go-yaml.
func YAML() *yamlParser {
	return &yamlParser{}
}

func (p *yamlParser) Unmarshal(b []byte) (map[string]any, error) {
	var out map[string]any
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func (p *yamlParser) Marshal(o map[string]any) ([]byte, error) {
	return yaml.Marshal(o)
}
