package policy

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk tier list:
//
//	tiers:
//	  - name: feature1
//	    bound: 1
//	  - name: feature2
//	    bound: 2
type fileConfig struct {
	Tiers []Tier `yaml:"tiers"`
}

// Parse builds a Policy from YAML. Unknown keys are rejected.
func Parse(data []byte) (*Policy, error) {
	var cfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("policy: decode tiers: %w", err)
	}
	return New(cfg.Tiers...)
}

// LoadFile reads a YAML tier list from path.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Marshal renders p in the same YAML shape LoadFile reads.
func (p *Policy) Marshal() ([]byte, error) {
	return yaml.Marshal(fileConfig{Tiers: p.Tiers()})
}
