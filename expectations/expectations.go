// Package expectations loads the manifest of tests that are expected to fail,
// test descriptions and documentation-test patterns.
package expectations

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk expectations file
type Manifest struct {
	ExpectedFailures []string          `yaml:"expected_failures" toml:"expected_failures"`
	Descriptions     map[string]string `yaml:"descriptions" toml:"descriptions"`
	DocTests         []string          `yaml:"doc_tests" toml:"doc_tests"`
}

// Empty returns a manifest that expects nothing
func Empty() *Manifest {
	return &Manifest{Descriptions: make(map[string]string)}
}

// Load reads a manifest, choosing the decoder by file extension.
// An empty path yields an empty manifest.
func Load(cfgPath string) (*Manifest, error) {
	if cfgPath == "" {
		return Empty(), nil
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read expectations file: %w", err)
	}

	m := Empty()
	switch ext := strings.ToLower(filepath.Ext(cfgPath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("failed to parse YAML expectations: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), m); err != nil {
			return nil, fmt.Errorf("failed to parse TOML expectations: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported expectations file extension %q", ext)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Descriptions == nil {
		m.Descriptions = make(map[string]string)
	}
	return m, nil
}

// Validate checks that every pattern is well formed
func (m *Manifest) Validate() error {
	for _, patterns := range [][]string{m.ExpectedFailures, m.DocTests} {
		for _, p := range patterns {
			if p == "" {
				return fmt.Errorf("empty test pattern")
			}
			if _, err := path.Match(p, ""); err != nil {
				return fmt.Errorf("invalid test pattern %q: %w", p, err)
			}
		}
	}
	return nil
}

// IsExpectedFailure reports whether the test is expected to fail
func (m *Manifest) IsExpectedFailure(id string) bool {
	return matchAny(m.ExpectedFailures, id)
}

// IsDocTest reports whether the test should be treated as a documentation test
func (m *Manifest) IsDocTest(id string) bool {
	return matchAny(m.DocTests, id)
}

// Description returns the configured description for a test, if any
func (m *Manifest) Description(id string) string {
	return m.Descriptions[id]
}

func matchAny(patterns []string, id string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, id); ok {
			return true
		}
	}
	return false
}
