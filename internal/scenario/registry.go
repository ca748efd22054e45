// Package scenario loads the read-only scenario registry the service seeds
// sessions from.
package scenario

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/linggo/orchestrator/internal/domain"
)

// Registry holds the scenarios loaded at startup. It is immutable after
// Load; there is no write path.
type Registry struct {
	scenarios map[string]domain.Scenario
}

type scenarioFile struct {
	Scenarios []domain.Scenario `yaml:"scenarios"`
}

// Load reads the scenario registry from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse parses scenario YAML content.
func Parse(data []byte) (*Registry, error) {
	var file scenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse scenario file: %w", err)
	}

	scenarios := make(map[string]domain.Scenario, len(file.Scenarios))
	for _, sc := range file.Scenarios {
		if sc.ID == "" {
			return nil, fmt.Errorf("scenario with empty id")
		}
		if _, ok := scenarios[sc.ID]; ok {
			return nil, fmt.Errorf("duplicate scenario id %q", sc.ID)
		}
		if sc.OpeningMain == "" || sc.OpeningHelper == "" {
			return nil, fmt.Errorf("scenario %q is missing opening text", sc.ID)
		}
		scenarios[sc.ID] = sc
	}
	return &Registry{scenarios: scenarios}, nil
}

// Get returns the scenario with the given id, or nil when unknown.
func (r *Registry) Get(id string) *domain.Scenario {
	sc, ok := r.scenarios[id]
	if !ok {
		return nil
	}
	return &sc
}

// ListActive returns all active scenarios sorted by id.
func (r *Registry) ListActive() []domain.Scenario {
	var out []domain.Scenario
	for _, sc := range r.scenarios {
		if sc.Active {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
