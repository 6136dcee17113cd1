// Package models registers business measures (DV01, Duration, Alpha) that
// appear across monikers. A model describes what a measure means; monikers
// describe where its data lives.
package models

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Ownership is the governance contact set for a business model.
type Ownership struct {
	MethodologyOwner *string `json:"methodology_owner,omitempty" yaml:"methodology_owner"`
	BusinessSteward  *string `json:"business_steward,omitempty" yaml:"business_steward"`
	SupportChannel   *string `json:"support_channel,omitempty" yaml:"support_channel"`
}

// MonikerLink records one place a model appears in the catalog.
type MonikerLink struct {
	MonikerPattern string  `json:"moniker_pattern" yaml:"moniker_pattern"`
	ColumnName     *string `json:"column_name,omitempty" yaml:"column_name"`
	Notes          *string `json:"notes,omitempty" yaml:"notes"`
}

// Model is one business measure.
type Model struct {
	Name        string        `json:"name" yaml:"-"`
	DisplayName string        `json:"display_name" yaml:"display_name"`
	Description string        `json:"description" yaml:"description"`
	Unit        string        `json:"unit,omitempty" yaml:"unit"`
	Formula     string        `json:"formula,omitempty" yaml:"formula"`
	Ownership   *Ownership    `json:"ownership,omitempty" yaml:"ownership"`
	Links       []MonikerLink `json:"moniker_links,omitempty" yaml:"moniker_links"`
	Tags        []string      `json:"tags,omitempty" yaml:"tags"`
}

// Registry stores models by name.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model
}

func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

func (r *Registry) Register(m *Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Name] = m
}

func (r *Registry) Get(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// All returns every model sorted by name.
func (r *Registry) All() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ForPath returns every model whose moniker pattern matches the catalog
// path. Patterns support "*" for one segment and "**" for any run of
// segments.
func (r *Registry) ForPath(path string) []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Model
	for _, m := range r.All() {
		for _, link := range m.Links {
			if globMatch(link.MonikerPattern, path) {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// globMatch matches slash-separated patterns where "*" spans one segment
// and "**" spans any number, including zero.
func globMatch(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	switch pat[0] {
	case "**":
		for i := 0; i <= len(segs); i++ {
			if matchSegments(pat[1:], segs[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(segs) > 0 && matchSegments(pat[1:], segs[1:])
	default:
		return len(segs) > 0 && pat[0] == segs[0] && matchSegments(pat[1:], segs[1:])
	}
}

// modelsFile is the on-disk shape: name -> attributes.
type modelsFile map[string]*Model

// Load reads a models YAML file into a fresh registry.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	var file modelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse models YAML: %w", err)
	}
	r := NewRegistry()
	for name, m := range file {
		if m == nil {
			m = &Model{}
		}
		m.Name = name
		r.Register(m)
	}
	return r, nil
}
