// Package domains holds the top-level organizational units of the catalog.
// A domain maps to the root label of a moniker path and carries governance
// metadata used as the ownership fallback when catalog nodes leave fields
// unset.
package domains

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Domain is one organizational unit, keyed by the root of moniker paths.
type Domain struct {
	Name        string `json:"name" yaml:"-"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	ShortCode   string `json:"short_code,omitempty" yaml:"short_code"`

	Owner           string `json:"owner,omitempty" yaml:"owner"`
	TechCustodian   string `json:"tech_custodian,omitempty" yaml:"tech_custodian"`
	BusinessSteward string `json:"business_steward,omitempty" yaml:"business_steward"`

	DataCategory    string `json:"data_category,omitempty" yaml:"data_category"`
	Confidentiality string `json:"confidentiality,omitempty" yaml:"confidentiality"`
	PII             bool   `json:"pii" yaml:"pii"`

	HelpChannel string `json:"help_channel,omitempty" yaml:"help_channel"`
	WikiLink    string `json:"wiki_link,omitempty" yaml:"wiki_link"`
	Notes       string `json:"notes,omitempty" yaml:"notes"`
}

// Registry stores domains behind a read-write lock. Domains change rarely
// (config reloads only), so a simple lock suffices.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*Domain
}

func NewRegistry() *Registry {
	return &Registry{domains: make(map[string]*Domain)}
}

// Register adds or replaces a domain.
func (r *Registry) Register(d *Domain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains[d.Name] = d
}

// Get returns the domain by name.
func (r *Registry) Get(name string) (*Domain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[name]
	return d, ok
}

// ForPath returns the domain governing a catalog path: the label before the
// first "." or "/".
func (r *Registry) ForPath(path string) (*Domain, bool) {
	root := path
	if idx := strings.IndexAny(path, "./"); idx != -1 {
		root = path[:idx]
	}
	return r.Get(root)
}

// All returns every domain sorted by name.
func (r *Registry) All() []*Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Domain, 0, len(r.domains))
	for _, d := range r.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered domains.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.domains)
}

// Replace swaps the whole domain set.
func (r *Registry) Replace(ds map[string]*Domain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains = ds
}

// domainsFile is the on-disk shape: name -> attributes.
type domainsFile map[string]*Domain

// Load reads a domains YAML file into a fresh registry.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domains file: %w", err)
	}
	var file domainsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse domains YAML: %w", err)
	}
	r := NewRegistry()
	for name, d := range file {
		if d == nil {
			d = &Domain{}
		}
		d.Name = name
		if d.Confidentiality == "" {
			d.Confidentiality = "internal"
		}
		r.Register(d)
	}
	return r, nil
}
