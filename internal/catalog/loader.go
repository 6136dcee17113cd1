package catalog

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape: a flat map of path -> node, no wrapper.
type catalogFile map[string]*nodeYAML

type nodeYAML struct {
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`

	Ownership     *Ownership     `yaml:"ownership"`
	SourceBinding *bindingYAML   `yaml:"source_binding"`
	AccessPolicy  *policyYAML    `yaml:"access_policy"`
	Documentation *Documentation `yaml:"documentation"`

	Tags         []string `yaml:"tags"`
	SemanticTags []string `yaml:"semantic_tags"`

	Status             string  `yaml:"status"`
	DeprecationMessage *string `yaml:"deprecation_message"`
	Successor          *string `yaml:"successor"`
	SunsetDeadline     *string `yaml:"sunset_deadline"`
	MigrationGuideURL  *string `yaml:"migration_guide_url"`

	IsLeaf bool `yaml:"is_leaf"`
}

type bindingYAML struct {
	Type              string         `yaml:"type"`
	Config            map[string]any `yaml:"config"`
	AllowedOperations []string       `yaml:"allowed_operations"`
	Schema            map[string]any `yaml:"schema"`
	ReadOnly          *bool          `yaml:"read_only"`
}

type policyYAML struct {
	RequiredSegments       []int    `yaml:"required_segments"`
	MinFilters             *int     `yaml:"min_filters"`
	BlockedPatterns        []string `yaml:"blocked_patterns"`
	MaxRowsWarn            *int     `yaml:"max_rows_warn"`
	MaxRowsBlock           *int     `yaml:"max_rows_block"`
	CardinalityMultipliers []int    `yaml:"cardinality_multipliers"`
	BaseRowCount           *int     `yaml:"base_row_count"`
	DenialMessage          *string  `yaml:"denial_message"`
}

// Catalog paths look like a moniker lookup key: a dotted lowercase domain
// optionally followed by /segments.
var pathPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*(/[A-Za-z0-9_.\-]+)*$`)

// LoadCatalog reads a catalog YAML file and returns the node map keyed by
// path. Malformed entries fail the whole load; a catalog file is either
// accepted in full or rejected.
func LoadCatalog(path string) (map[string]*CatalogNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses catalog YAML bytes. Split from LoadCatalog so request
// payloads can reuse it.
func ParseCatalog(data []byte) (map[string]*CatalogNode, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog YAML: %w", err)
	}

	nodes := make(map[string]*CatalogNode, len(file))
	paths := make([]string, 0, len(file))
	for p := range file {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		y := file[p]
		if y == nil {
			continue
		}
		node, err := convertNode(p, y)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", p, err)
		}
		nodes[p] = node
	}
	return nodes, nil
}

func convertNode(path string, y *nodeYAML) (*CatalogNode, error) {
	path = strings.Trim(path, "/")
	if !pathPattern.MatchString(path) {
		return nil, fmt.Errorf("invalid catalog path")
	}

	status := NodeStatusActive
	if y.Status != "" {
		parsed, err := ParseStatus(y.Status)
		if err != nil {
			return nil, err
		}
		status = parsed
	}

	node := &CatalogNode{
		Path:               path,
		DisplayName:        y.DisplayName,
		Description:        y.Description,
		Ownership:          y.Ownership,
		Documentation:      y.Documentation,
		Tags:               y.Tags,
		SemanticTags:       y.SemanticTags,
		Status:             status,
		DeprecationMessage: y.DeprecationMessage,
		Successor:          y.Successor,
		SunsetDeadline:     y.SunsetDeadline,
		MigrationGuideURL:  y.MigrationGuideURL,
		IsLeaf:             y.IsLeaf,
	}

	if y.SourceBinding != nil {
		if y.SourceBinding.Type == "" {
			return nil, fmt.Errorf("source_binding missing type")
		}
		readOnly := true
		if y.SourceBinding.ReadOnly != nil {
			readOnly = *y.SourceBinding.ReadOnly
		}
		node.SourceBinding = &SourceBinding{
			SourceType:        SourceType(y.SourceBinding.Type),
			Config:            y.SourceBinding.Config,
			AllowedOperations: y.SourceBinding.AllowedOperations,
			Schema:            y.SourceBinding.Schema,
			ReadOnly:          readOnly,
		}
	}

	if y.AccessPolicy != nil {
		base := 100
		if y.AccessPolicy.BaseRowCount != nil {
			base = *y.AccessPolicy.BaseRowCount
		}
		minFilters := 0
		if y.AccessPolicy.MinFilters != nil {
			minFilters = *y.AccessPolicy.MinFilters
		}
		node.AccessPolicy = &AccessPolicy{
			RequiredSegments:       y.AccessPolicy.RequiredSegments,
			MinFilters:             minFilters,
			BlockedPatterns:        y.AccessPolicy.BlockedPatterns,
			MaxRowsWarn:            y.AccessPolicy.MaxRowsWarn,
			MaxRowsBlock:           y.AccessPolicy.MaxRowsBlock,
			CardinalityMultipliers: y.AccessPolicy.CardinalityMultipliers,
			BaseRowCount:           base,
			DenialMessage:          y.AccessPolicy.DenialMessage,
		}
	}

	return node, nil
}
