package service

import (
	"errors"

	"github.com/MSubhan6/open-moniker/internal/catalog"
	"github.com/MSubhan6/open-moniker/internal/models"
)

// Resolution error sentinels. The HTTP layer maps these to status codes.
var (
	ErrUnknownMoniker = errors.New("unknown moniker")
	ErrNoBinding      = errors.New("no source binding")
	ErrAccessDenied   = errors.New("access denied by policy")
	ErrInternal       = errors.New("internal resolver error")
)

// ResolveResult is the full answer to a resolve call: where the data lives,
// how to query it, and who owns it.
type ResolveResult struct {
	Moniker    string         `json:"moniker"`
	Path       string         `json:"path"`
	SourceType string         `json:"source_type"`
	Connection map[string]any `json:"connection"`
	Query      *string        `json:"query,omitempty"`
	ReadOnly   bool           `json:"read_only"`

	Ownership *catalog.ResolvedOwnership `json:"ownership"`

	Status             catalog.NodeStatus `json:"status"`
	DeprecationMessage *string            `json:"deprecation_message,omitempty"`
	Successor          *string            `json:"successor,omitempty"`
	SunsetDeadline     *string            `json:"sunset_deadline,omitempty"`
	MigrationGuideURL  *string            `json:"migration_guide_url,omitempty"`
	RedirectedFrom     *string            `json:"redirected_from,omitempty"`

	// Warning carries advisory access-policy messages for allowed but
	// large queries.
	Warning *string `json:"warning,omitempty"`

	Cached bool `json:"cached"`
}

// DescribeResult is the metadata view of one catalog node.
type DescribeResult struct {
	Path         string   `json:"path"`
	DisplayName  string   `json:"display_name"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags,omitempty"`
	SemanticTags []string `json:"semantic_tags,omitempty"`

	Status             catalog.NodeStatus `json:"status"`
	DeprecationMessage *string            `json:"deprecation_message,omitempty"`
	Successor          *string            `json:"successor,omitempty"`
	SunsetDeadline     *string            `json:"sunset_deadline,omitempty"`
	MigrationGuideURL  *string            `json:"migration_guide_url,omitempty"`

	Ownership     *catalog.ResolvedOwnership `json:"ownership"`
	Documentation *catalog.Documentation     `json:"documentation,omitempty"`

	SourceType         *string `json:"source_type,omitempty"`
	BindingFingerprint *string `json:"binding_fingerprint,omitempty"`
	BindingProvider    *string `json:"binding_provider,omitempty"`

	IsLeaf   bool     `json:"is_leaf"`
	Children []string `json:"children"`

	Models []*models.Model `json:"models,omitempty"`
}

// ListEntry is one row of a children listing.
type ListEntry struct {
	Path        string             `json:"path"`
	DisplayName string             `json:"display_name"`
	Status      catalog.NodeStatus `json:"status"`
	IsLeaf      bool               `json:"is_leaf"`
	HasBinding  bool               `json:"has_binding"`
}

// LineageHop is one node in the chain from a path up to its root.
type LineageHop struct {
	Path        string             `json:"path"`
	DisplayName string             `json:"display_name"`
	Status      catalog.NodeStatus `json:"status"`
	HasBinding  bool               `json:"has_binding"`
	InCatalog   bool               `json:"in_catalog"`
}

// TreeNode is the hierarchical catalog view.
type TreeNode struct {
	Path        string             `json:"path"`
	DisplayName string             `json:"display_name"`
	Status      catalog.NodeStatus `json:"status"`
	IsLeaf      bool               `json:"is_leaf"`
	Children    []*TreeNode        `json:"children,omitempty"`
}

// CatalogStats summarizes the registry for dashboards and health checks.
type CatalogStats struct {
	TotalNodes   int                        `json:"total_nodes"`
	ByStatus     map[catalog.NodeStatus]int `json:"by_status"`
	WithBinding  int                        `json:"with_binding"`
	Leaves       int                        `json:"leaves"`
	Domains      int                        `json:"domains"`
	Generation   uint64                     `json:"generation"`
	LoadedAt     string                     `json:"loaded_at"`
	AuditDropped uint64                     `json:"audit_dropped"`
}
