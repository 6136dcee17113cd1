package catalog

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// SourceType identifies the kind of backend a binding points at.
type SourceType string

const (
	SourceTypeSnowflake  SourceType = "snowflake"
	SourceTypeOracle     SourceType = "oracle"
	SourceTypeREST       SourceType = "rest"
	SourceTypeStatic     SourceType = "static"
	SourceTypeExcel      SourceType = "excel"
	SourceTypeOpenSearch SourceType = "opensearch"
	SourceTypeBloomberg  SourceType = "bloomberg"
	SourceTypeRefinitiv  SourceType = "refinitiv"
	SourceTypeFile       SourceType = "file"
)

// NodeStatus is the governance lifecycle state of a catalog node.
type NodeStatus string

const (
	NodeStatusDraft      NodeStatus = "draft"
	NodeStatusActive     NodeStatus = "active"
	NodeStatusDeprecated NodeStatus = "deprecated"
	NodeStatusArchived   NodeStatus = "archived"
)

// allowedTransitions is the lifecycle state machine. ACTIVE→ARCHIVED is the
// emergency retirement path.
var allowedTransitions = map[NodeStatus][]NodeStatus{
	NodeStatusDraft:      {NodeStatusActive},
	NodeStatusActive:     {NodeStatusDeprecated, NodeStatusArchived},
	NodeStatusDeprecated: {NodeStatusArchived},
}

// ParseStatus converts a string to a NodeStatus, rejecting unknown values.
func ParseStatus(s string) (NodeStatus, error) {
	switch NodeStatus(strings.ToLower(s)) {
	case NodeStatusDraft, NodeStatusActive, NodeStatusDeprecated, NodeStatusArchived:
		return NodeStatus(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("unknown node status %q", s)
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (s NodeStatus) CanTransitionTo(next NodeStatus) bool {
	for _, t := range allowedTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Resolvable reports whether a node in this status may serve bindings.
func (s NodeStatus) Resolvable() bool {
	return s == NodeStatusActive || s == NodeStatusDeprecated
}

// Ownership is the per-node governance triple plus formal roles. Unset fields
// inherit field-by-field from the nearest ancestor that sets them.
type Ownership struct {
	AccountableOwner *string `json:"accountable_owner,omitempty" yaml:"accountable_owner,omitempty"`
	DataSpecialist   *string `json:"data_specialist,omitempty" yaml:"data_specialist,omitempty"`
	SupportChannel   *string `json:"support_channel,omitempty" yaml:"support_channel,omitempty"`

	// Formal governance roles (BCBS 239 style).
	ADOP *string `json:"adop,omitempty" yaml:"adop,omitempty"`
	ADS  *string `json:"ads,omitempty" yaml:"ads,omitempty"`
}

// IsEmpty reports whether no ownership fields are set.
func (o *Ownership) IsEmpty() bool {
	return o.AccountableOwner == nil && o.DataSpecialist == nil &&
		o.SupportChannel == nil && o.ADOP == nil && o.ADS == nil
}

// SourceBinding is the contract describing where and how a client fetches
// the data behind a moniker.
type SourceBinding struct {
	SourceType        SourceType     `json:"type" yaml:"type"`
	Config            map[string]any `json:"config" yaml:"config"`
	AllowedOperations []string       `json:"allowed_operations,omitempty" yaml:"allowed_operations,omitempty"`
	Schema            map[string]any `json:"schema,omitempty" yaml:"schema,omitempty"`
	ReadOnly          bool           `json:"read_only" yaml:"read_only"`
}

// Fingerprint returns the first 16 hex chars of SHA-256 over the canonical
// JSON of the binding contract. encoding/json sorts map keys at every level,
// so the fingerprint is invariant under key reorder and flips on any field
// change.
func (sb *SourceBinding) Fingerprint() string {
	data := map[string]any{
		"source_type":        string(sb.SourceType),
		"config":             sb.Config,
		"allowed_operations": sb.AllowedOperations,
		"schema":             sb.Schema,
		"read_only":          sb.ReadOnly,
	}
	raw, _ := json.Marshal(data)
	hash := sha256.Sum256(raw)
	return fmt.Sprintf("%x", hash[:8])
}

// Query returns the query template from the binding config, if present.
func (sb *SourceBinding) Query() (string, bool) {
	v, ok := sb.Config["query"]
	if !ok {
		return "", false
	}
	q, ok := v.(string)
	return q, ok
}

// Connection returns the config with the query template stripped out.
func (sb *SourceBinding) Connection() map[string]any {
	conn := make(map[string]any, len(sb.Config))
	for k, v := range sb.Config {
		if k != "query" {
			conn[k] = v
		}
	}
	return conn
}

// AccessPolicy guards query patterns against unbounded scans.
type AccessPolicy struct {
	RequiredSegments       []int    `json:"required_segments,omitempty" yaml:"required_segments,omitempty"`
	MinFilters             int      `json:"min_filters,omitempty" yaml:"min_filters,omitempty"`
	BlockedPatterns        []string `json:"blocked_patterns,omitempty" yaml:"blocked_patterns,omitempty"`
	MaxRowsWarn            *int     `json:"max_rows_warn,omitempty" yaml:"max_rows_warn,omitempty"`
	MaxRowsBlock           *int     `json:"max_rows_block,omitempty" yaml:"max_rows_block,omitempty"`
	CardinalityMultipliers []int    `json:"cardinality_multipliers,omitempty" yaml:"cardinality_multipliers,omitempty"`
	BaseRowCount           int      `json:"base_row_count" yaml:"base_row_count"`
	DenialMessage          *string  `json:"denial_message,omitempty" yaml:"denial_message,omitempty"`
}

// EstimateRows estimates result cardinality from the segment values.
func (ap *AccessPolicy) EstimateRows(segments []string) int {
	multiplier := 1
	for i, seg := range segments {
		if strings.EqualFold(seg, "ALL") {
			if i < len(ap.CardinalityMultipliers) {
				multiplier *= ap.CardinalityMultipliers[i]
			} else {
				multiplier *= 100
			}
		}
	}
	base := ap.BaseRowCount
	if base == 0 {
		base = 100
	}
	return base * multiplier
}

// Validate checks a segment pattern against the policy.
// Returns (allowed, message, estimatedRows); message is a denial reason when
// blocked, or a warning when allowed but large.
func (ap *AccessPolicy) Validate(segments []string) (bool, *string, int) {
	path := strings.Join(segments, "/")
	estimated := ap.EstimateRows(segments)

	for _, pattern := range ap.BlockedPatterns {
		matched, _ := regexp.MatchString("(?i)"+pattern, path)
		if matched {
			msg := fmt.Sprintf("query pattern %q is blocked by access policy", path)
			if ap.DenialMessage != nil {
				msg = *ap.DenialMessage
			}
			return false, &msg, estimated
		}
	}

	for _, idx := range ap.RequiredSegments {
		if idx < len(segments) && strings.EqualFold(segments[idx], "ALL") {
			msg := fmt.Sprintf("access policy requires segment %d to be specific (not ALL)", idx)
			return false, &msg, estimated
		}
	}

	if ap.MinFilters > 0 {
		specific := 0
		for _, s := range segments {
			if !strings.EqualFold(s, "ALL") {
				specific++
			}
		}
		if specific < ap.MinFilters {
			msg := fmt.Sprintf("access policy requires at least %d specific filters, got %d", ap.MinFilters, specific)
			return false, &msg, estimated
		}
	}

	if ap.MaxRowsBlock != nil && estimated > *ap.MaxRowsBlock {
		msg := fmt.Sprintf("query would return ~%d rows, exceeding limit of %d", estimated, *ap.MaxRowsBlock)
		if ap.DenialMessage != nil {
			msg = *ap.DenialMessage
		}
		return false, &msg, estimated
	}

	var warning *string
	if ap.MaxRowsWarn != nil && estimated > *ap.MaxRowsWarn {
		w := fmt.Sprintf("large query: estimated %d rows", estimated)
		warning = &w
	}
	return true, warning, estimated
}

// Documentation holds reference links for a catalog node.
type Documentation struct {
	GlossaryURL *string `json:"glossary_url,omitempty" yaml:"glossary_url,omitempty"`
	RunbookURL  *string `json:"runbook_url,omitempty" yaml:"runbook_url,omitempty"`
}

// CatalogNode is one entry in the catalog hierarchy. Nodes are treated as
// immutable once published into a registry snapshot; mutations clone.
type CatalogNode struct {
	Path        string `json:"path" yaml:"-"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Description string `json:"description" yaml:"description"`

	Ownership     *Ownership     `json:"ownership,omitempty" yaml:"ownership,omitempty"`
	SourceBinding *SourceBinding `json:"source_binding,omitempty" yaml:"source_binding,omitempty"`
	AccessPolicy  *AccessPolicy  `json:"access_policy,omitempty" yaml:"access_policy,omitempty"`
	Documentation *Documentation `json:"documentation,omitempty" yaml:"documentation,omitempty"`

	Tags         []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	SemanticTags []string `json:"semantic_tags,omitempty" yaml:"semantic_tags,omitempty"`

	Status             NodeStatus `json:"status" yaml:"status"`
	DeprecationMessage *string    `json:"deprecation_message,omitempty" yaml:"deprecation_message,omitempty"`
	Successor          *string    `json:"successor,omitempty" yaml:"successor,omitempty"`
	SunsetDeadline     *string    `json:"sunset_deadline,omitempty" yaml:"sunset_deadline,omitempty"`
	MigrationGuideURL  *string    `json:"migration_guide_url,omitempty" yaml:"migration_guide_url,omitempty"`

	CreatedAt  *string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt  *string `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	CreatedBy  *string `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	ApprovedBy *string `json:"approved_by,omitempty" yaml:"approved_by,omitempty"`

	IsLeaf bool `json:"is_leaf" yaml:"is_leaf"`
}

// Clone returns a shallow copy safe for single-field mutation before
// republication into a new snapshot.
func (n *CatalogNode) Clone() *CatalogNode {
	c := *n
	return &c
}

// ResolvedOwnership is ownership after the inheritance walk, with the path
// that defined each field recorded as provenance.
type ResolvedOwnership struct {
	AccountableOwner       *string `json:"accountable_owner"`
	AccountableOwnerSource *string `json:"accountable_owner_source,omitempty"`

	DataSpecialist       *string `json:"data_specialist"`
	DataSpecialistSource *string `json:"data_specialist_source,omitempty"`

	SupportChannel       *string `json:"support_channel"`
	SupportChannelSource *string `json:"support_channel_source,omitempty"`

	ADOP       *string `json:"adop,omitempty"`
	ADOPSource *string `json:"adop_source,omitempty"`

	ADS       *string `json:"ads,omitempty"`
	ADSSource *string `json:"ads_source,omitempty"`
}

// AuditEntry records one mutation of the registry.
type AuditEntry struct {
	Timestamp string  `json:"timestamp"`
	Actor     string  `json:"actor"`
	Path      string  `json:"path"`
	Kind      string  `json:"kind"` // node_added, node_removed, binding_changed, status_changed
	Before    *string `json:"before,omitempty"`
	After     *string `json:"after,omitempty"`
	Reason    *string `json:"reason,omitempty"`
}
