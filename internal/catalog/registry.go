package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrConflict reports a rejected mutation (bad transition, breaking change,
// duplicate path).
var ErrConflict = errors.New("catalog conflict")

// ErrNotFound reports a missing catalog path.
var ErrNotFound = errors.New("catalog path not found")

const (
	// maxSuccessorDepth bounds deprecation chain walks.
	maxSuccessorDepth = 5

	// maxAuditEntries bounds the in-memory audit log.
	maxAuditEntries = 10000
)

// snapshot is one immutable generation of the catalog. Readers load it via
// an atomic pointer and never see partial state.
type snapshot struct {
	nodes      map[string]*CatalogNode
	sortedKeys []string
	generation uint64
	loadedAt   time.Time
}

func newSnapshot(nodes map[string]*CatalogNode, generation uint64) *snapshot {
	keys := make([]string, 0, len(nodes))
	for k := range nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &snapshot{
		nodes:      nodes,
		sortedKeys: keys,
		generation: generation,
		loadedAt:   time.Now().UTC(),
	}
}

// Registry holds the catalog behind an atomically swapped snapshot. Reads
// are lock-free; writers serialize on mu and publish whole new snapshots.
type Registry struct {
	current atomic.Pointer[snapshot]

	mu           sync.Mutex
	audit        []AuditEntry
	auditDropped atomic.Uint64

	log *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{log: log}
	r.current.Store(newSnapshot(map[string]*CatalogNode{}, 0))
	return r
}

// Get returns the node at path, if present.
func (r *Registry) Get(path string) (*CatalogNode, bool) {
	n, ok := r.current.Load().nodes[path]
	return n, ok
}

// Exists reports whether path is in the catalog.
func (r *Registry) Exists(path string) bool {
	_, ok := r.Get(path)
	return ok
}

// Len returns the number of catalog nodes.
func (r *Registry) Len() int {
	return len(r.current.Load().nodes)
}

// Generation returns the snapshot generation counter. It increments on every
// successful mutation, so two equal generations imply an identical catalog.
func (r *Registry) Generation() uint64 {
	return r.current.Load().generation
}

// LoadedAt returns when the current snapshot was published.
func (r *Registry) LoadedAt() time.Time {
	return r.current.Load().loadedAt
}

// AllPaths returns every catalog path in sorted order.
func (r *Registry) AllPaths() []string {
	snap := r.current.Load()
	out := make([]string, len(snap.sortedKeys))
	copy(out, snap.sortedKeys)
	return out
}

// AllNodes returns every node, ordered by path.
func (r *Registry) AllNodes() []*CatalogNode {
	snap := r.current.Load()
	out := make([]*CatalogNode, 0, len(snap.sortedKeys))
	for _, k := range snap.sortedKeys {
		out = append(out, snap.nodes[k])
	}
	return out
}

// ChildrenPaths returns the immediate children of path, sorted. Parenthood
// follows parentPath, so both "/" segments and dotted domain components
// count: "prices.equity" is a child of "prices". For the pseudo-root "" it
// returns the forest roots, the same set Tree-style views hang everything
// under: nodes with no catalog ancestor.
func (r *Registry) ChildrenPaths(path string) []string {
	snap := r.current.Load()
	var out []string
	if path == "" {
		for _, k := range snap.sortedKeys {
			if !hasAncestorIn(snap.nodes, k) {
				out = append(out, k)
			}
		}
		return out
	}
	for _, k := range snap.sortedKeys {
		if parentPath(k) == path {
			out = append(out, k)
		}
	}
	return out
}

func hasAncestorIn(nodes map[string]*CatalogNode, path string) bool {
	for p := parentPath(path); p != ""; p = parentPath(p) {
		if _, ok := nodes[p]; ok {
			return true
		}
	}
	return false
}

// DescendantPaths returns all paths strictly below path, sorted. Like
// ChildrenPaths, descent crosses both "/" and "." boundaries.
func (r *Registry) DescendantPaths(path string) []string {
	snap := r.current.Load()
	segPrefix := path + "/"
	dotPrefix := path + "."
	var out []string
	for _, k := range snap.sortedKeys {
		if strings.HasPrefix(k, segPrefix) || strings.HasPrefix(k, dotPrefix) {
			out = append(out, k)
		}
	}
	return out
}

// parentPath returns the parent of a catalog path: first by stripping the
// last "/" segment, then by stripping the last "." component of the domain.
// Returns "" when path is a single-label root.
func parentPath(path string) string {
	if idx := strings.LastIndex(path, "/"); idx != -1 {
		return path[:idx]
	}
	if idx := strings.LastIndex(path, "."); idx != -1 {
		return path[:idx]
	}
	return ""
}

// ancestorChain returns path itself followed by each ancestor up to the root.
func ancestorChain(path string) []string {
	var chain []string
	for p := path; p != ""; p = parentPath(p) {
		chain = append(chain, p)
	}
	return chain
}

// FindSourceBinding locates the binding serving path: the node's own binding
// if set, otherwise the nearest ancestor's. Nodes in draft or archived status
// never serve bindings. Returns the providing node and its path.
func (r *Registry) FindSourceBinding(path string) (*CatalogNode, string, bool) {
	snap := r.current.Load()
	for _, p := range ancestorChain(path) {
		n, ok := snap.nodes[p]
		if !ok {
			continue
		}
		if n.SourceBinding != nil && n.Status.Resolvable() {
			return n, p, true
		}
	}
	return nil, "", false
}

// ResolveOwnership walks root to leaf, overriding each ownership field by the
// deepest node that sets it, and records which path supplied each field.
func (r *Registry) ResolveOwnership(path string) *ResolvedOwnership {
	snap := r.current.Load()
	chain := ancestorChain(path)
	resolved := &ResolvedOwnership{}
	// Walk from root down so deeper nodes override.
	for i := len(chain) - 1; i >= 0; i-- {
		p := chain[i]
		n, ok := snap.nodes[p]
		if !ok || n.Ownership == nil {
			continue
		}
		o := n.Ownership
		src := p
		if o.AccountableOwner != nil {
			resolved.AccountableOwner = o.AccountableOwner
			resolved.AccountableOwnerSource = &src
		}
		if o.DataSpecialist != nil {
			resolved.DataSpecialist = o.DataSpecialist
			resolved.DataSpecialistSource = &src
		}
		if o.SupportChannel != nil {
			resolved.SupportChannel = o.SupportChannel
			resolved.SupportChannelSource = &src
		}
		if o.ADOP != nil {
			resolved.ADOP = o.ADOP
			resolved.ADOPSource = &src
		}
		if o.ADS != nil {
			resolved.ADS = o.ADS
			resolved.ADSSource = &src
		}
	}
	return resolved
}

// FindAccessPolicy locates the nearest access policy at or above path.
func (r *Registry) FindAccessPolicy(path string) (*AccessPolicy, bool) {
	snap := r.current.Load()
	for _, p := range ancestorChain(path) {
		if n, ok := snap.nodes[p]; ok && n.AccessPolicy != nil {
			return n.AccessPolicy, true
		}
	}
	return nil, false
}

// Search matches q case-insensitively against path, display name,
// description, and tags. Results are sorted by path.
func (r *Registry) Search(q string) []*CatalogNode {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return nil
	}
	snap := r.current.Load()
	var out []*CatalogNode
	for _, k := range snap.sortedKeys {
		n := snap.nodes[k]
		if nodeMatches(n, q) {
			out = append(out, n)
		}
	}
	return out
}

func nodeMatches(n *CatalogNode, q string) bool {
	if strings.Contains(strings.ToLower(n.Path), q) ||
		strings.Contains(strings.ToLower(n.DisplayName), q) ||
		strings.Contains(strings.ToLower(n.Description), q) {
		return true
	}
	for _, t := range n.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	for _, t := range n.SemanticTags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// CountByStatus returns node counts keyed by status.
func (r *Registry) CountByStatus() map[NodeStatus]int {
	counts := map[NodeStatus]int{}
	for _, n := range r.current.Load().nodes {
		counts[n.Status]++
	}
	return counts
}

// FindByStatus returns paths of all nodes in the given status, sorted.
func (r *Registry) FindByStatus(status NodeStatus) []string {
	snap := r.current.Load()
	var out []string
	for _, k := range snap.sortedKeys {
		if snap.nodes[k].Status == status {
			out = append(out, k)
		}
	}
	return out
}

// CatalogDiff summarizes the differences between two catalog generations.
type CatalogDiff struct {
	Added         []string `json:"added"`
	Removed       []string `json:"removed"`
	BindingChange []string `json:"binding_changed"`
	StatusChange  []string `json:"status_changed"`
}

// HasBreakingChanges reports whether the diff removes paths or alters
// binding contracts, either of which can strand existing consumers.
func (d *CatalogDiff) HasBreakingChanges() bool {
	return len(d.Removed) > 0 || len(d.BindingChange) > 0
}

// IsEmpty reports a no-op diff.
func (d *CatalogDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 &&
		len(d.BindingChange) == 0 && len(d.StatusChange) == 0
}

// Diff computes the change set from the current snapshot to next. Binding
// changes are detected by fingerprint, so config key order never registers
// as a change.
func (r *Registry) Diff(next map[string]*CatalogNode) *CatalogDiff {
	return diffNodes(r.current.Load().nodes, next)
}

func diffNodes(old, next map[string]*CatalogNode) *CatalogDiff {
	d := &CatalogDiff{}
	for path, n := range next {
		prev, ok := old[path]
		if !ok {
			d.Added = append(d.Added, path)
			continue
		}
		if bindingFingerprint(prev) != bindingFingerprint(n) {
			d.BindingChange = append(d.BindingChange, path)
		}
		if prev.Status != n.Status {
			d.StatusChange = append(d.StatusChange, path)
		}
	}
	for path := range old {
		if _, ok := next[path]; !ok {
			d.Removed = append(d.Removed, path)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.BindingChange)
	sort.Strings(d.StatusChange)
	return d
}

func bindingFingerprint(n *CatalogNode) string {
	if n.SourceBinding == nil {
		return ""
	}
	return n.SourceBinding.Fingerprint()
}

// SuccessorIssue describes one problem found while validating deprecation
// chains.
type SuccessorIssue struct {
	Path    string `json:"path"`
	Problem string `json:"problem"`
}

// ValidateSuccessors checks every node's successor chain for missing
// targets, self references, cycles, and chains deeper than the hop limit.
// Issues are advisory; the catalog still loads.
func ValidateSuccessors(nodes map[string]*CatalogNode) []SuccessorIssue {
	var issues []SuccessorIssue
	paths := make([]string, 0, len(nodes))
	for p := range nodes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		n := nodes[path]
		if n.Successor == nil {
			continue
		}
		succ := *n.Successor
		if succ == path {
			issues = append(issues, SuccessorIssue{Path: path, Problem: "successor refers to itself"})
			continue
		}
		if _, ok := nodes[succ]; !ok {
			issues = append(issues, SuccessorIssue{Path: path, Problem: fmt.Sprintf("successor %q does not exist", succ)})
			continue
		}
		seen := map[string]bool{path: true}
		cur := succ
		depth := 1
		for {
			if seen[cur] {
				issues = append(issues, SuccessorIssue{Path: path, Problem: fmt.Sprintf("successor chain cycles at %q", cur)})
				break
			}
			seen[cur] = true
			node, ok := nodes[cur]
			if !ok || node.Successor == nil {
				break
			}
			depth++
			if depth > maxSuccessorDepth {
				issues = append(issues, SuccessorIssue{Path: path, Problem: fmt.Sprintf("successor chain exceeds %d hops", maxSuccessorDepth)})
				break
			}
			cur = *node.Successor
		}
	}
	return issues
}

// AtomicReplace publishes next as the new catalog unconditionally. Used for
// the initial load and for forced reloads.
func (r *Registry) AtomicReplace(next map[string]*CatalogNode) *CatalogDiff {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.current.Load()
	diff := diffNodes(old.nodes, next)
	r.publishLocked(next, old.generation)
	r.log.Info("catalog replaced",
		zap.Int("nodes", len(next)),
		zap.Int("added", len(diff.Added)),
		zap.Int("removed", len(diff.Removed)),
		zap.Int("binding_changed", len(diff.BindingChange)))
	return diff
}

// ValidatedReplace computes the diff from the current catalog to next and,
// when blockBreaking is set and the diff removes paths or changes bindings,
// rejects the swap with ErrConflict. On success the diff is audited per
// changed path and the new snapshot published. An empty diff publishes
// nothing and leaves the generation untouched.
func (r *Registry) ValidatedReplace(next map[string]*CatalogNode, blockBreaking bool, actor string) (*CatalogDiff, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	diff := diffNodes(old.nodes, next)
	if diff.IsEmpty() {
		return diff, false, nil
	}
	if blockBreaking && diff.HasBreakingChanges() {
		r.log.Warn("catalog replace rejected",
			zap.Strings("removed", diff.Removed),
			zap.Strings("binding_changed", diff.BindingChange))
		return diff, false, fmt.Errorf("%w: replace would remove %d path(s) and change %d binding(s)",
			ErrConflict, len(diff.Removed), len(diff.BindingChange))
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, p := range diff.Added {
		r.appendAuditLocked(AuditEntry{Timestamp: now, Actor: actor, Path: p, Kind: "node_added"})
	}
	for _, p := range diff.Removed {
		r.appendAuditLocked(AuditEntry{Timestamp: now, Actor: actor, Path: p, Kind: "node_removed"})
	}
	for _, p := range diff.BindingChange {
		before := bindingFingerprint(old.nodes[p])
		after := bindingFingerprint(next[p])
		r.appendAuditLocked(AuditEntry{Timestamp: now, Actor: actor, Path: p, Kind: "binding_changed", Before: &before, After: &after})
	}
	for _, p := range diff.StatusChange {
		before := string(old.nodes[p].Status)
		after := string(next[p].Status)
		r.appendAuditLocked(AuditEntry{Timestamp: now, Actor: actor, Path: p, Kind: "status_changed", Before: &before, After: &after})
	}

	r.publishLocked(next, old.generation)
	return diff, true, nil
}

// UpdateStatus transitions the node at path to next, enforcing the lifecycle
// state machine. Deprecation metadata is applied when entering deprecated and
// cleared when leaving it.
func (r *Registry) UpdateStatus(path string, next NodeStatus, actor string, message, successor *string) (*CatalogNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	n, ok := old.nodes[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if n.Status == next {
		return n, nil
	}
	if !n.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: cannot transition %s from %s to %s", ErrConflict, path, n.Status, next)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	updated := n.Clone()
	updated.Status = next
	updated.UpdatedAt = &now
	if next == NodeStatusDeprecated {
		updated.DeprecationMessage = message
		updated.Successor = successor
	} else {
		updated.DeprecationMessage = nil
		updated.Successor = nil
	}

	nodes := make(map[string]*CatalogNode, len(old.nodes))
	for k, v := range old.nodes {
		nodes[k] = v
	}
	nodes[path] = updated

	before := string(n.Status)
	after := string(next)
	r.appendAuditLocked(AuditEntry{Timestamp: now, Actor: actor, Path: path, Kind: "status_changed", Before: &before, After: &after, Reason: message})
	r.publishLocked(nodes, old.generation)

	r.log.Info("node status changed",
		zap.String("path", path),
		zap.String("from", before),
		zap.String("to", after),
		zap.String("actor", actor))
	return updated, nil
}

// Register adds or overwrites a single node, copy-on-write. Used by the
// approval flow to materialize an approved request.
func (r *Registry) Register(node *CatalogNode, actor string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	nodes := make(map[string]*CatalogNode, len(old.nodes)+1)
	for k, v := range old.nodes {
		nodes[k] = v
	}
	kind := "node_added"
	if _, exists := nodes[node.Path]; exists {
		kind = "binding_changed"
	}
	nodes[node.Path] = node

	now := time.Now().UTC().Format(time.RFC3339)
	r.appendAuditLocked(AuditEntry{Timestamp: now, Actor: actor, Path: node.Path, Kind: kind})
	r.publishLocked(nodes, old.generation)
}

// AuditLog returns up to limit entries, newest first. An empty path returns
// entries for all paths.
func (r *Registry) AuditLog(path string, limit int) []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	out := make([]AuditEntry, 0, limit)
	for i := len(r.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if path == "" || r.audit[i].Path == path {
			out = append(out, r.audit[i])
		}
	}
	return out
}

// AuditDropped returns how many audit entries were discarded to the size cap.
func (r *Registry) AuditDropped() uint64 {
	return r.auditDropped.Load()
}

func (r *Registry) appendAuditLocked(e AuditEntry) {
	r.audit = append(r.audit, e)
	if len(r.audit) > maxAuditEntries {
		drop := len(r.audit) - maxAuditEntries
		r.audit = r.audit[drop:]
		r.auditDropped.Add(uint64(drop))
	}
}

func (r *Registry) publishLocked(nodes map[string]*CatalogNode, prevGeneration uint64) {
	r.current.Store(newSnapshot(nodes, prevGeneration+1))
}
