package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MSubhan6/open-moniker/internal/cache"
	"github.com/MSubhan6/open-moniker/internal/catalog"
	"github.com/MSubhan6/open-moniker/internal/domains"
	"github.com/MSubhan6/open-moniker/internal/models"
	"github.com/MSubhan6/open-moniker/internal/moniker"
	"github.com/MSubhan6/open-moniker/internal/telemetry"
	"github.com/MSubhan6/open-moniker/internal/template"
)

const maxRedirectHops = 5

// Options configures a Service.
type Options struct {
	DeprecationEnabled bool
	CacheTTL           time.Duration
}

// Service resolves monikers against the catalog and answers metadata
// queries. All reads are safe for concurrent use.
type Service struct {
	registry *catalog.Registry
	domains  *domains.Registry
	models   *models.Registry
	cache    cache.Cache
	emitter  *telemetry.Emitter
	opts     Options
	log      *zap.Logger
}

// New wires a Service. domains, models, cache, and emitter may be nil; the
// corresponding features degrade gracefully.
func New(registry *catalog.Registry, dom *domains.Registry, mdl *models.Registry,
	c cache.Cache, emitter *telemetry.Emitter, opts Options, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Service{
		registry: registry,
		domains:  dom,
		models:   mdl,
		cache:    c,
		emitter:  emitter,
		opts:     opts,
		log:      log,
	}
}

// Registry exposes the underlying catalog registry.
func (s *Service) Registry() *catalog.Registry { return s.registry }

// Resolve turns a raw moniker string into a ResolveResult.
func (s *Service) Resolve(ctx context.Context, raw string, caller telemetry.CallerIdentity, requestID string) (*ResolveResult, error) {
	start := time.Now()
	m, err := moniker.Parse(raw)
	if err != nil {
		s.emitResolve(requestID, caller, raw, telemetry.OutcomeError, nil, start, err)
		return nil, err
	}
	normalized := m.String()

	if s.cache != nil {
		if data, ok := s.cache.Get(ctx, normalized); ok {
			var res ResolveResult
			if err := json.Unmarshal(data, &res); err == nil {
				res.Cached = true
				s.emitResolve(requestID, caller, normalized, telemetry.OutcomeSuccess, &res, start, nil)
				return &res, nil
			}
			s.cache.Delete(ctx, normalized)
		}
	}

	res, err := s.resolveUncached(m)
	if err != nil {
		err = wrapUnexpected(err)
		outcome := telemetry.OutcomeError
		if errors.Is(err, ErrUnknownMoniker) {
			outcome = telemetry.OutcomeNotFound
		}
		s.emitResolve(requestID, caller, normalized, outcome, nil, start, err)
		return nil, err
	}
	res.Moniker = normalized

	if s.cache != nil {
		if data, err := json.Marshal(res); err == nil {
			s.cache.Set(ctx, normalized, data, s.opts.CacheTTL)
		}
	}
	s.emitResolve(requestID, caller, normalized, telemetry.OutcomeSuccess, res, start, nil)
	return res, nil
}

// wrapUnexpected maps unclassified resolution failures onto ErrInternal so
// the HTTP layer reports them as 500s instead of leaking raw internals.
func wrapUnexpected(err error) error {
	switch {
	case errors.Is(err, ErrUnknownMoniker),
		errors.Is(err, ErrNoBinding),
		errors.Is(err, ErrAccessDenied),
		errors.Is(err, moniker.ErrInvalidMoniker),
		errors.Is(err, template.ErrTemplateMissing):
		return err
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}

// resolvingNode finds the deepest catalog node at or above the lookup key.
func (s *Service) resolvingNode(lookupKey string) (*catalog.CatalogNode, bool) {
	for _, p := range ancestorsOf(lookupKey) {
		if n, ok := s.registry.Get(p); ok {
			return n, true
		}
	}
	return nil, false
}

// ancestorsOf mirrors the registry's path hierarchy: strip "/" segments
// first, then "." components.
func ancestorsOf(path string) []string {
	var out []string
	p := path
	for p != "" {
		out = append(out, p)
		if idx := strings.LastIndex(p, "/"); idx != -1 {
			p = p[:idx]
			continue
		}
		if idx := strings.LastIndex(p, "."); idx != -1 {
			p = p[:idx]
			continue
		}
		break
	}
	return out
}

func (s *Service) resolveUncached(m *moniker.Moniker) (*ResolveResult, error) {
	key := m.LookupKey()

	node, ok := s.resolvingNode(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMoniker, key)
	}

	// Deprecation redirect: follow the successor chain while hops stay
	// deprecated, bounded and cycle-guarded. The last reached node supplies
	// the binding; identity stays with the requested path.
	bindingNode := node
	var redirectedFrom *string
	if s.opts.DeprecationEnabled && node.Status == catalog.NodeStatusDeprecated && node.Successor != nil {
		bindingNode = s.followSuccessors(node)
		if bindingNode.Path != node.Path {
			rf := key
			redirectedFrom = &rf
		}
	}

	provider, _, ok := s.registry.FindSourceBinding(bindingNode.Path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBinding, key)
	}
	binding := provider.SourceBinding

	var warning *string
	if policy, ok := s.registry.FindAccessPolicy(bindingNode.Path); ok {
		allowed, msg, _ := policy.Validate(m.Segments)
		if !allowed {
			reason := ""
			if msg != nil {
				reason = *msg
			}
			return nil, fmt.Errorf("%w: %s", ErrAccessDenied, reason)
		}
		warning = msg
	}

	var query *string
	if tmpl, ok := binding.Query(); ok {
		dialect := template.DialectFor(string(binding.SourceType))
		expanded, err := template.Expand(tmpl, m, dialect)
		if err != nil {
			return nil, err
		}
		query = &expanded
	}

	ownership := s.registry.ResolveOwnership(node.Path)
	s.applyDomainFallback(node.Path, ownership)

	return &ResolveResult{
		Path:               key,
		SourceType:         string(binding.SourceType),
		Connection:         binding.Connection(),
		Query:              query,
		ReadOnly:           binding.ReadOnly,
		Ownership:          ownership,
		Status:             node.Status,
		DeprecationMessage: node.DeprecationMessage,
		Successor:          node.Successor,
		SunsetDeadline:     node.SunsetDeadline,
		MigrationGuideURL:  node.MigrationGuideURL,
		RedirectedFrom:     redirectedFrom,
		Warning:            warning,
	}, nil
}

// followSuccessors walks the deprecation chain from node and returns the
// last reachable hop. Broken or overlong chains degrade to the furthest
// node reached.
func (s *Service) followSuccessors(node *catalog.CatalogNode) *catalog.CatalogNode {
	seen := map[string]bool{node.Path: true}
	current := node
	for hops := 0; hops < maxRedirectHops; hops++ {
		if current.Status != catalog.NodeStatusDeprecated || current.Successor == nil {
			return current
		}
		next, ok := s.registry.Get(*current.Successor)
		if !ok {
			s.log.Error("successor missing, serving last reachable node",
				zap.String("path", current.Path),
				zap.String("successor", *current.Successor))
			return current
		}
		if seen[next.Path] {
			s.log.Error("successor chain cycles, serving last reachable node",
				zap.String("path", node.Path),
				zap.String("cycle_at", next.Path))
			return current
		}
		seen[next.Path] = true
		current = next
	}
	if current.Status == catalog.NodeStatusDeprecated && current.Successor != nil {
		s.log.Error("successor chain exceeds hop limit, serving last reached node",
			zap.String("path", node.Path),
			zap.Int("max_hops", maxRedirectHops))
	}
	return current
}

// applyDomainFallback fills ownership fields still unset after the catalog
// walk from the governing domain's metadata.
func (s *Service) applyDomainFallback(path string, o *catalog.ResolvedOwnership) {
	if s.domains == nil {
		return
	}
	d, ok := s.domains.ForPath(path)
	if !ok {
		return
	}
	src := "domain:" + d.Name
	if o.AccountableOwner == nil && d.Owner != "" {
		owner := d.Owner
		o.AccountableOwner = &owner
		o.AccountableOwnerSource = &src
	}
	if o.DataSpecialist == nil && d.TechCustodian != "" {
		ds := d.TechCustodian
		o.DataSpecialist = &ds
		o.DataSpecialistSource = &src
	}
	if o.SupportChannel == nil && d.HelpChannel != "" {
		ch := d.HelpChannel
		o.SupportChannel = &ch
		o.SupportChannelSource = &src
	}
}

func (s *Service) emitResolve(requestID string, caller telemetry.CallerIdentity, monikerStr string,
	outcome telemetry.Outcome, res *ResolveResult, start time.Time, err error) {
	if s.emitter == nil {
		return
	}
	ev := telemetry.NewEvent(requestID, telemetry.OperationResolve, monikerStr)
	ev.Caller = caller
	ev.Outcome = outcome
	ev.LatencyMS = float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		ev.ErrorMessage = err.Error()
	}
	if res != nil {
		ev.SourceType = res.SourceType
		ev.Deprecated = res.Status == catalog.NodeStatusDeprecated
		if res.Successor != nil {
			ev.Successor = *res.Successor
		}
		if res.RedirectedFrom != nil {
			ev.RedirectedFrom = *res.RedirectedFrom
		}
		if res.Ownership != nil && res.Ownership.AccountableOwner != nil {
			ev.OwnerAtAccess = *res.Ownership.AccountableOwner
		}
	}
	s.emitter.Emit(ev)
}

// EmitAccess records a client-reported data-plane access event.
func (s *Service) EmitAccess(ev telemetry.UsageEvent) {
	if s.emitter == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.emitter.Emit(ev)
}

// Describe returns the metadata view of a catalog path.
func (s *Service) Describe(_ context.Context, path string) (*DescribeResult, error) {
	node, ok := s.registry.Get(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMoniker, path)
	}

	ownership := s.registry.ResolveOwnership(path)
	s.applyDomainFallback(path, ownership)

	res := &DescribeResult{
		Path:               node.Path,
		DisplayName:        node.DisplayName,
		Description:        node.Description,
		Tags:               node.Tags,
		SemanticTags:       node.SemanticTags,
		Status:             node.Status,
		DeprecationMessage: node.DeprecationMessage,
		Successor:          node.Successor,
		SunsetDeadline:     node.SunsetDeadline,
		MigrationGuideURL:  node.MigrationGuideURL,
		Ownership:          ownership,
		Documentation:      node.Documentation,
		IsLeaf:             node.IsLeaf,
		Children:           s.registry.ChildrenPaths(path),
	}
	if res.Children == nil {
		res.Children = []string{}
	}

	if provider, providerPath, ok := s.registry.FindSourceBinding(path); ok {
		st := string(provider.SourceBinding.SourceType)
		fp := provider.SourceBinding.Fingerprint()
		res.SourceType = &st
		res.BindingFingerprint = &fp
		res.BindingProvider = &providerPath
	}

	if s.models != nil {
		res.Models = s.models.ForPath(path)
	}
	return res, nil
}

// List returns the immediate children of a path. The empty path lists the
// top-level entries. Hierarchy labels with no catalog entry of their own,
// such as "prices" above "prices.equity", still list their children.
func (s *Service) List(_ context.Context, path string) ([]ListEntry, error) {
	children := s.registry.ChildrenPaths(path)
	if path != "" && !s.registry.Exists(path) && len(children) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMoniker, path)
	}
	out := make([]ListEntry, 0, len(children))
	for _, child := range children {
		n, ok := s.registry.Get(child)
		if !ok {
			continue
		}
		out = append(out, ListEntry{
			Path:        n.Path,
			DisplayName: n.DisplayName,
			Status:      n.Status,
			IsLeaf:      n.IsLeaf,
			HasBinding:  n.SourceBinding != nil,
		})
	}
	return out, nil
}

// Lineage returns the chain from path up to its root, leaf first. Ancestor
// labels with no catalog entry still appear, marked absent.
func (s *Service) Lineage(_ context.Context, path string) ([]LineageHop, error) {
	if !s.registry.Exists(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMoniker, path)
	}
	chain := ancestorsOf(path)
	out := make([]LineageHop, 0, len(chain))
	for _, p := range chain {
		hop := LineageHop{Path: p}
		if n, ok := s.registry.Get(p); ok {
			hop.DisplayName = n.DisplayName
			hop.Status = n.Status
			hop.HasBinding = n.SourceBinding != nil
			hop.InCatalog = true
		}
		out = append(out, hop)
	}
	return out, nil
}

// Tree renders the whole catalog as a forest of top-level entries.
func (s *Service) Tree(_ context.Context) []*TreeNode {
	paths := s.registry.AllPaths()
	index := make(map[string]*TreeNode, len(paths))
	var roots []*TreeNode

	for _, p := range paths {
		n, _ := s.registry.Get(p)
		tn := &TreeNode{Path: p, DisplayName: n.DisplayName, Status: n.Status, IsLeaf: n.IsLeaf}
		index[p] = tn
	}
	for _, p := range paths {
		tn := index[p]
		// Attach to the nearest ancestor that exists, skipping hierarchy
		// labels with no node of their own.
		attached := false
		for parent := parentOf(p); parent != ""; parent = parentOf(parent) {
			if pn, ok := index[parent]; ok {
				pn.Children = append(pn.Children, tn)
				attached = true
				break
			}
		}
		if !attached {
			roots = append(roots, tn)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Path < roots[j].Path })
	return roots
}

func parentOf(path string) string {
	if idx := strings.LastIndex(path, "/"); idx != -1 {
		return path[:idx]
	}
	if idx := strings.LastIndex(path, "."); idx != -1 {
		return path[:idx]
	}
	return ""
}

// Search proxies a catalog text search.
func (s *Service) Search(_ context.Context, q string) []*catalog.CatalogNode {
	return s.registry.Search(q)
}

// Stats summarizes the catalog.
func (s *Service) Stats(_ context.Context) CatalogStats {
	nodes := s.registry.AllNodes()
	stats := CatalogStats{
		TotalNodes:   len(nodes),
		ByStatus:     s.registry.CountByStatus(),
		Generation:   s.registry.Generation(),
		LoadedAt:     s.registry.LoadedAt().Format(time.RFC3339),
		AuditDropped: s.registry.AuditDropped(),
	}
	for _, n := range nodes {
		if n.SourceBinding != nil {
			stats.WithBinding++
		}
		if n.IsLeaf {
			stats.Leaves++
		}
	}
	if s.domains != nil {
		stats.Domains = s.domains.Len()
	}
	return stats
}

// CacheLen reports the current cache size for health checks.
func (s *Service) CacheLen(ctx context.Context) int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Len(ctx)
}

// PurgeCache drops every cached result. Called after catalog reloads.
func (s *Service) PurgeCache(ctx context.Context) {
	if s.cache != nil {
		s.cache.Purge(ctx)
	}
}

// PurgeCachePrefix drops cached results under a catalog subtree. Called
// after status updates.
func (s *Service) PurgeCachePrefix(ctx context.Context, prefix string) int {
	if s.cache == nil {
		return 0
	}
	return s.cache.DeletePrefix(ctx, prefix)
}

// TelemetryStats reports emitter counters for health checks.
func (s *Service) TelemetryStats() telemetry.Stats {
	if s.emitter == nil {
		return telemetry.Stats{}
	}
	return s.emitter.Stats()
}
