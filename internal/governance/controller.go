package governance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MSubhan6/open-moniker/internal/catalog"
	"github.com/MSubhan6/open-moniker/internal/service"
)

// Controller drives catalog governance: the request workflow, node status
// transitions, and catalog reloads.
type Controller struct {
	registry *catalog.Registry
	store    *RequestStore
	svc      *service.Service

	deprecationEnabled bool
	log                *zap.Logger
}

func NewController(registry *catalog.Registry, store *RequestStore, svc *service.Service,
	deprecationEnabled bool, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		registry:           registry,
		store:              store,
		svc:                svc,
		deprecationEnabled: deprecationEnabled,
		log:                log,
	}
}

// Submit records a proposal for a new moniker on the review queue.
func (c *Controller) Submit(req *MonikerRequest) (*MonikerRequest, error) {
	if req.Path == "" {
		return nil, fmt.Errorf("request path is required")
	}
	if c.registry.Exists(req.Path) {
		return nil, fmt.Errorf("%w: path %s already exists", catalog.ErrConflict, req.Path)
	}
	created := c.store.Create(req)
	c.log.Info("moniker request submitted",
		zap.String("request_id", created.RequestID),
		zap.String("path", created.Path))
	return created, nil
}

// ListRequests returns requests filtered by status ("" for all).
func (c *Controller) ListRequests(status RequestStatus) []*MonikerRequest {
	return c.store.List(status)
}

// Approve materializes a pending request as a catalog node. The node enters
// as draft and is immediately transitioned to active, exercising the same
// state machine every other transition uses.
func (c *Controller) Approve(ctx context.Context, id, actor string) (*MonikerRequest, *catalog.CatalogNode, error) {
	req, err := c.store.decide(id, RequestApproved, actor, nil)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	node := &catalog.CatalogNode{
		Path:        req.Path,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Ownership:   req.Ownership,
		Tags:        req.Tags,
		Status:      catalog.NodeStatusDraft,
		IsLeaf:      true,
		CreatedAt:   &now,
		ApprovedBy:  &actor,
	}
	if req.Requester != nil {
		createdBy := req.Requester.Email
		node.CreatedBy = &createdBy
	}
	if req.SourceBindingType != "" {
		node.SourceBinding = &catalog.SourceBinding{
			SourceType: catalog.SourceType(req.SourceBindingType),
			Config:     req.SourceBindingConfig,
			ReadOnly:   true,
		}
	}

	c.registry.Register(node, actor)
	activated, err := c.registry.UpdateStatus(req.Path, catalog.NodeStatusActive, actor, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("activate approved node: %w", err)
	}

	c.svc.PurgeCachePrefix(ctx, req.Path)
	c.log.Info("moniker request approved",
		zap.String("request_id", id),
		zap.String("path", req.Path),
		zap.String("actor", actor))
	return req, activated, nil
}

// Reject marks a pending request rejected with a reason.
func (c *Controller) Reject(id, actor, reason string) (*MonikerRequest, error) {
	var r *string
	if reason != "" {
		r = &reason
	}
	req, err := c.store.decide(id, RequestRejected, actor, r)
	if err != nil {
		return nil, err
	}
	c.log.Info("moniker request rejected",
		zap.String("request_id", id),
		zap.String("path", req.Path),
		zap.String("actor", actor))
	return req, nil
}

// StatusUpdate is the payload for a node lifecycle transition.
type StatusUpdate struct {
	Status             catalog.NodeStatus
	Actor              string
	Reason             *string
	DeprecationMessage *string
	Successor          *string
	SunsetDeadline     *string
	MigrationGuideURL  *string
}

// UpdateNodeStatus drives the node state machine and invalidates cached
// results under the affected subtree.
func (c *Controller) UpdateNodeStatus(ctx context.Context, path string, upd StatusUpdate) (*catalog.CatalogNode, error) {
	message := upd.DeprecationMessage
	if message == nil {
		message = upd.Reason
	}
	node, err := c.registry.UpdateStatus(path, upd.Status, upd.Actor, message, upd.Successor)
	if err != nil {
		return nil, err
	}

	// Sunset metadata rides along when deprecating.
	if upd.Status == catalog.NodeStatusDeprecated && (upd.SunsetDeadline != nil || upd.MigrationGuideURL != nil) {
		updated := node.Clone()
		updated.SunsetDeadline = upd.SunsetDeadline
		updated.MigrationGuideURL = upd.MigrationGuideURL
		c.registry.Register(updated, upd.Actor)
		node = updated
	}

	c.svc.PurgeCachePrefix(ctx, path)
	return node, nil
}

// ReloadResult reports the outcome of a catalog reload.
type ReloadResult struct {
	Applied            bool                     `json:"applied"`
	AddedCount         int                      `json:"added_count"`
	RemovedCount       int                      `json:"removed_count"`
	BindingChangeCount int                      `json:"binding_changed_count"`
	StatusChangeCount  int                      `json:"status_changed_count"`
	HasBreakingChanges bool                     `json:"has_breaking_changes"`
	Diff               *catalog.CatalogDiff     `json:"diff"`
	SuccessorIssues    []catalog.SuccessorIssue `json:"successor_issues,omitempty"`
}

// ReloadFromFile loads a catalog definition file and swaps it in.
func (c *Controller) ReloadFromFile(ctx context.Context, file string, blockBreaking bool, actor string) (*ReloadResult, error) {
	nodes, err := catalog.LoadCatalog(file)
	if err != nil {
		return nil, err
	}
	return c.Reload(ctx, nodes, blockBreaking, actor)
}

// Reload swaps the candidate node set into the registry. With deprecation
// governance enabled the swap is validated and a breaking diff can be
// rejected; otherwise it falls back to an unconditional replace. Successor
// issues found after an applied reload are reported as warnings, never
// reverted.
func (c *Controller) Reload(ctx context.Context, nodes map[string]*catalog.CatalogNode, blockBreaking bool, actor string) (*ReloadResult, error) {
	var (
		diff    *catalog.CatalogDiff
		applied bool
		err     error
	)
	if c.deprecationEnabled {
		diff, applied, err = c.registry.ValidatedReplace(nodes, blockBreaking, actor)
		if err != nil {
			res := diffResult(diff, false)
			return res, err
		}
		// An empty diff is a successful no-op.
		if !applied && diff.IsEmpty() {
			return diffResult(diff, false), nil
		}
	} else {
		diff = c.registry.AtomicReplace(nodes)
		applied = true
	}

	res := diffResult(diff, applied)
	if applied {
		res.SuccessorIssues = catalog.ValidateSuccessors(nodes)
		for _, issue := range res.SuccessorIssues {
			c.log.Warn("successor issue after reload",
				zap.String("path", issue.Path),
				zap.String("problem", issue.Problem))
		}
		c.svc.PurgeCache(ctx)
	}
	return res, nil
}

func diffResult(diff *catalog.CatalogDiff, applied bool) *ReloadResult {
	if diff == nil {
		diff = &catalog.CatalogDiff{}
	}
	return &ReloadResult{
		Applied:            applied,
		AddedCount:         len(diff.Added),
		RemovedCount:       len(diff.Removed),
		BindingChangeCount: len(diff.BindingChange),
		StatusChangeCount:  len(diff.StatusChange),
		HasBreakingChanges: diff.HasBreakingChanges(),
		Diff:               diff,
	}
}
