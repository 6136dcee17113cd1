// Package governance implements the moniker request workflow and catalog
// administration: submit, review, approve or reject, status transitions,
// and validated catalog reloads.
package governance

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MSubhan6/open-moniker/internal/catalog"
)

// RequestStatus tracks a moniker request through the approval workflow.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending_review"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

var (
	// ErrRequestNotFound reports an unknown request id.
	ErrRequestNotFound = errors.New("request not found")
	// ErrRequestClosed reports an approve or reject on an already decided
	// request.
	ErrRequestClosed = errors.New("request already decided")
)

// Requester identifies who submitted a request.
type Requester struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Team  string `json:"team,omitempty"`
	AppID string `json:"app_id,omitempty"`
}

// MonikerRequest is a proposal for a new catalog entry. The request log is
// the workflow audit trail; the catalog node is the source of truth once
// approved.
type MonikerRequest struct {
	RequestID   string `json:"request_id"`
	Path        string `json:"path"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`

	Requester     *Requester         `json:"requester,omitempty"`
	Justification string             `json:"justification,omitempty"`
	Ownership     *catalog.Ownership `json:"ownership,omitempty"`

	SourceBindingType   string         `json:"source_binding_type,omitempty"`
	SourceBindingConfig map[string]any `json:"source_binding_config,omitempty"`

	Tags []string `json:"tags,omitempty"`

	Status          RequestStatus `json:"status"`
	ReviewedBy      *string       `json:"reviewed_by,omitempty"`
	ReviewedAt      *string       `json:"reviewed_at,omitempty"`
	RejectionReason *string       `json:"rejection_reason,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// RequestStore holds requests in memory behind a lock. Requests are a
// review queue, not durable records; the audit trail of applied changes
// lives with the registry.
type RequestStore struct {
	mu       sync.Mutex
	requests map[string]*MonikerRequest
}

func NewRequestStore() *RequestStore {
	return &RequestStore{requests: make(map[string]*MonikerRequest)}
}

// Create registers a new pending request and assigns it an id.
func (s *RequestStore) Create(req *MonikerRequest) *MonikerRequest {
	now := time.Now().UTC().Format(time.RFC3339)
	req.RequestID = uuid.NewString()
	req.Status = RequestPending
	req.CreatedAt = now
	req.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.RequestID] = req
	return req
}

// Get returns the request by id.
func (s *RequestStore) Get(id string) (*MonikerRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	return r, ok
}

// List returns requests, optionally filtered by status, newest first.
func (s *RequestStore) List(status RequestStatus) []*MonikerRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*MonikerRequest, 0, len(s.requests))
	for _, r := range s.requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// decide moves a pending request to a terminal status.
func (s *RequestStore) decide(id string, status RequestStatus, actor string, reason *string) (*MonikerRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	if r.Status != RequestPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrRequestClosed, id, r.Status)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	r.Status = status
	r.ReviewedBy = &actor
	r.ReviewedAt = &now
	r.UpdatedAt = now
	r.RejectionReason = reason
	return r, nil
}
