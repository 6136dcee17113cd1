package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Operation is the access kind being reported.
type Operation string

const (
	OperationResolve  Operation = "RESOLVE"
	OperationRead     Operation = "READ"
	OperationDescribe Operation = "DESCRIBE"
	OperationList     Operation = "LIST"
	OperationLineage  Operation = "LINEAGE"
)

// Outcome is how the operation ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeError    Outcome = "error"
	OutcomeNotFound Outcome = "not_found"
)

// CallerIdentity identifies the consuming application, taken from request
// headers. Both fields are best-effort.
type CallerIdentity struct {
	AppID string `json:"app_id" db:"app_id"`
	Team  string `json:"team" db:"team"`
}

// UsageEvent is one access record. Events are emitted for every resolve and
// metadata read, plus client-reported data-plane accesses.
type UsageEvent struct {
	Timestamp      time.Time      `json:"timestamp" db:"ts"`
	RequestID      string         `json:"request_id" db:"request_id"`
	Caller         CallerIdentity `json:"caller"`
	Moniker        string         `json:"moniker" db:"moniker"`
	Operation      Operation      `json:"operation" db:"operation"`
	Outcome        Outcome        `json:"outcome" db:"outcome"`
	SourceType     string         `json:"source_type,omitempty" db:"source_type"`
	LatencyMS      float64        `json:"latency_ms" db:"latency_ms"`
	OwnerAtAccess  string         `json:"owner_at_access,omitempty" db:"owner_at_access"`
	Deprecated     bool           `json:"deprecated" db:"deprecated"`
	Successor      string         `json:"successor,omitempty" db:"successor"`
	RedirectedFrom string         `json:"redirected_from,omitempty" db:"redirected_from"`
	ErrorMessage   string         `json:"error_message,omitempty" db:"error_message"`
}

// NewEvent returns a UsageEvent stamped with the current time and a fresh
// request id when none is supplied.
func NewEvent(requestID string, op Operation, monikerStr string) UsageEvent {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return UsageEvent{
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		Moniker:   monikerStr,
		Operation: op,
	}
}
