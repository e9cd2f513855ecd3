package models

// These structs define the JSON payloads for HTTP requests and responses of
// the Cloud Functions.

// RecordRequest is the input for the record-store function.
type RecordRequest struct {
	Action     string         `json:"action"` // save, get, delete, list or sync
	Collection string         `json:"collection"`
	ID         string         `json:"id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Page       int            `json:"page,omitempty"`
	PageSize   int            `json:"pageSize,omitempty"`
}

// RecordResponse is the output of the record-store function.
type RecordResponse struct {
	Status   string  `json:"status"`
	Record   *Record `json:"record,omitempty"`
	Found    bool    `json:"found,omitempty"`
	Remote   bool    `json:"remote,omitempty"`
	Degraded bool    `json:"degraded"`
	Source   string  `json:"source,omitempty"`
	*RecordPage
	Synced    int `json:"synced,omitempty"`
	Remaining int `json:"remaining,omitempty"`
}

// RecordPage is one page of a listing.
type RecordPage struct {
	Items        []Record `json:"items"`
	PageNumber   int      `json:"pageNumber"`
	PageSize     int      `json:"pageSize"`
	TotalItems   int      `json:"totalItems"`
	TotalPages   int      `json:"totalPages"`
	VisiblePages []int    `json:"visiblePages"`
}

// PendingRequest is the input for the pending-counter function. When
// Downstream is empty the stage after Upstream is used.
type PendingRequest struct {
	Upstream   string `json:"upstream"`
	Downstream string `json:"downstream,omitempty"`
	Page       int    `json:"page,omitempty"`
	PageSize   int    `json:"pageSize,omitempty"`
}

// PendingResponse is the output of the pending-counter function.
type PendingResponse struct {
	Status       string `json:"status"`
	Upstream     string `json:"upstream"`
	Downstream   string `json:"downstream"`
	PendingCount int    `json:"pendingCount"`
	Degraded     bool   `json:"degraded"`
	// BadgeChanged is set when the count or degraded flag differs from the
	// last request this instance served for the pair.
	BadgeChanged bool `json:"badgeChanged"`
	*RecordPage
	// AwaitingStage lists the tracker's records waiting on Downstream.
	AwaitingStage []string `json:"awaitingStage"`
}

// StageRequest is the input for the stage-completer function.
type StageRequest struct {
	Action   string   `json:"action"` // complete, init, progress, status, metrics or pending
	RecordID string   `json:"recordId,omitempty"`
	Stage    string   `json:"stage,omitempty"`
	Stages   []string `json:"stages,omitempty"`
}

// StageResponse is the output of the stage-completer function.
type StageResponse struct {
	Status   string           `json:"status"`
	Changed  bool             `json:"changed"`
	Progress float64          `json:"progress"`
	State    *PipelineState   `json:"state,omitempty"`
	Summary  *PipelineSummary `json:"summary,omitempty"`
	Pending  []string         `json:"pending,omitempty"`
}

// SnapshotRequest is the event payload for the pending-snapshot function.
type SnapshotRequest struct {
	TenantID string `json:"tenantId"`
}

// SnapshotResponse is the output of the pending-snapshot function.
type SnapshotResponse struct {
	Status    string `json:"status"`
	ObjectURI string `json:"objectUri"`
	Pairs     int    `json:"pairs"`
}

// PendingSnapshot is the document written to the snapshot bucket.
type PendingSnapshot struct {
	TenantID    string         `json:"tenantId"`
	GeneratedAt string         `json:"generatedAt"`
	Pairs       []PendingPair `json:"pairs"`
}

// PendingPair is the pending set of one stage pair inside a snapshot.
type PendingPair struct {
	Upstream     string   `json:"upstream"`
	Downstream   string   `json:"downstream"`
	PendingCount int      `json:"pendingCount"`
	Degraded     bool     `json:"degraded"`
	PendingIDs   []string `json:"pendingIds"`
}
