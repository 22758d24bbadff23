package audit

import (
	"context"
	"time"
)

// Action names a recorded operation.
type Action string

const (
	ActionCreateTask     Action = "CREATE_TASK"
	ActionUpdateTask     Action = "UPDATE_TASK"
	ActionDeleteTask     Action = "DELETE_TASK"
	ActionReadAuditLog   Action = "READ_AUDIT_LOG"
	ActionStreamAuditLog Action = "STREAM_AUDIT_LOG"
)

// Resource types referenced by entries.
const (
	ResourceTask     = "task"
	ResourceAuditLog = "audit_log"
)

// DefaultLimit caps how many entries a read returns.
const DefaultLimit = 100

// Entry is one append-only audit record. Details holds the serialized JSON
// payload captured at write time.
type Entry struct {
	ID           string    `json:"id"`
	Action       Action    `json:"action"`
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	UserID       string    `json:"userId"`
	Details      string    `json:"details"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Query selects entries newest first. An empty UserIDs applies no actor
// filter.
type Query struct {
	UserIDs []string
	Limit   int
}

// Store persists entries. Implementations never update or delete them.
type Store interface {
	AppendAudit(ctx context.Context, e *Entry) error
	ListAudit(ctx context.Context, q Query) ([]Entry, error)
}
