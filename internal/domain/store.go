package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for audit log queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row: one mutating action against the
// folder tree.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of mutating tree
// operations (upload, delete, move, rename, createFolder). A no-op
// implementation is used when no database is configured, so C9 never
// branches on whether auditing is enabled.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
