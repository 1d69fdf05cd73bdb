package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage. An empty Driver (or "none") disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one operator action (job create/delete/toggle/run,
// bot start/stop). Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time `json:"at"`
	Actor     string    `json:"actor"`      // remote address or "cli"
	RequestID string    `json:"request_id"` // HTTP request id, if any
	Action    string    `json:"action"`     // e.g. "cron.create"
	Subject   string    `json:"subject"`    // job id or bot username
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
	MetaJSON  string    `json:"meta,omitempty"`
}

type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}
