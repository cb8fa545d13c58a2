// Package state persists run history and audit checkpoints in SQLite.
// The audits table is what makes skipping work: it remembers when each
// table's audit materialisation last succeeded, surviving promotion (which
// drops the physical audit table) so unchanged scripts skip on the next run.
package state

import (
	"context"
	"time"
)

// Store records runs and audit checkpoints.
type Store interface {
	// StartRun opens a run record and returns its id.
	StartRun(ctx context.Context, environment string) (string, error)
	// FinishRun closes a run record.
	FinishRun(ctx context.Context, runID, status, errMsg string) error
	// RecordScriptRun appends one node result to a run.
	RecordScriptRun(ctx context.Context, rec ScriptRun) error

	// RecordAudit upserts the audit checkpoint for a table.
	RecordAudit(ctx context.Context, tableRef, environment string, at time.Time) error
	// AuditTime returns the audit checkpoint for a table, if any.
	AuditTime(ctx context.Context, tableRef, environment string) (time.Time, bool, error)
	// ClearAudits removes checkpoints, forcing the next run to rebuild.
	ClearAudits(ctx context.Context, tableRefs []string, environment string) error

	Close() error
}

// ScriptRun is one node's outcome within a run.
type ScriptRun struct {
	RunID    string
	TableRef string
	Status   string
	Rows     int64
	Duration time.Duration
	Error    string
}
