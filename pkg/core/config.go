package core

import "time"

// DefaultConcurrency bounds parallel warehouse queries when the caller does
// not choose one.
const DefaultConcurrency = 8

// Environment names the target namespace of a run. Development environments
// carry a username suffix that warehouses append to the top-level dataset
// (BigQuery) or the database file (DuckDB).
type Environment struct {
	Name       string
	Production bool
	Username   string
}

// DevEnvironment builds the development environment for a user.
func DevEnvironment(username string) Environment {
	return Environment{Name: "dev", Username: username}
}

// ProdEnvironment builds the production environment.
func ProdEnvironment() Environment {
	return Environment{Name: "prod", Production: true}
}

// Suffix returns the "_<user>" namespace suffix, empty in production.
func (e Environment) Suffix() string {
	if e.Production || e.Username == "" {
		return ""
	}
	return "_" + e.Username
}

// RunConfig consolidates every knob of a run.
type RunConfig struct {
	ScriptsRoot string
	Select      []string
	Unselect    []string
	Production  bool
	// Restart drops existing audit checkpoints for the selected nodes
	// before running.
	Restart  bool
	FailFast bool
	// FreezeUnselected renders unselected ancestors against production,
	// without the dev suffix.
	FreezeUnselected bool
	DryRun           bool
	Concurrency      int
	// IncrementalField and IncrementalValues drive the keyed merge of
	// scripts tagged #INCREMENTAL.
	IncrementalField  string
	IncrementalValues []string
	// Timeout bounds a single node's warehouse work. Zero means none.
	Timeout time.Duration
}

// Status is the lifecycle state of a node during a run.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusDone
	StatusSkipped
	StatusSkippedDueToError
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusDone:
		return "DONE"
	case StatusSkipped:
		return "SKIPPED"
	case StatusSkippedDueToError:
		return "SKIPPED_DUE_TO_ERROR"
	case StatusErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the status is final for a run.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusSkipped ||
		s == StatusSkippedDueToError || s == StatusErrored
}
