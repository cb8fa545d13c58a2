package core

import (
	"errors"
	"fmt"
	"strings"
)

// Process exit codes.
const (
	ExitOK     = 0
	ExitRun    = 1 // one or more nodes errored
	ExitConfig = 2 // invalid configuration, project or selector
	ExitCycle  = 3 // dependency cycle
)

// ConfigError reports invalid configuration: a missing required setting,
// an unknown warehouse, a bad flag combination.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

// Configf builds a ConfigError.
func Configf(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// ParseError reports a problem in a script: malformed annotation, duplicate
// table reference, file outside a schema directory.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Msg)
	}
	return e.Msg
}

// Parsef builds a ParseError. A zero line means the whole file.
func Parsef(path string, line int, format string, args ...any) *ParseError {
	return &ParseError{Path: path, Line: line, Msg: fmt.Sprintf(format, args...)}
}

// CycleError reports a dependency cycle, listing one offending path.
type CycleError struct {
	Cycle []TableRef
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, r := range e.Cycle {
		parts[i] = r.String()
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

// SelectorError reports a selector atom that matches nothing or cannot be
// parsed.
type SelectorError struct {
	Expr string
	Msg  string
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("selector %q: %s", e.Expr, e.Msg)
}

// MaterializationError reports a script the warehouse rejected.
type MaterializationError struct {
	Ref TableRef
	Err error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materialize %s: %v", e.Ref, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }

// AssertionFailure reports a test query that returned rows.
type AssertionFailure struct {
	Ref TableRef
	// Sample holds up to ten violating rows for reporting.
	Sample []map[string]any
}

func (e *AssertionFailure) Error() string {
	return fmt.Sprintf("test %s failed: %d violating row(s)", e.Ref, len(e.Sample))
}

// ErrCancelled marks work abandoned because the run was cancelled.
var ErrCancelled = errors.New("cancelled")

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		cfgErr   *ConfigError
		parseErr *ParseError
		selErr   *SelectorError
		cycErr   *CycleError
	)
	switch {
	case errors.As(err, &cycErr):
		return ExitCycle
	case errors.As(err, &cfgErr), errors.As(err, &parseErr), errors.As(err, &selErr):
		return ExitConfig
	default:
		return ExitRun
	}
}
