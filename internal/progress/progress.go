// Package progress reports run events to the user. The executor emits one
// event per node phase transition and a summary at the end; sinks decide how
// to show them.
package progress

import (
	"time"

	"github.com/carbonfact/lea/pkg/core"
)

// Phase is the part of the write-audit-publish cycle an event belongs to.
type Phase string

const (
	PhaseMaterialize Phase = "materialize"
	PhaseTest        Phase = "test"
	PhasePromote     Phase = "promote"
)

// Event is one node phase transition.
type Event struct {
	Ref      core.TableRef
	Phase    Phase
	Status   core.Status
	Rows     int64
	Duration time.Duration
	Err      error
}

// Summary closes a run.
type Summary struct {
	Environment string
	Done        int
	Skipped     int
	Errored     int
	Poisoned    int
	Promoted    bool
	Duration    time.Duration
}

// Sink consumes run events. Implementations must be safe for concurrent use;
// the executor emits from multiple goroutines.
type Sink interface {
	Emit(Event)
	Finish(Summary)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(Event)     {}
func (Nop) Finish(Summary) {}
