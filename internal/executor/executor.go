// Package executor runs a selected graph write-audit-publish style:
// materialise every node into its audit table, run the tests against the
// audits, and only when everything passed promote the audits to production
// in one final pass.
package executor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/carbonfact/lea/internal/dag"
	"github.com/carbonfact/lea/internal/progress"
	"github.com/carbonfact/lea/internal/state"
	"github.com/carbonfact/lea/internal/warehouse"
	"github.com/carbonfact/lea/pkg/core"
)

// Session wires a run's collaborators together.
type Session struct {
	Warehouse warehouse.Warehouse
	Store     state.Store
	Sink      progress.Sink
	Logger    *slog.Logger
	Config    core.RunConfig
	Env       core.Environment

	// statuses accumulates node outcomes; one run per Session.
	statuses map[string]core.Status
}

type nodeResult struct {
	key      string
	status   core.Status
	rows     int64
	duration time.Duration
	err      error
}

// Run executes the selected subgraph and returns the first node error, a
// promotion error, or nil. Skipping, poisoning and promotion follow the
// node statuses accumulated during the run.
func (s *Session) Run(ctx context.Context, graph *dag.Graph, selOpts dag.SelectOptions) error {
	if s.Sink == nil {
		s.Sink = progress.Nop{}
	}
	if s.Logger == nil {
		s.Logger = slog.New(slog.DiscardHandler)
	}
	concurrency := s.Config.Concurrency
	if concurrency <= 0 {
		concurrency = core.DefaultConcurrency
	}

	active, err := graph.Select(s.Config.Select, s.Config.Unselect, selOpts)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		s.Sink.Finish(progress.Summary{Environment: s.Env.Name})
		return nil
	}

	if s.Config.DryRun {
		return s.dryRun(ctx, graph, active)
	}

	if s.Config.Restart {
		if err := s.Store.ClearAudits(ctx, activeKeys(active), s.Env.Name); err != nil {
			return err
		}
	}
	if err := s.Warehouse.Prepare(ctx, s.Env); err != nil {
		return err
	}

	runID, err := s.Store.StartRun(ctx, s.Env.Name)
	if err != nil {
		return err
	}

	started := time.Now()
	firstErr := s.schedule(ctx, graph, active, runID, concurrency)

	counts := map[core.Status]int{}
	for _, st := range s.statuses {
		counts[st]++
	}
	promoted := false
	if firstErr == nil {
		if err := s.publish(ctx, graph, active); err != nil {
			firstErr = err
		} else {
			promoted = true
		}
	}

	status, errMsg := "success", ""
	if firstErr != nil {
		status, errMsg = "failed", firstErr.Error()
	}
	if err := s.Store.FinishRun(ctx, runID, status, errMsg); err != nil {
		s.Logger.Warn("finishing run record", "error", err)
	}

	s.Sink.Finish(progress.Summary{
		Environment: s.Env.Name,
		Done:        counts[core.StatusDone],
		Skipped:     counts[core.StatusSkipped],
		Errored:     counts[core.StatusErrored],
		Poisoned:    counts[core.StatusSkippedDueToError],
		Promoted:    promoted,
		Duration:    time.Since(started),
	})
	return firstErr
}

func (s *Session) setStatus(key string, st core.Status) {
	if s.statuses == nil {
		s.statuses = map[string]core.Status{}
	}
	s.statuses[key] = st
}

// schedule runs the active nodes under a weighted semaphore, completing
// children as their parents finish and poisoning descendants of failures.
func (s *Session) schedule(ctx context.Context, graph *dag.Graph, active map[string]core.TableRef, runID string, concurrency int) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(concurrency))
	results := make(chan nodeResult)

	remaining := map[string]int{}
	for key, ref := range active {
		n := 0
		for _, p := range graph.Parents(ref) {
			if _, ok := active[p.Key()]; ok {
				n++
			}
		}
		remaining[key] = n
		s.setStatus(key, core.StatusPending)
	}

	launch := func(key string) {
		ref := active[key]
		script := graph.Script(ref)
		skip := s.shouldSkip(runCtx, graph, active, script)
		deps := s.depsFor(runCtx, graph, active, script)
		s.setStatus(key, core.StatusRunning)
		s.Sink.Emit(progress.Event{Ref: ref, Phase: phaseOf(script), Status: core.StatusRunning})

		go func() {
			start := time.Now()
			if err := sem.Acquire(runCtx, 1); err != nil {
				results <- nodeResult{key: key, status: core.StatusErrored, err: core.ErrCancelled}
				return
			}
			defer sem.Release(1)
			res := s.runNode(runCtx, script, deps, skip)
			res.key = key
			res.duration = time.Since(start)
			results <- res
		}()
	}

	for key, n := range remaining {
		if n == 0 {
			launch(key)
		}
	}

	var firstErr error
	terminal := 0
	for terminal < len(active) {
		res := <-results
		terminal++
		ref := active[res.key]
		script := graph.Script(ref)
		s.setStatus(res.key, res.status)
		s.record(ctx, runID, res)
		s.Sink.Emit(progress.Event{
			Ref: ref, Phase: phaseOf(script), Status: res.status,
			Rows: res.rows, Duration: res.duration, Err: res.err,
		})

		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			if s.Config.FailFast {
				cancel()
			}
			terminal += s.poison(ctx, graph, active, runID, res.key)
			continue
		}

		for _, child := range graph.Children(ref) {
			key := child.Key()
			if _, ok := active[key]; !ok || s.statuses[key] != core.StatusPending {
				continue
			}
			remaining[key]--
			if remaining[key] == 0 {
				launch(key)
			}
		}
	}
	return firstErr
}

// poison marks every pending active descendant of key as skipped due to
// error and returns how many nodes it settled.
func (s *Session) poison(ctx context.Context, graph *dag.Graph, active map[string]core.TableRef, runID, key string) int {
	settled := 0
	work := []string{key}
	for len(work) > 0 {
		cur := work[0]
		work = work[1:]
		for _, child := range graph.Children(active[cur]) {
			ck := child.Key()
			if _, ok := active[ck]; !ok || s.statuses[ck] != core.StatusPending {
				continue
			}
			s.setStatus(ck, core.StatusSkippedDueToError)
			settled++
			s.record(ctx, runID, nodeResult{key: ck, status: core.StatusSkippedDueToError})
			s.Sink.Emit(progress.Event{
				Ref: child, Phase: phaseOf(graph.Script(child)), Status: core.StatusSkippedDueToError,
			})
			work = append(work, ck)
		}
	}
	return settled
}

// shouldSkip applies the freshness rule: a regular node skips when its audit
// checkpoint is at least as recent as its source. A test skips when none of
// its parents materialised this run.
func (s *Session) shouldSkip(ctx context.Context, graph *dag.Graph, active map[string]core.TableRef, script *core.Script) bool {
	if script.IsTest() {
		fresh := false
		for _, p := range graph.Parents(script.Ref) {
			if s.statuses[p.Key()] == core.StatusDone {
				fresh = true
			}
		}
		return !fresh
	}
	if s.Config.Restart {
		return false
	}
	at, ok, err := s.Store.AuditTime(ctx, script.Ref.Key(), s.Env.Name)
	if err != nil {
		s.Logger.Warn("reading audit checkpoint", "table", script.Ref, "error", err)
		return false
	}
	return ok && !at.Before(script.ModTime)
}

// depsFor renders the dependency rewrite map for one node. Parents that
// materialised this run resolve to their audit tables, as do skipped
// parents whose audit survived an earlier failed run (their fresh data
// lives only there until publish promotes it). Unselected parents resolve
// to production when the run is frozen, and to the run's environment
// otherwise.
func (s *Session) depsFor(ctx context.Context, graph *dag.Graph, active map[string]core.TableRef, script *core.Script) map[string]string {
	deps := map[string]string{}
	for _, d := range script.Dependencies {
		key := d.Key()
		_, selected := active[key]
		var rendered string
		switch {
		case s.statuses[key] == core.StatusDone:
			rendered = s.Warehouse.RenderRef(d, true, s.Env)
		case selected && s.statuses[key] == core.StatusSkipped && s.leftoverAudit(ctx, d):
			rendered = s.Warehouse.RenderRef(d, true, s.Env)
		case !selected && s.Config.FreezeUnselected:
			rendered = s.Warehouse.RenderRef(d, false, core.ProdEnvironment())
		default:
			rendered = s.Warehouse.RenderRef(d, false, s.Env)
		}
		deps[d.String()] = rendered
		deps[d.Audit().String()] = rendered
	}
	return deps
}

// leftoverAudit reports whether a table still has a physical audit from an
// earlier failed run.
func (s *Session) leftoverAudit(ctx context.Context, ref core.TableRef) bool {
	exists, err := s.Warehouse.TableExists(ctx, ref, true, s.Env)
	if err != nil {
		s.Logger.Warn("checking for leftover audit", "table", ref, "error", err)
		return false
	}
	return exists
}

// runNode does the warehouse work for one node.
func (s *Session) runNode(ctx context.Context, script *core.Script, deps map[string]string, skip bool) nodeResult {
	if skip {
		return nodeResult{status: core.StatusSkipped}
	}
	if s.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Config.Timeout)
		defer cancel()
	}

	if script.IsTest() {
		sql := warehouse.RewriteRefs(script.SQL, deps)
		rows, err := s.Warehouse.QueryRows(ctx, sql, 10)
		if err != nil {
			return nodeResult{status: core.StatusErrored, err: &core.MaterializationError{Ref: script.Ref, Err: err}}
		}
		if len(rows) > 0 {
			return nodeResult{status: core.StatusErrored, err: &core.AssertionFailure{Ref: script.Ref, Sample: rows}}
		}
		return nodeResult{status: core.StatusDone, rows: int64(len(rows))}
	}

	rows, err := s.Warehouse.Materialize(ctx, script, warehouse.MaterializeOptions{
		Audit:       true,
		Env:         s.Env,
		Deps:        deps,
		Incremental: s.Config.IncrementalField != "",
		Field:       s.Config.IncrementalField,
		Values:      s.Config.IncrementalValues,
	})
	if err != nil {
		return nodeResult{status: core.StatusErrored, err: err}
	}
	if err := s.Store.RecordAudit(ctx, script.Ref.Key(), s.Env.Name, time.Now().UTC()); err != nil {
		s.Logger.Warn("recording audit checkpoint", "table", script.Ref, "error", err)
	}
	return nodeResult{status: core.StatusDone, rows: rows}
}

// publish promotes every audit table to production and drops the audits.
// Skipped nodes with a leftover physical audit (from an earlier failed run)
// are promoted too, so a successful run always converges.
func (s *Session) publish(ctx context.Context, graph *dag.Graph, active map[string]core.TableRef) error {
	var promote []core.TableRef
	for key, ref := range active {
		script := graph.Script(ref)
		if script.IsTest() {
			continue
		}
		switch s.statuses[key] {
		case core.StatusDone:
			promote = append(promote, ref)
		case core.StatusSkipped:
			exists, err := s.Warehouse.TableExists(ctx, ref, true, s.Env)
			if err != nil {
				return err
			}
			if exists {
				promote = append(promote, ref)
			}
		}
	}

	for _, ref := range promote {
		start := time.Now()
		if err := s.Warehouse.Promote(ctx, ref, s.Env); err != nil {
			s.Sink.Emit(progress.Event{Ref: ref, Phase: progress.PhasePromote, Status: core.StatusErrored, Err: err})
			return err
		}
		s.Sink.Emit(progress.Event{Ref: ref, Phase: progress.PhasePromote, Status: core.StatusDone, Duration: time.Since(start)})
	}
	for _, ref := range promote {
		if err := s.Warehouse.Drop(ctx, ref, true, s.Env); err != nil {
			s.Logger.Warn("dropping audit table", "table", ref, "error", err)
		}
	}
	return nil
}

// dryRun prints what a run would do without touching the warehouse.
func (s *Session) dryRun(ctx context.Context, graph *dag.Graph, active map[string]core.TableRef) error {
	skips, runs := 0, 0
	for _, ref := range graph.TopoSort() {
		key := ref.Key()
		if _, ok := active[key]; !ok {
			continue
		}
		script := graph.Script(ref)
		skip := false
		if script.IsTest() {
			// A test only runs when at least one parent would.
			skip = true
			for _, p := range graph.Parents(ref) {
				if s.statuses[p.Key()] == core.StatusPending {
					skip = false
				}
			}
		} else {
			skip = s.shouldSkip(ctx, graph, active, script)
		}
		if skip {
			s.setStatus(key, core.StatusSkipped)
			skips++
			s.Sink.Emit(progress.Event{Ref: ref, Phase: phaseOf(script), Status: core.StatusSkipped})
			continue
		}
		s.setStatus(key, core.StatusPending)
		runs++
		s.Sink.Emit(progress.Event{Ref: ref, Phase: phaseOf(script), Status: core.StatusPending})
	}
	s.Sink.Finish(progress.Summary{Environment: s.Env.Name, Skipped: skips})
	return nil
}

func (s *Session) record(ctx context.Context, runID string, res nodeResult) {
	errMsg := ""
	if res.err != nil {
		errMsg = res.err.Error()
	}
	if err := s.Store.RecordScriptRun(ctx, state.ScriptRun{
		RunID:    runID,
		TableRef: res.key,
		Status:   res.status.String(),
		Rows:     res.rows,
		Duration: res.duration,
		Error:    errMsg,
	}); err != nil {
		s.Logger.Warn("recording script run", "table", res.key, "error", err)
	}
}

func phaseOf(script *core.Script) progress.Phase {
	if script.IsTest() {
		return progress.PhaseTest
	}
	return progress.PhaseMaterialize
}

func activeKeys(active map[string]core.TableRef) []string {
	keys := make([]string, 0, len(active))
	for key := range active {
		keys = append(keys, key)
	}
	return keys
}
