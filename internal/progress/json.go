package progress

import (
	"encoding/json"
	"io"
	"sync"
)

// JSON writes one JSON object per line, for machine consumption.
type JSON struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSON builds a JSON sink writing to out.
func NewJSON(out io.Writer) *JSON {
	return &JSON{enc: json.NewEncoder(out)}
}

type jsonEvent struct {
	Kind       string `json:"kind"`
	Table      string `json:"table,omitempty"`
	Phase      string `json:"phase,omitempty"`
	Status     string `json:"status,omitempty"`
	Rows       int64  `json:"rows,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

type jsonSummary struct {
	Kind        string `json:"kind"`
	Environment string `json:"environment"`
	Done        int    `json:"done"`
	Skipped     int    `json:"skipped"`
	Errored     int    `json:"errored"`
	Poisoned    int    `json:"poisoned"`
	Promoted    bool   `json:"promoted"`
	DurationMS  int64  `json:"duration_ms"`
}

// Emit writes one event line.
func (j *JSON) Emit(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := jsonEvent{
		Kind:       "event",
		Table:      ev.Ref.String(),
		Phase:      string(ev.Phase),
		Status:     ev.Status.String(),
		Rows:       ev.Rows,
		DurationMS: ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	j.enc.Encode(rec)
}

// Finish writes the summary line.
func (j *JSON) Finish(s Summary) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.enc.Encode(jsonSummary{
		Kind:        "summary",
		Environment: s.Environment,
		Done:        s.Done,
		Skipped:     s.Skipped,
		Errored:     s.Errored,
		Poisoned:    s.Poisoned,
		Promoted:    s.Promoted,
		DurationMS:  s.Duration.Milliseconds(),
	})
}
