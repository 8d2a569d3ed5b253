package harness

import (
	"github.com/roach88/accord/internal/field"
)

// TraceEvent is one observed outcome during a scenario run. Operations
// appear under their scenario labels so traces stay readable and stable
// across runs.
type TraceEvent struct {
	// Step is the 1-based index of the step that produced the event.
	// Blocked re-admissions triggered by a later step carry that later
	// step's index.
	Step int `json:"step"`

	// Action is the step kind: edit, draft, flush, deliver or decide.
	Action string `json:"action"`

	// Device is the replica the event concerns.
	Device string `json:"device"`

	// From is the sending device of a delivery.
	From string `json:"from,omitempty"`

	// Op labels the operation concerned.
	Op string `json:"op,omitempty"`

	// Type and Target describe the operation.
	Type   string `json:"type,omitempty"`
	Target string `json:"target,omitempty"`

	// Status is the admission outcome, empty for draft bookkeeping and
	// flush summaries.
	Status string `json:"status,omitempty"`

	// Reason explains a BLOCKED outcome, with operation IDs rewritten
	// to scenario labels.
	Reason string `json:"reason,omitempty"`

	// Conflict is the surfaced conflict type of an AWAITING_USER
	// outcome.
	Conflict string `json:"conflict,omitempty"`

	// Strategy and Winner describe a resolution, winner by label.
	Strategy string `json:"strategy,omitempty"`
	Winner   string `json:"winner,omitempty"`

	// Composed lists the draft labels a flush folded together.
	Composed []string `json:"composed,omitempty"`

	// Clock is the replica's merged clock after the event.
	Clock string `json:"clock,omitempty"`
}

// value renders the event for the canonical trace, omitting empty
// fields.
func (e TraceEvent) value() field.Object {
	obj := field.Object{
		"step":   field.Int(int64(e.Step)),
		"action": field.String(e.Action),
		"device": field.String(e.Device),
	}
	setIf := func(key, v string) {
		if v != "" {
			obj[key] = field.String(v)
		}
	}
	setIf("from", e.From)
	setIf("op", e.Op)
	setIf("type", e.Type)
	setIf("target", e.Target)
	setIf("status", e.Status)
	setIf("reason", e.Reason)
	setIf("conflict", e.Conflict)
	setIf("strategy", e.Strategy)
	setIf("winner", e.Winner)
	setIf("clock", e.Clock)
	if len(e.Composed) > 0 {
		list := make(field.List, len(e.Composed))
		for i, label := range e.Composed {
			list[i] = field.String(label)
		}
		obj["composed"] = list
	}
	return obj
}

// Result is the outcome of one scenario run.
type Result struct {
	// Pass reports whether every assertion and the closing replay
	// verification held.
	Pass bool `json:"pass"`

	// Trace is the ordered event log of the run.
	Trace []TraceEvent `json:"trace"`

	// Errors holds assertion and verification failures. Empty when
	// Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates an empty passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// CanonicalTrace renders the trace as canonical JSON for golden
// comparison: one object holding the scenario name and the event list,
// keys sorted, byte-stable across runs.
func (r *Result) CanonicalTrace(scenarioName string) ([]byte, error) {
	events := make(field.List, len(r.Trace))
	for i, ev := range r.Trace {
		events[i] = ev.value()
	}
	return field.MarshalCanonical(field.Object{
		"scenario": field.String(scenarioName),
		"events":   events,
	})
}
