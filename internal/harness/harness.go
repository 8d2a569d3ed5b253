package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/compose"
	"github.com/roach88/accord/internal/conflict"
	"github.com/roach88/accord/internal/engine"
	"github.com/roach88/accord/internal/field"
	"github.com/roach88/accord/internal/op"
	"github.com/roach88/accord/internal/policy"
	"github.com/roach88/accord/internal/store"
)

// replica is one simulated device in a run: its runner, its authored
// log, and its unflushed drafts.
type replica struct {
	id     clock.DeviceID
	state  *engine.SyncState
	runner *engine.Runner
	log    []op.Operation // authored operations in creation order
	drafts []op.Operation // buffered by draft steps, cleared by flush
}

// Harness executes one scenario against live runners sharing an
// in-memory journal.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	composer *compose.Composer

	replicas map[clock.DeviceID]*replica

	labels map[string]op.Operation // scenario label -> operation
	names  map[string]string       // operation ID -> scenario label

	result *Result

	// Step context for trace recording. Drain runs on the harness
	// goroutine, so the recording callback reads these and the replica
	// states without synchronization.
	step   int
	action string
	from   string
}

// Run executes a scenario and returns its result. The journal, the
// runners and all replica state are scoped to this one call.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open scenario journal: %w", err)
	}
	defer st.Close()

	pol := policy.Default()
	if scenario.Policy != "" {
		pol, err = policy.Compile(scenario.Policy)
		if err != nil {
			return nil, fmt.Errorf("compile scenario policy: %w", err)
		}
	}

	h := &Harness{
		scenario: scenario,
		store:    st,
		composer: pol.Composer(),
		replicas: make(map[clock.DeviceID]*replica, len(scenario.Devices)),
		labels:   make(map[string]op.Operation),
		names:    make(map[string]string),
		result:   NewResult(),
	}

	coord := pol.NewCoordinator()
	for _, name := range scenario.Devices {
		device := clock.DeviceID(name)
		opts := append(pol.RunnerOptions(),
			engine.WithJournal(st),
			engine.WithOnResult(h.record(device)),
		)
		state := engine.NewSyncState(device)
		h.replicas[device] = &replica{
			id:     device,
			state:  state,
			runner: engine.NewRunner(coord, state, opts...),
		}
	}

	ctx := context.Background()
	for i, step := range scenario.Steps {
		h.step = i + 1
		if err := h.runStep(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions) {
		h.result.AddError(msg)
	}
	h.verifyReplay(ctx)

	return h.result, nil
}

// record returns the trace callback for one replica's runner. It fires
// inside Drain on the harness goroutine.
func (h *Harness) record(device clock.DeviceID) func(engine.Result) {
	return func(res engine.Result) {
		rep := h.replicas[device]
		ev := TraceEvent{
			Step:   h.step,
			Action: h.action,
			Device: string(device),
			From:   h.from,
			Op:     h.labelFor(res.Operation.ID),
			Type:   string(res.Operation.Type),
			Target: res.Operation.TargetPath,
			Status: string(res.Status),
			Clock:  rep.state.Clock().String(),
		}
		if res.Reason != "" {
			ev.Reason = h.relabel(res.Reason)
		}
		if res.Conflict != nil {
			ev.Conflict = string(res.Conflict.Type)
		}
		if res.Resolution != nil {
			ev.Strategy = string(res.Resolution.Strategy)
			if res.Resolution.WinnerID != "" {
				ev.Winner = h.labelFor(res.Resolution.WinnerID)
			}
		}
		h.result.Trace = append(h.result.Trace, ev)
	}
}

// labelFor translates an operation ID to its scenario label, falling
// back to a short ID prefix for operations the scenario never labeled.
func (h *Harness) labelFor(id string) string {
	if label, ok := h.names[id]; ok {
		return label
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// relabel rewrites operation IDs embedded in engine reasons to their
// scenario labels. Reasons truncate IDs to 12 characters, so both the
// full IDs and their prefixes are rewritten.
func (h *Harness) relabel(reason string) string {
	for id, label := range h.names {
		reason = strings.ReplaceAll(reason, id, label)
		if len(id) > 12 {
			reason = strings.ReplaceAll(reason, id[:12], label)
		}
	}
	return reason
}

func (h *Harness) register(label string, o op.Operation) {
	h.labels[label] = o
	h.names[o.ID] = label
}

func (h *Harness) runStep(ctx context.Context, step Step) error {
	switch {
	case step.Edit != nil:
		return h.runEdit(ctx, step.Edit)
	case step.Draft != nil:
		return h.runDraft(step.Draft)
	case step.Flush != nil:
		return h.runFlush(ctx, step.Flush)
	case step.Deliver != nil:
		return h.runDeliver(ctx, step.Deliver)
	case step.Decide != nil:
		return h.runDecide(ctx, step.Decide)
	default:
		return fmt.Errorf("empty step")
	}
}

// buildOp stamps and constructs the operation an edit or draft step
// describes. The clock is the device's current merged view plus one
// own generation; consecutive drafts repeat the same stamp because
// nothing applies in between, which is what makes them composable.
func (h *Harness) buildOp(e *EditStep) (op.Operation, error) {
	rep := h.replicas[clock.DeviceID(e.Device)]

	payload := field.Object{}
	if e.Payload != nil {
		obj, err := field.ObjectFromAny(e.Payload)
		if err != nil {
			return op.Operation{}, fmt.Errorf("payload: %w", err)
		}
		payload = obj
	}
	parentID := ""
	if e.Parent != "" {
		parentID = h.labels[e.Parent].ID
	}
	typ, err := op.ParseType(e.Type)
	if err != nil {
		return op.Operation{}, err
	}

	stamp := rep.state.Clock().Increment(rep.id)
	o, err := op.New(rep.id, typ, e.Target, payload, stamp, parentID)
	if err != nil {
		return op.Operation{}, err
	}
	h.register(e.Op, o)
	return o, nil
}

// runEdit authors an operation and applies it on the editing device,
// the way a live device applies its own edits optimistically.
func (h *Harness) runEdit(ctx context.Context, e *EditStep) error {
	h.action, h.from = "edit", ""
	rep := h.replicas[clock.DeviceID(e.Device)]

	o, err := h.buildOp(e)
	if err != nil {
		return err
	}
	rep.log = append(rep.log, o)
	rep.runner.Deliver(o)
	return rep.runner.Drain(ctx)
}

// runDraft buffers an operation without applying it.
func (h *Harness) runDraft(e *EditStep) error {
	h.action, h.from = "draft", ""
	rep := h.replicas[clock.DeviceID(e.Device)]

	o, err := h.buildOp(e)
	if err != nil {
		return err
	}
	rep.drafts = append(rep.drafts, o)
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Step:   h.step,
		Action: "draft",
		Device: e.Device,
		Op:     e.Op,
		Type:   string(o.Type),
		Target: o.TargetPath,
	})
	return nil
}

// runFlush compacts a device's drafts into one composite operation and
// applies it locally. A draft run that does not collapse to a single
// operation is a scenario authoring error: sibling composites would
// share one clock generation, and all but the first would be dropped
// as superseded on delivery.
func (h *Harness) runFlush(ctx context.Context, f *FlushStep) error {
	h.action, h.from = "flush", ""
	rep := h.replicas[clock.DeviceID(f.Device)]
	if len(rep.drafts) == 0 {
		return fmt.Errorf("flush on %s: no drafts buffered", f.Device)
	}

	var composed []op.Operation
	var err error
	if f.Strategy == "" {
		composed, err = h.composer.SequenceAuto(rep.drafts)
	} else {
		composed, err = h.composer.Sequence(rep.drafts, compose.Strategy(f.Strategy))
	}
	if err != nil {
		return fmt.Errorf("flush on %s: %w", f.Device, err)
	}
	if len(composed) != 1 {
		return fmt.Errorf("flush on %s: drafts collapse to %d operations, want 1", f.Device, len(composed))
	}

	sources := make([]string, len(rep.drafts))
	for i, d := range rep.drafts {
		sources[i] = h.labelFor(d.ID)
	}

	c := composed[0]
	h.register(f.Op, c)
	rep.drafts = nil
	rep.log = append(rep.log, c)

	ev := TraceEvent{
		Step:     h.step,
		Action:   "flush",
		Device:   f.Device,
		Op:       f.Op,
		Type:     string(c.Type),
		Target:   c.TargetPath,
		Composed: sources,
	}
	if f.Strategy != "" {
		ev.Strategy = f.Strategy
	}
	h.result.Trace = append(h.result.Trace, ev)

	rep.runner.Deliver(c)
	return rep.runner.Drain(ctx)
}

// runDeliver ships operations to the target device and drains its
// inbox. Re-deliveries surface as DUPLICATE outcomes rather than
// errors, matching what a real transport retry produces.
func (h *Harness) runDeliver(ctx context.Context, d *DeliverStep) error {
	h.action, h.from = "deliver", d.From
	to := h.replicas[clock.DeviceID(d.To)]

	var ops []op.Operation
	if len(d.Ops) == 0 {
		ops = h.replicas[clock.DeviceID(d.From)].log
	} else {
		for _, label := range d.Ops {
			ops = append(ops, h.labels[label])
		}
	}

	for _, o := range ops {
		to.runner.Deliver(o)
	}
	return to.runner.Drain(ctx)
}

// runDecide submits an external decision for the conflict between two
// labeled operations and drains the resulting re-admissions.
func (h *Harness) runDecide(ctx context.Context, d *DecideStep) error {
	h.action, h.from = "decide", ""
	rep := h.replicas[clock.DeviceID(d.Device)]

	decision := engine.Decision{Strategy: conflict.Strategy(d.Strategy)}
	if d.Payload != nil {
		obj, err := field.ObjectFromAny(d.Payload)
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		decision.Payload = obj
	}
	if d.Winner != "" {
		decision.WinnerID = h.labels[d.Winner].ID
	}

	key := conflict.New(h.labels[d.Incoming], h.labels[d.Applied]).Key()
	rep.runner.Decide(key, decision)
	return rep.runner.Drain(ctx)
}

// verifyReplay closes every run by rebuilding each replica from the
// journal and checking the result against the live state. A scenario
// whose journal cannot reproduce its replicas is a bug in the engine
// or the store, but it reports through the result so golden runs
// surface it.
func (h *Harness) verifyReplay(ctx context.Context) {
	for _, name := range h.scenario.Devices {
		device := clock.DeviceID(name)
		replayed, err := h.store.Replay(ctx, device)
		if err != nil {
			h.result.AddError(fmt.Sprintf("replay %s: %v", name, err))
			continue
		}
		live := h.replicas[device].state
		if !replayed.Clock().Equal(live.Clock()) {
			h.result.AddError(fmt.Sprintf("replay %s: journal clock %q, live clock %q",
				name, replayed.Clock(), live.Clock()))
			continue
		}
		if replayed.AppliedCount() != live.AppliedCount() {
			h.result.AddError(fmt.Sprintf("replay %s: journal applied %d operations, live state %d",
				name, replayed.AppliedCount(), live.AppliedCount()))
		}
	}
}
