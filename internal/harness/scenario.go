package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/compose"
	"github.com/roach88/accord/internal/conflict"
	"github.com/roach88/accord/internal/engine"
	"github.com/roach88/accord/internal/field"
	"github.com/roach88/accord/internal/op"
	"github.com/roach88/accord/internal/policy"
)

// Scenario defines one multi-device convergence scenario.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Devices lists the participating replicas. Order fixes the replay
	// verification order at the end of a run.
	Devices []string `yaml:"devices"`

	// Policy optionally holds inline CUE source for the resolution
	// policy of the run. Empty means engine defaults.
	Policy string `yaml:"policy,omitempty"`

	// Steps is the ordered script.
	Steps []Step `yaml:"steps"`

	// Assertions validate final replica state and the journal.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted action. Exactly one field is set.
type Step struct {
	// Edit has a device author an operation and apply it locally.
	Edit *EditStep `yaml:"edit,omitempty"`

	// Draft has a device buffer an operation without applying it.
	Draft *EditStep `yaml:"draft,omitempty"`

	// Flush composes the device's drafts into one operation and
	// applies it.
	Flush *FlushStep `yaml:"flush,omitempty"`

	// Deliver ships operations from one device to another.
	Deliver *DeliverStep `yaml:"deliver,omitempty"`

	// Decide settles an open conflict on a device.
	Decide *DecideStep `yaml:"decide,omitempty"`
}

// EditStep authors one operation. Op is the scenario-scoped label later
// steps and assertions use to reference it.
type EditStep struct {
	Device  string         `yaml:"device"`
	Op      string         `yaml:"op"`
	Type    string         `yaml:"type"`
	Target  string         `yaml:"target"`
	Payload map[string]any `yaml:"payload,omitempty"`
	Parent  string         `yaml:"parent,omitempty"`
}

// FlushStep compacts a device's buffered drafts. The drafts must
// collapse into a single composite operation, labeled Op. Strategy
// forces a composition strategy; empty selects one per pair.
type FlushStep struct {
	Device   string `yaml:"device"`
	Op       string `yaml:"op"`
	Strategy string `yaml:"strategy,omitempty"`
}

// DeliverStep ships operations to a device. With Ops empty, everything
// From has authored so far goes over in creation order; otherwise only
// the labeled operations go, in the listed order.
type DeliverStep struct {
	From string   `yaml:"from"`
	To   string   `yaml:"to"`
	Ops  []string `yaml:"ops,omitempty"`
}

// DecideStep resolves the open conflict between an incoming and an
// applied operation on a device.
type DecideStep struct {
	Device   string         `yaml:"device"`
	Incoming string         `yaml:"incoming"`
	Applied  string         `yaml:"applied"`
	Strategy string         `yaml:"strategy"`
	Winner   string         `yaml:"winner,omitempty"`
	Payload  map[string]any `yaml:"payload,omitempty"`
}

// Assertion validates final state after every step ran.
type Assertion struct {
	// Type selects the assertion:
	//   - "clock": a device's merged clock equals Clock
	//   - "counts": a device's applied/blocked/awaiting counts
	//   - "status": the position of a labeled operation on a device
	//   - "conflict": an open conflict between two labeled operations
	//   - "converged": the listed devices share clock and applied set
	//   - "payload": the last-writer value of a payload field at a target
	//   - "journal": journaled outcome count for a device and status
	Type string `yaml:"type"`

	// Device scopes single-device assertions.
	Device string `yaml:"device,omitempty"`

	// Devices lists the replicas a converged assertion compares.
	Devices []string `yaml:"devices,omitempty"`

	// Clock is the expected clock rendering, e.g. "laptop:2;phone:1".
	Clock string `yaml:"clock,omitempty"`

	// Applied, Blocked and Awaiting are expected counts; nil fields are
	// not checked.
	Applied  *int `yaml:"applied,omitempty"`
	Blocked  *int `yaml:"blocked,omitempty"`
	Awaiting *int `yaml:"awaiting,omitempty"`

	// Op labels the operation a status assertion inspects.
	Op string `yaml:"op,omitempty"`

	// Status is APPLIED, BLOCKED, AWAITING_USER or ABSENT for a status
	// assertion, or a journaled outcome status for a journal assertion.
	Status string `yaml:"status,omitempty"`

	// Between labels the [incoming, applied] pair of a conflict
	// assertion.
	Between []string `yaml:"between,omitempty"`

	// Conflict is the expected conflict type.
	Conflict string `yaml:"conflict,omitempty"`

	// Target and Field locate a payload assertion; Equals is the
	// expected value.
	Target string `yaml:"target,omitempty"`
	Field  string `yaml:"field,omitempty"`
	Equals any    `yaml:"equals,omitempty"`

	// Count is the expected row count of a journal assertion.
	Count *int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertClock     = "clock"
	AssertCounts    = "counts"
	AssertStatus    = "status"
	AssertConflict  = "conflict"
	AssertConverged = "converged"
	AssertPayload   = "payload"
	AssertJournal   = "journal"
)

// LoadScenario loads and validates a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes scenario YAML with strict field checking, so a
// typo like "assertion:" fails loudly instead of silently dropping the
// section.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Devices) == 0 {
		return fmt.Errorf("devices list is required and must be non-empty")
	}
	devices := make(map[string]bool, len(s.Devices))
	for i, d := range s.Devices {
		if !clock.DeviceID(d).Valid() {
			return fmt.Errorf("devices[%d]: device ID must be non-empty", i)
		}
		if devices[d] {
			return fmt.Errorf("devices[%d]: duplicate device %q", i, d)
		}
		devices[d] = true
	}
	if s.Policy != "" {
		if _, err := policy.Compile(s.Policy); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	labels := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, devices, labels); err != nil {
			return err
		}
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], devices, labels); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, devices, labels map[string]bool) error {
	set := 0
	if step.Edit != nil {
		set++
	}
	if step.Draft != nil {
		set++
	}
	if step.Flush != nil {
		set++
	}
	if step.Deliver != nil {
		set++
	}
	if step.Decide != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of edit, draft, flush, deliver, decide is required", i)
	}

	switch {
	case step.Edit != nil:
		return validateEdit(i, "edit", step.Edit, devices, labels)
	case step.Draft != nil:
		return validateEdit(i, "draft", step.Draft, devices, labels)
	case step.Flush != nil:
		f := step.Flush
		if !devices[f.Device] {
			return fmt.Errorf("steps[%d].flush: unknown device %q", i, f.Device)
		}
		if f.Op == "" {
			return fmt.Errorf("steps[%d].flush: op label is required", i)
		}
		if labels[f.Op] {
			return fmt.Errorf("steps[%d].flush: duplicate op label %q", i, f.Op)
		}
		if f.Strategy != "" {
			if _, err := compose.ParseStrategy(f.Strategy); err != nil {
				return fmt.Errorf("steps[%d].flush: %v", i, err)
			}
		}
		labels[f.Op] = true
	case step.Deliver != nil:
		d := step.Deliver
		if !devices[d.From] {
			return fmt.Errorf("steps[%d].deliver: unknown device %q", i, d.From)
		}
		if !devices[d.To] {
			return fmt.Errorf("steps[%d].deliver: unknown device %q", i, d.To)
		}
		if d.From == d.To {
			return fmt.Errorf("steps[%d].deliver: from and to must differ", i)
		}
		for _, label := range d.Ops {
			if !labels[label] {
				return fmt.Errorf("steps[%d].deliver: unknown op label %q", i, label)
			}
		}
	case step.Decide != nil:
		d := step.Decide
		if !devices[d.Device] {
			return fmt.Errorf("steps[%d].decide: unknown device %q", i, d.Device)
		}
		if !labels[d.Incoming] {
			return fmt.Errorf("steps[%d].decide: unknown incoming op label %q", i, d.Incoming)
		}
		if !labels[d.Applied] {
			return fmt.Errorf("steps[%d].decide: unknown applied op label %q", i, d.Applied)
		}
		if !conflict.Strategy(d.Strategy).Valid() {
			return fmt.Errorf("steps[%d].decide: unknown strategy %q", i, d.Strategy)
		}
		if d.Winner != "" && d.Winner != d.Incoming && d.Winner != d.Applied {
			return fmt.Errorf("steps[%d].decide: winner %q must be the incoming or applied op", i, d.Winner)
		}
		if d.Payload != nil {
			if _, err := field.ObjectFromAny(d.Payload); err != nil {
				return fmt.Errorf("steps[%d].decide.payload: %v", i, err)
			}
		}
	}
	return nil
}

func validateEdit(i int, kind string, e *EditStep, devices, labels map[string]bool) error {
	if !devices[e.Device] {
		return fmt.Errorf("steps[%d].%s: unknown device %q", i, kind, e.Device)
	}
	if e.Op == "" {
		return fmt.Errorf("steps[%d].%s: op label is required", i, kind)
	}
	if labels[e.Op] {
		return fmt.Errorf("steps[%d].%s: duplicate op label %q", i, kind, e.Op)
	}
	if _, err := op.ParseType(e.Type); err != nil {
		return fmt.Errorf("steps[%d].%s: %v", i, kind, err)
	}
	if e.Target == "" {
		return fmt.Errorf("steps[%d].%s: target is required", i, kind)
	}
	if e.Payload != nil {
		if _, err := field.ObjectFromAny(e.Payload); err != nil {
			return fmt.Errorf("steps[%d].%s.payload: %v", i, kind, err)
		}
	}
	if e.Parent != "" && !labels[e.Parent] {
		return fmt.Errorf("steps[%d].%s: unknown parent op label %q", i, kind, e.Parent)
	}
	labels[e.Op] = true
	return nil
}

// statusAssertable are the positions a status assertion can expect.
// ABSENT means the replica holds no record of the operation.
var statusAssertable = map[string]bool{
	string(engine.StatusApplied):      true,
	string(engine.StatusBlocked):      true,
	string(engine.StatusAwaitingUser): true,
	"ABSENT":                          true,
}

// journalStatuses are outcome statuses the journal records.
var journalStatuses = map[string]bool{
	string(engine.StatusApplied):      true,
	string(engine.StatusBlocked):      true,
	string(engine.StatusAwaitingUser): true,
	string(engine.StatusDuplicate):    true,
}

func validateAssertion(i int, a *Assertion, devices, labels map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", i)
	}
	needDevice := func() error {
		if a.Device == "" {
			return fmt.Errorf("assertions[%d]: device is required for %s", i, a.Type)
		}
		if !devices[a.Device] {
			return fmt.Errorf("assertions[%d]: unknown device %q", i, a.Device)
		}
		return nil
	}

	switch a.Type {
	case AssertClock:
		if err := needDevice(); err != nil {
			return err
		}
		if a.Clock == "" {
			return fmt.Errorf("assertions[%d]: clock is required for clock", i)
		}
	case AssertCounts:
		if err := needDevice(); err != nil {
			return err
		}
		if a.Applied == nil && a.Blocked == nil && a.Awaiting == nil {
			return fmt.Errorf("assertions[%d]: at least one of applied, blocked, awaiting is required for counts", i)
		}
	case AssertStatus:
		if err := needDevice(); err != nil {
			return err
		}
		if !labels[a.Op] {
			return fmt.Errorf("assertions[%d]: unknown op label %q", i, a.Op)
		}
		if !statusAssertable[a.Status] {
			return fmt.Errorf("assertions[%d]: status must be APPLIED, BLOCKED, AWAITING_USER or ABSENT", i)
		}
	case AssertConflict:
		if err := needDevice(); err != nil {
			return err
		}
		if len(a.Between) != 2 {
			return fmt.Errorf("assertions[%d]: between must name the [incoming, applied] pair", i)
		}
		for _, label := range a.Between {
			if !labels[label] {
				return fmt.Errorf("assertions[%d]: unknown op label %q", i, label)
			}
		}
		if a.Conflict != "" && !conflict.Type(a.Conflict).Valid() {
			return fmt.Errorf("assertions[%d]: unknown conflict type %q", i, a.Conflict)
		}
	case AssertConverged:
		if len(a.Devices) < 2 {
			return fmt.Errorf("assertions[%d]: converged needs at least two devices", i)
		}
		for _, d := range a.Devices {
			if !devices[d] {
				return fmt.Errorf("assertions[%d]: unknown device %q", i, d)
			}
		}
	case AssertPayload:
		if err := needDevice(); err != nil {
			return err
		}
		if a.Target == "" {
			return fmt.Errorf("assertions[%d]: target is required for payload", i)
		}
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for payload", i)
		}
		if a.Equals == nil {
			return fmt.Errorf("assertions[%d]: equals is required for payload", i)
		}
		if _, err := field.FromAny(a.Equals); err != nil {
			return fmt.Errorf("assertions[%d].equals: %v", i, err)
		}
	case AssertJournal:
		if err := needDevice(); err != nil {
			return err
		}
		if !journalStatuses[a.Status] {
			return fmt.Errorf("assertions[%d]: status must be a journaled outcome status", i)
		}
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for journal", i)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
