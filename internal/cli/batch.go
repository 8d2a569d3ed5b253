package cli

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/field"
	"github.com/roach88/accord/internal/op"
)

// Batch is a YAML file of operations addressed to one replica. It is
// the CLI's wire format: apply consumes batches, compose rewrites
// them.
type Batch struct {
	// Replica names the replica the batch is delivered to.
	Replica string `yaml:"replica" json:"replica"`

	// Ops lists the operations in delivery order.
	Ops []BatchOp `yaml:"ops" json:"ops"`
}

// BatchOp describes one operation. The engine re-derives the
// content-addressed ID from these fields, so a batch round-trips
// losslessly through compose and apply.
type BatchOp struct {
	// Label optionally names the operation within the batch. Later
	// entries may reference it as their parent, and results report it.
	Label string `yaml:"op,omitempty" json:"op,omitempty"`

	Device  string           `yaml:"device" json:"device"`
	Type    string           `yaml:"type" json:"type"`
	Target  string           `yaml:"target" json:"target"`
	Payload map[string]any   `yaml:"payload,omitempty" json:"payload,omitempty"`
	Clock   map[string]int64 `yaml:"clock" json:"clock"`

	// Parent optionally references a causal dependency: the label of an
	// earlier entry in this batch, or a full operation ID.
	Parent string `yaml:"parent,omitempty" json:"parent,omitempty"`
}

// BatchEntry is one built operation with its display label.
type BatchEntry struct {
	Label string
	Op    op.Operation
}

// LoadBatch loads and validates an operation batch from a YAML file.
func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return ParseBatch(data)
}

// ParseBatch decodes batch YAML with strict field checking, so a typo
// like "payloads:" fails loudly instead of silently dropping data.
func ParseBatch(data []byte) (*Batch, error) {
	var b Batch
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("parse batch YAML: %w", err)
	}
	if err := validateBatch(&b); err != nil {
		return nil, fmt.Errorf("invalid batch: %w", err)
	}
	return &b, nil
}

// validateBatch checks the shape of a batch before any operation is
// built. Construction rules (clock counts the op, valid type pairing)
// stay with op.New; this pass catches file-level mistakes with entry
// positions.
func validateBatch(b *Batch) error {
	if !clock.DeviceID(b.Replica).Valid() {
		return fmt.Errorf("replica is required")
	}
	if len(b.Ops) == 0 {
		return fmt.Errorf("ops list is required and must be non-empty")
	}
	labels := make(map[string]bool, len(b.Ops))
	for i, bo := range b.Ops {
		if bo.Label != "" {
			if labels[bo.Label] {
				return fmt.Errorf("ops[%d]: duplicate op label %q", i, bo.Label)
			}
			labels[bo.Label] = true
		}
		if !clock.DeviceID(bo.Device).Valid() {
			return fmt.Errorf("ops[%d]: device is required", i)
		}
		if _, err := op.ParseType(bo.Type); err != nil {
			return fmt.Errorf("ops[%d]: %v", i, err)
		}
		if bo.Target == "" {
			return fmt.Errorf("ops[%d]: target is required", i)
		}
		if len(bo.Clock) == 0 {
			return fmt.Errorf("ops[%d]: clock is required", i)
		}
		if bo.Payload != nil {
			if _, err := field.ObjectFromAny(bo.Payload); err != nil {
				return fmt.Errorf("ops[%d].payload: %v", i, err)
			}
		}
	}
	return nil
}

// Build constructs the batch's operations in order, deriving IDs and
// resolving parent labels. A parent string matching an earlier entry's
// label resolves to that entry's ID; anything else passes through as a
// raw operation ID.
func (b *Batch) Build() ([]BatchEntry, error) {
	entries := make([]BatchEntry, 0, len(b.Ops))
	byLabel := make(map[string]string, len(b.Ops))

	for i, bo := range b.Ops {
		t, err := op.ParseType(bo.Type)
		if err != nil {
			return nil, fmt.Errorf("ops[%d]: %w", i, err)
		}

		var payload field.Object
		if bo.Payload != nil {
			payload, err = field.ObjectFromAny(bo.Payload)
			if err != nil {
				return nil, fmt.Errorf("ops[%d].payload: %w", i, err)
			}
		}

		counters := make(map[clock.DeviceID]int64, len(bo.Clock))
		for device, count := range bo.Clock {
			counters[clock.DeviceID(device)] = count
		}
		clk, err := clock.FromCounters(counters)
		if err != nil {
			return nil, fmt.Errorf("ops[%d].clock: %w", i, err)
		}

		parent := bo.Parent
		if id, ok := byLabel[parent]; ok {
			parent = id
		}

		built, err := op.New(clock.DeviceID(bo.Device), t, bo.Target, payload, clk, parent)
		if err != nil {
			return nil, fmt.Errorf("ops[%d]: %w", i, err)
		}

		label := bo.Label
		if label == "" {
			label = shortID(built.ID)
		}
		if bo.Label != "" {
			byLabel[bo.Label] = built.ID
		}
		entries = append(entries, BatchEntry{Label: label, Op: built})
	}

	return entries, nil
}

// MarshalBatch renders operations back into batch YAML, preserving
// labels for operations that survived a rewrite unchanged and minting
// c1, c2, ... labels for composites.
func MarshalBatch(replica string, original []BatchEntry, ops []op.Operation) ([]byte, error) {
	out := BatchFromOps(replica, original, ops)
	return marshalBatchDoc(out)
}

func marshalBatchDoc(batch Batch) ([]byte, error) {
	data, err := yaml.Marshal(&batch)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	return data, nil
}

// BatchFromOps rebuilds a Batch document from engine operations.
// Operations whose ID matches an entry in original keep that entry's
// label; composites minted by the composer get c1, c2, and so on.
func BatchFromOps(replica string, original []BatchEntry, ops []op.Operation) Batch {
	labelByID := make(map[string]string, len(original))
	for _, e := range original {
		labelByID[e.Op.ID] = e.Label
	}

	out := Batch{Replica: replica, Ops: make([]BatchOp, 0, len(ops))}
	composite := 0
	for _, o := range ops {
		label, ok := labelByID[o.ID]
		if !ok {
			composite++
			label = fmt.Sprintf("c%d", composite)
		}
		out.Ops = append(out.Ops, BatchOp{
			Label:   label,
			Device:  string(o.Device),
			Type:    string(o.Type),
			Target:  o.TargetPath,
			Payload: objectToAny(o.Payload),
			Clock:   countersToAny(o.Clock),
			Parent:  o.ParentID,
		})
	}
	return out
}

// objectToAny converts a field.Object to a plain map for YAML output.
func objectToAny(obj field.Object) map[string]any {
	if obj == nil {
		return nil
	}
	result := make(map[string]any, len(obj))
	for k, v := range obj {
		result[k] = valueToAny(v)
	}
	return result
}

// valueToAny converts a field.Value to a plain value for YAML output.
func valueToAny(v field.Value) any {
	switch val := v.(type) {
	case field.String:
		return string(val)
	case field.Int:
		return int64(val)
	case field.Bool:
		return bool(val)
	case field.List:
		result := make([]any, len(val))
		for i, elem := range val {
			result[i] = valueToAny(elem)
		}
		return result
	case field.Object:
		return objectToAny(val)
	default:
		return nil
	}
}

// countersToAny converts a vector clock to a plain counter map.
func countersToAny(c clock.VectorClock) map[string]int64 {
	counters := c.Counters()
	result := make(map[string]int64, len(counters))
	for device, count := range counters {
		result[string(device)] = count
	}
	return result
}
