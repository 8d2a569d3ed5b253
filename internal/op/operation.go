package op

import (
	"fmt"
	"strings"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/field"
)

// Operation is one device's atomic edit to the shared document.
//
// Operations are immutable once constructed: New deep-copies the payload
// in, and every consumer treats the record as read-only. The ID is
// content-addressed over all identity-bearing fields, so equal IDs mean
// equal operations on every replica.
type Operation struct {
	// ID is the content-addressed identity (hex SHA-256).
	ID string `json:"id"`

	// Device is the replica that generated the operation.
	Device clock.DeviceID `json:"device"`

	// Type is the operation type from the closed valid set.
	Type Type `json:"type"`

	// TargetPath locates the edited entity. Opaque to the engine;
	// equality is the only comparison performed.
	TargetPath string `json:"target_path"`

	// Payload carries the edit's data, keyed opaque fields.
	Payload field.Object `json:"payload"`

	// Clock is the originating vector clock, captured when the device
	// created the operation. It always counts the operation itself:
	// Clock[Device] >= 1.
	Clock clock.VectorClock `json:"clock"`

	// ParentID optionally names an operation this one causally depends
	// on. Empty when the operation has no explicit parent.
	ParentID string `json:"parent_id,omitempty"`
}

// ValidationError describes one violated construction rule.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every violated rule (not fail-fast).
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return "invalid operation: " + strings.Join(msgs, "; ")
}

// New constructs a validated operation and derives its ID.
//
// The payload is deep-copied so later mutation of the caller's map
// cannot change the operation (the ID is already bound to the copied
// contents). All validation errors are collected and returned together.
func New(device clock.DeviceID, t Type, targetPath string, payload field.Object, clk clock.VectorClock, parentID string) (Operation, error) {
	var errs ValidationErrors
	if !device.Valid() {
		errs = append(errs, ValidationError{Field: "device", Message: "must be non-empty"})
	}
	if !t.Valid() {
		errs = append(errs, ValidationError{Field: "type", Message: fmt.Sprintf("unknown operation type %q", string(t))})
	}
	if targetPath == "" {
		errs = append(errs, ValidationError{Field: "target_path", Message: "must be non-empty"})
	}
	if clk.IsEmpty() {
		errs = append(errs, ValidationError{Field: "clock", Message: "originating clock has no entries"})
	} else if device.Valid() && clk.Counter(device) < 1 {
		errs = append(errs, ValidationError{Field: "clock", Message: fmt.Sprintf("originating clock does not count device %q", device)})
	}
	if len(errs) > 0 {
		return Operation{}, errs
	}

	copied := payload.Copy()
	if copied == nil {
		copied = field.Object{}
	}

	id, err := ComputeID(device, t, targetPath, copied, clk, parentID)
	if err != nil {
		return Operation{}, fmt.Errorf("derive operation id: %w", err)
	}

	return Operation{
		ID:         id,
		Device:     device,
		Type:       t,
		TargetPath: targetPath,
		Payload:    copied,
		Clock:      clk,
		ParentID:   parentID,
	}, nil
}

// MustNew is like New but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustNew(device clock.DeviceID, t Type, targetPath string, payload field.Object, clk clock.VectorClock, parentID string) Operation {
	o, err := New(device, t, targetPath, payload, clk, parentID)
	if err != nil {
		panic(err)
	}
	return o
}

// Restore rebuilds an operation from stored fields, trusting the
// recorded ID. Used by the persistence layer when reading the log;
// VerifyID is available for integrity checking.
func Restore(id string, device clock.DeviceID, t Type, targetPath string, payload field.Object, clk clock.VectorClock, parentID string) Operation {
	if payload == nil {
		payload = field.Object{}
	}
	return Operation{
		ID:         id,
		Device:     device,
		Type:       t,
		TargetPath: targetPath,
		Payload:    payload,
		Clock:      clk,
		ParentID:   parentID,
	}
}

// VerifyID recomputes the content address and reports whether it matches
// the recorded ID.
func (o Operation) VerifyID() (bool, error) {
	id, err := ComputeID(o.Device, o.Type, o.TargetPath, o.Payload, o.Clock, o.ParentID)
	if err != nil {
		return false, err
	}
	return id == o.ID, nil
}

// Timestamp derives the operation's logical timestamp from its
// originating clock and device. Validated operations always yield one.
func (o Operation) Timestamp() (clock.LogicalTimestamp, error) {
	return clock.TimestampFromClock(o.Clock, o.Device)
}

// ConcurrentWith reports whether two operations' originating clocks are
// concurrent (neither causally precedes the other).
func (o Operation) ConcurrentWith(other Operation) bool {
	return o.Clock.Concurrent(other.Clock)
}

// String renders a short identity for logs.
func (o Operation) String() string {
	short := o.ID
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("%s %s %s (%s)", o.Type, o.TargetPath, short, o.Device)
}
