// Package policy compiles declarative resolution policy from CUE into
// the option sets the coordination engine consumes.
//
// The conflict taxonomy fixes what CAN happen (types, severities,
// candidate strategies); policy decides what a deployment PREFERS
// within those bounds: which candidate resolves each type, whether
// auto-resolution runs at all, which conflict pairs may share a batch
// resolution, content merge limits, and device registration strictness.
// A policy can narrow or reorder, never invent: compilation rejects a
// strategy the taxonomy does not offer for a type.
package policy

import (
	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/compose"
	"github.com/roach88/accord/internal/conflict"
	"github.com/roach88/accord/internal/engine"
)

// Policy is a compiled resolution policy.
//
// Zero values mean "engine default"; Default() returns the policy that
// reproduces the built-in behavior exactly.
type Policy struct {
	// AutoResolve enables automatic resolution of auto-resolvable
	// conflict types.
	AutoResolve bool `json:"autoResolve"`

	// Strategies overrides the preferred strategy per conflict type.
	// Each entry must name a candidate strategy of its type.
	Strategies map[conflict.Type]conflict.Strategy `json:"strategies,omitempty"`

	// CompatiblePairs widens the batch-resolution compatibility
	// relation. Pairs are symmetric.
	CompatiblePairs [][2]conflict.Type `json:"compatiblePairs,omitempty"`

	// RequireKnownDevices rejects operations from devices that are
	// neither listed below nor present in the replica's history.
	RequireKnownDevices bool `json:"requireKnownDevices"`

	// KnownDevices is the admission allowlist when RequireKnownDevices
	// is set.
	KnownDevices []clock.DeviceID `json:"knownDevices,omitempty"`

	// MaxContentLength caps merged text size; longer merges fall back
	// to the later value.
	MaxContentLength int `json:"maxContentLength"`

	// NumericCloseness widens content-merge compatibility to integer
	// fields within this distance. Zero keeps the strict default.
	NumericCloseness int64 `json:"numericCloseness"`

	// MaxRetries bounds blocked re-admissions per operation.
	MaxRetries int `json:"maxRetries"`
}

// Default returns the policy matching the engine's built-in behavior:
// auto-resolution on, first-candidate strategies, base compatibility
// table, implicit device registration, default merge and retry limits.
func Default() Policy {
	return Policy{
		AutoResolve:      true,
		Strategies:       make(map[conflict.Type]conflict.Strategy),
		MaxContentLength: compose.DefaultMaxContentLength,
		MaxRetries:       engine.DefaultMaxRetries,
	}
}

// CoordinatorOptions renders the policy as coordinator configuration.
func (p Policy) CoordinatorOptions() []engine.CoordinatorOption {
	opts := []engine.CoordinatorOption{
		engine.WithAutoResolve(p.AutoResolve),
		engine.WithComposer(p.Composer()),
	}

	// Iterate the closed type list so option order is deterministic.
	for _, t := range conflict.AllTypes() {
		if s, ok := p.Strategies[t]; ok {
			opts = append(opts, engine.WithStrategyOverride(t, s))
		}
	}
	for _, pair := range p.CompatiblePairs {
		opts = append(opts, engine.WithCompatiblePair(pair[0], pair[1]))
	}
	if p.RequireKnownDevices {
		opts = append(opts, engine.WithKnownDevices(p.KnownDevices...))
	}
	return opts
}

// ComposerOptions renders the policy's merge limits.
func (p Policy) ComposerOptions() []compose.Option {
	var opts []compose.Option
	if p.MaxContentLength > 0 {
		opts = append(opts, compose.WithMaxContentLength(p.MaxContentLength))
	}
	if p.NumericCloseness > 0 {
		opts = append(opts, compose.WithNumericCloseness(p.NumericCloseness))
	}
	return opts
}

// Composer builds a composer configured by this policy.
func (p Policy) Composer() *compose.Composer {
	return compose.NewComposer(p.ComposerOptions()...)
}

// RunnerOptions renders the policy's runner configuration.
func (p Policy) RunnerOptions() []engine.RunnerOption {
	var opts []engine.RunnerOption
	if p.MaxRetries > 0 {
		opts = append(opts, engine.WithRetryBudget(p.MaxRetries))
	}
	return opts
}

// NewCoordinator builds a coordinator configured by this policy.
func (p Policy) NewCoordinator() *engine.Coordinator {
	return engine.NewCoordinator(p.CoordinatorOptions()...)
}
