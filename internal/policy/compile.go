package policy

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/conflict"
)

// CompileError represents one policy compilation error with source
// position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileErrors collects every violation found in a policy source.
// Compilation does not fail fast; a rejected policy reports all of its
// problems at once.
type CompileErrors []*CompileError

func (e CompileErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, ce := range e {
		msgs[i] = ce.Error()
	}
	return fmt.Sprintf("%d policy errors: %s", len(e), strings.Join(msgs, "; "))
}

// Load reads and compiles a .cue policy file.
func Load(path string) (Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	ctx := cuecontext.New()
	v := ctx.CompileString(string(src), cue.Filename(path))
	return CompileValue(v)
}

// Compile builds a policy from CUE source text.
func Compile(source string) (Policy, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(source)
	return CompileValue(v)
}

// knownPolicyFields are the accepted top-level policy fields. Anything
// else is a compile error so typos cannot silently fall back to
// defaults.
var knownPolicyFields = map[string]bool{
	"auto_resolve":          true,
	"strategies":            true,
	"compatible":            true,
	"require_known_devices": true,
	"known_devices":         true,
	"max_content_length":    true,
	"numeric_closeness":     true,
	"max_retries":           true,
}

// CompileValue builds a policy from an evaluated CUE value.
//
// The value may be the policy struct itself or a document with a
// top-level "policy" field, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`policy: { auto_resolve: false }`)
//	p, err := CompileValue(v)
//
// Fields not present keep their Default() values. Unknown fields,
// unknown conflict types or strategies, strategies outside a type's
// candidate list, and out-of-range numbers are all collected into a
// CompileErrors result.
func CompileValue(v cue.Value) (Policy, error) {
	if err := v.Err(); err != nil {
		return Policy{}, formatCUEError(err)
	}
	if nested := v.LookupPath(cue.ParsePath("policy")); nested.Exists() {
		v = nested
	}

	p := Default()
	var errs CompileErrors

	errs = append(errs, unknownFields(v)...)

	if b, ok, cerr := lookupBool(v, "auto_resolve"); cerr != nil {
		errs = append(errs, cerr)
	} else if ok {
		p.AutoResolve = b
	}

	if b, ok, cerr := lookupBool(v, "require_known_devices"); cerr != nil {
		errs = append(errs, cerr)
	} else if ok {
		p.RequireKnownDevices = b
	}

	parseStrategies(v, &p, &errs)
	parseCompatible(v, &p, &errs)
	parseKnownDevices(v, &p, &errs)

	if n, ok, cerr := lookupInt(v, "max_content_length"); cerr != nil {
		errs = append(errs, cerr)
	} else if ok {
		if n <= 0 {
			errs = append(errs, outOfRange(v, "max_content_length", "must be positive"))
		} else {
			p.MaxContentLength = int(n)
		}
	}

	if n, ok, cerr := lookupInt(v, "numeric_closeness"); cerr != nil {
		errs = append(errs, cerr)
	} else if ok {
		if n < 0 {
			errs = append(errs, outOfRange(v, "numeric_closeness", "must not be negative"))
		} else {
			p.NumericCloseness = n
		}
	}

	if n, ok, cerr := lookupInt(v, "max_retries"); cerr != nil {
		errs = append(errs, cerr)
	} else if ok {
		if n <= 0 {
			errs = append(errs, outOfRange(v, "max_retries", "must be positive"))
		} else {
			p.MaxRetries = int(n)
		}
	}

	if len(errs) > 0 {
		return Policy{}, errs
	}
	return p, nil
}

// unknownFields rejects top-level fields outside the policy schema.
func unknownFields(v cue.Value) CompileErrors {
	iter, err := v.Fields()
	if err != nil {
		return CompileErrors{{
			Field:   "policy",
			Message: "policy must be a struct",
			Pos:     v.Pos(),
		}}
	}
	var errs CompileErrors
	for iter.Next() {
		if !knownPolicyFields[iter.Label()] {
			errs = append(errs, &CompileError{
				Field:   iter.Label(),
				Message: "unknown policy field",
				Pos:     iter.Value().Pos(),
			})
		}
	}
	return errs
}

// parseStrategies reads the per-type strategy overrides. A strategy
// must be one of the candidates the conflict taxonomy offers for the
// type; policy narrows, it does not invent.
func parseStrategies(v cue.Value, p *Policy, errs *CompileErrors) {
	f := v.LookupPath(cue.ParsePath("strategies"))
	if !f.Exists() {
		return
	}
	iter, err := f.Fields()
	if err != nil {
		*errs = append(*errs, &CompileError{
			Field:   "strategies",
			Message: "must be a struct of conflict type to strategy name",
			Pos:     f.Pos(),
		})
		return
	}
	for iter.Next() {
		label := iter.Label()
		fieldPath := "strategies." + label

		t := conflict.Type(label)
		if !t.Valid() {
			*errs = append(*errs, &CompileError{
				Field:   fieldPath,
				Message: fmt.Sprintf("unknown conflict type %q", label),
				Pos:     iter.Value().Pos(),
			})
			continue
		}

		name, serr := iter.Value().String()
		if serr != nil {
			*errs = append(*errs, &CompileError{
				Field:   fieldPath,
				Message: "must be a strategy name string",
				Pos:     iter.Value().Pos(),
			})
			continue
		}

		s := conflict.Strategy(name)
		if !s.Valid() {
			*errs = append(*errs, &CompileError{
				Field:   fieldPath,
				Message: fmt.Sprintf("unknown strategy %q", name),
				Pos:     iter.Value().Pos(),
			})
			continue
		}
		if !isCandidate(t, s) {
			*errs = append(*errs, &CompileError{
				Field: fieldPath,
				Message: fmt.Sprintf("strategy %s is not a candidate for %s (candidates: %v)",
					s, t, t.Strategies()),
				Pos: iter.Value().Pos(),
			})
			continue
		}

		p.Strategies[t] = s
	}
}

// parseCompatible reads the compatibility widenings: a list of
// two-element conflict type lists.
func parseCompatible(v cue.Value, p *Policy, errs *CompileErrors) {
	f := v.LookupPath(cue.ParsePath("compatible"))
	if !f.Exists() {
		return
	}
	iter, err := f.List()
	if err != nil {
		*errs = append(*errs, &CompileError{
			Field:   "compatible",
			Message: "must be a list of conflict type pairs",
			Pos:     f.Pos(),
		})
		return
	}

	for i := 0; iter.Next(); i++ {
		fieldPath := fmt.Sprintf("compatible[%d]", i)
		pairIter, perr := iter.Value().List()
		if perr != nil {
			*errs = append(*errs, &CompileError{
				Field:   fieldPath,
				Message: "each entry must be a two-element list of conflict types",
				Pos:     iter.Value().Pos(),
			})
			continue
		}

		var pair []conflict.Type
		bad := false
		for pairIter.Next() {
			name, serr := pairIter.Value().String()
			if serr != nil {
				*errs = append(*errs, &CompileError{
					Field:   fieldPath,
					Message: "conflict types must be strings",
					Pos:     pairIter.Value().Pos(),
				})
				bad = true
				break
			}
			t := conflict.Type(name)
			if !t.Valid() {
				*errs = append(*errs, &CompileError{
					Field:   fieldPath,
					Message: fmt.Sprintf("unknown conflict type %q", name),
					Pos:     pairIter.Value().Pos(),
				})
				bad = true
				break
			}
			pair = append(pair, t)
		}
		if bad {
			continue
		}
		if len(pair) != 2 {
			*errs = append(*errs, &CompileError{
				Field:   fieldPath,
				Message: fmt.Sprintf("expected exactly 2 conflict types, got %d", len(pair)),
				Pos:     iter.Value().Pos(),
			})
			continue
		}
		p.CompatiblePairs = append(p.CompatiblePairs, [2]conflict.Type{pair[0], pair[1]})
	}
}

// parseKnownDevices reads the device allowlist.
func parseKnownDevices(v cue.Value, p *Policy, errs *CompileErrors) {
	f := v.LookupPath(cue.ParsePath("known_devices"))
	if !f.Exists() {
		return
	}
	iter, err := f.List()
	if err != nil {
		*errs = append(*errs, &CompileError{
			Field:   "known_devices",
			Message: "must be a list of device IDs",
			Pos:     f.Pos(),
		})
		return
	}
	for i := 0; iter.Next(); i++ {
		id, serr := iter.Value().String()
		if serr != nil || id == "" {
			*errs = append(*errs, &CompileError{
				Field:   fmt.Sprintf("known_devices[%d]", i),
				Message: "device IDs must be non-empty strings",
				Pos:     iter.Value().Pos(),
			})
			continue
		}
		p.KnownDevices = append(p.KnownDevices, clock.DeviceID(id))
	}
}

func isCandidate(t conflict.Type, s conflict.Strategy) bool {
	for _, candidate := range t.Strategies() {
		if candidate == s {
			return true
		}
	}
	return false
}

func lookupBool(v cue.Value, name string) (bool, bool, *CompileError) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return false, false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, false, &CompileError{Field: name, Message: "must be a boolean", Pos: f.Pos()}
	}
	return b, true, nil
}

func lookupInt(v cue.Value, name string) (int64, bool, *CompileError) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return 0, false, nil
	}
	n, err := f.Int64()
	if err != nil {
		return 0, false, &CompileError{Field: name, Message: "must be an integer", Pos: f.Pos()}
	}
	return n, true, nil
}

func outOfRange(v cue.Value, name, message string) *CompileError {
	return &CompileError{
		Field:   name,
		Message: message,
		Pos:     v.LookupPath(cue.ParsePath(name)).Pos(),
	}
}

// formatCUEError extracts position info from CUE evaluation errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
