// Package harness runs multi-device convergence scenarios and records
// their admission traces for golden comparison.
//
// A scenario declares a set of replicas and a script of steps: local
// edits, draft/flush composition runs, deliveries between devices, and
// decisions on parked conflicts. Each run opens a fresh in-memory
// journal, builds one runner per device against a shared coordinator,
// and drives every step synchronously, so the same scenario produces
// the same trace on every machine. Operations are referenced by
// scenario-scoped labels; content-addressed IDs never appear in
// scenario files or traces.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario demonstrates"
//	devices: [laptop, phone]
//	steps:
//	  - edit:
//	      device: laptop
//	      op: s1
//	      type: CREATE_STATEMENT
//	      target: doc/intro/s1
//	      payload: { content: "hello" }
//	  - draft:
//	      device: laptop
//	      op: m1
//	      type: UPDATE_METADATA
//	      target: doc/meta
//	      payload: { theme: "dark" }
//	  - flush:
//	      device: laptop
//	      op: m2
//	  - deliver:
//	      from: laptop
//	      to: phone
//	      ops: [s1]
//	  - decide:
//	      device: phone
//	      incoming: s1
//	      applied: p1
//	      strategy: USER_DECISION_REQUIRED
//	      winner: p1
//	assertions:
//	  - type: clock
//	    device: phone
//	    clock: "laptop:1;phone:1"
//	  - type: converged
//	    devices: [laptop, phone]
//
// An edit applies immediately on the authoring device, the way a live
// device applies its own edits optimistically. A draft buffers the
// operation instead; consecutive drafts share one clock snapshot, which
// is exactly what makes them composable, and a flush folds them into a
// single composite operation and applies it. A deliver ships labeled
// operations (or the sender's whole authored log) to another device and
// drains its inbox; a decide settles an open conflict.
//
// The trace is rendered as canonical JSON and compared against
// testdata/golden/<name>.golden via goldie; run tests with -update to
// regenerate.
package harness
