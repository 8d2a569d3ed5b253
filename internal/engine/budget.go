package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxRetries is the default redelivery budget per blocked
// operation. Deep reorderings retry an operation once per successful
// apply, so the budget is generous; it exists to bound memory when an
// operation's dependency never arrives.
const DefaultMaxRetries = 1000

// RetryBudget tracks how many times each blocked operation has been
// admitted and re-blocked, and enforces a per-operation limit.
//
// Blocked operations are re-delivered after every successful apply, so
// an operation whose causal dependency never arrives would otherwise
// be retried forever. The budget converts that livelock into an
// explicit drop.
type RetryBudget struct {
	maxRetries int            // maximum blocked attempts per operation
	attempts   map[string]int // by operation ID
}

// NewRetryBudget creates a budget with the given per-operation limit.
//
// maxRetries: maximum number of BLOCKED outcomes per operation.
// Typical default: 1000 (configurable via WithRetryBudget).
func NewRetryBudget(maxRetries int) *RetryBudget {
	return &RetryBudget{
		maxRetries: maxRetries,
		attempts:   make(map[string]int),
	}
}

// Note records one blocked attempt and validates against the limit.
//
// Returns RetriesExhaustedError when the operation has exceeded its
// budget; the caller should drop the operation instead of parking it
// again.
func (b *RetryBudget) Note(operationID string) error {
	b.attempts[operationID]++
	if b.attempts[operationID] > b.maxRetries {
		return &RetriesExhaustedError{
			OperationID: operationID,
			Attempts:    b.attempts[operationID],
			Limit:       b.maxRetries,
		}
	}
	return nil
}

// Clear removes an operation's attempt count once it reaches a
// terminal status. Prevents unbounded growth of the attempts map.
func (b *RetryBudget) Clear(operationID string) {
	delete(b.attempts, operationID)
}

// Attempts returns the blocked attempt count for an operation.
// Used for logging and diagnostics.
func (b *RetryBudget) Attempts(operationID string) int {
	return b.attempts[operationID]
}

// MaxRetries returns the configured limit.
func (b *RetryBudget) MaxRetries() int {
	return b.maxRetries
}

// RetriesExhaustedError is returned when a blocked operation exceeds
// its redelivery budget.
type RetriesExhaustedError struct {
	OperationID string // the operation that exhausted its budget
	Attempts    int    // blocked attempts recorded
	Limit       int    // maximum allowed attempts
}

// Error implements the error interface.
func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("operation %.12s exhausted its retry budget: %d attempts > %d limit",
		e.OperationID, e.Attempts, e.Limit)
}

// IsRetriesExhaustedError returns true if the error is a
// RetriesExhaustedError. Uses errors.As to handle wrapped errors.
func IsRetriesExhaustedError(err error) bool {
	var re *RetriesExhaustedError
	return errors.As(err, &re)
}
