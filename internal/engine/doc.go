// Package engine decides and applies pre-authorized debits.
//
// The package has three layers:
//
//   - validator.go: pure functions over state.PreAuthorization. CycleAt,
//     Available, ValidateDebit and ApplyDebit implement the availability
//     algorithm with checked uint64 arithmetic.
//   - delegation.go, lifecycle.go, debit.go: the six operations, each run by
//     the Dispatcher as one store transaction that ends with a single ledger
//     batch.
//   - queries.go: read-only views for clients.
//
// # Availability
//
// For a recurring record the cycle at time now is
//
//	cycle = 1 + (now - activation) / repeatFrequencySeconds
//
// A reset-every-cycle record may spend RecurringAmountAuthorized per cycle;
// unspent allowance is forfeited when the cycle changes. A cumulative record
// may spend RecurringAmountAuthorized*cycle minus everything debited so far.
//
// # Errors
//
// Business-rule rejections are *ProgramError values with a stable Code.
// Use CodeOf, IsCode or KindOf to classify; store and ledger failures are
// returned wrapped and carry no code.
//
// # Time
//
// The Dispatcher reads its Clock once per operation. Callers never supply
// the time of a debit.
package engine
