// Package harness runs YAML scenarios against a real dispatcher.
//
// Each scenario gets a fresh in-memory store, an in-memory ledger built from
// the scenario's fixture, a manual clock, and a fixed operation-ID
// generator, so the same scenario always produces the same trace.
//
// # Scenario Format
//
//	name: recurring_reset
//	description: "What this scenario validates"
//	clock: 1700000000
//	ledger:
//	  mints:
//	    - { address: usdc, decimals: 6 }
//	  token_accounts:
//	    - { address: alice_usdc, owner: alice, mint: usdc, amount: 100000000 }
//	  lamports:
//	    - { address: merchant, amount: 10000000 }
//	steps:
//	  - op: init_delegate
//	    args: { payer: merchant, holder: alice, token_account: alice_usdc }
//	  - op: debit
//	    args: { debit_authority: merchant, token_account: alice_usdc,
//	            destination: merchant_usdc, amount: 33000000 }
//	    expect: CannotDebitMoreThanAvailable
//	  - op: advance
//	    args: { seconds: 3 }
//	assertions:
//	  - { type: balance, account: merchant_usdc, amount: 33000000 }
//	  - { type: event_count, kind: Debit, count: 1 }
//
// Addresses are symbolic names or base58 strings. Names resolve through
// testutil.Resolve, so "alice" is the same address in every scenario.
//
// Signers default to the natural signers of the operation (payer and holder
// for the init operations, the holder for set_pause and close_delegate, the
// debit authority for debit, the closing authority for
// close_pre_authorization). List signers explicitly to test rejections.
//
// # Assertion Types
//
//   - balance, lamports: ledger balance of an account
//   - delegated: whether the ledger names the token account's smart
//     delegate as its delegate of record
//   - pre_authorization: existence, paused flag, available amount, and
//     lifetime debited total of a record
//   - max_debit: Dispatcher.MaxDebitAmount
//   - event_count, event_order: events emitted by the steps
//
// # Golden Traces
//
// Snapshot renders the trace one canonical JSON object per line with every
// known address replaced by its label: the name used in the scenario,
// smart_delegate(<token account>) or
// pre_authorization(<token account>,<debit authority>).
package harness
