// Package ir provides the value model used for event payloads.
//
// Payloads are built from a closed set of value types (no floats, no null)
// and serialized with MarshalCanonical, whose output is the input to the
// content-addressed event ID. ir imports nothing internal.
//
// Key constraints:
//   - Amounts are Uint (uint64); timestamps and sequence numbers are Int (int64)
//   - All payload keys use snake_case
//   - Canonical output sorts object keys by UTF-16 code units and NFC
//     normalises every string
package ir
