// Package store provides SQLite-backed storage for program-owned records
// and the event log.
//
// The store holds two tables:
//   - accounts: one row per derived address, holding the encoded Delegate or
//     PreAuthorization plus indexed copies of token_account, debit_authority,
//     variant and paused for list queries
//   - events: append-only log, ordered by seq
//
// # Transactions
//
// All mutation goes through Store.Atomic, which hands the callback a Tx and
// commits only when the callback returns nil. The engine performs every read,
// write and event append of one operation inside a single Atomic call, so an
// operation either takes full effect or none.
//
// The connection pool is limited to one connection. Calling Store methods
// from inside an Atomic or View callback deadlocks; use the Tx instead.
//
// # Ordering
//
//   - Addresses are stored as raw 32-byte BLOBs, so ORDER BY address matches
//     address.Address.Compare
//   - Events are read ORDER BY seq ASC
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
