// Package ledger models the external token ledger the engine drives.
//
// The engine never moves funds itself. It reads token accounts, mints and
// native balances, and submits one batch of instructions per operation
// through Ledger.Execute. A batch either applies completely or not at all.
//
// Memory is an in-process implementation used by the CLI, the HTTP server
// and the scenario harness. It can be seeded from a YAML fixture:
//
//	mints:
//	  - address: usdc
//	    decimals: 6
//	token_accounts:
//	  - address: alice-usdc
//	    owner: alice
//	    mint: usdc
//	    amount: 1000
//	lamports:
//	  - address: alice
//	    amount: 1000000000
//
// MockLedger is a gomock mock for failure injection in tests.
package ledger
