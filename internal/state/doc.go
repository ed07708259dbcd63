// Package state defines the records the engine owns: the per-token-account
// Delegate and the per-(token account, debit authority) PreAuthorization.
//
// Records are stored as an 8-byte type discriminator followed by a BARE
// encoding of the struct. The PreAuthorization variant is a closed tagged
// union (OneTime | Recurring); Match is the only sanctioned way to branch on
// it, so adding a variant changes Match's signature and breaks every caller
// at compile time.
package state
