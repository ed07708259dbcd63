// Package address implements account identities and deterministic
// program-derived addresses (PDAs).
//
// An Address is a 32-byte key rendered in base58. A PDA is computed as
//
//	SHA256(seed_0 || ... || seed_n || bump || program_id || "ProgramDerivedAddress")
//
// and is only valid when the digest is NOT a point on the ed25519 curve, so
// no private key can exist for it. FindProgramAddress searches bumps from 255
// downward; the first viable bump is the canonical one. Records store their
// bump and every load re-verifies it against the canonical derivation.
package address
