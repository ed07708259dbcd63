package address

// Seed tags.
const (
	DelegateSeed         = "smart-delegate"
	PreAuthorizationSeed = "pre-authorization"
)

// DefaultProgramID is the program identity records are derived under unless
// configured otherwise.
var DefaultProgramID = MustParse("PadV1i1My8wazb6vi37UJ2s1yBDkFN5MYivYN6XgaaR")

// DelegateSeeds returns the seeds for the Delegate of tokenAccount.
func DelegateSeeds(tokenAccount Address) [][]byte {
	return [][]byte{[]byte(DelegateSeed), tokenAccount.Bytes()}
}

// PreAuthorizationSeeds returns the seeds for the PreAuthorization identified
// by (tokenAccount, debitAuthority).
func PreAuthorizationSeeds(tokenAccount, debitAuthority Address) [][]byte {
	return [][]byte{[]byte(PreAuthorizationSeed), tokenAccount.Bytes(), debitAuthority.Bytes()}
}

// FindDelegate derives the canonical Delegate address for tokenAccount.
func FindDelegate(programID, tokenAccount Address) (Address, uint8, error) {
	return FindProgramAddress(DelegateSeeds(tokenAccount), programID)
}

// FindPreAuthorization derives the canonical PreAuthorization address.
func FindPreAuthorization(programID, tokenAccount, debitAuthority Address) (Address, uint8, error) {
	return FindProgramAddress(PreAuthorizationSeeds(tokenAccount, debitAuthority), programID)
}
