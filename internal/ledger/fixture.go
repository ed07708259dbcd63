package ledger

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/preauth/internal/address"
)

// Fixture is the YAML form of a ledger's initial state. Address fields are
// strings resolved by the loader's Resolver, so fixtures may use either
// base58 addresses or symbolic names.
type Fixture struct {
	Mints         []FixtureMint         `yaml:"mints"`
	TokenAccounts []FixtureTokenAccount `yaml:"token_accounts"`
	Lamports      []FixtureLamports     `yaml:"lamports,omitempty"`
}

// FixtureMint declares a mint.
type FixtureMint struct {
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// FixtureTokenAccount declares a token account. Delegate is optional.
type FixtureTokenAccount struct {
	Address         string `yaml:"address"`
	Owner           string `yaml:"owner"`
	Mint            string `yaml:"mint"`
	Amount          uint64 `yaml:"amount"`
	Delegate        string `yaml:"delegate,omitempty"`
	DelegatedAmount uint64 `yaml:"delegated_amount,omitempty"`
}

// FixtureLamports declares a native balance.
type FixtureLamports struct {
	Address string `yaml:"address"`
	Amount  uint64 `yaml:"amount"`
}

// Resolver maps a fixture string to an address.
type Resolver func(string) (address.Address, error)

// ParseFixture decodes a fixture, rejecting unknown fields.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse ledger fixture: %w", err)
	}
	return &f, nil
}

// LoadFixtureFile reads a fixture file and builds a Memory ledger from it.
// A nil resolve uses address.Parse.
func LoadFixtureFile(path string, resolve Resolver) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger fixture: %w", err)
	}
	f, err := ParseFixture(data)
	if err != nil {
		return nil, err
	}
	return f.Build(resolve)
}

// Build creates a Memory ledger holding the fixture's state.
func (f *Fixture) Build(resolve Resolver) (*Memory, error) {
	if resolve == nil {
		resolve = address.Parse
	}
	m := NewMemory()

	for i, fm := range f.Mints {
		addr, err := resolve(fm.Address)
		if err != nil {
			return nil, fmt.Errorf("mints[%d].address: %w", i, err)
		}
		m.PutMint(Mint{Address: addr, Decimals: fm.Decimals})
	}

	for i, fa := range f.TokenAccounts {
		acct, err := fa.resolve(resolve)
		if err != nil {
			return nil, fmt.Errorf("token_accounts[%d]: %w", i, err)
		}
		if _, ok := m.mints[acct.Mint]; !ok {
			return nil, fmt.Errorf("token_accounts[%d]: %w: %s", i, ErrMintNotFound, fa.Mint)
		}
		m.PutTokenAccount(acct)
	}

	for i, fl := range f.Lamports {
		addr, err := resolve(fl.Address)
		if err != nil {
			return nil, fmt.Errorf("lamports[%d].address: %w", i, err)
		}
		m.SetLamports(addr, fl.Amount)
	}
	return m, nil
}

func (fa FixtureTokenAccount) resolve(resolve Resolver) (TokenAccount, error) {
	var acct TokenAccount
	var err error
	if acct.Address, err = resolve(fa.Address); err != nil {
		return acct, fmt.Errorf("address: %w", err)
	}
	if acct.Owner, err = resolve(fa.Owner); err != nil {
		return acct, fmt.Errorf("owner: %w", err)
	}
	if acct.Mint, err = resolve(fa.Mint); err != nil {
		return acct, fmt.Errorf("mint: %w", err)
	}
	acct.Amount = fa.Amount
	if fa.Delegate != "" {
		d, err := resolve(fa.Delegate)
		if err != nil {
			return acct, fmt.Errorf("delegate: %w", err)
		}
		acct.Delegate = &d
		acct.DelegatedAmount = fa.DelegatedAmount
	}
	return acct, nil
}
