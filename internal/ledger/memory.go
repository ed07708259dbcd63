package ledger

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/preauth/internal/address"
)

// Memory is an in-process Ledger. Safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	accounts map[address.Address]TokenAccount
	mints    map[address.Address]Mint
	lamports map[address.Address]uint64
}

var _ Ledger = (*Memory)(nil)

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[address.Address]TokenAccount),
		mints:    make(map[address.Address]Mint),
		lamports: make(map[address.Address]uint64),
	}
}

// PutMint creates or replaces a mint.
func (m *Memory) PutMint(mint Mint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mints[mint.Address] = mint
}

// PutTokenAccount creates or replaces a token account.
func (m *Memory) PutTokenAccount(acct TokenAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.Address] = acct.clone()
}

// SetLamports sets the native balance of addr.
func (m *Memory) SetLamports(addr address.Address, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lamports[addr] = amount
}

// TokenAccount implements Ledger.
func (m *Memory) TokenAccount(ctx context.Context, addr address.Address) (TokenAccount, error) {
	if err := ctx.Err(); err != nil {
		return TokenAccount{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[addr]
	if !ok {
		return TokenAccount{}, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return acct.clone(), nil
}

// TokenAccounts returns every token account ordered by address.
func (m *Memory) TokenAccounts() []TokenAccount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TokenAccount, 0, len(m.accounts))
	for _, k := range sortedKeys(m.accounts) {
		out = append(out, m.accounts[k].clone())
	}
	return out
}

// Mint implements Ledger.
func (m *Memory) Mint(ctx context.Context, addr address.Address) (Mint, error) {
	if err := ctx.Err(); err != nil {
		return Mint{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	mint, ok := m.mints[addr]
	if !ok {
		return Mint{}, fmt.Errorf("%w: %s", ErrMintNotFound, addr)
	}
	return mint, nil
}

// Lamports implements Ledger. Unknown addresses hold zero.
func (m *Memory) Lamports(ctx context.Context, addr address.Address) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lamports[addr], nil
}

// Execute applies instrs in order against a working copy and publishes the
// copy only if every instruction succeeds.
func (m *Memory) Execute(ctx context.Context, instrs ...Instruction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := &Memory{
		accounts: make(map[address.Address]TokenAccount, len(m.accounts)),
		mints:    m.mints,
		lamports: maps.Clone(m.lamports),
	}
	for k, v := range m.accounts {
		work.accounts[k] = v.clone()
	}

	for i, in := range instrs {
		if err := work.apply(in); err != nil {
			name := "unknown"
			if in != nil {
				name = in.InstructionName()
			}
			return &InstructionError{Index: i, Instruction: name, Err: err}
		}
	}

	m.accounts = work.accounts
	m.lamports = work.lamports
	return nil
}

func (m *Memory) apply(in Instruction) error {
	switch in := in.(type) {
	case Approve:
		acct, err := m.account(in.Source)
		if err != nil {
			return err
		}
		if acct.Owner != in.Owner {
			return ErrOwnerMismatch
		}
		d := in.Delegate
		acct.Delegate = &d
		acct.DelegatedAmount = in.Amount
		m.accounts[in.Source] = acct

	case Revoke:
		acct, err := m.account(in.Source)
		if err != nil {
			return err
		}
		if acct.Owner != in.Owner {
			return ErrOwnerMismatch
		}
		acct.Delegate = nil
		acct.DelegatedAmount = 0
		m.accounts[in.Source] = acct

	case TransferChecked:
		return m.transfer(in)

	case MoveLamports:
		from := m.lamports[in.From]
		if from < in.Amount {
			return fmt.Errorf("%w: %s holds %d lamports, needs %d", ErrInsufficientFunds, in.From, from, in.Amount)
		}
		m.lamports[in.From] = from - in.Amount
		to := m.lamports[in.To]
		if to+in.Amount < to {
			return ErrOverflow
		}
		m.lamports[in.To] = to + in.Amount

	default:
		return fmt.Errorf("unsupported instruction %T", in)
	}
	return nil
}

func (m *Memory) transfer(in TransferChecked) error {
	src, err := m.account(in.Source)
	if err != nil {
		return err
	}
	dst, err := m.account(in.Destination)
	if err != nil {
		return err
	}
	mint, ok := m.mints[in.Mint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMintNotFound, in.Mint)
	}
	if src.Mint != in.Mint || dst.Mint != in.Mint {
		return ErrMintMismatch
	}
	if mint.Decimals != in.Decimals {
		return ErrDecimalsMismatch
	}

	switch {
	case in.Authority == src.Owner:
	case src.DelegateIs(in.Authority):
		if src.DelegatedAmount < in.Amount {
			return ErrInsufficientAllowance
		}
		if src.DelegatedAmount != Unlimited {
			src.DelegatedAmount -= in.Amount
			if src.DelegatedAmount == 0 {
				src.Delegate = nil
			}
		}
	default:
		return ErrUnauthorized
	}

	if src.Amount < in.Amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, in.Source, src.Amount, in.Amount)
	}
	src.Amount -= in.Amount
	m.accounts[in.Source] = src

	// Re-read in case source and destination are the same account.
	dst = m.accounts[in.Destination]
	if dst.Amount+in.Amount < dst.Amount {
		return ErrOverflow
	}
	dst.Amount += in.Amount
	m.accounts[in.Destination] = dst
	return nil
}

func (m *Memory) account(addr address.Address) (TokenAccount, error) {
	acct, ok := m.accounts[addr]
	if !ok {
		return TokenAccount{}, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return acct, nil
}

func sortedKeys[V any](m map[address.Address]V) []address.Address {
	keys := slices.Collect(maps.Keys(m))
	slices.SortFunc(keys, address.Address.Compare)
	return keys
}
