package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/preauth/internal/address"
)

//go:generate mockgen -source=ledger.go -destination=mock_ledger.go -package=ledger

// Unlimited is the allowance the engine grants its Delegate. The ledger
// never decrements an Unlimited allowance.
const Unlimited = ^uint64(0)

// Errors returned by ledger implementations. Callers classify with errors.Is.
var (
	ErrAccountNotFound       = errors.New("token account not found")
	ErrMintNotFound          = errors.New("mint not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient delegated allowance")
	ErrOwnerMismatch         = errors.New("owner does not match")
	ErrMintMismatch          = errors.New("mint does not match")
	ErrDecimalsMismatch      = errors.New("decimals do not match")
	ErrUnauthorized          = errors.New("authority is neither owner nor delegate")
	ErrOverflow              = errors.New("balance overflow")
)

// TokenAccount is the ledger's view of one token account.
type TokenAccount struct {
	Address         address.Address  `json:"address"`
	Owner           address.Address  `json:"owner"`
	Mint            address.Address  `json:"mint"`
	Amount          uint64           `json:"amount"`
	Delegate        *address.Address `json:"delegate,omitempty"`
	DelegatedAmount uint64           `json:"delegated_amount"`
}

// DelegateIs reports whether d is the account's delegate of record.
func (t TokenAccount) DelegateIs(d address.Address) bool {
	return t.Delegate != nil && *t.Delegate == d
}

func (t TokenAccount) clone() TokenAccount {
	if t.Delegate != nil {
		d := *t.Delegate
		t.Delegate = &d
	}
	return t
}

// Mint describes a token denomination.
type Mint struct {
	Address  address.Address `json:"address"`
	Decimals uint8           `json:"decimals"`
}

// Ledger is the external token ledger. Reads observe committed state;
// Execute applies a batch of instructions all-or-nothing.
type Ledger interface {
	TokenAccount(ctx context.Context, addr address.Address) (TokenAccount, error)
	Mint(ctx context.Context, addr address.Address) (Mint, error)
	Lamports(ctx context.Context, addr address.Address) (uint64, error)
	Execute(ctx context.Context, instrs ...Instruction) error
}

// Instruction is one ledger primitive. The set is closed.
type Instruction interface {
	InstructionName() string
}

// Approve sets Delegate as Source's delegate of record for Amount.
// Owner must be Source's owner.
type Approve struct {
	Source   address.Address
	Delegate address.Address
	Owner    address.Address
	Amount   uint64
}

// Revoke clears Source's delegate of record. Owner must be Source's owner.
type Revoke struct {
	Source address.Address
	Owner  address.Address
}

// TransferChecked moves Amount from Source to Destination. Authority must be
// the owner of Source or its delegate of record; Mint and Decimals must match.
type TransferChecked struct {
	Source      address.Address
	Mint        address.Address
	Destination address.Address
	Authority   address.Address
	Amount      uint64
	Decimals    uint8
}

// MoveLamports moves native balance between addresses.
type MoveLamports struct {
	From   address.Address
	To     address.Address
	Amount uint64
}

func (Approve) InstructionName() string         { return "approve" }
func (Revoke) InstructionName() string          { return "revoke" }
func (TransferChecked) InstructionName() string { return "transfer_checked" }
func (MoveLamports) InstructionName() string    { return "move_lamports" }

// InstructionError reports which instruction of a batch failed.
type InstructionError struct {
	Index       int
	Instruction string
	Err         error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d (%s): %v", e.Index, e.Instruction, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}
