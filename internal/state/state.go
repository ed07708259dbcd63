package state

import (
	"git.sr.ht/~sircmpwn/go-bare"

	"github.com/roach88/preauth/internal/address"
)

// Delegate is the custodial capability for one token account. Its address is
// set as the ledger's delegate of record with a maximal allowance.
type Delegate struct {
	TokenAccount address.Address
	Bump         uint8
}

// PreAuthorization is the spending policy a holder grants a debit authority.
type PreAuthorization struct {
	Bump                    uint8
	Paused                  bool
	TokenAccount            address.Address
	DebitAuthority          address.Address
	ActivationUnixTimestamp int64
	Variant                 Variant
}

// Variant is the closed sum OneTime | Recurring.
type Variant interface {
	bare.Union
	variantName() string
}

// OneTime allows debits up to AmountAuthorized before ExpiryUnixTimestamp.
type OneTime struct {
	AmountAuthorized    uint64
	ExpiryUnixTimestamp int64
	AmountDebited       uint64
}

// Recurring allows RecurringAmountAuthorized per cycle of
// RepeatFrequencySeconds, for NumCycles cycles (nil means unbounded).
type Recurring struct {
	RepeatFrequencySeconds    uint64
	RecurringAmountAuthorized uint64
	AmountDebitedLastCycle    uint64
	AmountDebitedTotal        uint64
	LastDebitedCycle          uint64
	NumCycles                 *uint64
	ResetEveryCycle           bool
}

// Variant names as they appear in events, queries, and policy files.
const (
	VariantOneTime   = "one_time"
	VariantRecurring = "recurring"
)

func (OneTime) IsUnion()   {}
func (Recurring) IsUnion() {}

func (OneTime) variantName() string   { return VariantOneTime }
func (Recurring) variantName() string { return VariantRecurring }

func init() {
	bare.RegisterUnion((*Variant)(nil)).
		Member(*new(OneTime), 0).
		Member(*new(Recurring), 1)
}

// VariantName returns VariantOneTime or VariantRecurring.
func VariantName(v Variant) string {
	if v == nil {
		return ""
	}
	return v.variantName()
}

// Match dispatches on the concrete variant.
func Match[T any](v Variant, oneTime func(OneTime) (T, error), recurring func(Recurring) (T, error)) (T, error) {
	switch val := v.(type) {
	case OneTime:
		return oneTime(val)
	case Recurring:
		return recurring(val)
	default:
		var zero T
		return zero, ErrUnknownVariant
	}
}

// NewOneTime returns a freshly initialised one-time variant.
func NewOneTime(amountAuthorized uint64, expiryUnixTimestamp int64) OneTime {
	return OneTime{
		AmountAuthorized:    amountAuthorized,
		ExpiryUnixTimestamp: expiryUnixTimestamp,
	}
}

// NewRecurring returns a freshly initialised recurring variant.
// Accounting starts in cycle 1.
func NewRecurring(repeatFrequencySeconds, recurringAmountAuthorized uint64, numCycles *uint64, resetEveryCycle bool) Recurring {
	return Recurring{
		RepeatFrequencySeconds:    repeatFrequencySeconds,
		RecurringAmountAuthorized: recurringAmountAuthorized,
		LastDebitedCycle:          1,
		NumCycles:                 copyUint64(numCycles),
		ResetEveryCycle:           resetEveryCycle,
	}
}

// Clone returns a deep copy of p.
func (p PreAuthorization) Clone() PreAuthorization {
	if r, ok := p.Variant.(Recurring); ok {
		r.NumCycles = copyUint64(r.NumCycles)
		p.Variant = r
	}
	return p
}

func copyUint64(v *uint64) *uint64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
