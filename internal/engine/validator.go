package engine

import (
	"errors"
	"math"
	"math/bits"
	"strconv"

	"github.com/roach88/preauth/internal/state"
)

// CycleAt returns the recurring cycle number in effect at now.
//
// Cycles are numbered from 1. Before activation the cycle is 0, which no
// debit can use. Elapsed seconds are computed exactly in unsigned arithmetic,
// so the full int64 range of timestamps is supported.
func CycleAt(now, activation int64, repeatFrequencySeconds uint64) (uint64, error) {
	if repeatFrequencySeconds == 0 {
		return 0, NewError(CodeInvalidRepeatFrequency)
	}
	if now < activation {
		return 0, nil
	}
	// now >= activation, so the wrapped difference is the exact distance.
	elapsed := uint64(now) - uint64(activation)
	return checkedAdd(elapsed/repeatFrequencySeconds, 1)
}

// Available returns the amount debitable from p at now.
//
// A paused or not-yet-active record has nothing available. Errors are
// returned only for states no debit could ever succeed from (zero repeat
// frequency, cycle overflow, or a cycle earlier than the last debited one).
func Available(p state.PreAuthorization, now int64) (uint64, error) {
	if p.Paused || now < p.ActivationUnixTimestamp {
		return 0, nil
	}
	return matchVariant(p.Variant,
		func(v state.OneTime) (uint64, error) {
			return oneTimeAvailable(v, now), nil
		},
		func(v state.Recurring) (uint64, error) {
			c, err := CycleAt(now, p.ActivationUnixTimestamp, v.RepeatFrequencySeconds)
			if err != nil {
				return 0, err
			}
			if v.NumCycles != nil && c > *v.NumCycles {
				return 0, nil
			}
			return recurringAvailable(v, c)
		},
	)
}

func oneTimeAvailable(v state.OneTime, now int64) uint64 {
	if now >= v.ExpiryUnixTimestamp || v.AmountAuthorized <= v.AmountDebited {
		return 0
	}
	return v.AmountAuthorized - v.AmountDebited
}

func recurringAvailable(v state.Recurring, cycle uint64) (uint64, error) {
	if cycle < v.LastDebitedCycle {
		return 0, Errorf(CodeLastDebitedCycleBeforeCurrentCycle,
			"current cycle %d is before last debited cycle %d", cycle, v.LastDebitedCycle)
	}
	if !v.ResetEveryCycle {
		return cumulativeAvailable(v.RecurringAmountAuthorized, cycle, v.AmountDebitedTotal), nil
	}
	if cycle == v.LastDebitedCycle {
		if v.RecurringAmountAuthorized <= v.AmountDebitedLastCycle {
			return 0, nil
		}
		return v.RecurringAmountAuthorized - v.AmountDebitedLastCycle, nil
	}
	return v.RecurringAmountAuthorized, nil
}

// cumulativeAvailable computes amount*cycle - debited in 128 bits, clamped
// to [0, MaxUint64].
func cumulativeAvailable(amount, cycle, debited uint64) uint64 {
	hi, lo := bits.Mul64(amount, cycle)
	lo, borrow := bits.Sub64(lo, debited, 0)
	if hi < borrow {
		return 0
	}
	if hi-borrow > 0 {
		return math.MaxUint64
	}
	return lo
}

// ValidateDebit checks a debit of amount from p at now and returns the
// cycle the debit falls in (0 for one-time records).
//
// Checks run in a fixed order: pause, activation, variant window, then
// amount. The first failing check determines the error.
func ValidateDebit(p state.PreAuthorization, now int64, amount uint64) (uint64, error) {
	if p.Paused {
		return 0, NewError(CodePreAuthorizationPaused)
	}
	if now < p.ActivationUnixTimestamp {
		return 0, Errorf(CodePreAuthorizationNotActive,
			"pre-authorization activates at %d, now is %d", p.ActivationUnixTimestamp, now)
	}

	type verdict struct {
		cycle     uint64
		available uint64
	}
	res, err := matchVariant(p.Variant,
		func(v state.OneTime) (verdict, error) {
			if now >= v.ExpiryUnixTimestamp {
				return verdict{}, Errorf(CodePreAuthorizationNotActive,
					"pre-authorization expired at %d, now is %d", v.ExpiryUnixTimestamp, now)
			}
			return verdict{available: oneTimeAvailable(v, now)}, nil
		},
		func(v state.Recurring) (verdict, error) {
			c, err := CycleAt(now, p.ActivationUnixTimestamp, v.RepeatFrequencySeconds)
			if err != nil {
				return verdict{}, err
			}
			if v.NumCycles != nil && c > *v.NumCycles {
				return verdict{}, Errorf(CodePreAuthorizationNotActive,
					"cycle %d is past the last cycle %d", c, *v.NumCycles)
			}
			a, err := recurringAvailable(v, c)
			return verdict{cycle: c, available: a}, err
		},
	)
	if err != nil {
		return 0, err
	}

	if amount > res.available {
		return 0, NewError(CodeCannotDebitMoreThanAvailable).
			WithDetail("requested", strconv.FormatUint(amount, 10)).
			WithDetail("available", strconv.FormatUint(res.available, 10))
	}
	return res.cycle, nil
}

// ApplyDebit returns p with a debit of amount in cycle recorded. The debit
// must already have passed ValidateDebit at the same instant. p is not
// modified.
func ApplyDebit(p state.PreAuthorization, cycle, amount uint64) (state.PreAuthorization, error) {
	out := p.Clone()
	v, err := matchVariant(out.Variant,
		func(v state.OneTime) (state.Variant, error) {
			if amount == 0 {
				return v, nil
			}
			debited, err := checkedAdd(v.AmountDebited, amount)
			if err != nil {
				return nil, err
			}
			v.AmountDebited = debited
			return v, nil
		},
		func(v state.Recurring) (state.Variant, error) {
			if cycle < v.LastDebitedCycle {
				return nil, Errorf(CodeLastDebitedCycleBeforeCurrentCycle,
					"current cycle %d is before last debited cycle %d", cycle, v.LastDebitedCycle)
			}
			total, err := checkedAdd(v.AmountDebitedTotal, amount)
			if err != nil {
				return nil, err
			}
			lastCycle := amount
			if v.ResetEveryCycle && cycle == v.LastDebitedCycle {
				if lastCycle, err = checkedAdd(v.AmountDebitedLastCycle, amount); err != nil {
					return nil, err
				}
			}
			v.AmountDebitedTotal = total
			v.AmountDebitedLastCycle = lastCycle
			v.LastDebitedCycle = cycle
			return v, nil
		},
	)
	if err != nil {
		return state.PreAuthorization{}, err
	}
	out.Variant = v
	return out, nil
}

// matchVariant is state.Match with an unknown variant reported as
// CodeInvalidVariant.
func matchVariant[T any](v state.Variant, oneTime func(state.OneTime) (T, error), recurring func(state.Recurring) (T, error)) (T, error) {
	out, err := state.Match(v, oneTime, recurring)
	if errors.Is(err, state.ErrUnknownVariant) {
		return out, Errorf(CodeInvalidVariant, "pre-authorization variant %T is neither one_time nor recurring", v)
	}
	return out, err
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, Errorf(CodeArithmeticOverflow, "%d + %d overflows uint64", a, b)
	}
	return sum, nil
}
