package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/engine"
	"github.com/roach88/preauth/internal/ledger"
	"github.com/roach88/preauth/internal/state"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] t=%d %s -> %s", event.Step, event.Time, event.Op, event.Outcome)
			if event.Event != "" {
				fmt.Fprintf(&buf, " (%s)", event.Event)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// AssertionContext provides the final state for evaluating assertions.
type AssertionContext struct {
	Ctx        context.Context
	Dispatcher *engine.Dispatcher
	Ledger     ledger.Ledger
	Resolve    func(string) address.Address
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// State assertions need actx; event assertions only read the trace.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEventCount:
			err = assertEventCount(result.Trace, assertion)
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, assertion)
		case AssertBalance, AssertLamports, AssertDelegated, AssertPreAuthorization, AssertMaxDebit:
			if actx == nil || actx.Dispatcher == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a dispatcher", i, assertion.Type)
				break
			}
			err = assertState(actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}

// assertEventCount checks that exactly Count steps emitted an event of Kind.
func assertEventCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Event == assertion.Kind {
			count++
		}
	}

	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%s emitted %d times", assertion.Kind, *assertion.Count),
			Actual:   fmt.Sprintf("%s emitted %d times", assertion.Kind, count),
			Trace:    trace,
		}
	}
	return nil
}

// assertEventOrder checks that the first occurrence of each kind appears in
// the listed order. Intervening events are allowed.
func assertEventOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)

	for i, event := range trace {
		if event.Event == "" {
			continue
		}
		if positions[event.Event] == 0 {
			positions[event.Event] = i + 1
		}
	}

	for _, kind := range assertion.Kinds {
		if positions[kind] == 0 {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Kinds),
				Actual:   fmt.Sprintf("missing event: %s", kind),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Kinds); i++ {
		prev := assertion.Kinds[i-1]
		curr := assertion.Kinds[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Kinds),
				Actual: fmt.Sprintf("%s (step %d) should be before %s (step %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

func assertState(actx *AssertionContext, a Assertion) error {
	ctx := actx.Ctx
	mismatch := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual}
	}

	switch a.Type {
	case AssertBalance:
		acct, err := actx.Ledger.TokenAccount(ctx, actx.Resolve(a.Account))
		if err != nil {
			return fmt.Errorf("balance %s: %w", a.Account, err)
		}
		if acct.Amount != *a.Amount {
			return mismatch(fmt.Sprintf("%s holds %d", a.Account, *a.Amount), fmt.Sprintf("%s holds %d", a.Account, acct.Amount))
		}

	case AssertLamports:
		n, err := actx.Ledger.Lamports(ctx, actx.Resolve(a.Account))
		if err != nil {
			return fmt.Errorf("lamports %s: %w", a.Account, err)
		}
		if n != *a.Amount {
			return mismatch(fmt.Sprintf("%s has %d lamports", a.Account, *a.Amount), fmt.Sprintf("%s has %d lamports", a.Account, n))
		}

	case AssertDelegated:
		ta := actx.Resolve(a.TokenAccount)
		del, _, err := address.FindDelegate(actx.Dispatcher.ProgramID(), ta)
		if err != nil {
			return fmt.Errorf("delegated %s: %w", a.TokenAccount, err)
		}
		acct, err := actx.Ledger.TokenAccount(ctx, ta)
		if err != nil {
			return fmt.Errorf("delegated %s: %w", a.TokenAccount, err)
		}
		if got := acct.DelegateIs(del); got != *a.Delegated {
			return mismatch(fmt.Sprintf("%s delegated to smart delegate: %t", a.TokenAccount, *a.Delegated),
				fmt.Sprintf("%t", got))
		}

	case AssertPreAuthorization:
		return assertPreAuthorization(actx, a, mismatch)

	case AssertMaxDebit:
		n, err := actx.Dispatcher.MaxDebitAmount(ctx, actx.Resolve(a.TokenAccount), actx.Resolve(a.DebitAuthority))
		if err != nil {
			return fmt.Errorf("max_debit: %w", err)
		}
		if n != *a.Amount {
			return mismatch(fmt.Sprintf("max debit %d", *a.Amount), fmt.Sprintf("max debit %d", n))
		}
	}
	return nil
}

func assertPreAuthorization(actx *AssertionContext, a Assertion, mismatch func(string, string) error) error {
	name := fmt.Sprintf("pre_authorization(%s,%s)", a.TokenAccount, a.DebitAuthority)
	entry, err := actx.Dispatcher.FindPreAuthorization(actx.Ctx, actx.Resolve(a.TokenAccount), actx.Resolve(a.DebitAuthority))
	exists := err == nil
	if err != nil && !engine.IsCode(err, engine.CodeAccountNotInitialized) {
		return fmt.Errorf("%s: %w", name, err)
	}

	if a.Exists != nil && *a.Exists != exists {
		return mismatch(fmt.Sprintf("%s exists: %t", name, *a.Exists), fmt.Sprintf("exists: %t", exists))
	}
	if !exists {
		if a.Paused != nil || a.Available != nil || a.Debited != nil {
			return mismatch(name+" exists", "not found")
		}
		return nil
	}

	pa := entry.PreAuthorization
	if a.Paused != nil && pa.Paused != *a.Paused {
		return mismatch(fmt.Sprintf("%s paused: %t", name, *a.Paused), fmt.Sprintf("paused: %t", pa.Paused))
	}
	if a.Available != nil {
		avail, err := engine.Available(pa, actx.Dispatcher.Now())
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if avail != *a.Available {
			return mismatch(fmt.Sprintf("%s available %d", name, *a.Available), fmt.Sprintf("available %d", avail))
		}
	}
	if a.Debited != nil {
		if got := debited(pa); got != *a.Debited {
			return mismatch(fmt.Sprintf("%s debited %d", name, *a.Debited), fmt.Sprintf("debited %d", got))
		}
	}
	return nil
}

// debited is the lifetime total moved under pa.
func debited(pa state.PreAuthorization) uint64 {
	switch v := pa.Variant.(type) {
	case state.OneTime:
		return v.AmountDebited
	case state.Recurring:
		return v.AmountDebitedTotal
	}
	return 0
}
