package engine

import (
	"fmt"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/ir"
	"github.com/roach88/preauth/internal/state"
	"github.com/roach88/preauth/internal/store"
)

// Event kinds.
const (
	EventSmartDelegateInitialized         = "SmartDelegateInitialized"
	EventSmartDelegateClosed              = "SmartDelegateClosed"
	EventOneTimePreAuthorizationCreated   = "OneTimePreAuthorizationCreated"
	EventRecurringPreAuthorizationCreated = "RecurringPreAuthorizationCreated"
	EventPreAuthorizationPaused           = "PreAuthorizationPaused"
	EventPreAuthorizationUnpaused         = "PreAuthorizationUnpaused"
	EventOneTimePreAuthorizationClosed    = "OneTimePreAuthorizationClosed"
	EventRecurringPreAuthorizationClosed  = "RecurringPreAuthorizationClosed"
	EventDebit                            = "Debit"
)

func newEvent(kind, opID string, now int64, addr address.Address, payload ir.Object) (store.Event, error) {
	id, err := ir.EventID(kind, opID, now, payload)
	if err != nil {
		return store.Event{}, fmt.Errorf("event %s: %w", kind, err)
	}
	data, err := ir.MarshalCanonical(payload)
	if err != nil {
		return store.Event{}, fmt.Errorf("event %s: %w", kind, err)
	}
	return store.Event{
		ID:            id,
		OpID:          opID,
		Kind:          kind,
		Address:       addr,
		Payload:       data,
		UnixTimestamp: now,
	}, nil
}

func addrValue(a address.Address) ir.String {
	return ir.String(a.String())
}

func variantEvent(v state.Variant, oneTime, recurring string) string {
	if state.VariantName(v) == state.VariantRecurring {
		return recurring
	}
	return oneTime
}

// initParams renders creation parameters as they appear in the created event.
func initParams(activation int64, v state.Variant) ir.Object {
	params := ir.NewObject(ir.O("activation_unix_timestamp", ir.Int(activation)))
	switch v := v.(type) {
	case state.OneTime:
		params["one_time"] = ir.NewObject(
			ir.O("amount_authorized", ir.Uint(v.AmountAuthorized)),
			ir.O("expiry_unix_timestamp", ir.Int(v.ExpiryUnixTimestamp)),
		)
	case state.Recurring:
		r := ir.NewObject(
			ir.O("repeat_frequency_seconds", ir.Uint(v.RepeatFrequencySeconds)),
			ir.O("recurring_amount_authorized", ir.Uint(v.RecurringAmountAuthorized)),
			ir.O("reset_every_cycle", ir.Bool(v.ResetEveryCycle)),
		)
		// Absent rather than null: canonical JSON forbids null.
		if v.NumCycles != nil {
			r["num_cycles"] = ir.Uint(*v.NumCycles)
		}
		params["recurring"] = r
	}
	return params
}

func debitVariant(v state.Variant, amount, cycle uint64) ir.Object {
	if state.VariantName(v) == state.VariantRecurring {
		return ir.NewObject(ir.O("recurring", ir.NewObject(
			ir.O("debit_amount", ir.Uint(amount)),
			ir.O("cycle", ir.Uint(cycle)),
		)))
	}
	return ir.NewObject(ir.O("one_time", ir.NewObject(
		ir.O("debit_amount", ir.Uint(amount)),
	)))
}
