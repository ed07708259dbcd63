package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/ir"
	"github.com/roach88/preauth/internal/ledger"
	"github.com/roach88/preauth/internal/state"
	"github.com/roach88/preauth/internal/store"
)

// ErrMissingVariant is returned when an InitPreAuthorizationRequest names
// neither a one-time nor a recurring policy.
var ErrMissingVariant = errors.New("pre-authorization variant is required")

// VariantParams are the caller-chosen terms of a new pre-authorization.
// Implemented by OneTimeParams and RecurringParams.
type VariantParams interface {
	variant() state.Variant
}

// OneTimeParams grants AmountAuthorized until ExpiryUnixTimestamp.
type OneTimeParams struct {
	AmountAuthorized    uint64 `json:"amount_authorized"`
	ExpiryUnixTimestamp int64  `json:"expiry_unix_timestamp"`
}

// RecurringParams grants RecurringAmountAuthorized every
// RepeatFrequencySeconds, for NumCycles cycles or forever when nil.
type RecurringParams struct {
	RepeatFrequencySeconds    uint64  `json:"repeat_frequency_seconds"`
	RecurringAmountAuthorized uint64  `json:"recurring_amount_authorized"`
	NumCycles                 *uint64 `json:"num_cycles,omitempty"`
	ResetEveryCycle           bool    `json:"reset_every_cycle"`
}

func (p OneTimeParams) variant() state.Variant {
	return state.NewOneTime(p.AmountAuthorized, p.ExpiryUnixTimestamp)
}

func (p RecurringParams) variant() state.Variant {
	return state.NewRecurring(p.RepeatFrequencySeconds, p.RecurringAmountAuthorized, p.NumCycles, p.ResetEveryCycle)
}

// InitPreAuthorizationRequest creates the PreAuthorization for
// (TokenAccount, DebitAuthority).
type InitPreAuthorizationRequest struct {
	Payer                   address.Address   `json:"payer"`
	Holder                  address.Address   `json:"holder"`
	TokenAccount            address.Address   `json:"token_account"`
	DebitAuthority          address.Address   `json:"debit_authority"`
	ActivationUnixTimestamp int64             `json:"activation_unix_timestamp"`
	Variant                 VariantParams     `json:"-"`
	PreAuthorization        *address.Address  `json:"pre_authorization,omitempty"`
	Signers                 []address.Address `json:"signers"`
}

// SetPauseRequest sets the paused flag of a PreAuthorization.
type SetPauseRequest struct {
	Holder           address.Address   `json:"holder"`
	TokenAccount     address.Address   `json:"token_account"`
	DebitAuthority   address.Address   `json:"debit_authority"`
	Pause            bool              `json:"pause"`
	PreAuthorization *address.Address  `json:"pre_authorization,omitempty"`
	Signers          []address.Address `json:"signers"`
}

// ClosePreAuthorizationRequest destroys a PreAuthorization. Authority is the
// closing signer: the token account's holder or the debit authority.
type ClosePreAuthorizationRequest struct {
	Authority        address.Address   `json:"authority"`
	TokenAccount     address.Address   `json:"token_account"`
	DebitAuthority   address.Address   `json:"debit_authority"`
	Receiver         address.Address   `json:"receiver"`
	PreAuthorization *address.Address  `json:"pre_authorization,omitempty"`
	Signers          []address.Address `json:"signers"`
}

// InitPreAuthorization creates a pre-authorization with zeroed accounting.
// Recurring records start in cycle 1. Timestamps are stored as given,
// including negative ones.
func (d *Dispatcher) InitPreAuthorization(ctx context.Context, req InitPreAuthorizationRequest) (Result, error) {
	return d.run(ctx, "init_pre_authorization", func(op *operation) error {
		op.annotate(
			zap.Stringer("token_account", req.TokenAccount),
			zap.Stringer("debit_authority", req.DebitAuthority),
		)

		if req.Variant == nil {
			return ErrMissingVariant
		}
		if r, ok := req.Variant.(RecurringParams); ok && r.RepeatFrequencySeconds == 0 {
			return NewError(CodeInvalidRepeatFrequency)
		}

		if err := requireSigner(req.Signers, req.Payer, CodeMissingRequiredSignature); err != nil {
			return err
		}
		if _, err := d.requireHolder(ctx, req.Signers, req.Holder, req.TokenAccount, CodeInitPreAuthorizationUnauthorized); err != nil {
			return err
		}

		addr, bump, err := d.resolve(address.PreAuthorizationSeeds(req.TokenAccount, req.DebitAuthority), req.PreAuthorization)
		if err != nil {
			return err
		}
		if err := requireVacant(op.tx, addr); err != nil {
			return err
		}

		pa := state.PreAuthorization{
			Bump:                    bump,
			TokenAccount:            req.TokenAccount,
			DebitAuthority:          req.DebitAuthority,
			ActivationUnixTimestamp: req.ActivationUnixTimestamp,
			Variant:                 req.Variant.variant(),
		}
		if err := op.tx.CreatePreAuthorization(addr, pa); err != nil {
			return recordError(err, "pre-authorization", addr)
		}

		op.stage(ledger.MoveLamports{From: req.Payer, To: addr, Amount: state.Deposit(state.PreAuthorizationSpace)})
		op.annotate(zap.String("variant", state.VariantName(pa.Variant)))
		op.emit(addr,
			variantEvent(pa.Variant, EventOneTimePreAuthorizationCreated, EventRecurringPreAuthorizationCreated),
			ir.NewObject(
				ir.O("debit_authority", addrValue(req.DebitAuthority)),
				ir.O("owner", addrValue(req.Holder)),
				ir.O("payer", addrValue(req.Payer)),
				ir.O("token_account", addrValue(req.TokenAccount)),
				ir.O("pre_authorization", addrValue(addr)),
				ir.O("init_params", initParams(pa.ActivationUnixTimestamp, pa.Variant)),
			))
		return nil
	})
}

// SetPause sets or clears the paused flag. Setting the current value again
// succeeds and emits the same event.
func (d *Dispatcher) SetPause(ctx context.Context, req SetPauseRequest) (Result, error) {
	return d.run(ctx, "set_pause", func(op *operation) error {
		op.annotate(
			zap.Stringer("token_account", req.TokenAccount),
			zap.Stringer("debit_authority", req.DebitAuthority),
			zap.Bool("pause", req.Pause),
		)

		addr, pa, err := d.loadPreAuthorization(op.tx, req.TokenAccount, req.DebitAuthority, req.PreAuthorization)
		if err != nil {
			return err
		}
		if _, err := d.requireHolder(ctx, req.Signers, req.Holder, req.TokenAccount, CodePausePreAuthorizationUnauthorized); err != nil {
			return err
		}

		pa.Paused = req.Pause
		if err := op.tx.UpdatePreAuthorization(addr, pa); err != nil {
			return recordError(err, "pre-authorization", addr)
		}

		kind := EventPreAuthorizationUnpaused
		if req.Pause {
			kind = EventPreAuthorizationPaused
		}
		op.emit(addr, kind, ir.NewObject(
			ir.O("owner", addrValue(req.Holder)),
			ir.O("token_account", addrValue(req.TokenAccount)),
			ir.O("pre_authorization", addrValue(addr)),
			ir.O("new_paused_value", ir.Bool(req.Pause)),
		))
		return nil
	})
}

// ClosePreAuthorization destroys a pre-authorization and refunds its deposit.
//
// The holder may close and send the deposit anywhere. The debit authority
// may close, but only to the holder.
func (d *Dispatcher) ClosePreAuthorization(ctx context.Context, req ClosePreAuthorizationRequest) (Result, error) {
	return d.run(ctx, "close_pre_authorization", func(op *operation) error {
		op.annotate(
			zap.Stringer("token_account", req.TokenAccount),
			zap.Stringer("debit_authority", req.DebitAuthority),
		)
		if req.Receiver.IsZero() {
			return Errorf(CodeInvalidReceiver, "no receiver for the pre-authorization deposit")
		}

		addr, pa, err := d.loadPreAuthorization(op.tx, req.TokenAccount, req.DebitAuthority, req.PreAuthorization)
		if err != nil {
			return err
		}
		acct, err := d.tokenAccount(ctx, req.TokenAccount)
		if err != nil {
			return err
		}

		isHolder := req.Authority == acct.Owner
		if !address.Contains(req.Signers, req.Authority) || (!isHolder && req.Authority != pa.DebitAuthority) {
			return Errorf(CodePreAuthorizationCloseUnauthorized,
				"%s is neither the holder nor the debit authority, or did not sign", req.Authority)
		}
		if !isHolder && req.Receiver != acct.Owner {
			return Errorf(CodeOnlyTokenAccountOwnerCanReceiveClosePreAuthFunds,
				"receiver %s is not the token account owner %s", req.Receiver, acct.Owner)
		}

		if err := d.refund(ctx, op, addr, req.Receiver); err != nil {
			return err
		}
		if err := op.tx.Delete(addr, store.KindPreAuthorization); err != nil {
			return recordError(err, "pre-authorization", addr)
		}

		op.emit(addr,
			variantEvent(pa.Variant, EventOneTimePreAuthorizationClosed, EventRecurringPreAuthorizationClosed),
			ir.NewObject(
				ir.O("debit_authority", addrValue(pa.DebitAuthority)),
				ir.O("closing_authority", addrValue(req.Authority)),
				ir.O("token_account_owner", addrValue(acct.Owner)),
				ir.O("receiver", addrValue(req.Receiver)),
				ir.O("token_account", addrValue(req.TokenAccount)),
				ir.O("pre_authorization", addrValue(addr)),
			))
		return nil
	})
}

// loadPreAuthorization resolves and loads the record for
// (tokenAccount, debitAuthority), rejecting non-canonical addresses and
// records that do not belong to the pair.
func (d *Dispatcher) loadPreAuthorization(tx *store.Tx, tokenAccount, debitAuthority address.Address, explicit *address.Address) (address.Address, state.PreAuthorization, error) {
	seeds := address.PreAuthorizationSeeds(tokenAccount, debitAuthority)
	addr, _, err := d.resolve(seeds, explicit)
	if err != nil {
		return address.Address{}, state.PreAuthorization{}, err
	}
	pa, err := tx.GetPreAuthorization(addr)
	if err != nil {
		return address.Address{}, state.PreAuthorization{}, recordError(err, "pre-authorization", addr)
	}
	if err := d.checkBump(seeds, addr, pa.Bump); err != nil {
		return address.Address{}, state.PreAuthorization{}, err
	}
	if pa.TokenAccount != tokenAccount {
		return address.Address{}, state.PreAuthorization{}, Errorf(CodePreAuthorizationTokenAccountMismatch,
			"pre-authorization %s belongs to token account %s, not %s", addr, pa.TokenAccount, tokenAccount)
	}
	return addr, pa, nil
}
