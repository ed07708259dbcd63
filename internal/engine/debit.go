package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/ir"
	"github.com/roach88/preauth/internal/ledger"
	"github.com/roach88/preauth/internal/state"
	"github.com/roach88/preauth/internal/store"
)

// DebitRequest pulls Amount from TokenAccount into Destination under the
// PreAuthorization for (TokenAccount, DebitAuthority).
type DebitRequest struct {
	DebitAuthority   address.Address   `json:"debit_authority"`
	TokenAccount     address.Address   `json:"token_account"`
	Destination      address.Address   `json:"destination_token_account"`
	Mint             address.Address   `json:"mint"`
	Amount           uint64            `json:"amount"`
	PreAuthorization *address.Address  `json:"pre_authorization,omitempty"`
	Delegate         *address.Address  `json:"smart_delegate,omitempty"`
	Signers          []address.Address `json:"signers"`
}

// DebitCheck is the outcome of a successful dry run.
type DebitCheck struct {
	PreAuthorization address.Address `json:"pre_authorization"`
	Cycle            uint64          `json:"cycle,omitempty"`
	Available        uint64          `json:"available"`
}

// debitPlan is everything a debit needs once every check has passed.
type debitPlan struct {
	paAddr      address.Address
	pa          state.PreAuthorization
	updated     state.PreAuthorization
	delegate    address.Address
	source      ledger.TokenAccount
	destination ledger.TokenAccount
	mint        ledger.Mint
	cycle       uint64
	available   uint64
}

// Debit validates a debit against the pre-authorization's policy, records
// it, and transfers the funds using the Delegate's allowance.
//
// The transfer is the last step before commit; if the ledger rejects it the
// record is left unchanged. A zero amount is accepted and still transferred.
func (d *Dispatcher) Debit(ctx context.Context, req DebitRequest) (Result, error) {
	return d.run(ctx, "debit", func(op *operation) error {
		op.annotate(
			zap.Stringer("token_account", req.TokenAccount),
			zap.Stringer("debit_authority", req.DebitAuthority),
			zap.Uint64("amount", req.Amount),
		)

		plan, err := d.planDebit(ctx, op.tx, req, op.now)
		if err != nil {
			return err
		}
		if err := op.tx.UpdatePreAuthorization(plan.paAddr, plan.updated); err != nil {
			return recordError(err, "pre-authorization", plan.paAddr)
		}

		op.stage(ledger.TransferChecked{
			Source:      plan.source.Address,
			Mint:        plan.mint.Address,
			Destination: plan.destination.Address,
			Authority:   plan.delegate,
			Amount:      req.Amount,
			Decimals:    plan.mint.Decimals,
		})
		op.annotate(zap.Uint64("cycle", plan.cycle))
		op.emit(plan.paAddr, EventDebit, ir.NewObject(
			ir.O("pre_authorization", addrValue(plan.paAddr)),
			ir.O("debit_authority", addrValue(req.DebitAuthority)),
			ir.O("smart_delegate", addrValue(plan.delegate)),
			ir.O("mint", addrValue(plan.mint.Address)),
			ir.O("source_token_account", addrValue(plan.source.Address)),
			ir.O("source_token_account_owner", addrValue(plan.source.Owner)),
			ir.O("destination_token_account", addrValue(plan.destination.Address)),
			ir.O("destination_token_account_owner", addrValue(plan.destination.Owner)),
			ir.O("debit_variant", debitVariant(plan.pa.Variant, req.Amount, plan.cycle)),
		))
		return nil
	})
}

// CheckDebit runs every check Debit would run, without mutating anything.
// A nil error means Debit would succeed at this instant, barring ledger
// failures.
func (d *Dispatcher) CheckDebit(ctx context.Context, req DebitRequest) (DebitCheck, error) {
	now := d.clock.Now()
	var check DebitCheck
	err := d.store.View(ctx, func(tx *store.Tx) error {
		plan, err := d.planDebit(ctx, tx, req, now)
		if err != nil {
			return err
		}
		check = DebitCheck{PreAuthorization: plan.paAddr, Cycle: plan.cycle, Available: plan.available}
		return nil
	})
	if err != nil {
		return DebitCheck{}, err
	}
	return check, nil
}

// planDebit performs every Debit check in order and computes the updated
// record. It reads only.
func (d *Dispatcher) planDebit(ctx context.Context, tx *store.Tx, req DebitRequest, now int64) (*debitPlan, error) {
	if err := requireSigner(req.Signers, req.DebitAuthority, CodeDebitUnauthorized); err != nil {
		return nil, err
	}

	seeds := address.PreAuthorizationSeeds(req.TokenAccount, req.DebitAuthority)
	paAddr, _, err := d.resolve(seeds, req.PreAuthorization)
	if err != nil {
		return nil, err
	}
	pa, err := tx.GetPreAuthorization(paAddr)
	if err != nil {
		return nil, recordError(err, "pre-authorization", paAddr)
	}
	if err := d.checkBump(seeds, paAddr, pa.Bump); err != nil {
		return nil, err
	}
	if pa.DebitAuthority != req.DebitAuthority {
		return nil, Errorf(CodeDebitUnauthorized,
			"%s is not the debit authority of %s", req.DebitAuthority, paAddr)
	}
	if pa.TokenAccount != req.TokenAccount {
		return nil, Errorf(CodePreAuthorizationTokenAccountMismatch,
			"pre-authorization %s belongs to token account %s, not %s", paAddr, pa.TokenAccount, req.TokenAccount)
	}

	delSeeds := address.DelegateSeeds(req.TokenAccount)
	delAddr, _, err := d.resolve(delSeeds, req.Delegate)
	if err != nil {
		return nil, err
	}
	del, err := tx.GetDelegate(delAddr)
	if err != nil {
		return nil, recordError(err, "smart delegate", delAddr)
	}
	if err := d.checkBump(delSeeds, delAddr, del.Bump); err != nil {
		return nil, err
	}

	source, err := d.tokenAccount(ctx, req.TokenAccount)
	if err != nil {
		return nil, err
	}
	destination, err := d.tokenAccount(ctx, req.Destination)
	if err != nil {
		return nil, err
	}
	mintAddr := req.Mint
	if mintAddr.IsZero() {
		mintAddr = source.Mint
	}
	if source.Mint != mintAddr || destination.Mint != mintAddr {
		return nil, Errorf(CodeMintMismatch,
			"source mint %s, destination mint %s, requested mint %s", source.Mint, destination.Mint, mintAddr)
	}
	mint, err := d.mint(ctx, mintAddr)
	if err != nil {
		return nil, err
	}
	if !source.DelegateIs(delAddr) {
		return nil, Errorf(CodeSmartDelegateMismatch,
			"token account %s does not delegate to smart delegate %s", req.TokenAccount, delAddr)
	}

	cycle, err := ValidateDebit(pa, now, req.Amount)
	if err != nil {
		return nil, err
	}
	available, err := Available(pa, now)
	if err != nil {
		return nil, err
	}
	if source.Amount < req.Amount {
		return nil, fmt.Errorf("debit %s: %w: holds %d, needs %d",
			req.TokenAccount, ledger.ErrInsufficientFunds, source.Amount, req.Amount)
	}

	updated, err := ApplyDebit(pa, cycle, req.Amount)
	if err != nil {
		return nil, err
	}
	return &debitPlan{
		paAddr:      paAddr,
		pa:          pa,
		updated:     updated,
		delegate:    delAddr,
		source:      source,
		destination: destination,
		mint:        mint,
		cycle:       cycle,
		available:   available,
	}, nil
}
