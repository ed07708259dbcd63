package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/ir"
	"github.com/roach88/preauth/internal/ledger"
	"github.com/roach88/preauth/internal/state"
	"github.com/roach88/preauth/internal/store"
)

// InitDelegateRequest creates the Delegate for TokenAccount.
type InitDelegateRequest struct {
	Payer        address.Address   `json:"payer"`
	Holder       address.Address   `json:"holder"`
	TokenAccount address.Address   `json:"token_account"`
	Delegate     *address.Address  `json:"delegate,omitempty"`
	Signers      []address.Address `json:"signers"`
}

// CloseDelegateRequest destroys the Delegate for TokenAccount and sends its
// deposit to Receiver.
type CloseDelegateRequest struct {
	Holder       address.Address   `json:"holder"`
	TokenAccount address.Address   `json:"token_account"`
	Receiver     address.Address   `json:"receiver"`
	Delegate     *address.Address  `json:"delegate,omitempty"`
	Signers      []address.Address `json:"signers"`
}

// InitDelegate creates the Delegate for a token account and makes it the
// ledger's delegate of record with an unlimited allowance.
//
// The payer funds the record deposit. The holder must sign and own the token
// account, since the ledger only accepts an approval from the owner.
func (d *Dispatcher) InitDelegate(ctx context.Context, req InitDelegateRequest) (Result, error) {
	return d.run(ctx, "init_delegate", func(op *operation) error {
		op.annotate(zap.Stringer("token_account", req.TokenAccount))

		if err := requireSigner(req.Signers, req.Payer, CodeMissingRequiredSignature); err != nil {
			return err
		}
		if _, err := d.requireHolder(ctx, req.Signers, req.Holder, req.TokenAccount, CodeInitSmartDelegateUnauthorized); err != nil {
			return err
		}

		addr, bump, err := d.resolve(address.DelegateSeeds(req.TokenAccount), req.Delegate)
		if err != nil {
			return err
		}
		if err := requireVacant(op.tx, addr); err != nil {
			return err
		}

		if err := op.tx.CreateDelegate(addr, state.Delegate{TokenAccount: req.TokenAccount, Bump: bump}); err != nil {
			return recordError(err, "smart delegate", addr)
		}

		op.stage(
			ledger.MoveLamports{From: req.Payer, To: addr, Amount: state.Deposit(state.DelegateSpace)},
			ledger.Approve{Source: req.TokenAccount, Delegate: addr, Owner: req.Holder, Amount: ledger.Unlimited},
		)
		op.emit(addr, EventSmartDelegateInitialized, ir.NewObject(
			ir.O("payer", addrValue(req.Payer)),
			ir.O("owner", addrValue(req.Holder)),
			ir.O("token_account", addrValue(req.TokenAccount)),
			ir.O("smart_delegate", addrValue(addr)),
		))
		return nil
	})
}

// CloseDelegate destroys the Delegate for a token account.
//
// The ledger allowance is revoked only while the ledger still names this
// Delegate as delegate of record; if the holder has since approved someone
// else, that approval is left alone. Pre-authorizations for the account are
// not touched, but no debit can succeed until a new Delegate exists.
func (d *Dispatcher) CloseDelegate(ctx context.Context, req CloseDelegateRequest) (Result, error) {
	return d.run(ctx, "close_delegate", func(op *operation) error {
		op.annotate(zap.Stringer("token_account", req.TokenAccount))
		if req.Receiver.IsZero() {
			return Errorf(CodeInvalidReceiver, "no receiver for the smart delegate deposit")
		}

		acct, err := d.requireHolder(ctx, req.Signers, req.Holder, req.TokenAccount, CodeSmartDelegateCloseUnauthorized)
		if err != nil {
			return err
		}

		seeds := address.DelegateSeeds(req.TokenAccount)
		addr, _, err := d.resolve(seeds, req.Delegate)
		if err != nil {
			return err
		}
		del, err := op.tx.GetDelegate(addr)
		if err != nil {
			return recordError(err, "smart delegate", addr)
		}
		if err := d.checkBump(seeds, addr, del.Bump); err != nil {
			return err
		}

		revoked := acct.DelegateIs(addr)
		if revoked {
			op.stage(ledger.Revoke{Source: req.TokenAccount, Owner: req.Holder})
		}
		if err := d.refund(ctx, op, addr, req.Receiver); err != nil {
			return err
		}
		if err := op.tx.Delete(addr, store.KindDelegate); err != nil {
			return recordError(err, "smart delegate", addr)
		}

		op.annotate(zap.Bool("revoked", revoked))
		op.emit(addr, EventSmartDelegateClosed, ir.NewObject(
			ir.O("owner", addrValue(req.Holder)),
			ir.O("receiver", addrValue(req.Receiver)),
			ir.O("token_account", addrValue(req.TokenAccount)),
			ir.O("smart_delegate", addrValue(addr)),
			ir.O("revoked", ir.Bool(revoked)),
		))
		return nil
	})
}

// requireVacant fails unless no record exists at addr.
func requireVacant(tx *store.Tx, addr address.Address) error {
	kind, err := tx.Kind(addr)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return Errorf(CodeAccountAlreadyInitialized, "%s already initialized at %s", kind, addr)
}

// refund stages a move of every native unit held at addr to receiver.
func (d *Dispatcher) refund(ctx context.Context, op *operation, addr, receiver address.Address) error {
	held, err := d.ledger.Lamports(ctx, addr)
	if err != nil {
		return fmt.Errorf("read deposit %s: %w", addr, err)
	}
	if held > 0 {
		op.stage(ledger.MoveLamports{From: addr, To: receiver, Amount: held})
	}
	op.annotate(zap.Uint64("refund", held))
	return nil
}
