package engine

import (
	"context"
	"errors"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/ledger"
	"github.com/roach88/preauth/internal/state"
	"github.com/roach88/preauth/internal/store"
)

// DelegateEntry pairs a Delegate with its address.
type DelegateEntry struct {
	Address  address.Address `json:"address"`
	Delegate state.Delegate  `json:"smart_delegate"`
}

// GetDelegate returns the Delegate for tokenAccount.
func (d *Dispatcher) GetDelegate(ctx context.Context, tokenAccount address.Address) (DelegateEntry, error) {
	addr, _, err := d.resolve(address.DelegateSeeds(tokenAccount), nil)
	if err != nil {
		return DelegateEntry{}, err
	}
	del, err := d.store.GetDelegate(ctx, addr)
	if err != nil {
		return DelegateEntry{}, recordError(err, "smart delegate", addr)
	}
	return DelegateEntry{Address: addr, Delegate: del}, nil
}

// GetPreAuthorization returns the PreAuthorization stored at addr.
func (d *Dispatcher) GetPreAuthorization(ctx context.Context, addr address.Address) (store.PreAuthorizationEntry, error) {
	pa, err := d.store.GetPreAuthorization(ctx, addr)
	if err != nil {
		return store.PreAuthorizationEntry{}, recordError(err, "pre-authorization", addr)
	}
	return store.PreAuthorizationEntry{Address: addr, PreAuthorization: pa}, nil
}

// FindPreAuthorization returns the PreAuthorization for
// (tokenAccount, debitAuthority).
func (d *Dispatcher) FindPreAuthorization(ctx context.Context, tokenAccount, debitAuthority address.Address) (store.PreAuthorizationEntry, error) {
	addr, _, err := d.resolve(address.PreAuthorizationSeeds(tokenAccount, debitAuthority), nil)
	if err != nil {
		return store.PreAuthorizationEntry{}, err
	}
	return d.GetPreAuthorization(ctx, addr)
}

// ListPreAuthorizations returns records matching f, ordered by address.
func (d *Dispatcher) ListPreAuthorizations(ctx context.Context, f store.Filter) ([]store.PreAuthorizationEntry, error) {
	return d.store.ListPreAuthorizations(ctx, f)
}

// Available returns the amount the PreAuthorization at addr allows now,
// ignoring the source balance.
func (d *Dispatcher) Available(ctx context.Context, addr address.Address) (uint64, error) {
	entry, err := d.GetPreAuthorization(ctx, addr)
	if err != nil {
		return 0, err
	}
	return Available(entry.PreAuthorization, d.clock.Now())
}

// MaxDebitAmount returns the largest amount a Debit could move right now:
// the policy's available amount capped by the source balance. It is 0 when
// the token account's Delegate is missing or no longer the ledger's
// delegate of record.
func (d *Dispatcher) MaxDebitAmount(ctx context.Context, tokenAccount, debitAuthority address.Address) (uint64, error) {
	entry, err := d.FindPreAuthorization(ctx, tokenAccount, debitAuthority)
	if err != nil {
		return 0, err
	}
	available, err := Available(entry.PreAuthorization, d.clock.Now())
	if err != nil || available == 0 {
		return 0, err
	}

	del, err := d.GetDelegate(ctx, tokenAccount)
	if IsCode(err, CodeAccountNotInitialized) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	acct, err := d.ledger.TokenAccount(ctx, tokenAccount)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !acct.DelegateIs(del.Address) {
		return 0, nil
	}
	return min(available, acct.Amount), nil
}

// Events returns up to limit events with seq > afterSeq.
func (d *Dispatcher) Events(ctx context.Context, afterSeq int64, limit int) ([]store.Event, error) {
	return d.store.Events(ctx, afterSeq, limit)
}

// EventsFor returns every event recorded against addr.
func (d *Dispatcher) EventsFor(ctx context.Context, addr address.Address) ([]store.Event, error) {
	return d.store.EventsFor(ctx, addr)
}
