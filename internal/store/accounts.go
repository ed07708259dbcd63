package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/state"
)

// Kind names the record type stored at an address.
type Kind string

const (
	KindDelegate         Kind = "smart_delegate"
	KindPreAuthorization Kind = "pre_authorization"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a unit of work against the store. Obtain one through Store.Atomic
// or Store.View; it must not be used after the callback returns.
type Tx struct {
	ctx      context.Context
	q        querier
	readOnly bool
}

// PreAuthorizationEntry pairs a record with its address.
type PreAuthorizationEntry struct {
	Address          address.Address
	PreAuthorization state.PreAuthorization
}

// Filter selects pre-authorizations. Zero fields do not filter.
type Filter struct {
	TokenAccount   *address.Address
	DebitAuthority *address.Address
	Variant        string
	Paused         *bool
}

// Kind returns the kind of record at addr, or ErrNotFound.
func (t *Tx) Kind(addr address.Address) (Kind, error) {
	var kind string
	err := t.q.QueryRowContext(t.ctx, `SELECT kind FROM accounts WHERE address = ?`, addr.Bytes()).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read account kind: %w", err)
	}
	return Kind(kind), nil
}

// GetDelegate loads the Delegate at addr.
func (t *Tx) GetDelegate(addr address.Address) (state.Delegate, error) {
	data, err := t.data(addr, KindDelegate)
	if err != nil {
		return state.Delegate{}, err
	}
	d, err := state.DecodeDelegate(data)
	if err != nil {
		return state.Delegate{}, fmt.Errorf("decode delegate %s: %w", addr, err)
	}
	return d, nil
}

// CreateDelegate stores d at an unoccupied addr.
func (t *Tx) CreateDelegate(addr address.Address, d state.Delegate) error {
	data, err := state.EncodeDelegate(d)
	if err != nil {
		return fmt.Errorf("create delegate: %w", err)
	}
	return t.insert(addr, KindDelegate, data, d.TokenAccount, nil, "", false)
}

// GetPreAuthorization loads the PreAuthorization at addr.
func (t *Tx) GetPreAuthorization(addr address.Address) (state.PreAuthorization, error) {
	data, err := t.data(addr, KindPreAuthorization)
	if err != nil {
		return state.PreAuthorization{}, err
	}
	p, err := state.DecodePreAuthorization(data)
	if err != nil {
		return state.PreAuthorization{}, fmt.Errorf("decode pre-authorization %s: %w", addr, err)
	}
	return p, nil
}

// CreatePreAuthorization stores p at an unoccupied addr.
func (t *Tx) CreatePreAuthorization(addr address.Address, p state.PreAuthorization) error {
	data, err := state.EncodePreAuthorization(p)
	if err != nil {
		return fmt.Errorf("create pre-authorization: %w", err)
	}
	da := p.DebitAuthority
	return t.insert(addr, KindPreAuthorization, data, p.TokenAccount, &da, state.VariantName(p.Variant), p.Paused)
}

// UpdatePreAuthorization overwrites the existing PreAuthorization at addr.
func (t *Tx) UpdatePreAuthorization(addr address.Address, p state.PreAuthorization) error {
	if t.readOnly {
		return ErrReadOnly
	}
	data, err := state.EncodePreAuthorization(p)
	if err != nil {
		return fmt.Errorf("update pre-authorization: %w", err)
	}
	res, err := t.q.ExecContext(t.ctx, `
		UPDATE accounts SET data = ?, variant = ?, paused = ?
		WHERE address = ? AND kind = ?
	`, data, state.VariantName(p.Variant), p.Paused, addr.Bytes(), string(KindPreAuthorization))
	if err != nil {
		return fmt.Errorf("update pre-authorization: %w", err)
	}
	return t.expectOne(res, addr, KindPreAuthorization)
}

// Delete removes the record of the given kind at addr.
func (t *Tx) Delete(addr address.Address, kind Kind) error {
	if t.readOnly {
		return ErrReadOnly
	}
	res, err := t.q.ExecContext(t.ctx, `DELETE FROM accounts WHERE address = ? AND kind = ?`, addr.Bytes(), string(kind))
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	return t.expectOne(res, addr, kind)
}

// ListPreAuthorizations returns matching records ordered by address bytes.
func (t *Tx) ListPreAuthorizations(f Filter) ([]PreAuthorizationEntry, error) {
	where := []string{"kind = ?"}
	args := []any{string(KindPreAuthorization)}
	if f.TokenAccount != nil {
		where = append(where, "token_account = ?")
		args = append(args, f.TokenAccount.Bytes())
	}
	if f.DebitAuthority != nil {
		where = append(where, "debit_authority = ?")
		args = append(args, f.DebitAuthority.Bytes())
	}
	if f.Variant != "" {
		where = append(where, "variant = ?")
		args = append(args, f.Variant)
	}
	if f.Paused != nil {
		where = append(where, "paused = ?")
		args = append(args, *f.Paused)
	}

	rows, err := t.q.QueryContext(t.ctx, `
		SELECT address, data FROM accounts
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY address ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query pre-authorizations: %w", err)
	}
	defer rows.Close()

	entries := []PreAuthorizationEntry{}
	for rows.Next() {
		var raw, data []byte
		if err := rows.Scan(&raw, &data); err != nil {
			return nil, fmt.Errorf("scan pre-authorization: %w", err)
		}
		addr, err := address.FromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("scan pre-authorization: %w", err)
		}
		p, err := state.DecodePreAuthorization(data)
		if err != nil {
			return nil, fmt.Errorf("decode pre-authorization %s: %w", addr, err)
		}
		entries = append(entries, PreAuthorizationEntry{Address: addr, PreAuthorization: p})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pre-authorizations: %w", err)
	}
	return entries, nil
}

func (t *Tx) data(addr address.Address, want Kind) ([]byte, error) {
	var kind string
	var data []byte
	err := t.q.QueryRowContext(t.ctx, `SELECT kind, data FROM accounts WHERE address = ?`, addr.Bytes()).Scan(&kind, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", want, err)
	}
	if Kind(kind) != want {
		return nil, fmt.Errorf("%w: %s holds %s, want %s", ErrKindMismatch, addr, kind, want)
	}
	return data, nil
}

func (t *Tx) insert(addr address.Address, kind Kind, data []byte, tokenAccount address.Address, debitAuthority *address.Address, variant string, paused bool) error {
	if t.readOnly {
		return ErrReadOnly
	}
	var da, v any
	if debitAuthority != nil {
		da = debitAuthority.Bytes()
	}
	if variant != "" {
		v = variant
	}
	res, err := t.q.ExecContext(t.ctx, `
		INSERT INTO accounts (address, kind, data, token_account, debit_authority, variant, paused)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO NOTHING
	`, addr.Bytes(), string(kind), data, tokenAccount.Bytes(), da, v, paused)
	if err != nil {
		return fmt.Errorf("create %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create %s: %w", kind, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, addr)
	}
	return nil
}

func (t *Tx) expectOne(res sql.Result, addr address.Address, kind Kind) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", kind, addr, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, addr)
	}
	return nil
}

// GetDelegate loads a Delegate outside any caller transaction.
func (s *Store) GetDelegate(ctx context.Context, addr address.Address) (state.Delegate, error) {
	var d state.Delegate
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		d, err = tx.GetDelegate(addr)
		return err
	})
	return d, err
}

// GetPreAuthorization loads a PreAuthorization outside any caller transaction.
func (s *Store) GetPreAuthorization(ctx context.Context, addr address.Address) (state.PreAuthorization, error) {
	var p state.PreAuthorization
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		p, err = tx.GetPreAuthorization(addr)
		return err
	})
	return p, err
}

// ListPreAuthorizations lists records outside any caller transaction.
func (s *Store) ListPreAuthorizations(ctx context.Context, f Filter) ([]PreAuthorizationEntry, error) {
	var entries []PreAuthorizationEntry
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		entries, err = tx.ListPreAuthorizations(f)
		return err
	})
	return entries, err
}
