package api

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/engine"
	"github.com/roach88/preauth/internal/state"
	"github.com/roach88/preauth/internal/store"
)

// InitDelegateRequest is the body of POST /v1/delegates.
type InitDelegateRequest struct {
	Payer         address.Address   `json:"payer" binding:"required"`
	Holder        address.Address   `json:"holder" binding:"required"`
	TokenAccount  address.Address   `json:"token_account" binding:"required"`
	SmartDelegate *address.Address  `json:"smart_delegate,omitempty"`
	Signers       []address.Address `json:"signers"`
}

// CloseDelegateRequest is the body of DELETE /v1/delegates/:token_account.
type CloseDelegateRequest struct {
	Holder        address.Address   `json:"holder" binding:"required"`
	Receiver      address.Address   `json:"receiver" binding:"required"`
	SmartDelegate *address.Address  `json:"smart_delegate,omitempty"`
	Signers       []address.Address `json:"signers"`
}

// InitPreAuthorizationRequest is the body of POST /v1/pre-authorizations.
// Timestamps are json.Number so out-of-range values surface as
// InvalidTimestamp rather than as a decoding failure.
type InitPreAuthorizationRequest struct {
	Payer                   address.Address   `json:"payer" binding:"required"`
	Holder                  address.Address   `json:"holder" binding:"required"`
	TokenAccount            address.Address   `json:"token_account" binding:"required"`
	DebitAuthority          address.Address   `json:"debit_authority" binding:"required"`
	ActivationUnixTimestamp json.Number       `json:"activation_unix_timestamp" binding:"required"`
	OneTime                 *OneTimeBody      `json:"one_time,omitempty"`
	Recurring               *RecurringBody    `json:"recurring,omitempty"`
	PreAuthorization        *address.Address  `json:"pre_authorization,omitempty"`
	Signers                 []address.Address `json:"signers"`
}

// OneTimeBody configures a one-time pre-authorization.
type OneTimeBody struct {
	AmountAuthorized    uint64      `json:"amount_authorized"`
	ExpiryUnixTimestamp json.Number `json:"expiry_unix_timestamp" binding:"required"`
}

// RecurringBody configures a recurring pre-authorization.
type RecurringBody struct {
	RepeatFrequencySeconds    uint64  `json:"repeat_frequency_seconds"`
	RecurringAmountAuthorized uint64  `json:"recurring_amount_authorized"`
	NumCycles                 *uint64 `json:"num_cycles,omitempty"`
	ResetEveryCycle           bool    `json:"reset_every_cycle"`
}

// DebitRequest is the body of the debit and check-debit routes.
// TokenAccount, DebitAuthority and Mint default to the stored record's.
type DebitRequest struct {
	TokenAccount   *address.Address  `json:"token_account,omitempty"`
	DebitAuthority *address.Address  `json:"debit_authority,omitempty"`
	Destination    address.Address   `json:"destination_token_account" binding:"required"`
	Mint           *address.Address  `json:"mint,omitempty"`
	Amount         uint64            `json:"amount"`
	SmartDelegate  *address.Address  `json:"smart_delegate,omitempty"`
	Signers        []address.Address `json:"signers"`
}

// SetPauseRequest is the body of PUT /v1/pre-authorizations/:address/pause.
// TokenAccount and DebitAuthority default to the stored record's.
type SetPauseRequest struct {
	Holder         address.Address   `json:"holder" binding:"required"`
	TokenAccount   *address.Address  `json:"token_account,omitempty"`
	DebitAuthority *address.Address  `json:"debit_authority,omitempty"`
	Pause          bool              `json:"pause"`
	Signers        []address.Address `json:"signers"`
}

// ClosePreAuthorizationRequest is the body of
// DELETE /v1/pre-authorizations/:address.
type ClosePreAuthorizationRequest struct {
	Authority      address.Address   `json:"authority" binding:"required"`
	Receiver       address.Address   `json:"receiver" binding:"required"`
	TokenAccount   *address.Address  `json:"token_account,omitempty"`
	DebitAuthority *address.Address  `json:"debit_authority,omitempty"`
	Signers        []address.Address `json:"signers"`
}

// PreAuthorizationView is the JSON form of a stored record.
type PreAuthorizationView struct {
	Address                 address.Address `json:"address"`
	TokenAccount            address.Address `json:"token_account"`
	DebitAuthority          address.Address `json:"debit_authority"`
	ActivationUnixTimestamp int64           `json:"activation_unix_timestamp"`
	Paused                  bool            `json:"paused"`
	Bump                    uint8           `json:"bump"`
	Variant                 string          `json:"variant"`
	OneTime                 *OneTimeView    `json:"one_time,omitempty"`
	Recurring               *RecurringView  `json:"recurring,omitempty"`
	Available               *uint64         `json:"available,omitempty"`
}

// OneTimeView is the one-time half of PreAuthorizationView.
type OneTimeView struct {
	AmountAuthorized    uint64 `json:"amount_authorized"`
	ExpiryUnixTimestamp int64  `json:"expiry_unix_timestamp"`
	AmountDebited       uint64 `json:"amount_debited"`
}

// RecurringView is the recurring half of PreAuthorizationView.
type RecurringView struct {
	RepeatFrequencySeconds    uint64  `json:"repeat_frequency_seconds"`
	RecurringAmountAuthorized uint64  `json:"recurring_amount_authorized"`
	AmountDebitedLastCycle    uint64  `json:"amount_debited_last_cycle"`
	AmountDebitedTotal        uint64  `json:"amount_debited_total"`
	LastDebitedCycle          uint64  `json:"last_debited_cycle"`
	NumCycles                 *uint64 `json:"num_cycles,omitempty"`
	ResetEveryCycle           bool    `json:"reset_every_cycle"`
}

// DelegateView is the JSON form of a stored Delegate.
type DelegateView struct {
	Address      address.Address `json:"address"`
	TokenAccount address.Address `json:"token_account"`
	Bump         uint8           `json:"bump"`
}

// ListResponse wraps collection results.
type ListResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

func newList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Object: "list", Data: items}
}

// MaxDebitResponse is the body of GET .../max-debit.
type MaxDebitResponse struct {
	PreAuthorization address.Address `json:"pre_authorization"`
	Amount           uint64          `json:"amount"`
}

// NewPreAuthorizationView converts a stored record. Available is left unset.
func NewPreAuthorizationView(e store.PreAuthorizationEntry) PreAuthorizationView {
	pa := e.PreAuthorization
	v := PreAuthorizationView{
		Address:                 e.Address,
		TokenAccount:            pa.TokenAccount,
		DebitAuthority:          pa.DebitAuthority,
		ActivationUnixTimestamp: pa.ActivationUnixTimestamp,
		Paused:                  pa.Paused,
		Bump:                    pa.Bump,
		Variant:                 state.VariantName(pa.Variant),
	}
	switch x := pa.Variant.(type) {
	case state.OneTime:
		v.OneTime = &OneTimeView{
			AmountAuthorized:    x.AmountAuthorized,
			ExpiryUnixTimestamp: x.ExpiryUnixTimestamp,
			AmountDebited:       x.AmountDebited,
		}
	case state.Recurring:
		v.Recurring = &RecurringView{
			RepeatFrequencySeconds:    x.RepeatFrequencySeconds,
			RecurringAmountAuthorized: x.RecurringAmountAuthorized,
			AmountDebitedLastCycle:    x.AmountDebitedLastCycle,
			AmountDebitedTotal:        x.AmountDebitedTotal,
			LastDebitedCycle:          x.LastDebitedCycle,
			NumCycles:                 x.NumCycles,
			ResetEveryCycle:           x.ResetEveryCycle,
		}
	}
	return v
}

// NewDelegateView converts a stored Delegate.
func NewDelegateView(e engine.DelegateEntry) DelegateView {
	return DelegateView{Address: e.Address, TokenAccount: e.Delegate.TokenAccount, Bump: e.Delegate.Bump}
}

// timestamp parses a signed 64-bit timestamp.
func timestamp(field string, n json.Number) (int64, error) {
	ts, err := n.Int64()
	if err != nil {
		return 0, engine.Errorf(engine.CodeInvalidTimestamp, "%s: %q is not a signed 64-bit integer", field, n.String())
	}
	return ts, nil
}

func (r InitPreAuthorizationRequest) toEngine() (engine.InitPreAuthorizationRequest, error) {
	activation, err := timestamp("activation_unix_timestamp", r.ActivationUnixTimestamp)
	if err != nil {
		return engine.InitPreAuthorizationRequest{}, err
	}
	req := engine.InitPreAuthorizationRequest{
		Payer:                   r.Payer,
		Holder:                  r.Holder,
		TokenAccount:            r.TokenAccount,
		DebitAuthority:          r.DebitAuthority,
		ActivationUnixTimestamp: activation,
		PreAuthorization:        r.PreAuthorization,
		Signers:                 r.Signers,
	}
	switch {
	case r.OneTime != nil && r.Recurring != nil:
		return req, fmt.Errorf("only one of one_time or recurring may be set")
	case r.OneTime != nil:
		expiry, err := timestamp("one_time.expiry_unix_timestamp", r.OneTime.ExpiryUnixTimestamp)
		if err != nil {
			return req, err
		}
		req.Variant = engine.OneTimeParams{AmountAuthorized: r.OneTime.AmountAuthorized, ExpiryUnixTimestamp: expiry}
	case r.Recurring != nil:
		req.Variant = engine.RecurringParams{
			RepeatFrequencySeconds:    r.Recurring.RepeatFrequencySeconds,
			RecurringAmountAuthorized: r.Recurring.RecurringAmountAuthorized,
			NumCycles:                 r.Recurring.NumCycles,
			ResetEveryCycle:           r.Recurring.ResetEveryCycle,
		}
	default:
		return req, engine.ErrMissingVariant
	}
	return req, nil
}

func (r DebitRequest) toEngine(e store.PreAuthorizationEntry) engine.DebitRequest {
	pa := e.Address
	req := engine.DebitRequest{
		DebitAuthority:   orDefault(r.DebitAuthority, e.PreAuthorization.DebitAuthority),
		TokenAccount:     orDefault(r.TokenAccount, e.PreAuthorization.TokenAccount),
		Destination:      r.Destination,
		Amount:           r.Amount,
		PreAuthorization: &pa,
		Delegate:         r.SmartDelegate,
		Signers:          r.Signers,
	}
	if r.Mint != nil {
		req.Mint = *r.Mint
	}
	return req
}

func orDefault(a *address.Address, def address.Address) address.Address {
	if a != nil {
		return *a
	}
	return def
}
