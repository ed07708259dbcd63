// Package policy loads pre-authorization terms written in CUE.
//
// A policy file declares named policies under the top-level "policy" field:
//
//	policy: rent: {
//		activation_unix_timestamp: 1700000000
//		recurring: {
//			repeat_frequency_seconds:    2592000
//			recurring_amount_authorized: 1200000000
//			reset_every_cycle:           true
//		}
//	}
//
// Files are unified with an embedded schema, so unknown fields, negative
// amounts and non-integer values are rejected before any Go code runs.
package policy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/engine"
)

//go:embed schema.cue
var schemaSource string

// Policy is one validated pre-authorization definition.
type Policy struct {
	Name                    string
	TokenAccount            string
	DebitAuthority          string
	ActivationUnixTimestamp int64
	Variant                 engine.VariantParams
}

// Error describes an invalid policy. Err, when set, is the program error the
// dispatcher would have returned for the same input.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
	Err     error
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// LoadFile reads and validates every policy in a CUE file.
func LoadFile(path string) ([]Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return LoadString(path, string(src))
}

// LoadString validates every policy in src. filename is used in positions.
// Policies are returned sorted by name.
func LoadString(filename, src string) ([]Policy, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile policy schema: %w", err)
	}

	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError("", err)
	}
	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError("", err)
	}

	policies := v.LookupPath(cue.ParsePath("policy"))
	if !policies.Exists() {
		return nil, &Error{Field: "policy", Message: "no policies declared"}
	}
	iter, err := policies.Fields()
	if err != nil {
		return nil, formatCUEError("policy", err)
	}

	var out []Policy
	for iter.Next() {
		p, err := Compile(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, &Error{Field: "policy", Message: "no policies declared"}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Compile extracts one policy from a value already unified with #Policy.
func Compile(name string, v cue.Value) (Policy, error) {
	field := "policy." + name
	p := Policy{Name: name}

	var err error
	if p.TokenAccount, err = optionalString(v, "token_account"); err != nil {
		return Policy{}, formatCUEError(field+".token_account", err)
	}
	if p.DebitAuthority, err = optionalString(v, "debit_authority"); err != nil {
		return Policy{}, formatCUEError(field+".debit_authority", err)
	}
	if p.ActivationUnixTimestamp, err = timestamp(v, field, "activation_unix_timestamp"); err != nil {
		return Policy{}, err
	}

	oneTime := v.LookupPath(cue.ParsePath("one_time"))
	recurring := v.LookupPath(cue.ParsePath("recurring"))
	switch {
	case oneTime.Exists() && recurring.Exists():
		return Policy{}, &Error{Field: field, Message: "only one of one_time or recurring may be set", Pos: v.Pos()}
	case oneTime.Exists():
		p.Variant, err = compileOneTime(field+".one_time", oneTime)
	case recurring.Exists():
		p.Variant, err = compileRecurring(field+".recurring", recurring)
	default:
		return Policy{}, &Error{Field: field, Message: "one of one_time or recurring is required", Pos: v.Pos()}
	}
	if err != nil {
		return Policy{}, err
	}
	return p, nil
}

func compileOneTime(field string, v cue.Value) (engine.OneTimeParams, error) {
	amount, err := v.LookupPath(cue.ParsePath("amount_authorized")).Uint64()
	if err != nil {
		return engine.OneTimeParams{}, formatCUEError(field+".amount_authorized", err)
	}
	expiry, err := timestamp(v, field, "expiry_unix_timestamp")
	if err != nil {
		return engine.OneTimeParams{}, err
	}
	return engine.OneTimeParams{AmountAuthorized: amount, ExpiryUnixTimestamp: expiry}, nil
}

func compileRecurring(field string, v cue.Value) (engine.RecurringParams, error) {
	var p engine.RecurringParams
	var err error

	freq := v.LookupPath(cue.ParsePath("repeat_frequency_seconds"))
	if p.RepeatFrequencySeconds, err = freq.Uint64(); err != nil {
		return p, formatCUEError(field+".repeat_frequency_seconds", err)
	}
	if p.RepeatFrequencySeconds == 0 {
		return p, &Error{
			Field:   field + ".repeat_frequency_seconds",
			Message: "must be greater than zero",
			Pos:     freq.Pos(),
			Err:     engine.NewError(engine.CodeInvalidRepeatFrequency),
		}
	}
	if p.RecurringAmountAuthorized, err = v.LookupPath(cue.ParsePath("recurring_amount_authorized")).Uint64(); err != nil {
		return p, formatCUEError(field+".recurring_amount_authorized", err)
	}
	if n := v.LookupPath(cue.ParsePath("num_cycles")); n.Exists() {
		cycles, err := n.Uint64()
		if err != nil {
			return p, formatCUEError(field+".num_cycles", err)
		}
		p.NumCycles = &cycles
	}
	if p.ResetEveryCycle, err = v.LookupPath(cue.ParsePath("reset_every_cycle")).Bool(); err != nil {
		return p, formatCUEError(field+".reset_every_cycle", err)
	}
	return p, nil
}

// timestamp reads a signed 64-bit timestamp. Integers outside that range are
// reported as InvalidTimestamp.
func timestamp(v cue.Value, parent, name string) (int64, error) {
	f := v.LookupPath(cue.ParsePath(name))
	ts, err := f.Int64()
	if err != nil {
		return 0, &Error{
			Field:   parent + "." + name,
			Message: "must be a signed 64-bit unix timestamp",
			Pos:     f.Pos(),
			Err:     engine.Errorf(engine.CodeInvalidTimestamp, "%s: %v", name, err),
		}
	}
	return ts, nil
}

func optionalString(v cue.Value, name string) (string, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return "", nil
	}
	return f.String()
}

// Request builds the dispatcher request for p. Addresses not named in the
// policy must be supplied; resolve turns names into addresses.
func (p Policy) Request(payer, holder address.Address, resolve func(string) (address.Address, error), tokenAccount, debitAuthority *address.Address) (engine.InitPreAuthorizationRequest, error) {
	ta, err := pick(p.TokenAccount, tokenAccount, resolve, "token_account")
	if err != nil {
		return engine.InitPreAuthorizationRequest{}, err
	}
	da, err := pick(p.DebitAuthority, debitAuthority, resolve, "debit_authority")
	if err != nil {
		return engine.InitPreAuthorizationRequest{}, err
	}
	signers := []address.Address{payer}
	if holder != payer {
		signers = append(signers, holder)
	}
	return engine.InitPreAuthorizationRequest{
		Payer:                   payer,
		Holder:                  holder,
		TokenAccount:            ta,
		DebitAuthority:          da,
		ActivationUnixTimestamp: p.ActivationUnixTimestamp,
		Variant:                 p.Variant,
		Signers:                 signers,
	}, nil
}

func pick(named string, override *address.Address, resolve func(string) (address.Address, error), field string) (address.Address, error) {
	if override != nil {
		return *override, nil
	}
	if named == "" {
		return address.Address{}, fmt.Errorf("%s is not set in the policy and was not supplied", field)
	}
	if resolve == nil {
		resolve = address.Parse
	}
	a, err := resolve(named)
	if err != nil {
		return address.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return a, nil
}

// formatCUEError converts CUE errors to *Error, keeping the first position.
func formatCUEError(field string, err error) error {
	var pos token.Pos
	if positions := cueerrors.Positions(err); len(positions) > 0 {
		pos = positions[0]
	}
	if field == "" {
		if p := cueerrors.Path(err); len(p) > 0 {
			field = joinPath(p)
		} else {
			field = "policy"
		}
	}
	return &Error{Field: field, Message: cueerrors.Details(err, nil), Pos: pos}
}

func joinPath(p []string) string {
	out := p[0]
	for _, s := range p[1:] {
		out += "." + s
	}
	return out
}
