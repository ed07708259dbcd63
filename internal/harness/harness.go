package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/engine"
	"github.com/roach88/preauth/internal/ir"
	"github.com/roach88/preauth/internal/ledger"
	"github.com/roach88/preauth/internal/policy"
	"github.com/roach88/preauth/internal/store"
	"github.com/roach88/preauth/internal/testutil"
)

// Harness is the test execution engine for one scenario.
type Harness struct {
	store      *store.Store
	ledger     *ledger.Memory
	dispatcher *engine.Dispatcher
	clock      *testutil.ManualClock
	logger     *zap.Logger

	// labels maps every address the scenario touched to the name it was
	// written as, or to a derived label for record addresses.
	labels map[address.Address]string
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *zap.Logger
}

// WithLogger routes dispatcher and harness logs to l. Default: discarded.
func WithLogger(l *zap.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// Run executes a test scenario and returns the result.
//
// Steps whose outcome differs from their expectation and assertions that do
// not hold are reported in Result.Errors; they do not stop the run. An error
// is returned only when the scenario cannot be executed at all.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		clock:  testutil.NewManualClock(scenario.Clock),
		logger: cfg.logger,
		labels: make(map[address.Address]string),
	}

	h.ledger, err = scenario.Ledger.Build(h.resolve)
	if err != nil {
		return nil, fmt.Errorf("failed to build ledger: %w", err)
	}

	prefix := scenario.OpPrefix
	if prefix == "" {
		prefix = scenario.Name
	}
	h.dispatcher = engine.New(st, h.ledger,
		engine.WithClock(h.clock),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator(prefix)),
		engine.WithLogger(cfg.logger),
	)

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		ev, stepErr := h.execute(ctx, step)
		ev.Step = i + 1
		ev.Op = step.Op
		ev.Outcome = outcomeOf(stepErr)
		result.AddTrace(ev)

		want := step.Expect
		if want == "" {
			want = OutcomeOK
		}
		if ev.Outcome != want {
			msg := fmt.Sprintf("steps[%d] %s: expected %s, got %s", i, step.Op, want, ev.Outcome)
			if stepErr != nil {
				msg += ": " + stepErr.Error()
			}
			result.AddError(msg)
		}

		h.logger.Debug("scenario step",
			zap.String("scenario", scenario.Name),
			zap.Int("step", ev.Step),
			zap.String("op", step.Op),
			zap.String("outcome", ev.Outcome),
		)
	}

	actx := &AssertionContext{
		Ctx:        ctx,
		Dispatcher: h.dispatcher,
		Ledger:     h.ledger,
		Resolve:    h.address,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// execute runs one step. The returned error is the operation's own failure.
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	a := step.Args
	ev := TraceEvent{Time: h.clock.Now()}

	var res engine.Result
	var err error

	switch step.Op {
	case OpAdvance:
		ev.Time = h.clock.Advance(a.Seconds)
		return ev, nil

	case OpInitDelegate:
		res, err = h.dispatcher.InitDelegate(ctx, engine.InitDelegateRequest{
			Payer:        h.address(a.Payer),
			Holder:       h.address(a.Holder),
			TokenAccount: h.tokenAccount(a.TokenAccount),
			Signers:      h.signers(step, a.Payer, a.Holder),
		})

	case OpCloseDelegate:
		res, err = h.dispatcher.CloseDelegate(ctx, engine.CloseDelegateRequest{
			Holder:       h.address(a.Holder),
			TokenAccount: h.tokenAccount(a.TokenAccount),
			Receiver:     h.address(a.Receiver),
			Signers:      h.signers(step, a.Holder),
		})

	case OpInitPreAuthorization:
		var req engine.InitPreAuthorizationRequest
		req, err = h.initRequest(step)
		if err == nil {
			res, err = h.dispatcher.InitPreAuthorization(ctx, req)
		}

	case OpDebit:
		res, err = h.dispatcher.Debit(ctx, h.debitRequest(step))

	case OpCheckDebit:
		var check engine.DebitCheck
		check, err = h.dispatcher.CheckDebit(ctx, h.debitRequest(step))
		if err == nil {
			ev.Detail = ir.NewObject(ir.O("available", ir.Uint(check.Available)))
			if check.Cycle != 0 {
				ev.Detail["cycle"] = ir.Uint(check.Cycle)
			}
		}
		return ev, err

	case OpMaxDebit:
		var amount uint64
		amount, err = h.dispatcher.MaxDebitAmount(ctx,
			h.tokenAccount(a.TokenAccount), h.address(a.DebitAuthority))
		if err == nil {
			ev.Detail = ir.NewObject(ir.O("amount", ir.Uint(amount)))
		}
		return ev, err

	case OpSetPause:
		res, err = h.dispatcher.SetPause(ctx, engine.SetPauseRequest{
			Holder:         h.address(a.Holder),
			TokenAccount:   h.tokenAccount(a.TokenAccount),
			DebitAuthority: h.address(a.DebitAuthority),
			Pause:          a.Pause,
			Signers:        h.signers(step, a.Holder),
		})

	case OpClosePreAuthorization:
		res, err = h.dispatcher.ClosePreAuthorization(ctx, engine.ClosePreAuthorizationRequest{
			Authority:      h.address(a.Authority),
			TokenAccount:   h.tokenAccount(a.TokenAccount),
			DebitAuthority: h.address(a.DebitAuthority),
			Receiver:       h.address(a.Receiver),
			Signers:        h.signers(step, a.Authority),
		})

	default:
		return ev, fmt.Errorf("unknown op %q", step.Op)
	}

	if err != nil {
		return ev, err
	}
	ev.Event = res.Event.Kind
	ev.Payload, err = h.payload(res.Event.Payload)
	if err != nil {
		return ev, fmt.Errorf("decode event payload: %w", err)
	}
	return ev, nil
}

func (h *Harness) initRequest(step Step) (engine.InitPreAuthorizationRequest, error) {
	a := step.Args
	payer, holder := h.address(a.Payer), h.address(a.Holder)

	if a.Policy != "" {
		policies, err := policy.LoadString("step.cue", a.Policy)
		if err != nil {
			return engine.InitPreAuthorizationRequest{}, err
		}
		if len(policies) != 1 {
			return engine.InitPreAuthorizationRequest{}, fmt.Errorf("policy step must declare exactly one policy, got %d", len(policies))
		}
		var ta, da *address.Address
		if a.TokenAccount != "" {
			v := h.tokenAccount(a.TokenAccount)
			ta = &v
		}
		if a.DebitAuthority != "" {
			v := h.address(a.DebitAuthority)
			da = &v
		}
		req, err := policies[0].Request(payer, holder, h.resolve, ta, da)
		if err != nil {
			return req, err
		}
		h.derive(req.TokenAccount, req.DebitAuthority)
		if len(step.Signers) > 0 {
			req.Signers = h.signers(step)
		}
		return req, nil
	}

	req := engine.InitPreAuthorizationRequest{
		Payer:                   payer,
		Holder:                  holder,
		TokenAccount:            h.tokenAccount(a.TokenAccount),
		DebitAuthority:          h.address(a.DebitAuthority),
		ActivationUnixTimestamp: a.Activation,
		Signers:                 h.signers(step, a.Payer, a.Holder),
	}
	h.derive(req.TokenAccount, req.DebitAuthority)
	switch {
	case a.OneTime != nil:
		req.Variant = engine.OneTimeParams{
			AmountAuthorized:    a.OneTime.AmountAuthorized,
			ExpiryUnixTimestamp: a.OneTime.ExpiryUnixTimestamp,
		}
	case a.Recurring != nil:
		req.Variant = engine.RecurringParams{
			RepeatFrequencySeconds:    a.Recurring.RepeatFrequencySeconds,
			RecurringAmountAuthorized: a.Recurring.RecurringAmountAuthorized,
			NumCycles:                 a.Recurring.NumCycles,
			ResetEveryCycle:           a.Recurring.ResetEveryCycle,
		}
	}
	return req, nil
}

func (h *Harness) debitRequest(step Step) engine.DebitRequest {
	a := step.Args
	req := engine.DebitRequest{
		DebitAuthority: h.address(a.DebitAuthority),
		TokenAccount:   h.tokenAccount(a.TokenAccount),
		Destination:    h.address(a.Destination),
		Amount:         a.Amount,
		Signers:        h.signers(step, a.DebitAuthority),
	}
	if a.Mint != "" {
		req.Mint = h.address(a.Mint)
	}
	h.derive(req.TokenAccount, req.DebitAuthority)
	return req
}

// signers returns the step's explicit signers, or defaults when none are
// listed. Empty defaults are skipped.
func (h *Harness) signers(step Step, defaults ...string) []address.Address {
	names := step.Signers
	if len(names) == 0 {
		names = defaults
	}
	out := make([]address.Address, 0, len(names))
	for _, n := range names {
		if n != "" {
			out = append(out, h.address(n))
		}
	}
	return out
}

// resolve has the shape of ledger.Resolver and records the label.
func (h *Harness) resolve(name string) (address.Address, error) {
	return h.address(name), nil
}

// address resolves a scenario name. The empty name is the zero address.
func (h *Harness) address(name string) address.Address {
	if name == "" {
		return address.Address{}
	}
	a, _ := testutil.Resolve(name)
	if _, ok := h.labels[a]; !ok {
		h.labels[a] = name
	}
	return a
}

// tokenAccount resolves a token account name and labels its Delegate.
func (h *Harness) tokenAccount(name string) address.Address {
	ta := h.address(name)
	if del, _, err := address.FindDelegate(h.dispatcher.ProgramID(), ta); err == nil {
		h.labels[del] = fmt.Sprintf("smart_delegate(%s)", h.labels[ta])
	}
	return ta
}

// derive labels the PreAuthorization address for (tokenAccount, debitAuthority).
func (h *Harness) derive(tokenAccount, debitAuthority address.Address) {
	if pa, _, err := address.FindPreAuthorization(h.dispatcher.ProgramID(), tokenAccount, debitAuthority); err == nil {
		h.labels[pa] = fmt.Sprintf("pre_authorization(%s,%s)", h.label(tokenAccount), h.label(debitAuthority))
	}
}

func (h *Harness) label(a address.Address) string {
	if l, ok := h.labels[a]; ok {
		return l
	}
	return a.String()
}

// payload converts a canonical JSON event payload into an ir.Object with
// every known address replaced by its label.
func (h *Harness) payload(raw json.RawMessage) (ir.Object, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v map[string]any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return h.convertObject(v)
}

func (h *Harness) convertObject(m map[string]any) (ir.Object, error) {
	out := make(ir.Object, len(m))
	for key, val := range m {
		irVal, err := h.convertValue(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		out[key] = irVal
	}
	return out, nil
}

// convertValue converts a decoded JSON value to an ir.Value.
func (h *Harness) convertValue(val any) (ir.Value, error) {
	switch v := val.(type) {
	case nil:
		return nil, fmt.Errorf("null values are forbidden in canonical JSON")
	case string:
		if a, err := address.Parse(v); err == nil {
			if l, ok := h.labels[a]; ok {
				return ir.String(l), nil
			}
		}
		return ir.String(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return ir.Int(i), nil
		}
		if u, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			return ir.Uint(u), nil
		}
		return nil, fmt.Errorf("non-integer number %s", v)
	case bool:
		return ir.Bool(v), nil
	case []any:
		arr := make(ir.Array, len(v))
		for i, elem := range v {
			irElem, err := h.convertValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]any:
		return h.convertObject(v)
	default:
		return nil, fmt.Errorf("unsupported type %T", val)
	}
}

var ledgerOutcomes = []struct {
	err   error
	label string
}{
	{ledger.ErrInsufficientFunds, "InsufficientFunds"},
	{ledger.ErrInsufficientAllowance, "InsufficientAllowance"},
	{ledger.ErrAccountNotFound, "TokenAccountNotFound"},
	{ledger.ErrMintNotFound, "MintNotFound"},
	{ledger.ErrOwnerMismatch, "OwnerMismatch"},
	{ledger.ErrMintMismatch, "LedgerMintMismatch"},
	{ledger.ErrDecimalsMismatch, "DecimalsMismatch"},
	{ledger.ErrUnauthorized, "LedgerUnauthorized"},
	{ledger.ErrOverflow, "LedgerOverflow"},
}

// outcomeOf labels a step result: "ok", a program error code, a ledger
// failure, or "Error" for anything else.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	for _, o := range ledgerOutcomes {
		if errors.Is(err, o.err) {
			return o.label
		}
	}
	return "Error"
}
