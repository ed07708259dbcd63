package engine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/ledger"
	"github.com/roach88/preauth/internal/state"
	"github.com/roach88/preauth/internal/store"
	"github.com/roach88/preauth/internal/testutil"
)

const t0 = int64(1_700_000_000)

var (
	alice        = testutil.Named("alice")
	merchant     = testutil.Named("merchant")
	mallory      = testutil.Named("mallory")
	usdc         = testutil.Named("usdc")
	eurc         = testutil.Named("eurc")
	aliceUSDC    = testutil.Named("alice-usdc")
	merchantUSDC = testutil.Named("merchant-usdc")
	merchantEURC = testutil.Named("merchant-eurc")
)

type testEnv struct {
	d      *Dispatcher
	store  *store.Store
	ledger *ledger.Memory
	clock  *testutil.ManualClock
}

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestLedger() *ledger.Memory {
	m := ledger.NewMemory()
	m.PutMint(ledger.Mint{Address: usdc, Decimals: 6})
	m.PutMint(ledger.Mint{Address: eurc, Decimals: 6})
	m.PutTokenAccount(ledger.TokenAccount{Address: aliceUSDC, Owner: alice, Mint: usdc, Amount: 1_000_000_000})
	m.PutTokenAccount(ledger.TokenAccount{Address: merchantUSDC, Owner: merchant, Mint: usdc})
	m.PutTokenAccount(ledger.TokenAccount{Address: merchantEURC, Owner: merchant, Mint: eurc})
	m.SetLamports(alice, 1_000_000_000)
	m.SetLamports(merchant, 1_000_000_000)
	return m
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  createTestStore(t),
		ledger: newTestLedger(),
		clock:  testutil.NewManualClock(t0),
	}
	env.d = New(env.store, env.ledger,
		WithClock(env.clock),
		WithIDGenerator(testutil.NewFixedIDGenerator("op")),
	)
	return env
}

func (e *testEnv) initDelegate(t *testing.T) Result {
	t.Helper()
	res, err := e.d.InitDelegate(context.Background(), InitDelegateRequest{
		Payer:        alice,
		Holder:       alice,
		TokenAccount: aliceUSDC,
		Signers:      []address.Address{alice},
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) initPreAuthorization(t *testing.T, activation int64, v VariantParams) Result {
	t.Helper()
	res, err := e.d.InitPreAuthorization(context.Background(), initRequest(activation, v))
	require.NoError(t, err)
	return res
}

func initRequest(activation int64, v VariantParams) InitPreAuthorizationRequest {
	return InitPreAuthorizationRequest{
		Payer:                   alice,
		Holder:                  alice,
		TokenAccount:            aliceUSDC,
		DebitAuthority:          merchant,
		ActivationUnixTimestamp: activation,
		Variant:                 v,
		Signers:                 []address.Address{alice},
	}
}

func debitRequest(amount uint64) DebitRequest {
	return DebitRequest{
		DebitAuthority: merchant,
		TokenAccount:   aliceUSDC,
		Destination:    merchantUSDC,
		Mint:           usdc,
		Amount:         amount,
		Signers:        []address.Address{merchant},
	}
}

func (e *testEnv) debit(amount uint64) (Result, error) {
	return e.d.Debit(context.Background(), debitRequest(amount))
}

func (e *testEnv) balance(t *testing.T, addr address.Address) uint64 {
	t.Helper()
	acct, err := e.ledger.TokenAccount(context.Background(), addr)
	require.NoError(t, err)
	return acct.Amount
}

func (e *testEnv) preAuthorization(t *testing.T) state.PreAuthorization {
	t.Helper()
	entry, err := e.d.FindPreAuthorization(context.Background(), aliceUSDC, merchant)
	require.NoError(t, err)
	return entry.PreAuthorization
}

func TestInitDelegate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.initDelegate(t)

	want, bump, err := address.FindDelegate(address.DefaultProgramID, aliceUSDC)
	require.NoError(t, err)
	assert.Equal(t, want, res.Address)
	assert.Equal(t, "op-000001", res.OpID)
	assert.Equal(t, EventSmartDelegateInitialized, res.Event.Kind)
	assert.Equal(t, int64(1), res.Event.Seq)
	assert.Equal(t, t0, res.Event.UnixTimestamp)

	entry, err := env.d.GetDelegate(ctx, aliceUSDC)
	require.NoError(t, err)
	assert.Equal(t, state.Delegate{TokenAccount: aliceUSDC, Bump: bump}, entry.Delegate)

	acct, err := env.ledger.TokenAccount(ctx, aliceUSDC)
	require.NoError(t, err)
	assert.True(t, acct.DelegateIs(want))
	assert.Equal(t, ledger.Unlimited, acct.DelegatedAmount)

	deposit, err := env.ledger.Lamports(ctx, want)
	require.NoError(t, err)
	assert.Equal(t, state.Deposit(state.DelegateSpace), deposit)
}

func TestInitDelegate_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.d.InitDelegate(ctx, InitDelegateRequest{
		Payer: merchant, Holder: alice, TokenAccount: aliceUSDC,
		Signers: []address.Address{alice},
	})
	assert.True(t, IsCode(err, CodeMissingRequiredSignature), "%v", err)

	_, err = env.d.InitDelegate(ctx, InitDelegateRequest{
		Payer: mallory, Holder: mallory, TokenAccount: aliceUSDC,
		Signers: []address.Address{mallory},
	})
	assert.True(t, IsCode(err, CodeInitSmartDelegateUnauthorized), "%v", err)

	_, err = env.d.InitDelegate(ctx, InitDelegateRequest{
		Payer: alice, Holder: alice, TokenAccount: aliceUSDC,
		Signers: []address.Address{alice}, Delegate: &mallory,
	})
	assert.True(t, IsCode(err, CodeSeedsConstraintViolated), "%v", err)

	env.initDelegate(t)
	_, err = env.d.InitDelegate(ctx, InitDelegateRequest{
		Payer: alice, Holder: alice, TokenAccount: aliceUSDC,
		Signers: []address.Address{alice},
	})
	assert.True(t, IsCode(err, CodeAccountAlreadyInitialized), "%v", err)

	events, err := env.d.Events(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1, "rejected operations must not log events")
}

func TestInitDelegate_PayerCannotFundDeposit(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.SetLamports(alice, 10)

	_, err := env.d.InitDelegate(context.Background(), InitDelegateRequest{
		Payer: alice, Holder: alice, TokenAccount: aliceUSDC,
		Signers: []address.Address{alice},
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Empty(t, CodeOf(err))

	_, err = env.d.GetDelegate(context.Background(), aliceUSDC)
	assert.True(t, IsCode(err, CodeAccountNotInitialized))
}

func TestCloseDelegate_RevokesOwnApproval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	del := env.initDelegate(t).Address

	_, err := env.d.CloseDelegate(ctx, CloseDelegateRequest{
		Holder: merchant, TokenAccount: aliceUSDC, Receiver: merchant,
		Signers: []address.Address{merchant},
	})
	assert.True(t, IsCode(err, CodeSmartDelegateCloseUnauthorized), "%v", err)

	before, err := env.ledger.Lamports(ctx, alice)
	require.NoError(t, err)

	res, err := env.d.CloseDelegate(ctx, CloseDelegateRequest{
		Holder: alice, TokenAccount: aliceUSDC, Receiver: alice,
		Signers: []address.Address{alice},
	})
	require.NoError(t, err)
	assert.Equal(t, EventSmartDelegateClosed, res.Event.Kind)
	assert.JSONEq(t, `{
		"owner": "`+alice.String()+`",
		"receiver": "`+alice.String()+`",
		"revoked": true,
		"smart_delegate": "`+del.String()+`",
		"token_account": "`+aliceUSDC.String()+`"
	}`, string(res.Event.Payload))

	acct, err := env.ledger.TokenAccount(ctx, aliceUSDC)
	require.NoError(t, err)
	assert.Nil(t, acct.Delegate)

	after, err := env.ledger.Lamports(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, before+state.Deposit(state.DelegateSpace), after)

	_, err = env.d.GetDelegate(ctx, aliceUSDC)
	assert.True(t, IsCode(err, CodeAccountNotInitialized))
}

func TestCloseDelegate_LeavesForeignApproval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initDelegate(t)

	// The holder re-approves someone else directly on the ledger.
	require.NoError(t, env.ledger.Execute(ctx, ledger.Approve{
		Source: aliceUSDC, Delegate: mallory, Owner: alice, Amount: 5,
	}))

	res, err := env.d.CloseDelegate(ctx, CloseDelegateRequest{
		Holder: alice, TokenAccount: aliceUSDC, Receiver: alice,
		Signers: []address.Address{alice},
	})
	require.NoError(t, err)
	assert.Contains(t, string(res.Event.Payload), `"revoked":false`)

	acct, err := env.ledger.TokenAccount(ctx, aliceUSDC)
	require.NoError(t, err)
	assert.True(t, acct.DelegateIs(mallory))
	assert.Equal(t, uint64(5), acct.DelegatedAmount)
}

func TestCloseDelegate_NotInitialized(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.d.CloseDelegate(context.Background(), CloseDelegateRequest{
		Holder: alice, TokenAccount: aliceUSDC, Receiver: alice,
		Signers: []address.Address{alice},
	})
	assert.True(t, IsCode(err, CodeAccountNotInitialized), "%v", err)
}

func TestInitPreAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.initPreAuthorization(t, -3_000_000, RecurringParams{
		RepeatFrequencySeconds: 3, RecurringAmountAuthorized: 33, NumCycles: ptr(2), ResetEveryCycle: true,
	})
	assert.Equal(t, EventRecurringPreAuthorizationCreated, res.Event.Kind)

	want, bump, err := address.FindPreAuthorization(address.DefaultProgramID, aliceUSDC, merchant)
	require.NoError(t, err)
	assert.Equal(t, want, res.Address)

	pa := env.preAuthorization(t)
	assert.Equal(t, state.PreAuthorization{
		Bump:                    bump,
		TokenAccount:            aliceUSDC,
		DebitAuthority:          merchant,
		ActivationUnixTimestamp: -3_000_000,
		Variant: state.Recurring{
			RepeatFrequencySeconds:    3,
			RecurringAmountAuthorized: 33,
			LastDebitedCycle:          1,
			NumCycles:                 ptr(2),
			ResetEveryCycle:           true,
		},
	}, pa)

	deposit, err := env.ledger.Lamports(ctx, want)
	require.NoError(t, err)
	assert.Equal(t, state.Deposit(state.PreAuthorizationSpace), deposit)
}

func TestInitPreAuthorization_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	oneTimeParams := OneTimeParams{AmountAuthorized: 10, ExpiryUnixTimestamp: t0 + 100}

	_, err := env.d.InitPreAuthorization(ctx, initRequest(t0, RecurringParams{RecurringAmountAuthorized: 10}))
	assert.True(t, IsCode(err, CodeInvalidRepeatFrequency), "%v", err)
	assert.Equal(t, KindInput, KindOf(err))

	_, err = env.d.InitPreAuthorization(ctx, initRequest(t0, nil))
	assert.ErrorIs(t, err, ErrMissingVariant)

	req := initRequest(t0, oneTimeParams)
	req.Signers = []address.Address{merchant}
	req.Payer = merchant
	_, err = env.d.InitPreAuthorization(ctx, req)
	assert.True(t, IsCode(err, CodeInitPreAuthorizationUnauthorized), "%v", err)

	req = initRequest(t0, oneTimeParams)
	req.Holder = mallory
	req.Signers = []address.Address{alice, mallory}
	_, err = env.d.InitPreAuthorization(ctx, req)
	assert.True(t, IsCode(err, CodeInitPreAuthorizationUnauthorized), "%v", err)

	env.initPreAuthorization(t, t0, oneTimeParams)
	_, err = env.d.InitPreAuthorization(ctx, initRequest(t0, oneTimeParams))
	assert.True(t, IsCode(err, CodeAccountAlreadyInitialized), "%v", err)
}

// One-time: four debits of a quarter succeed, anything after fails.
func TestScenario_OneTimeExhaustion(t *testing.T) {
	env := newTestEnv(t)
	env.initDelegate(t)
	activation := t0 - 60
	env.initPreAuthorization(t, activation, OneTimeParams{
		AmountAuthorized: 100_000_000, ExpiryUnixTimestamp: activation + 10*24*3600,
	})

	for i := 0; i < 4; i++ {
		res, err := env.debit(25_000_000)
		require.NoError(t, err, "debit %d", i+1)
		assert.Equal(t, EventDebit, res.Event.Kind)
	}

	_, err := env.debit(1)
	assert.True(t, IsCode(err, CodeCannotDebitMoreThanAvailable), "%v", err)

	assert.Equal(t, uint64(900_000_000), env.balance(t, aliceUSDC))
	assert.Equal(t, uint64(100_000_000), env.balance(t, merchantUSDC))
	assert.Equal(t, uint64(100_000_000), env.preAuthorization(t).Variant.(state.OneTime).AmountDebited)
}

// Reset-every-cycle: the pool refills each cycle and never carries over.
func TestScenario_RecurringResetEveryCycle(t *testing.T) {
	env := newTestEnv(t)
	env.initDelegate(t)
	env.initPreAuthorization(t, t0, RecurringParams{
		RepeatFrequencySeconds: 3, RecurringAmountAuthorized: 33_000_000, ResetEveryCycle: true,
	})

	_, err := env.debit(33_000_000)
	require.NoError(t, err)

	env.clock.Advance(3)
	_, err = env.debit(23_000_000)
	require.NoError(t, err)
	_, err = env.debit(34_000_000)
	assert.True(t, IsCode(err, CodeCannotDebitMoreThanAvailable), "%v", err)

	env.clock.Advance(3)
	res, err := env.debit(33_000_000)
	require.NoError(t, err)
	assert.Contains(t, string(res.Event.Payload), `"recurring":{"cycle":3,"debit_amount":33000000}`)

	r := env.preAuthorization(t).Variant.(state.Recurring)
	assert.Equal(t, uint64(3), r.LastDebitedCycle)
	assert.Equal(t, uint64(33_000_000), r.AmountDebitedLastCycle)
	assert.Equal(t, uint64(89_000_000), r.AmountDebitedTotal)
}

// Cumulative: one idle cycle doubles what is available.
func TestScenario_RecurringCumulative(t *testing.T) {
	env := newTestEnv(t)
	env.initDelegate(t)
	env.initPreAuthorization(t, t0, RecurringParams{
		RepeatFrequencySeconds: 3, RecurringAmountAuthorized: 33_000_000,
	})

	env.clock.Advance(3)
	_, err := env.debit(66_000_000)
	require.NoError(t, err)

	_, err = env.debit(1)
	assert.True(t, IsCode(err, CodeCannotDebitMoreThanAvailable), "%v", err)
}

// Bounded cycles: the third cycle is outside the policy.
func TestScenario_RecurringNumCycles(t *testing.T) {
	env := newTestEnv(t)
	env.initDelegate(t)
	env.initPreAuthorization(t, t0, RecurringParams{
		RepeatFrequencySeconds: 3, RecurringAmountAuthorized: 33_000_000, NumCycles: ptr(2), ResetEveryCycle: true,
	})

	_, err := env.debit(33_000_000)
	require.NoError(t, err)
	env.clock.Advance(3)
	_, err = env.debit(33_000_000)
	require.NoError(t, err)
	env.clock.Advance(3)
	_, err = env.debit(1)
	assert.True(t, IsCode(err, CodePreAuthorizationNotActive), "%v", err)
	assert.Equal(t, KindPolicyState, KindOf(err))
}

// Debit-authority close must refund the holder.
func TestScenario_CloseByDebitAuthority(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paAddr := env.initPreAuthorization(t, t0, OneTimeParams{AmountAuthorized: 10, ExpiryUnixTimestamp: t0 + 100}).Address

	req := ClosePreAuthorizationRequest{
		Authority: merchant, TokenAccount: aliceUSDC, DebitAuthority: merchant,
		Receiver: merchant, Signers: []address.Address{merchant},
	}
	_, err := env.d.ClosePreAuthorization(ctx, req)
	assert.True(t, IsCode(err, CodeOnlyTokenAccountOwnerCanReceiveClosePreAuthFunds), "%v", err)

	aliceBefore, err := env.ledger.Lamports(ctx, alice)
	require.NoError(t, err)

	req.Receiver = alice
	res, err := env.d.ClosePreAuthorization(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, EventOneTimePreAuthorizationClosed, res.Event.Kind)
	assert.Equal(t, paAddr, res.Address)

	aliceAfter, err := env.ledger.Lamports(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, aliceBefore+state.Deposit(state.PreAuthorizationSpace), aliceAfter)

	_, err = env.d.FindPreAuthorization(ctx, aliceUSDC, merchant)
	assert.True(t, IsCode(err, CodeAccountNotInitialized))
}

func TestClosePreAuthorization_Authority(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initPreAuthorization(t, t0, OneTimeParams{AmountAuthorized: 10, ExpiryUnixTimestamp: t0 + 100})

	_, err := env.d.ClosePreAuthorization(ctx, ClosePreAuthorizationRequest{
		Authority: mallory, TokenAccount: aliceUSDC, DebitAuthority: merchant,
		Receiver: alice, Signers: []address.Address{mallory},
	})
	assert.True(t, IsCode(err, CodePreAuthorizationCloseUnauthorized), "%v", err)

	// Named but not signed.
	_, err = env.d.ClosePreAuthorization(ctx, ClosePreAuthorizationRequest{
		Authority: alice, TokenAccount: aliceUSDC, DebitAuthority: merchant,
		Receiver: alice, Signers: []address.Address{mallory},
	})
	assert.True(t, IsCode(err, CodePreAuthorizationCloseUnauthorized), "%v", err)

	// The holder may send the deposit anywhere.
	res, err := env.d.ClosePreAuthorization(ctx, ClosePreAuthorizationRequest{
		Authority: alice, TokenAccount: aliceUSDC, DebitAuthority: merchant,
		Receiver: mallory, Signers: []address.Address{alice},
	})
	require.NoError(t, err)
	assert.Contains(t, string(res.Event.Payload), `"receiver":"`+mallory.String()+`"`)

	got, err := env.ledger.Lamports(ctx, mallory)
	require.NoError(t, err)
	assert.Equal(t, state.Deposit(state.PreAuthorizationSpace), got)
}

func TestClosePreAuthorization_RecreateStartsFresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initDelegate(t)
	params := OneTimeParams{AmountAuthorized: 10, ExpiryUnixTimestamp: t0 + 100}
	env.initPreAuthorization(t, t0, params)

	_, err := env.debit(10)
	require.NoError(t, err)

	_, err = env.d.ClosePreAuthorization(ctx, ClosePreAuthorizationRequest{
		Authority: alice, TokenAccount: aliceUSDC, DebitAuthority: merchant,
		Receiver: alice, Signers: []address.Address{alice},
	})
	require.NoError(t, err)

	env.initPreAuthorization(t, t0, params)
	assert.Equal(t, uint64(0), env.preAuthorization(t).Variant.(state.OneTime).AmountDebited)
	_, err = env.debit(10)
	require.NoError(t, err)
}

func TestSetPause(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initDelegate(t)
	env.initPreAuthorization(t, t0, OneTimeParams{AmountAuthorized: 10, ExpiryUnixTimestamp: t0 + 100})

	pause := func(holder address.Address, v bool) (Result, error) {
		return env.d.SetPause(ctx, SetPauseRequest{
			Holder: holder, TokenAccount: aliceUSDC, DebitAuthority: merchant,
			Pause: v, Signers: []address.Address{holder},
		})
	}

	_, err := pause(merchant, true)
	assert.True(t, IsCode(err, CodePausePreAuthorizationUnauthorized), "%v", err)

	for i := 0; i < 2; i++ {
		res, err := pause(alice, true)
		require.NoError(t, err)
		assert.Equal(t, EventPreAuthorizationPaused, res.Event.Kind)
		assert.True(t, env.preAuthorization(t).Paused)
	}

	_, err = env.debit(1)
	assert.True(t, IsCode(err, CodePreAuthorizationPaused), "%v", err)

	res, err := pause(alice, false)
	require.NoError(t, err)
	assert.Equal(t, EventPreAuthorizationUnpaused, res.Event.Kind)
	_, err = env.debit(1)
	require.NoError(t, err)
}

func TestDebit_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initDelegate(t)
	env.initPreAuthorization(t, t0, OneTimeParams{AmountAuthorized: 100, ExpiryUnixTimestamp: t0 + 100})

	tests := []struct {
		name   string
		modify func(*DebitRequest)
		want   Code
	}{
		{"not signed", func(r *DebitRequest) { r.Signers = nil }, CodeDebitUnauthorized},
		{"signed by another key", func(r *DebitRequest) { r.Signers = []address.Address{mallory} }, CodeDebitUnauthorized},
		{"unknown debit authority", func(r *DebitRequest) {
			r.DebitAuthority = mallory
			r.Signers = []address.Address{mallory}
		}, CodeAccountNotInitialized},
		{"explicit address mismatch", func(r *DebitRequest) { r.PreAuthorization = &mallory }, CodeSeedsConstraintViolated},
		{"explicit delegate mismatch", func(r *DebitRequest) { r.Delegate = &mallory }, CodeSeedsConstraintViolated},
		{"destination mint", func(r *DebitRequest) { r.Destination = merchantEURC }, CodeMintMismatch},
		{"requested mint", func(r *DebitRequest) { r.Mint = eurc }, CodeMintMismatch},
		{"missing destination", func(r *DebitRequest) { r.Destination = mallory }, CodeAccountNotInitialized},
		{"too much", func(r *DebitRequest) { r.Amount = 101 }, CodeCannotDebitMoreThanAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := debitRequest(10)
			tt.modify(&req)
			_, err := env.d.Debit(ctx, req)
			assert.Equal(t, tt.want, CodeOf(err), "%v", err)
		})
	}

	assert.Equal(t, uint64(0), env.preAuthorization(t).Variant.(state.OneTime).AmountDebited)
}

func TestDebit_DelegateReplacedOnLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initDelegate(t)
	env.initPreAuthorization(t, t0, OneTimeParams{AmountAuthorized: 100, ExpiryUnixTimestamp: t0 + 100})

	require.NoError(t, env.ledger.Execute(ctx, ledger.Approve{
		Source: aliceUSDC, Delegate: mallory, Owner: alice, Amount: ledger.Unlimited,
	}))

	_, err := env.debit(10)
	assert.True(t, IsCode(err, CodeSmartDelegateMismatch), "%v", err)

	maxAmount, err := env.d.MaxDebitAmount(ctx, aliceUSDC, merchant)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), maxAmount)
}

func TestDebit_WithoutDelegate(t *testing.T) {
	env := newTestEnv(t)
	env.initPreAuthorization(t, t0, OneTimeParams{AmountAuthorized: 100, ExpiryUnixTimestamp: t0 + 100})

	_, err := env.debit(10)
	assert.True(t, IsCode(err, CodeAccountNotInitialized), "%v", err)
}

func TestDebit_InsufficientBalanceLeavesRecord(t *testing.T) {
	env := newTestEnv(t)
	env.initDelegate(t)
	env.initPreAuthorization(t, t0, OneTimeParams{AmountAuthorized: 5_000_000_000, ExpiryUnixTimestamp: t0 + 100})

	_, err := env.debit(2_000_000_000)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Empty(t, CodeOf(err))
	assert.Equal(t, uint64(0), env.preAuthorization(t).Variant.(state.OneTime).AmountDebited)
}

func TestDebit_ZeroAmount(t *testing.T) {
	env := newTestEnv(t)
	env.initDelegate(t)
	env.initPreAuthorization(t, t0, OneTimeParams{AmountAuthorized: 100, ExpiryUnixTimestamp: t0 + 100})

	res, err := env.debit(0)
	require.NoError(t, err)
	assert.Contains(t, string(res.Event.Payload), `"one_time":{"debit_amount":0}`)
	assert.Equal(t, uint64(0), env.preAuthorization(t).Variant.(state.OneTime).AmountDebited)
}

func TestDebit_EventPayload(t *testing.T) {
	env := newTestEnv(t)
	del := env.initDelegate(t).Address
	paAddr := env.initPreAuthorization(t, t0, OneTimeParams{AmountAuthorized: 100, ExpiryUnixTimestamp: t0 + 100}).Address

	res, err := env.debit(7)
	require.NoError(t, err)
	assert.Equal(t, paAddr, res.Event.Address)
	assert.JSONEq(t, `{
		"debit_authority": "`+merchant.String()+`",
		"debit_variant": {"one_time": {"debit_amount": 7}},
		"destination_token_account": "`+merchantUSDC.String()+`",
		"destination_token_account_owner": "`+merchant.String()+`",
		"mint": "`+usdc.String()+`",
		"pre_authorization": "`+paAddr.String()+`",
		"smart_delegate": "`+del.String()+`",
		"source_token_account": "`+aliceUSDC.String()+`",
		"source_token_account_owner": "`+alice.String()+`"
	}`, string(res.Event.Payload))
	assert.Len(t, res.Event.ID, 64)
}

func TestCheckDebitAndMaxDebitAmount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initDelegate(t)
	env.initPreAuthorization(t, t0, RecurringParams{
		RepeatFrequencySeconds: 10, RecurringAmountAuthorized: 400_000_000,
	})
	env.clock.Advance(25)

	check, err := env.d.CheckDebit(ctx, debitRequest(1_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), check.Cycle)
	assert.Equal(t, uint64(1_200_000_000), check.Available)

	_, err = env.d.CheckDebit(ctx, debitRequest(1_300_000_000))
	assert.True(t, IsCode(err, CodeCannotDebitMoreThanAvailable), "%v", err)

	_, err = env.d.CheckDebit(ctx, debitRequest(1_100_000_000))
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	maxAmount, err := env.d.MaxDebitAmount(ctx, aliceUSDC, merchant)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), maxAmount, "capped by the source balance")

	events, err := env.d.Events(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2, "dry runs do not log events")
}

func TestListPreAuthorizations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initPreAuthorization(t, t0, OneTimeParams{AmountAuthorized: 1, ExpiryUnixTimestamp: t0 + 1})

	req := initRequest(t0, RecurringParams{RepeatFrequencySeconds: 1, RecurringAmountAuthorized: 1})
	req.DebitAuthority = mallory
	_, err := env.d.InitPreAuthorization(ctx, req)
	require.NoError(t, err)

	all, err := env.d.ListPreAuthorizations(ctx, store.Filter{TokenAccount: &aliceUSDC})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Negative(t, all[0].Address.Compare(all[1].Address))

	recurringOnly, err := env.d.ListPreAuthorizations(ctx, store.Filter{TokenAccount: &aliceUSDC, Variant: state.VariantRecurring})
	require.NoError(t, err)
	require.Len(t, recurringOnly, 1)
	assert.Equal(t, mallory, recurringOnly[0].PreAuthorization.DebitAuthority)

	byAuthority, err := env.d.ListPreAuthorizations(ctx, store.Filter{DebitAuthority: &merchant})
	require.NoError(t, err)
	require.Len(t, byAuthority, 1)
}

func TestEvents_Ordered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initDelegate(t)
	paAddr := env.initPreAuthorization(t, t0, OneTimeParams{AmountAuthorized: 100, ExpiryUnixTimestamp: t0 + 100}).Address
	_, err := env.debit(1)
	require.NoError(t, err)

	events, err := env.d.Events(ctx, 0, 10)
	require.NoError(t, err)
	kinds := make([]string, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
		assert.Equal(t, int64(i+1), e.Seq)
	}
	assert.Equal(t, []string{EventSmartDelegateInitialized, EventOneTimePreAuthorizationCreated, EventDebit}, kinds)

	forPA, err := env.d.EventsFor(ctx, paAddr)
	require.NoError(t, err)
	assert.Len(t, forPA, 2)

	after, err := env.d.Events(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, EventDebit, after[0].Kind)
}

func TestDebit_ConcurrentCannotOverdraw(t *testing.T) {
	env := newTestEnv(t)
	env.initDelegate(t)
	env.initPreAuthorization(t, t0, OneTimeParams{AmountAuthorized: 100, ExpiryUnixTimestamp: t0 + 3600})

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		errs      = make(chan error, 20)
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.debit(10); err != nil {
				errs <- err
				return
			}
			succeeded.Add(1)
		}()
	}
	wg.Wait()
	close(errs)

	assert.Equal(t, int32(10), succeeded.Load())
	for err := range errs {
		assert.True(t, IsCode(err, CodeCannotDebitMoreThanAvailable), "%v", err)
	}
	assert.Equal(t, uint64(100), env.balance(t, merchantUSDC))
	assert.Equal(t, uint64(100), env.preAuthorization(t).Variant.(state.OneTime).AmountDebited)
}

func TestClose_ZeroReceiver(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.initDelegate(t)
	env.initPreAuthorization(t, t0, OneTimeParams{AmountAuthorized: 10, ExpiryUnixTimestamp: t0 + 100})

	_, err := env.d.ClosePreAuthorization(ctx, ClosePreAuthorizationRequest{
		Authority: alice, TokenAccount: aliceUSDC, DebitAuthority: merchant,
		Signers: []address.Address{alice},
	})
	assert.True(t, IsCode(err, CodeInvalidReceiver), "%v", err)
	assert.Equal(t, KindInput, KindOf(err))

	_, err = env.d.CloseDelegate(ctx, CloseDelegateRequest{
		Holder: alice, TokenAccount: aliceUSDC, Signers: []address.Address{alice},
	})
	assert.True(t, IsCode(err, CodeInvalidReceiver), "%v", err)

	// Both records and their deposits are untouched.
	_, err = env.d.GetDelegate(ctx, aliceUSDC)
	require.NoError(t, err)
	env.preAuthorization(t)

	var zero address.Address
	held, err := env.ledger.Lamports(ctx, zero)
	require.NoError(t, err)
	assert.Zero(t, held)
}
