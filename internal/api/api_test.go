package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/engine"
	"github.com/roach88/preauth/internal/ledger"
	"github.com/roach88/preauth/internal/store"
	"github.com/roach88/preauth/internal/testutil"
)

const t0 = int64(1_700_000_000)

var (
	alice        = testutil.Named("alice")
	merchant     = testutil.Named("merchant")
	mallory      = testutil.Named("mallory")
	usdc         = testutil.Named("usdc")
	aliceUSDC    = testutil.Named("alice-usdc")
	merchantUSDC = testutil.Named("merchant-usdc")
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	*Server
	ledger *ledger.Memory
	clock  *testutil.ManualClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	l := ledger.NewMemory()
	l.PutMint(ledger.Mint{Address: usdc, Decimals: 6})
	l.PutTokenAccount(ledger.TokenAccount{Address: aliceUSDC, Owner: alice, Mint: usdc, Amount: 1_000_000_000})
	l.PutTokenAccount(ledger.TokenAccount{Address: merchantUSDC, Owner: merchant, Mint: usdc})
	l.SetLamports(alice, 1_000_000_000)
	l.SetLamports(merchant, 1_000_000_000)

	clock := testutil.NewManualClock(t0)
	d := engine.New(st, l,
		engine.WithClock(clock),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator("api")),
	)
	return &testServer{Server: New(d, zap.NewNop()), ledger: l, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func signers(a ...address.Address) []address.Address { return a }

func (s *testServer) initDelegate(t *testing.T) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/delegates", gin.H{
		"payer":         alice,
		"holder":        alice,
		"token_account": aliceUSDC,
		"signers":       signers(alice),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (s *testServer) initOneTime(t *testing.T, amount uint64) address.Address {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/pre-authorizations", gin.H{
		"payer":                     alice,
		"holder":                    alice,
		"token_account":             aliceUSDC,
		"debit_authority":           merchant,
		"activation_unix_timestamp": t0 - 60,
		"one_time": gin.H{
			"amount_authorized":     amount,
			"expiry_unix_timestamp": t0 + 86_400,
		},
		"signers": signers(alice),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[engine.Result](t, w).Address
}

func debitBody(amount uint64) gin.H {
	return gin.H{
		"destination_token_account": merchantUSDC,
		"amount":                    amount,
		"signers":                   signers(merchant),
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, w.Header().Get(CorrelationIDHeader))
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(CorrelationIDHeader, "req-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(CorrelationIDHeader))
}

func TestDelegateLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.initDelegate(t)

	w := s.do(t, http.MethodGet, "/v1/delegates/"+aliceUSDC.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[DelegateView](t, w)
	assert.Equal(t, aliceUSDC, view.TokenAccount)

	acct, err := s.ledger.TokenAccount(t.Context(), aliceUSDC)
	require.NoError(t, err)
	assert.True(t, acct.DelegateIs(view.Address))

	w = s.do(t, http.MethodPost, "/v1/delegates", gin.H{
		"payer":         alice,
		"holder":        alice,
		"token_account": aliceUSDC,
		"signers":       signers(alice),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(engine.CodeAccountAlreadyInitialized), decode[ErrorResponse](t, w).Error.Code)

	w = s.do(t, http.MethodDelete, "/v1/delegates/"+aliceUSDC.String(), gin.H{
		"holder":   mallory,
		"receiver": mallory,
		"signers":  signers(mallory),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, "/v1/delegates/"+aliceUSDC.String(), gin.H{
		"holder":   alice,
		"receiver": alice,
		"signers":  signers(alice),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "SmartDelegateClosed", decode[engine.Result](t, w).Event.Kind)

	w = s.do(t, http.MethodGet, "/v1/delegates/"+aliceUSDC.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreAuthorizationFlow(t *testing.T) {
	s := newTestServer(t)
	s.initDelegate(t)
	pa := s.initOneTime(t, 100_000_000)
	base := "/v1/pre-authorizations/" + pa.String()

	w := s.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[PreAuthorizationView](t, w)
	assert.Equal(t, "one_time", view.Variant)
	assert.Equal(t, merchant, view.DebitAuthority)
	require.NotNil(t, view.Available)
	assert.Equal(t, uint64(100_000_000), *view.Available)

	w = s.do(t, http.MethodPost, base+"/debit", debitBody(25_000_000))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Debit", decode[engine.Result](t, w).Event.Kind)

	w = s.do(t, http.MethodPost, base+"/check-debit", debitBody(75_000_000))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, uint64(75_000_000), decode[engine.DebitCheck](t, w).Available)

	w = s.do(t, http.MethodPost, base+"/check-debit", debitBody(75_000_001))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	errBody := decode[ErrorResponse](t, w).Error
	assert.Equal(t, string(engine.CodeCannotDebitMoreThanAvailable), errBody.Code)
	assert.Equal(t, uint32(6001), errBody.Number)

	w = s.do(t, http.MethodGet, base+"/max-debit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MaxDebitResponse{PreAuthorization: pa, Amount: 75_000_000}, decode[MaxDebitResponse](t, w))

	w = s.do(t, http.MethodPut, base+"/pause", gin.H{"holder": alice, "pause": true, "signers": signers(alice)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "PreAuthorizationPaused", decode[engine.Result](t, w).Event.Kind)

	w = s.do(t, http.MethodPost, base+"/debit", debitBody(1))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(engine.CodePreAuthorizationPaused), decode[ErrorResponse](t, w).Error.Code)

	w = s.do(t, http.MethodGet, "/v1/pre-authorizations?token_account="+aliceUSDC.String()+"&paused=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ListResponse[PreAuthorizationView]](t, w)
	require.Len(t, list.Data, 1)
	assert.Equal(t, pa, list.Data[0].Address)
	require.NotNil(t, list.Data[0].OneTime)
	assert.Equal(t, uint64(25_000_000), list.Data[0].OneTime.AmountDebited)

	w = s.do(t, http.MethodGet, "/v1/pre-authorizations?variant=recurring", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[ListResponse[PreAuthorizationView]](t, w).Data)

	w = s.do(t, http.MethodDelete, base, gin.H{
		"authority": merchant,
		"receiver":  alice,
		"signers":   signers(merchant),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "OneTimePreAuthorizationClosed", decode[engine.Result](t, w).Event.Kind)

	w = s.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/v1/events?after=0&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode[ListResponse[store.Event]](t, w).Data
	kinds := make([]string, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []string{
		"SmartDelegateInitialized",
		"OneTimePreAuthorizationCreated",
		"Debit",
		"PreAuthorizationPaused",
		"OneTimePreAuthorizationClosed",
	}, kinds)

	w = s.do(t, http.MethodGet, "/v1/events?address="+pa.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[ListResponse[store.Event]](t, w).Data, 4)
}

func TestDebitAuthorization(t *testing.T) {
	s := newTestServer(t)
	s.initDelegate(t)
	pa := s.initOneTime(t, 10)

	body := debitBody(1)
	body["signers"] = signers(mallory)
	w := s.do(t, http.MethodPost, "/v1/pre-authorizations/"+pa.String()+"/debit", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, string(engine.CodeDebitUnauthorized), decode[ErrorResponse](t, w).Error.Code)
}

func TestInitPreAuthorizationValidation(t *testing.T) {
	s := newTestServer(t)

	base := func() gin.H {
		return gin.H{
			"payer":                     alice,
			"holder":                    alice,
			"token_account":             aliceUSDC,
			"debit_authority":           merchant,
			"activation_unix_timestamp": t0,
			"signers":                   signers(alice),
		}
	}

	tests := []struct {
		name     string
		mutate   func(gin.H)
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing variant",
			mutate:   func(gin.H) {},
			wantCode: http.StatusBadRequest,
			wantErr:  CodeInvalidRequest,
		},
		{
			name: "both variants",
			mutate: func(b gin.H) {
				b["one_time"] = gin.H{"amount_authorized": 1, "expiry_unix_timestamp": t0 + 1}
				b["recurring"] = gin.H{"repeat_frequency_seconds": 1, "recurring_amount_authorized": 1}
			},
			wantCode: http.StatusBadRequest,
			wantErr:  CodeInvalidRequest,
		},
		{
			name: "activation out of range",
			mutate: func(b gin.H) {
				b["activation_unix_timestamp"] = json.Number("9223372036854775808")
				b["one_time"] = gin.H{"amount_authorized": 1, "expiry_unix_timestamp": t0 + 1}
			},
			wantCode: http.StatusBadRequest,
			wantErr:  string(engine.CodeInvalidTimestamp),
		},
		{
			name: "expiry not an integer",
			mutate: func(b gin.H) {
				b["one_time"] = gin.H{"amount_authorized": 1, "expiry_unix_timestamp": 1.5}
			},
			wantCode: http.StatusBadRequest,
			wantErr:  string(engine.CodeInvalidTimestamp),
		},
		{
			name: "zero repeat frequency",
			mutate: func(b gin.H) {
				b["recurring"] = gin.H{"repeat_frequency_seconds": 0, "recurring_amount_authorized": 1}
			},
			wantCode: http.StatusBadRequest,
			wantErr:  string(engine.CodeInvalidRepeatFrequency),
		},
		{
			name: "holder did not sign",
			mutate: func(b gin.H) {
				b["signers"] = signers(merchant)
				b["one_time"] = gin.H{"amount_authorized": 1, "expiry_unix_timestamp": t0 + 1}
			},
			wantCode: http.StatusForbidden,
		},
		{
			name: "unparsable address",
			mutate: func(b gin.H) {
				b["token_account"] = "0OIl"
			},
			wantCode: http.StatusBadRequest,
			wantErr:  CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := base()
			tt.mutate(body)
			w := s.do(t, http.MethodPost, "/v1/pre-authorizations", body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decode[ErrorResponse](t, w).Error.Code)
			}
		})
	}
}

func TestPathAndQueryValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
	}{
		{"bad pre-authorization address", http.MethodGet, "/v1/pre-authorizations/not-base58!", http.StatusBadRequest},
		{"unknown pre-authorization", http.MethodGet, "/v1/pre-authorizations/" + mallory.String(), http.StatusNotFound},
		{"bad variant", http.MethodGet, "/v1/pre-authorizations?variant=weekly", http.StatusBadRequest},
		{"bad paused", http.MethodGet, "/v1/pre-authorizations?paused=maybe", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/v1/events?limit=0", http.StatusBadRequest},
		{"limit too large", http.MethodGet, "/v1/events?limit=5000", http.StatusBadRequest},
		{"bad after", http.MethodGet, "/v1/events?after=x", http.StatusBadRequest},
		{"empty events", http.MethodGet, "/v1/events", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, nil)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"authorization", engine.NewError(engine.CodeDebitUnauthorized), http.StatusForbidden, "DebitUnauthorized"},
		{"policy state", engine.NewError(engine.CodePreAuthorizationNotActive), http.StatusConflict, "PreAuthorizationNotActive"},
		{"accounting", engine.NewError(engine.CodeCannotDebitMoreThanAvailable), http.StatusUnprocessableEntity, "CannotDebitMoreThanAvailable"},
		{"structural", engine.NewError(engine.CodeMintMismatch), http.StatusBadRequest, "MintMismatch"},
		{"not initialized", engine.NewError(engine.CodeAccountNotInitialized), http.StatusNotFound, "AccountNotInitialized"},
		{"input", engine.NewError(engine.CodeInvalidTimestamp), http.StatusBadRequest, "InvalidTimestamp"},
		{"internal", engine.NewError(engine.CodeArithmeticOverflow), http.StatusInternalServerError, "ArithmeticOverflow"},
		{"ledger funds", &ledger.InstructionError{Index: 0, Instruction: "transfer_checked", Err: ledger.ErrInsufficientFunds}, http.StatusUnprocessableEntity, CodeInsufficientFunds},
		{"other", assert.AnError, http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body.Code)
		})
	}
}
