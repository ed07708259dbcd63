package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/roach88/preauth/internal/address"
	"github.com/roach88/preauth/internal/engine"
	"github.com/roach88/preauth/internal/state"
	"github.com/roach88/preauth/internal/store"
)

// maxEventLimit caps GET /v1/events?limit.
const maxEventLimit = 1000

func (s *Server) initDelegate(c *gin.Context) {
	var body InitDelegateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.sendBadRequest(c, err)
		return
	}

	res, err := s.d.InitDelegate(c.Request.Context(), engine.InitDelegateRequest{
		Payer:        body.Payer,
		Holder:       body.Holder,
		TokenAccount: body.TokenAccount,
		Delegate:     body.SmartDelegate,
		Signers:      body.Signers,
	})
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) getDelegate(c *gin.Context) {
	ta, ok := s.pathAddress(c, "token_account")
	if !ok {
		return
	}
	entry, err := s.d.GetDelegate(c.Request.Context(), ta)
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewDelegateView(entry))
}

func (s *Server) closeDelegate(c *gin.Context) {
	ta, ok := s.pathAddress(c, "token_account")
	if !ok {
		return
	}
	var body CloseDelegateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.sendBadRequest(c, err)
		return
	}

	res, err := s.d.CloseDelegate(c.Request.Context(), engine.CloseDelegateRequest{
		Holder:       body.Holder,
		TokenAccount: ta,
		Receiver:     body.Receiver,
		Delegate:     body.SmartDelegate,
		Signers:      body.Signers,
	})
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) initPreAuthorization(c *gin.Context) {
	var body InitPreAuthorizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.sendBadRequest(c, err)
		return
	}
	req, err := body.toEngine()
	if err != nil {
		if engine.CodeOf(err) == "" {
			s.sendBadRequest(c, err)
			return
		}
		s.sendError(c, err)
		return
	}

	res, err := s.d.InitPreAuthorization(c.Request.Context(), req)
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) listPreAuthorizations(c *gin.Context) {
	var f store.Filter
	for _, q := range []struct {
		name string
		dst  **address.Address
	}{
		{"token_account", &f.TokenAccount},
		{"debit_authority", &f.DebitAuthority},
	} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		a, err := address.Parse(raw)
		if err != nil {
			s.sendBadRequest(c, fmt.Errorf("%s: %w", q.name, err))
			return
		}
		*q.dst = &a
	}
	switch v := c.Query("variant"); v {
	case "", state.VariantOneTime, state.VariantRecurring:
		f.Variant = v
	default:
		s.sendBadRequest(c, fmt.Errorf("variant must be %s or %s, got %q", state.VariantOneTime, state.VariantRecurring, v))
		return
	}
	if raw := c.Query("paused"); raw != "" {
		paused, err := strconv.ParseBool(raw)
		if err != nil {
			s.sendBadRequest(c, fmt.Errorf("paused: %w", err))
			return
		}
		f.Paused = &paused
	}

	entries, err := s.d.ListPreAuthorizations(c.Request.Context(), f)
	if err != nil {
		s.sendError(c, err)
		return
	}
	views := make([]PreAuthorizationView, len(entries))
	for i, e := range entries {
		views[i] = NewPreAuthorizationView(e)
	}
	c.JSON(http.StatusOK, newList(views))
}

func (s *Server) getPreAuthorization(c *gin.Context) {
	entry, ok := s.loadPreAuthorization(c)
	if !ok {
		return
	}
	view := NewPreAuthorizationView(entry)
	available, err := engine.Available(entry.PreAuthorization, s.d.Now())
	if err != nil {
		s.sendError(c, err)
		return
	}
	view.Available = &available
	c.JSON(http.StatusOK, view)
}

func (s *Server) debit(c *gin.Context) {
	entry, ok := s.loadPreAuthorization(c)
	if !ok {
		return
	}
	var body DebitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.sendBadRequest(c, err)
		return
	}

	res, err := s.d.Debit(c.Request.Context(), body.toEngine(entry))
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) checkDebit(c *gin.Context) {
	entry, ok := s.loadPreAuthorization(c)
	if !ok {
		return
	}
	var body DebitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.sendBadRequest(c, err)
		return
	}

	check, err := s.d.CheckDebit(c.Request.Context(), body.toEngine(entry))
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (s *Server) maxDebit(c *gin.Context) {
	entry, ok := s.loadPreAuthorization(c)
	if !ok {
		return
	}
	pa := entry.PreAuthorization
	amount, err := s.d.MaxDebitAmount(c.Request.Context(), pa.TokenAccount, pa.DebitAuthority)
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, MaxDebitResponse{PreAuthorization: entry.Address, Amount: amount})
}

func (s *Server) setPause(c *gin.Context) {
	entry, ok := s.loadPreAuthorization(c)
	if !ok {
		return
	}
	var body SetPauseRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.sendBadRequest(c, err)
		return
	}

	pa := entry.PreAuthorization
	res, err := s.d.SetPause(c.Request.Context(), engine.SetPauseRequest{
		Holder:           body.Holder,
		TokenAccount:     orDefault(body.TokenAccount, pa.TokenAccount),
		DebitAuthority:   orDefault(body.DebitAuthority, pa.DebitAuthority),
		Pause:            body.Pause,
		PreAuthorization: &entry.Address,
		Signers:          body.Signers,
	})
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) closePreAuthorization(c *gin.Context) {
	entry, ok := s.loadPreAuthorization(c)
	if !ok {
		return
	}
	var body ClosePreAuthorizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.sendBadRequest(c, err)
		return
	}

	pa := entry.PreAuthorization
	res, err := s.d.ClosePreAuthorization(c.Request.Context(), engine.ClosePreAuthorizationRequest{
		Authority:        body.Authority,
		TokenAccount:     orDefault(body.TokenAccount, pa.TokenAccount),
		DebitAuthority:   orDefault(body.DebitAuthority, pa.DebitAuthority),
		Receiver:         body.Receiver,
		PreAuthorization: &entry.Address,
		Signers:          body.Signers,
	})
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listEvents(c *gin.Context) {
	if raw := c.Query("address"); raw != "" {
		addr, err := address.Parse(raw)
		if err != nil {
			s.sendBadRequest(c, fmt.Errorf("address: %w", err))
			return
		}
		events, err := s.d.EventsFor(c.Request.Context(), addr)
		if err != nil {
			s.sendError(c, err)
			return
		}
		c.JSON(http.StatusOK, newList(events))
		return
	}

	after, err := queryInt(c, "after", 0)
	if err != nil {
		s.sendBadRequest(c, err)
		return
	}
	limit, err := queryInt(c, "limit", store.DefaultEventLimit)
	if err != nil {
		s.sendBadRequest(c, err)
		return
	}
	if limit <= 0 || limit > maxEventLimit {
		s.sendBadRequest(c, fmt.Errorf("limit must be between 1 and %d", maxEventLimit))
		return
	}

	events, err := s.d.Events(c.Request.Context(), after, int(limit))
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, newList(events))
}

// loadPreAuthorization resolves the :address path parameter to a stored
// record, writing the error response itself when it cannot.
func (s *Server) loadPreAuthorization(c *gin.Context) (store.PreAuthorizationEntry, bool) {
	addr, ok := s.pathAddress(c, "address")
	if !ok {
		return store.PreAuthorizationEntry{}, false
	}
	entry, err := s.d.GetPreAuthorization(c.Request.Context(), addr)
	if err != nil {
		s.sendError(c, err)
		return store.PreAuthorizationEntry{}, false
	}
	return entry, true
}

func (s *Server) pathAddress(c *gin.Context, name string) (address.Address, bool) {
	addr, err := address.Parse(c.Param(name))
	if err != nil {
		s.sendBadRequest(c, fmt.Errorf("%s: %w", name, err))
		return address.Address{}, false
	}
	return addr, true
}

func queryInt(c *gin.Context, name string, def int64) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}
