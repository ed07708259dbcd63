package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roach88/preauth/internal/engine"
	"github.com/roach88/preauth/internal/ledger"
)

// Error codes for failures that are not program errors.
const (
	CodeInvalidRequest    = "InvalidRequest"
	CodeInsufficientFunds = "InsufficientFunds"
	CodeInternal          = "InternalError"
)

// ErrorBody is the payload of every non-2xx response.
type ErrorBody struct {
	Code    string            `json:"code"`
	Number  uint32            `json:"number,omitempty"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ErrorResponse wraps ErrorBody.
type ErrorResponse struct {
	Error         ErrorBody `json:"error"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// statusFor maps a program error kind to an HTTP status.
func statusFor(pe *engine.ProgramError) int {
	switch pe.Kind {
	case engine.KindAuthorization:
		return http.StatusForbidden
	case engine.KindPolicyState:
		return http.StatusConflict
	case engine.KindAccounting:
		return http.StatusUnprocessableEntity
	case engine.KindStructural:
		if pe.Code == engine.CodeAccountNotInitialized {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case engine.KindInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// sendError logs err and writes the matching error response.
func (s *Server) sendError(c *gin.Context, err error) {
	status, body := classify(err)

	log := s.log.With(
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.String("correlation_id", GetCorrelationID(c)),
		zap.String("code", body.Code),
		zap.Error(err),
	)
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
	} else {
		log.Info("request rejected")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: body, CorrelationID: GetCorrelationID(c)})
}

// sendBadRequest rejects malformed input before it reaches the dispatcher.
func (s *Server) sendBadRequest(c *gin.Context, err error) {
	s.log.Info("invalid request",
		zap.String("path", c.Request.URL.Path),
		zap.String("correlation_id", GetCorrelationID(c)),
		zap.Error(err),
	)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:         ErrorBody{Code: CodeInvalidRequest, Message: err.Error()},
		CorrelationID: GetCorrelationID(c),
	})
}

func classify(err error) (int, ErrorBody) {
	var pe *engine.ProgramError
	if errors.As(err, &pe) {
		return statusFor(pe), ErrorBody{
			Code:    string(pe.Code),
			Number:  pe.Code.Number(),
			Message: pe.Message,
			Details: pe.Details,
		}
	}
	if errors.Is(err, engine.ErrMissingVariant) {
		return http.StatusBadRequest, ErrorBody{Code: CodeInvalidRequest, Message: err.Error()}
	}
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return http.StatusUnprocessableEntity, ErrorBody{Code: CodeInsufficientFunds, Message: err.Error()}
	}
	return http.StatusInternalServerError, ErrorBody{Code: CodeInternal, Message: "internal error"}
}
