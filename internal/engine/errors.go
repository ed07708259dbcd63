package engine

import (
	"errors"
	"fmt"
)

// ProgramError is a typed rejection of an operation.
//
// Every business-rule failure surfaces as a *ProgramError; infrastructure
// failures (store, ledger I/O) are wrapped plain errors and never carry a
// Code. ProgramError includes structured fields for diagnostics.
type ProgramError struct {
	// Code identifies the rule that rejected the operation.
	Code Code

	// Kind groups codes by how callers should react.
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string
}

// Code is a stable program error identifier.
type Code string

// Kind categorizes program errors.
type Kind string

const (
	// KindAuthorization: caller identity fails the operation's signer rule.
	KindAuthorization Kind = "authorization"

	// KindPolicyState: the record is fine but a time or pause gate is closed.
	// Retrying later may succeed.
	KindPolicyState Kind = "policy_state"

	// KindAccounting: the requested amount exceeds what is available.
	KindAccounting Kind = "accounting"

	// KindStructural: inconsistent identifiers or missing records.
	KindStructural Kind = "structural"

	// KindInternal: corrupted state or a clock regression. Fatal.
	KindInternal Kind = "internal"

	// KindInput: malformed input rejected before any state is read.
	KindInput Kind = "input"
)

const (
	CodePreAuthorizationNotActive                        Code = "PreAuthorizationNotActive"
	CodeCannotDebitMoreThanAvailable                     Code = "CannotDebitMoreThanAvailable"
	CodeLastDebitedCycleBeforeCurrentCycle               Code = "LastDebitedCycleBeforeCurrentCycle"
	CodeInvalidTimestamp                                 Code = "InvalidTimestamp"
	CodePreAuthorizationPaused                           Code = "PreAuthorizationPaused"
	CodeOnlyTokenAccountOwnerCanReceiveClosePreAuthFunds Code = "OnlyTokenAccountOwnerCanReceiveClosePreAuthFunds"
	CodePreAuthorizationTokenAccountMismatch             Code = "PreAuthorizationTokenAccountMismatch"
	CodePreAuthorizationCloseUnauthorized                Code = "PreAuthorizationCloseUnauthorized"
	CodeSmartDelegateCloseUnauthorized                   Code = "SmartDelegateCloseUnauthorized"
	CodePausePreAuthorizationUnauthorized                Code = "PausePreAuthorizationUnauthorized"
	CodeDebitUnauthorized                                Code = "DebitUnauthorized"
	CodeInitPreAuthorizationUnauthorized                 Code = "InitPreAuthorizationUnauthorized"
	CodeInitSmartDelegateUnauthorized                    Code = "InitSmartDelegateUnauthorized"
	CodeInvalidRepeatFrequency                           Code = "InvalidRepeatFrequency"
	CodeArithmeticOverflow                               Code = "ArithmeticOverflow"
	CodeAccountNotInitialized                            Code = "AccountNotInitialized"
	CodeAccountAlreadyInitialized                        Code = "AccountAlreadyInitialized"
	CodeSeedsConstraintViolated                          Code = "SeedsConstraintViolated"
	CodeMintMismatch                                     Code = "MintMismatch"
	CodeSmartDelegateMismatch                            Code = "SmartDelegateMismatch"
	CodeMissingRequiredSignature                         Code = "MissingRequiredSignature"
	CodeInvalidVariant                                   Code = "InvalidVariant"
	CodeInvalidReceiver                                  Code = "InvalidReceiver"
)

type codeInfo struct {
	number  uint32
	kind    Kind
	message string
}

// Numbers 6000-6012 are the on-chain program's custom error numbers.
var codes = map[Code]codeInfo{
	CodePreAuthorizationNotActive:                        {6000, KindPolicyState, "pre-authorization not active"},
	CodeCannotDebitMoreThanAvailable:                     {6001, KindAccounting, "cannot debit more than authorized"},
	CodeLastDebitedCycleBeforeCurrentCycle:               {6002, KindInternal, "last debited cycle is after current cycle (invalid state)"},
	CodeInvalidTimestamp:                                 {6003, KindInput, "invalid timestamp value provided"},
	CodePreAuthorizationPaused:                           {6004, KindPolicyState, "pre-authorization paused"},
	CodeOnlyTokenAccountOwnerCanReceiveClosePreAuthFunds: {6005, KindAuthorization, "only token account owner can receive funds from closing pre-authorization"},
	CodePreAuthorizationTokenAccountMismatch:             {6006, KindStructural, "pre-authorization and token account mismatch"},
	CodePreAuthorizationCloseUnauthorized:                {6007, KindAuthorization, "pre-authorization can only be closed by debit authority or token account owner"},
	CodeSmartDelegateCloseUnauthorized:                   {6008, KindAuthorization, "smart delegate can only be closed by token account owner"},
	CodePausePreAuthorizationUnauthorized:                {6009, KindAuthorization, "only token account owner can pause a pre-authorization"},
	CodeDebitUnauthorized:                                {6010, KindAuthorization, "only the pre-authorization's debit authority can debit"},
	CodeInitPreAuthorizationUnauthorized:                 {6011, KindAuthorization, "only token account owner can initialize a pre-authorization"},
	CodeInitSmartDelegateUnauthorized:                    {6012, KindAuthorization, "only token account owner can initialize a smart delegate"},
	CodeInvalidRepeatFrequency:                           {6013, KindInput, "repeat frequency must be greater than zero"},
	CodeArithmeticOverflow:                               {6014, KindInternal, "arithmetic overflow"},
	CodeAccountNotInitialized:                            {6015, KindStructural, "account not initialized"},
	CodeAccountAlreadyInitialized:                        {6016, KindStructural, "account already initialized"},
	CodeSeedsConstraintViolated:                          {6017, KindStructural, "address does not match canonical derivation"},
	CodeMintMismatch:                                     {6018, KindStructural, "mint mismatch"},
	CodeSmartDelegateMismatch:                            {6019, KindStructural, "token account delegate is not this program's smart delegate"},
	CodeMissingRequiredSignature:                         {6020, KindAuthorization, "missing required signature"},
	CodeInvalidVariant:                                   {6021, KindInternal, "pre-authorization variant is invalid (invalid state)"},
	CodeInvalidReceiver:                                  {6022, KindInput, "close receiver must be a non-zero address"},
}

// Number returns the numeric program error code, or 0 for an unknown code.
func (c Code) Number() uint32 {
	return codes[c].number
}

// Kind returns the code's category.
func (c Code) Kind() Kind {
	return codes[c].kind
}

// Codes returns every defined code in numeric order.
func Codes() []Code {
	out := make([]Code, len(codes))
	for c, info := range codes {
		out[info.number-6000] = c
	}
	return out
}

// Error implements the error interface.
func (e *ProgramError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Code.Number(), e.Message)
}

// Is reports whether target is a *ProgramError with the same Code, so
// errors.Is(err, NewError(CodeX)) matches regardless of message.
func (e *ProgramError) Is(target error) bool {
	var pe *ProgramError
	if errors.As(target, &pe) {
		return pe.Code == e.Code
	}
	return false
}

// NewError creates a ProgramError with the code's default message.
func NewError(code Code) *ProgramError {
	info := codes[code]
	return &ProgramError{Code: code, Kind: info.kind, Message: info.message}
}

// Errorf creates a ProgramError with a formatted message.
func Errorf(code Code, format string, args ...any) *ProgramError {
	e := NewError(code)
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// WithDetail adds a key/value to Details and returns e.
func (e *ProgramError) WithDetail(key, value string) *ProgramError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the Code carried by err, or "" if err is not a program error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) Code {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// KindOf returns the Kind carried by err, or "" if err is not a program error.
func KindOf(err error) Kind {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
