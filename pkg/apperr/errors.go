package apperr

import (
	"errors"
	"net/http"
	"strings"

	errorsmod "cosmossdk.io/errors"
)

// Codespace for every error surfaced by the gateway.
const Codespace = "deli"

// Request shape.
var (
	ErrValidation          = errorsmod.Register(Codespace, 2, "invalid request")
	ErrInvalidDenomination = errorsmod.Register(Codespace, 3, "Invalid denomination unit")
	ErrPaymentInfoRequired = errorsmod.Register(Codespace, 4, "Payment info required")
	ErrMalformedAuth       = errorsmod.Register(Codespace, 5, "Invalid authorization payload")
	ErrMalformedMessage    = errorsmod.Register(Codespace, 6, "Malformed SIWE message")
	ErrMissingPaymentInfo  = errorsmod.Register(Codespace, 7, "Missing paymentInfo")
)

// Authentication.
var (
	ErrAuthRequired            = errorsmod.Register(Codespace, 10, "SIWE authentication required")
	ErrAddressRequired         = errorsmod.Register(Codespace, 11, "Address required")
	ErrDomainMismatch          = errorsmod.Register(Codespace, 12, "SIWE domain mismatch")
	ErrInvalidDelegationTarget = errorsmod.Register(Codespace, 13, "SIWE uri is not a session delegation")
	ErrAddressMismatch         = errorsmod.Register(Codespace, 14, "SIWE address mismatch")
	ErrSiweExpired             = errorsmod.Register(Codespace, 15, "SIWE message expired")
	ErrSiweTooOld              = errorsmod.Register(Codespace, 16, "SIWE message too old")
	ErrSiweNotYetValid         = errorsmod.Register(Codespace, 17, "SIWE message not yet valid")
	ErrInvalidSignature        = errorsmod.Register(Codespace, 18, "Invalid SIWE signature")
)

// Opaque session token.
var (
	ErrExpiredToken   = errorsmod.Register(Codespace, 20, "Session token expired")
	ErrTamperedToken  = errorsmod.Register(Codespace, 21, "Session token invalid")
	ErrMalformedToken = errorsmod.Register(Codespace, 22, "Session token malformed")
	ErrSessionKey     = errorsmod.Register(Codespace, 23, "Session key does not match delegation")
)

// Payment, lookup, upstream.
var (
	ErrPaymentNotAuthorized = errorsmod.Register(Codespace, 30, "Payment not authorized")
	ErrNotFound             = errorsmod.Register(Codespace, 31, "Not found")
	ErrUpstream             = errorsmod.Register(Codespace, 32, "Upstream service unavailable")
	ErrDecryptionDenied     = errorsmod.Register(Codespace, 33, "Decryption denied")
	ErrDecryptionFailed     = errorsmod.Register(Codespace, 34, "Decryption failed")
	ErrForbidden            = errorsmod.Register(Codespace, 35, "Forbidden")
)

// Class groups registered errors by the taxonomy they belong to.
type Class int

const (
	ClassInternal Class = iota
	ClassValidation
	ClassAuthRequired
	ClassAuthFailed
	ClassTokenInvalid
	ClassPaymentNotAuthorized
	ClassNotFound
	ClassUpstream
	ClassDecryption
	ClassForbidden
)

var classes = []struct {
	class Class
	errs  []error
}{
	{ClassValidation, []error{ErrValidation, ErrInvalidDenomination, ErrPaymentInfoRequired, ErrMalformedAuth, ErrMalformedMessage, ErrMissingPaymentInfo}},
	{ClassAuthRequired, []error{ErrAuthRequired, ErrAddressRequired}},
	{ClassAuthFailed, []error{ErrDomainMismatch, ErrInvalidDelegationTarget, ErrAddressMismatch, ErrSiweExpired, ErrSiweTooOld, ErrSiweNotYetValid, ErrInvalidSignature}},
	{ClassTokenInvalid, []error{ErrExpiredToken, ErrTamperedToken, ErrMalformedToken, ErrSessionKey}},
	{ClassPaymentNotAuthorized, []error{ErrPaymentNotAuthorized}},
	{ClassNotFound, []error{ErrNotFound}},
	{ClassUpstream, []error{ErrUpstream, ErrDecryptionFailed}},
	{ClassDecryption, []error{ErrDecryptionDenied}},
	{ClassForbidden, []error{ErrForbidden}},
}

// ClassOf returns the taxonomy class of err, ClassInternal when unregistered.
func ClassOf(err error) Class {
	if err == nil {
		return ClassInternal
	}
	for _, c := range classes {
		if errorsmod.IsOf(err, c.errs...) {
			return c.class
		}
	}
	return ClassInternal
}

// HTTPStatus maps err onto a response status.
func HTTPStatus(err error) int {
	switch ClassOf(err) {
	case ClassValidation:
		return http.StatusBadRequest
	case ClassAuthRequired, ClassAuthFailed, ClassTokenInvalid, ClassDecryption:
		return http.StatusUnauthorized
	case ClassPaymentNotAuthorized, ClassForbidden:
		return http.StatusForbidden
	case ClassNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Describe splits err into the registered description and the context
// wrapped around it. Internal and upstream errors are reduced to a generic
// message so causes only reach the logs.
func Describe(err error) (message string, details string) {
	var reg *errorsmod.Error
	if !errors.As(err, &reg) {
		return "Internal server error", ""
	}
	switch ClassOf(err) {
	case ClassInternal, ClassUpstream:
		return reg.Error(), ""
	}
	message = reg.Error()
	full := err.Error()
	if full != message {
		details = strings.TrimSuffix(full, ": "+message)
	}
	return message, details
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	return ClassOf(err) == ClassUpstream
}
