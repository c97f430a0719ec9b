package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{ErrValidation.Wrap("bad body"), http.StatusBadRequest},
		{ErrInvalidDenomination, http.StatusBadRequest},
		{ErrMalformedMessage.Wrap("no header"), http.StatusBadRequest},
		{ErrAddressRequired, http.StatusUnauthorized},
		{ErrDomainMismatch.Wrapf("got %s", "evil.com"), http.StatusUnauthorized},
		{ErrExpiredToken, http.StatusUnauthorized},
		{fmt.Errorf("decode: %w", ErrTamperedToken), http.StatusUnauthorized},
		{ErrPaymentNotAuthorized.Wrap("capturable 50"), http.StatusForbidden},
		{ErrNotFound.Wrap("campaign"), http.StatusNotFound},
		{ErrUpstream.Wrap("rpc"), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.status, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestDescribe(t *testing.T) {
	msg, details := Describe(ErrPaymentNotAuthorized.Wrapf("required %d", 100))
	require.Equal(t, "Payment not authorized", msg)
	require.Equal(t, "required 100", details)

	msg, details = Describe(ErrNotFound)
	require.Equal(t, "Not found", msg)
	require.Empty(t, details)

	msg, details = Describe(ErrUpstream.Wrap("dial tcp 10.0.0.1:8545: refused"))
	require.Equal(t, "Upstream service unavailable", msg)
	require.Empty(t, details)

	msg, _ = Describe(errors.New("secret stuff"))
	require.Equal(t, "Internal server error", msg)
}

func TestRetryable(t *testing.T) {
	require.True(t, Retryable(ErrUpstream.Wrap("timeout")))
	require.False(t, Retryable(ErrPaymentNotAuthorized))
}
