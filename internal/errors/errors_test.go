package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err    *ServiceError
		code   ErrorCode
		status int
	}{
		{InvalidFormat("bad address"), CodeInvalidFormat, http.StatusBadRequest},
		{Unauthorized("login required"), CodeUnauthorized, http.StatusUnauthorized},
		{InvalidToken(New("expired")), CodeInvalidToken, http.StatusUnauthorized},
		{Forbidden("not the owner"), CodeForbidden, http.StatusForbidden},
		{NotFound("room not found"), CodeNotFound, http.StatusNotFound},
		{Conflict("already exists"), CodeConflict, http.StatusConflict},
		{NeedsOwner("lobby"), CodeNeedsOwner, http.StatusPreconditionRequired},
		{AccessDenied("insufficient balance"), CodeAccessDenied, http.StatusForbidden},
		{RateLimitExceeded(), CodeRateLimitExceeded, http.StatusTooManyRequests},
		{Upstream("rpc failed", New("timeout")), CodeUpstream, http.StatusBadGateway},
		{Internal("boom", New("nil map")), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.err.Code)
		assert.Equal(t, tc.status, tc.err.HTTPStatus)
	}
}

func TestErrorIncludesCause(t *testing.T) {
	cause := New("connection refused")
	err := Upstream("rpc failed", cause)

	assert.Equal(t, "UPSTREAM_ERROR: rpc failed: connection refused", err.Error())
	assert.True(t, Is(err, cause), "cause must be reachable through the chain")
}

func TestWithDetails(t *testing.T) {
	err := NeedsOwner("lobby").WithDetails("hint", "provide owner_address")

	assert.Equal(t, "lobby", err.Details["room"])
	assert.Equal(t, "provide owner_address", err.Details["hint"])
}

func TestGetServiceError(t *testing.T) {
	svc := NotFound("room not found")
	wrapped := fmt.Errorf("lookup lobby: %w", svc)

	require.Same(t, svc, GetServiceError(wrapped))
	assert.Nil(t, GetServiceError(New("plain")))
}
