package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type customError struct {
	Msg string
}

func (e customError) Error() string { return e.Msg }

func TestWrap(t *testing.T) {
	base := errors.New("base error")

	wrapped := Wrap(base, "context")
	require.Error(t, wrapped)
	assert.Equal(t, "context: base error", wrapped.Error())
	assert.True(t, errors.Is(wrapped, base))

	assert.Nil(t, Wrap(nil, "context"))
}

func TestWrapf(t *testing.T) {
	base := errors.New("base error")

	wrapped := Wrapf(base, "context %d", 42)
	require.Error(t, wrapped)
	assert.Equal(t, "context 42: base error", wrapped.Error())

	assert.Nil(t, Wrapf(nil, "context %d", 42))
}

func TestIsAndAs(t *testing.T) {
	wrapped := Wrap(ErrNotFound, "document")
	assert.True(t, Is(wrapped, ErrNotFound))
	assert.False(t, Is(wrapped, ErrConflict))

	custom := customError{Msg: "boom"}
	wrappedCustom := Wrap(custom, "context")
	var target customError
	assert.True(t, As(wrappedCustom, &target))
	assert.Equal(t, "boom", target.Msg)
}

func TestSentinelText(t *testing.T) {
	cases := map[error]string{
		ErrNotFound:     "not found",
		ErrConflict:     "conflict",
		ErrInvalidInput: "invalid input",
		ErrUnauthorized: "unauthorized",
		ErrForbidden:    "forbidden",
		ErrCancelled:    "cancelled",
		ErrCorruption:   "corruption",
		ErrTimeout:      "timeout",

		ErrInvalidSignature:  "invalid signature",
		ErrUnknownSigner:     "unknown signer",
		ErrMissingKey:        "missing decryption key",
		ErrDependencyMissing: "dependency missing",
		ErrInvalidToken:      "invalid token",
		ErrChallengeExpired:  "challenge expired",
		ErrUserRevoked:       "user revoked",
		ErrUserNotFound:      "user not found",
		ErrTransport:         "transport error",
	}
	for err, text := range cases {
		assert.Equal(t, text, err.Error())
	}
}
