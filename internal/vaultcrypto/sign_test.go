package vaultcrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateSigningKey()
	require.NoError(t, err)

	message := []byte("canonical entry metadata bytes")
	sig, err := Sign(priv, message)
	require.NoError(t, err)

	assert.NoError(t, Verify(pub, message, sig))
}

func TestVerifyFailsOnTamperedMessage(t *testing.T) {
	pub, priv, err := GenerateSigningKey()
	require.NoError(t, err)

	sig, err := Sign(priv, []byte("original"))
	require.NoError(t, err)

	err = Verify(pub, []byte("tampered"), sig)
	assert.Error(t, err)
}

func TestVerifyFailsOnWrongKey(t *testing.T) {
	pub1, _, err := GenerateSigningKey()
	require.NoError(t, err)
	_, priv2, err := GenerateSigningKey()
	require.NoError(t, err)

	sig, err := Sign(priv2, []byte("message"))
	require.NoError(t, err)

	err = Verify(pub1, []byte("message"), sig)
	assert.Error(t, err)
}
