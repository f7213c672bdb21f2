package types

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubkeyBase58(t *testing.T) {
	p, err := PubkeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	require.NoError(t, err)
	assert.Equal(t, "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", p.String())
	assert.Equal(t, TokenProgramAddr, p)

	_, err = PubkeyFromBase58("abc")
	assert.ErrorIs(t, err, ErrInvalidPubkey)

	_, err = PubkeyFromBase58("0OIl")
	assert.Error(t, err)
}

func TestSystemProgramIsZero(t *testing.T) {
	assert.True(t, SystemProgramAddr.IsZero())
	assert.False(t, TokenProgramAddr.IsZero())
}

func TestPubkeyText(t *testing.T) {
	text, err := SysvarClockAddr.MarshalText()
	require.NoError(t, err)

	var p Pubkey
	require.NoError(t, p.UnmarshalText(text))
	assert.Equal(t, SysvarClockAddr, p)
	assert.True(t, IsSysvar(p))
	assert.False(t, IsSysvar(TokenProgramAddr))
}

func TestPubkeyFromBytes(t *testing.T) {
	_, err := PubkeyFromBytes(make([]byte, 31))
	assert.ErrorIs(t, err, ErrInvalidPubkey)

	b := make([]byte, PubkeySize)
	b[0] = 7
	p, err := PubkeyFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, byte(7), p[0])
}

func TestSignatureVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	msg := []byte("deposit 1000")
	sig := Sign(priv, msg)
	assert.True(t, sig.Verify(PubkeyFromPublicKey(pub), msg))
	assert.False(t, sig.Verify(PubkeyFromPublicKey(pub), []byte("deposit 1001")))

	_, err = SignatureFromBytes(sig[:10])
	assert.ErrorIs(t, err, ErrInvalidSignature)

	parsed, err := SignatureFromBase58(sig.String())
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)
	_, err = SignatureFromBase58(PubkeyFromPublicKey(pub).String())
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
