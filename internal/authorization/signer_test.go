package authorization

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey     = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

var (
	testToken     = common.HexToAddress("0xc01efAaF7C5C61bEbFAeb358E1161b537b8bC0e0")
	testRecipient = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
)

func testDomain() Domain {
	return Domain{
		Name:              "Bridged USDC (Stargate)",
		Version:           "1",
		ChainID:           338,
		VerifyingContract: testToken,
	}
}

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(Options{PrivateKey: testKey, Domain: testDomain()})
	require.NoError(t, err)
	return s
}

func TestNewSignerRequiresKey(t *testing.T) {
	_, err := NewSigner(Options{Domain: testDomain()})
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = NewSigner(Options{PrivateKey: "0xnothex", Domain: testDomain()})
	assert.Error(t, err)

	_, err = NewSigner(Options{PrivateKey: testKey})
	assert.Error(t, err, "domain without chain id must be rejected")
}

func TestSignerAddress(t *testing.T) {
	s := newTestSigner(t)
	assert.Equal(t, testAddress, s.Address().Hex())

	noPrefix, err := NewSigner(Options{PrivateKey: testKey[2:], Domain: testDomain()})
	require.NoError(t, err)
	assert.Equal(t, s.Address(), noPrefix.Address())
}

func TestAuthorizeValidityWindow(t *testing.T) {
	s := newTestSigner(t)
	now := time.Unix(1_800_000_000, 0)
	s.now = func() time.Time { return now }

	auth, err := s.Authorize(testRecipient, big.NewInt(1_000_000), 10*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, int64(0), auth.Message.ValidAfter)
	assert.Equal(t, now.Unix()+600, auth.Message.ValidBefore)
	assert.Greater(t, auth.Message.ValidBefore, auth.Message.ValidAfter)

	defaulted, err := s.Authorize(testRecipient, big.NewInt(1), 0)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour).Unix(), defaulted.Message.ValidBefore)
}

func TestAuthorizePayload(t *testing.T) {
	s := newTestSigner(t)

	auth, err := s.Authorize(testRecipient, big.NewInt(1_000_000), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, testAddress, auth.Message.From)
	assert.Equal(t, testRecipient.Hex(), auth.Message.To)
	assert.Equal(t, "1000000", auth.Message.Value)
	assert.Len(t, auth.Message.Nonce, 66)
	assert.Equal(t, auth.Message, auth.Payload.Message)
	assert.Equal(t, testToken.Hex(), auth.Payload.Asset)
	assert.Len(t, auth.Payload.Signature, 132)

	raw, err := json.Marshal(auth.Payload)
	require.NoError(t, err)
	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	for _, key := range []string{"from", "to", "value", "validAfter", "validBefore", "nonce", "signature", "asset"} {
		assert.Contains(t, flat, key)
	}
}

func TestAuthorizeSignatureRecovers(t *testing.T) {
	s := newTestSigner(t)

	auth, err := s.Authorize(testRecipient, big.NewInt(42), time.Hour)
	require.NoError(t, err)

	signer, err := Recover(testDomain(), auth.Message, auth.Payload.Signature)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), signer)

	other := testDomain()
	other.ChainID = 25
	wrong, err := Recover(other, auth.Message, auth.Payload.Signature)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), wrong, "signature is bound to the chain id")
}

func TestAuthorizeNoncesAreUnique(t *testing.T) {
	s := newTestSigner(t)

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		auth, err := s.Authorize(testRecipient, big.NewInt(1), time.Hour)
		require.NoError(t, err)
		_, dup := seen[auth.Message.Nonce]
		require.False(t, dup, "nonce reused: %s", auth.Message.Nonce)
		seen[auth.Message.Nonce] = struct{}{}
	}
}

func TestAuthorizeNonceFromRandomSource(t *testing.T) {
	s := newTestSigner(t)
	s.random = bytes.NewReader(bytes.Repeat([]byte{0xab}, 32))

	auth, err := s.Authorize(testRecipient, big.NewInt(1), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "0x"+string(bytes.Repeat([]byte("ab"), 32)), auth.Message.Nonce)

	_, err = s.Authorize(testRecipient, big.NewInt(1), time.Hour)
	assert.Error(t, err, "exhausted random source must fail rather than reuse a nonce")
}

func TestAuthorizeRejectsNonPositiveValue(t *testing.T) {
	s := newTestSigner(t)

	_, err := s.Authorize(testRecipient, big.NewInt(0), time.Hour)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = s.Authorize(testRecipient, nil, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidValue)
}
