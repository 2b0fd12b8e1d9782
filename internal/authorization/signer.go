// Package authorization builds and signs EIP-3009 TransferWithAuthorization
// messages as EIP-712 typed data.
package authorization

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const defaultValidity = time.Hour

var (
	// ErrMissingKey is returned when no signing key is configured.
	ErrMissingKey = errors.New("authorization: signing key required")
	// ErrInvalidValue is returned for non-positive transfer amounts.
	ErrInvalidValue = errors.New("authorization: value must be positive")
)

// Domain is the EIP-712 domain of the token contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// Message is the unsigned TransferWithAuthorization body.
type Message struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Payload is the signed form submitted to the facilitator.
type Payload struct {
	Message
	Signature string `json:"signature"`
	Asset     string `json:"asset"`
}

// Authorization bundles the signed payload with the message it signs.
type Authorization struct {
	Payload Payload `json:"payload"`
	Message Message `json:"message"`
}

// Options configure a Signer.
type Options struct {
	PrivateKey string
	Domain     Domain
	Validity   time.Duration
}

// Signer produces signed authorizations from a single key.
type Signer struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	domain   Domain
	validity time.Duration
	now      func() time.Time
	random   io.Reader
}

// NewSigner parses the hex private key. It refuses to build without one.
func NewSigner(opts Options) (*Signer, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(opts.PrivateKey), "0x")
	if raw == "" {
		return nil, ErrMissingKey
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	if opts.Domain.ChainID <= 0 {
		return nil, errors.New("authorization: chain id required")
	}
	if opts.Domain.VerifyingContract == (common.Address{}) {
		return nil, errors.New("authorization: verifying contract required")
	}

	validity := opts.Validity
	if validity <= 0 {
		validity = defaultValidity
	}

	return &Signer{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		domain:   opts.Domain,
		validity: validity,
		now:      time.Now,
		random:   rand.Reader,
	}, nil
}

// Address is the authorizer's address.
func (s *Signer) Address() common.Address {
	return s.address
}

// Domain returns the signing domain.
func (s *Signer) Domain() Domain {
	return s.domain
}

// Nonce draws a fresh 256-bit random nonce.
func (s *Signer) Nonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := io.ReadFull(s.random, nonce[:]); err != nil {
		return nonce, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// Authorize signs a transfer of value (smallest token unit) to `to`, valid
// from creation until now+window. A non-positive window uses the signer's
// configured validity.
func (s *Signer) Authorize(to common.Address, value *big.Int, window time.Duration) (Authorization, error) {
	if value == nil || value.Sign() <= 0 {
		return Authorization{}, ErrInvalidValue
	}
	if window <= 0 {
		window = s.validity
	}

	nonce, err := s.Nonce()
	if err != nil {
		return Authorization{}, err
	}

	msg := Message{
		From:        s.address.Hex(),
		To:          to.Hex(),
		Value:       value.String(),
		ValidAfter:  0,
		ValidBefore: s.now().Add(window).Unix(),
		Nonce:       hexutil.Encode(nonce[:]),
	}

	hash, err := s.domain.hash(msg)
	if err != nil {
		return Authorization{}, err
	}

	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return Authorization{}, fmt.Errorf("sign authorization: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	return Authorization{
		Payload: Payload{
			Message:   msg,
			Signature: hexutil.Encode(sig),
			Asset:     s.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}, nil
}

// Recover returns the address that produced signature over msg in domain.
func Recover(domain Domain, msg Message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d", len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash, err := domain.hash(msg)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
