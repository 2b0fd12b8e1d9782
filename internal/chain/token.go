// Package chain reads settlement token state over JSON-RPC.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const tokenABIJSON = `[
{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"authorizer","type":"address"},{"internalType":"bytes32","name":"nonce","type":"bytes32"}],"name":"authorizationState","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`

var tokenABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(tokenABIJSON))
	if err != nil {
		panic("failed to parse token ABI: " + err.Error())
	}
	tokenABI = parsed
}

// ErrChainMismatch means the RPC endpoint serves a different chain than
// the one authorizations are signed for.
var ErrChainMismatch = errors.New("chain: rpc chain id mismatch")

// Options parameterise the token reader.
type Options struct {
	RPCURL       string
	TokenAddress string
	Decimals     int32
	Timeout      time.Duration
}

// Balance is a token balance in base units and in whole tokens.
type Balance struct {
	Raw    *big.Int
	Amount decimal.Decimal
}

// Reader performs read-only token calls.
type Reader struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewReader builds a token reader. The RPC connection is dialled lazily.
func NewReader(opts Options, logger zerolog.Logger) *Reader {
	return &Reader{opts: opts, logger: logger.With().Str("component", "chain_reader").Logger()}
}

// ChainID asks the node which chain it serves.
func (r *Reader) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return nil, err
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth_chainId: %w", err)
	}
	return id, nil
}

// VerifyChain fails with ErrChainMismatch when the node's chain id differs
// from expected.
func (r *Reader) VerifyChain(ctx context.Context, expected int64) error {
	id, err := r.ChainID(ctx)
	if err != nil {
		return err
	}
	if !id.IsInt64() || id.Int64() != expected {
		return fmt.Errorf("%w: node reports %s, configured %d", ErrChainMismatch, id.String(), expected)
	}
	return nil
}

// BalanceOf returns the token balance of owner.
func (r *Reader) BalanceOf(ctx context.Context, owner common.Address) (Balance, error) {
	outputs, err := r.call(ctx, "balanceOf", owner)
	if err != nil {
		return Balance{}, err
	}
	raw, ok := outputs[0].(*big.Int)
	if !ok {
		return Balance{}, errors.New("failed to decode balanceOf output")
	}
	return Balance{Raw: raw, Amount: decimal.NewFromBigInt(raw, -r.opts.Decimals)}, nil
}

// AuthorizationUsed reports whether the token has already consumed nonce
// for authorizer.
func (r *Reader) AuthorizationUsed(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error) {
	outputs, err := r.call(ctx, "authorizationState", authorizer, nonce)
	if err != nil {
		return false, err
	}
	used, ok := outputs[0].(bool)
	if !ok {
		return false, errors.New("failed to decode authorizationState output")
	}
	return used, nil
}

// Close releases the RPC connection.
func (r *Reader) Close() {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}

func (r *Reader) call(ctx context.Context, method string, args ...any) ([]any, error) {
	if r.opts.TokenAddress == "" {
		return nil, errors.New("token contract address not configured")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(r.opts.TokenAddress)
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	outputs, err := tokenABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected %s response", method)
	}
	return outputs, nil
}

func (r *Reader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *Reader) getClient(ctx context.Context) (*ethclient.Client, error) {
	if r.opts.RPCURL == "" {
		return nil, errors.New("rpc url not configured")
	}

	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client, err := ethclient.DialContext(ctx, r.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}
