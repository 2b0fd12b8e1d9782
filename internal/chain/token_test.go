package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "0xc01efAaF7C5C61bEbFAeb358E1161b537b8bC0e0"

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type callArgs struct {
	To    string        `json:"to"`
	Data  hexutil.Bytes `json:"data"`
	Input hexutil.Bytes `json:"input"`
}

func fakeNode(t *testing.T, chainID int64, balance *big.Int, used bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}

		var result any
		switch req.Method {
		case "eth_chainId":
			result = hexutil.EncodeBig(big.NewInt(chainID))
		case "eth_call":
			var args callArgs
			assert.NoError(t, json.Unmarshal(req.Params[0], &args))
			assert.Equal(t, common.HexToAddress(testToken), common.HexToAddress(args.To))
			data := []byte(args.Input)
			if len(data) == 0 {
				data = args.Data
			}

			var out []byte
			var err error
			switch {
			case bytes.HasPrefix(data, tokenABI.Methods["balanceOf"].ID):
				out, err = tokenABI.Methods["balanceOf"].Outputs.Pack(balance)
			case bytes.HasPrefix(data, tokenABI.Methods["authorizationState"].ID):
				out, err = tokenABI.Methods["authorizationState"].Outputs.Pack(used)
			default:
				t.Errorf("unexpected call data %x", data)
			}
			assert.NoError(t, err)
			result = hexutil.Encode(out)
		default:
			t.Errorf("unexpected rpc method %s", req.Method)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
}

func TestReaderChainID(t *testing.T) {
	srv := fakeNode(t, 338, big.NewInt(0), false)
	defer srv.Close()

	r := NewReader(Options{RPCURL: srv.URL, TokenAddress: testToken, Decimals: 6, Timeout: time.Second}, zerolog.Nop())
	defer r.Close()

	id, err := r.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(338), id.Int64())

	assert.NoError(t, r.VerifyChain(context.Background(), 338))
	assert.ErrorIs(t, r.VerifyChain(context.Background(), 25), ErrChainMismatch)
}

func TestReaderBalanceOf(t *testing.T) {
	srv := fakeNode(t, 338, big.NewInt(2_500_000), false)
	defer srv.Close()

	r := NewReader(Options{RPCURL: srv.URL, TokenAddress: testToken, Decimals: 6}, zerolog.Nop())
	defer r.Close()

	bal, err := r.BalanceOf(context.Background(), common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"))
	require.NoError(t, err)
	assert.Equal(t, "2500000", bal.Raw.String())
	assert.Equal(t, "2.5", bal.Amount.String())
}

func TestReaderAuthorizationUsed(t *testing.T) {
	srv := fakeNode(t, 338, big.NewInt(0), true)
	defer srv.Close()

	r := NewReader(Options{RPCURL: srv.URL, TokenAddress: testToken}, zerolog.Nop())
	defer r.Close()

	used, err := r.AuthorizationUsed(context.Background(), common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"), [32]byte{1})
	require.NoError(t, err)
	assert.True(t, used)
}

func TestReaderMissingConfig(t *testing.T) {
	r := NewReader(Options{}, zerolog.Nop())
	_, err := r.ChainID(context.Background())
	assert.ErrorContains(t, err, "rpc url not configured")

	r = NewReader(Options{RPCURL: "http://localhost"}, zerolog.Nop())
	_, err = r.BalanceOf(context.Background(), common.Address{})
	assert.ErrorContains(t, err, "token contract address not configured")
}
