package authorization

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const primaryType = "TransferWithAuthorization"

var transferTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	primaryType: {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// TypedData renders msg as the EIP-712 document signed by the wallet.
func (d Domain) TypedData(msg Message) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       transferTypes,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           math.NewHexOrDecimal256(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        msg.From,
			"to":          msg.To,
			"value":       msg.Value,
			"validAfter":  strconv.FormatInt(msg.ValidAfter, 10),
			"validBefore": strconv.FormatInt(msg.ValidBefore, 10),
			"nonce":       msg.Nonce,
		},
	}
}

func (d Domain) hash(msg Message) ([]byte, error) {
	if _, ok := new(big.Int).SetString(msg.Value, 10); !ok {
		return nil, fmt.Errorf("authorization value %q is not an integer", msg.Value)
	}
	hash, _, err := apitypes.TypedDataAndHash(d.TypedData(msg))
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return hash, nil
}
