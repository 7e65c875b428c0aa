// Package order hashes and authenticates trade intents.
package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/xtrntr/settlement/internal/models"
)

const primaryType = "Order"

var orderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	primaryType: {
		{Name: "trader", Type: "address"},
		{Name: "isBuy", Type: "bool"},
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "amountIn", Type: "uint256"},
		{Name: "amountOut", Type: "uint256"},
		{Name: "price", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "salt", Type: "bytes32"},
		{Name: "matchingValidator", Type: "address"},
		{Name: "nonce", Type: "uint256"},
	},
}

// Domain binds digests to one exchange deployment on one chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Codec produces EIP-712 digests of orders.
type Codec struct {
	domain apitypes.TypedDataDomain
}

// NewCodec returns a codec for the given domain.
func NewCodec(d Domain) (*Codec, error) {
	if d.Name == "" || d.Version == "" {
		return nil, fmt.Errorf("domain name and version are required")
	}
	if d.ChainID == nil || d.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("domain chain id must be positive")
	}
	return &Codec{
		domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(d.ChainID)),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
	}, nil
}

// Hash returns the digest traders sign and commitments reference.
func (c *Codec) Hash(o models.Order) (common.Hash, error) {
	if err := checkFields(o); err != nil {
		return common.Hash{}, err
	}
	td := apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: primaryType,
		Domain:      c.domain,
		Message:     message(o),
	}
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash order: %w", err)
	}
	return common.BytesToHash(digest), nil
}

// DomainSeparator returns the hashed EIP712Domain struct.
func (c *Codec) DomainSeparator() (common.Hash, error) {
	td := apitypes.TypedData{Types: orderTypes, Domain: c.domain}
	sep, err := td.HashStruct("EIP712Domain", c.domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(sep), nil
}

func message(o models.Order) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"trader":            o.Trader.Hex(),
		"isBuy":             o.IsBuy,
		"tokenIn":           o.TokenIn.Hex(),
		"tokenOut":          o.TokenOut.Hex(),
		"amountIn":          o.AmountIn,
		"amountOut":         o.AmountOut,
		"price":             o.Price,
		"deadline":          o.Deadline,
		"salt":              o.Salt.Bytes(),
		"matchingValidator": o.MatchingValidator.Hex(),
		"nonce":             o.Nonce,
	}
}

// checkFields rejects integers that cannot be encoded as uint256.
func checkFields(o models.Order) error {
	ints := map[string]*big.Int{
		"amountIn":  o.AmountIn,
		"amountOut": o.AmountOut,
		"price":     o.Price,
		"deadline":  o.Deadline,
		"nonce":     o.Nonce,
	}
	for name, v := range ints {
		if v == nil || v.Sign() < 0 || v.BitLen() > 256 {
			return models.NewError(models.ErrInvalidOrder, name+" is not a uint256")
		}
	}
	return nil
}
