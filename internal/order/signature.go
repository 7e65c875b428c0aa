package order

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/xtrntr/settlement/internal/models"
)

// SignatureLength is the size of an [R || S || V] secp256k1 signature.
const SignatureLength = crypto.SignatureLength

// Verifier recovers order signers. Only signatures over the EIP-712 digest
// produced by Codec are meaningful; there is no prefixed-message fallback.
type Verifier struct{}

// NewVerifier returns a signature verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Recover returns the account that produced sig over digest. V may be 0/1
// or 27/28. High-S signatures are rejected.
func (v *Verifier) Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, models.NewError(models.ErrInvalidSignature,
			fmt.Sprintf("signature must be %d bytes, got %d", SignatureLength, len(sig)))
	}
	norm := make([]byte, SignatureLength)
	copy(norm, sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}
	r := new(big.Int).SetBytes(norm[:32])
	s := new(big.Int).SetBytes(norm[32:64])
	if !crypto.ValidateSignatureValues(norm[64], r, s, true) {
		return common.Address{}, models.NewError(models.ErrInvalidSignature, "malformed signature values")
	}
	pub, err := crypto.SigToPub(digest.Bytes(), norm)
	if err != nil {
		return common.Address{}, models.NewError(models.ErrInvalidSignature, err.Error())
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sig over digest was produced by o.Trader.
func (v *Verifier) Verify(o models.Order, digest common.Hash, sig []byte) error {
	signer, err := v.Recover(digest, sig)
	if err != nil {
		return err
	}
	if signer != o.Trader {
		return models.NewError(models.ErrInvalidSignature,
			fmt.Sprintf("recovered %s, order trader is %s", signer.Hex(), o.Trader.Hex()))
	}
	return nil
}

// Sign signs digest with key, returning a 65-byte signature with V in 27/28.
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	sig[64] += 27
	return sig, nil
}
