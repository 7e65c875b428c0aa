package order

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/settlement/internal/models"
)

var testDomain = Domain{
	Name:              "TrustlessExchange",
	Version:           "1",
	ChainID:           big.NewInt(31337),
	VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000e0e0e"),
}

func testOrder() models.Order {
	return models.Order{
		Trader:            common.HexToAddress("0x1111111111111111111111111111111111111111"),
		IsBuy:             false,
		TokenIn:           common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		TokenOut:          common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		AmountIn:          big.NewInt(100),
		AmountOut:         big.NewInt(100),
		Price:             big.NewInt(10000),
		Deadline:          big.NewInt(1_900_000_000),
		Salt:              common.HexToHash("0x01"),
		MatchingValidator: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Nonce:             big.NewInt(0),
	}
}

func TestCodec_HashDeterministic(t *testing.T) {
	c, err := NewCodec(testDomain)
	require.NoError(t, err)

	h1, err := c.Hash(testOrder())
	require.NoError(t, err)
	h2, err := c.Hash(testOrder())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, common.Hash{}, h1)
}

func TestCodec_EveryFieldChangesDigest(t *testing.T) {
	c, err := NewCodec(testDomain)
	require.NoError(t, err)
	base, err := c.Hash(testOrder())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(o *models.Order)
	}{
		{"Trader", func(o *models.Order) { o.Trader = common.HexToAddress("0x3333333333333333333333333333333333333333") }},
		{"IsBuy", func(o *models.Order) { o.IsBuy = true }},
		{"TokenIn", func(o *models.Order) { o.TokenIn = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc") }},
		{"TokenOut", func(o *models.Order) { o.TokenOut = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc") }},
		{"AmountIn", func(o *models.Order) { o.AmountIn = big.NewInt(101) }},
		{"AmountOut", func(o *models.Order) { o.AmountOut = big.NewInt(99) }},
		{"Price", func(o *models.Order) { o.Price = big.NewInt(10001) }},
		{"Deadline", func(o *models.Order) { o.Deadline = big.NewInt(1_900_000_001) }},
		{"Salt", func(o *models.Order) { o.Salt = common.HexToHash("0x02") }},
		{"MatchingValidator", func(o *models.Order) { o.MatchingValidator = common.Address{} }},
		{"Nonce", func(o *models.Order) { o.Nonce = big.NewInt(1) }},
	}

	seen := map[common.Hash]string{base: "base"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOrder()
			tt.mutate(&o)
			h, err := c.Hash(o)
			require.NoError(t, err)
			prev, dup := seen[h]
			assert.False(t, dup, "digest collides with %s", prev)
			seen[h] = tt.name
		})
	}
}

func TestCodec_DomainSeparation(t *testing.T) {
	c1, err := NewCodec(testDomain)
	require.NoError(t, err)

	otherChain := testDomain
	otherChain.ChainID = big.NewInt(1)
	c2, err := NewCodec(otherChain)
	require.NoError(t, err)

	otherContract := testDomain
	otherContract.VerifyingContract = common.HexToAddress("0x00000000000000000000000000000000000f0f0f")
	c3, err := NewCodec(otherContract)
	require.NoError(t, err)

	h1, _ := c1.Hash(testOrder())
	h2, _ := c2.Hash(testOrder())
	h3, _ := c3.Hash(testOrder())
	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, h1, h3)

	s1, err := c1.DomainSeparator()
	require.NoError(t, err)
	s2, err := c2.DomainSeparator()
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
}

func TestCodec_RejectsInvalidFields(t *testing.T) {
	c, err := NewCodec(testDomain)
	require.NoError(t, err)

	o := testOrder()
	o.AmountIn = big.NewInt(-1)
	_, err = c.Hash(o)
	assert.True(t, errors.Is(err, models.ErrInvalidOrder))

	o = testOrder()
	o.Nonce = nil
	_, err = c.Hash(o)
	assert.True(t, errors.Is(err, models.ErrInvalidOrder))
}

func TestNewCodec_Validation(t *testing.T) {
	d := testDomain
	d.ChainID = nil
	_, err := NewCodec(d)
	assert.Error(t, err)

	d = testDomain
	d.Name = ""
	_, err = NewCodec(d)
	assert.Error(t, err)
}

func TestVerifier(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewCodec(testDomain)
	require.NoError(t, err)
	v := NewVerifier()

	o := testOrder()
	o.Trader = crypto.PubkeyToAddress(key.PublicKey)
	digest, err := c.Hash(o)
	require.NoError(t, err)
	sig, err := Sign(digest, key)
	require.NoError(t, err)

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, v.Verify(o, digest, sig))
	})

	t.Run("ZeroOneRecoveryID", func(t *testing.T) {
		raw := append([]byte(nil), sig...)
		raw[64] -= 27
		assert.NoError(t, v.Verify(o, digest, raw))
	})

	t.Run("WrongTrader", func(t *testing.T) {
		other := o
		other.Trader = common.HexToAddress("0x4444444444444444444444444444444444444444")
		err := v.Verify(other, digest, sig)
		assert.True(t, errors.Is(err, models.ErrInvalidSignature))
	})

	t.Run("TamperedOrder", func(t *testing.T) {
		tampered := o
		tampered.AmountOut = big.NewInt(1_000_000)
		d, err := c.Hash(tampered)
		require.NoError(t, err)
		err = v.Verify(tampered, d, sig)
		assert.True(t, errors.Is(err, models.ErrInvalidSignature))
	})

	t.Run("ShortSignature", func(t *testing.T) {
		err := v.Verify(o, digest, sig[:64])
		assert.True(t, errors.Is(err, models.ErrInvalidSignature))
	})

	t.Run("HighS", func(t *testing.T) {
		n := crypto.S256().Params().N
		s := new(big.Int).SetBytes(sig[32:64])
		highS := new(big.Int).Sub(n, s)
		malleable := append([]byte(nil), sig...)
		copy(malleable[32:64], common.LeftPadBytes(highS.Bytes(), 32))
		malleable[64] = 55 - malleable[64] // 27 <-> 28
		err := v.Verify(o, digest, malleable)
		assert.True(t, errors.Is(err, models.ErrInvalidSignature))
	})
}
