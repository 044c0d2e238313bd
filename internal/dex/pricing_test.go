package dex

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSqrtPriceX96ToPrice_KnownValue(t *testing.T) {
	t.Parallel()

	price := SqrtPriceX96ToPrice(fixtureSqrtPrice, true, 18, 6)

	// 3000 USDC with 8 decimals, within truncation error
	want := big.NewInt(3000_0000_0000)
	diff := new(big.Int).Sub(price, want)
	assert.True(t, diff.CmpAbs(big.NewInt(1_000_000)) < 0, "price %s", price)
}

func TestSqrtPriceX96ToPrice_Inverse(t *testing.T) {
	t.Parallel()

	direct := SqrtPriceX96ToPrice(fixtureSqrtPrice, true, 18, 6)
	inverse := SqrtPriceX96ToPrice(fixtureSqrtPrice, false, 18, 6)

	want := new(big.Int).Quo(new(big.Int).Exp(big.NewInt(10), big.NewInt(40), nil), direct)
	assert.Equal(t, 0, want.Cmp(inverse))
}

func TestSqrtPriceX96ToPrice_Zero(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, SqrtPriceX96ToPrice(big.NewInt(0), false, 18, 6).Sign())
	assert.Equal(t, 0, SqrtPriceX96ToPrice(nil, true, 18, 6).Sign())
	// Small enough that the intermediate price truncates to zero
	assert.Equal(t, 0, SqrtPriceX96ToPrice(big.NewInt(1), false, 18, 6).Sign())
}

func TestSqrtPriceX96_RoundTrip(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"4339505179874779489431521", // ~3000
		"3543191142285914205922034", // ~2000
		"7922816251426433759354395", // ~10000
	}

	for _, in := range inputs {
		sqrt, _ := new(big.Int).SetString(in, 10)
		price := SqrtPriceX96ToPrice(sqrt, true, 18, 6)
		back := PriceToSqrtPriceX96(price)

		// relative error below 1e-6
		diff := new(big.Int).Sub(sqrt, back)
		diff.Abs(diff)
		tolerance := new(big.Int).Quo(sqrt, big.NewInt(1_000_000))
		assert.True(t, diff.Cmp(tolerance) <= 0, "input %s came back as %s", in, back)
	}
}

func TestSqrtPriceX96ToPrice_NegativeExponent(t *testing.T) {
	t.Parallel()

	// d1 exceeds d0 by more than 8, so the scale divides
	price := SqrtPriceX96ToPrice(new(big.Int).Lsh(big.NewInt(1), 96), true, 6, 18)
	assert.Equal(t, 0, price.Sign())

	price = SqrtPriceX96ToPrice(new(big.Int).Lsh(big.NewInt(1), 120), true, 6, 18)
	assert.Equal(t, 1, price.Sign())
}
