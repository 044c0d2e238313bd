package dex

import "math/big"

var (
	q96         = new(big.Int).Lsh(big.NewInt(1), 96)
	ten         = big.NewInt(10)
	inverseBase = new(big.Int).Exp(ten, big.NewInt(40), nil)
	tenPow10    = new(big.Int).Exp(ten, big.NewInt(10), nil)
)

// SqrtPriceX96ToPrice converts a pool sqrt price into a price with 8
// decimals. Arithmetic is truncating integer math in a fixed order:
// ((sqrt*scale/Q96)*sqrt*scale)/Q96 with scale = 10^((d0-d1+8)/2).
// A negative exponent divides by the scale instead.
func SqrtPriceX96ToPrice(sqrtPriceX96 *big.Int, zeroForOne bool, decimals0, decimals1 uint8) *big.Int {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() == 0 {
		return new(big.Int)
	}

	exp := (int(decimals0) - int(decimals1) + 8) / 2
	scale := new(big.Int).Exp(ten, big.NewInt(int64(abs(exp))), nil)

	applyScale := func(v *big.Int) *big.Int {
		if exp >= 0 {
			return v.Mul(v, scale)
		}
		return v.Quo(v, scale)
	}

	price := new(big.Int).Set(sqrtPriceX96)
	applyScale(price)
	price.Quo(price, q96)
	price.Mul(price, sqrtPriceX96)
	applyScale(price)
	price.Quo(price, q96)

	if price.Sign() == 0 {
		return price
	}
	if zeroForOne {
		return price
	}
	return price.Quo(new(big.Int).Set(inverseBase), price)
}

// PriceToSqrtPriceX96 converts an 8-decimal price back to a sqrt price
func PriceToSqrtPriceX96(price *big.Int) *big.Int {
	if price == nil || price.Sign() <= 0 {
		return new(big.Int)
	}
	v := new(big.Int).Mul(price, q96)
	v.Mul(v, q96)
	v.Quo(v, tenPow10)
	v.Quo(v, tenPow10)
	return v.Sqrt(v)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
