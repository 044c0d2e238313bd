package chain

import "math/big"

const baseFeeChangeDenominator = 8

// NextBaseFee predicts the base fee of the child block using the EIP-1559
// adjustment rule with truncating integer division.
func NextBaseFee(baseFee *big.Int, gasUsed, gasLimit uint64) *big.Int {
	fee := new(big.Int)
	if baseFee == nil {
		return fee
	}
	fee.Set(baseFee)

	target := gasLimit / 2
	if target == 0 || gasUsed == target {
		return fee
	}

	var diff uint64
	if gasUsed > target {
		diff = gasUsed - target
	} else {
		diff = target - gasUsed
	}

	delta := new(big.Int).Mul(baseFee, new(big.Int).SetUint64(diff))
	delta.Div(delta, new(big.Int).SetUint64(target))
	delta.Div(delta, big.NewInt(baseFeeChangeDenominator))

	if gasUsed > target {
		return fee.Add(fee, delta)
	}
	return fee.Sub(fee, delta)
}
