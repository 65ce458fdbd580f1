// Package collateral sizes the funds a position must lock against a
// price-banded derivative contract.
package collateral

import "math/big"

// Needed computes the collateral required to cover the worst-case loss for a
// position of signed qty executed at price, given the contract's price band
// and quantity multiplier:
//
//	multiplier * |qty| * (qty > 0 ? price - floor : cap - price)
//
// A long position's maximum loss is bounded by the floor, a short's by the
// cap. The arithmetic is plain big.Int so it reproduces the ledger's uint256
// math exactly; any divergence from the chain is a defect, not a tolerance.
// Call once per side with opposite signs of qty to size both parties of the
// same trade.
func Needed(priceFloor, priceCap, qtyMultiplier, qty, price *big.Int) *big.Int {
	span := new(big.Int)
	if qty.Sign() > 0 {
		span.Sub(price, priceFloor)
	} else {
		span.Sub(priceCap, price)
	}

	needed := new(big.Int).Abs(qty)
	needed.Mul(needed, span)
	needed.Mul(needed, qtyMultiplier)
	return needed
}
