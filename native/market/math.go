package market

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 index precision
	halfRay     = new(big.Int).Rsh(ray, 1)
)

const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	product.Quo(product, ray)
	return product
}

func ratToRay(r *big.Rat) *big.Int {
	if r == nil {
		return new(big.Int).Set(ray)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	num := scaled.Num()
	den := scaled.Denom()
	if den.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	result := new(big.Int).Quo(new(big.Int).Add(num, halfUp(den)), den)
	if result.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	return result
}

func rateFactor(rate *big.Rat, elapsed uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || elapsed == 0 {
		return new(big.Int).Set(ray)
	}
	perSecond := new(big.Rat).Set(rate)
	perSecond.Quo(perSecond, new(big.Rat).SetUint64(secondsPerYear))
	perSecond.Mul(perSecond, new(big.Rat).SetUint64(elapsed))
	factor := new(big.Rat).Add(big.NewRat(1, 1), perSecond)
	return ratToRay(factor)
}

func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	half := new(big.Int).Add(x, big.NewInt(1))
	half.Rsh(half, 1)
	return half
}

// presentValue converts a signed principal into its current base-unit value.
// Both sides floor the magnitude; indices never fall below ray so the present
// value magnitude never understates the principal.
func presentValue(principal, supplyIndex, borrowIndex *big.Int) *big.Int {
	if principal == nil || principal.Sign() == 0 {
		return big.NewInt(0)
	}
	if principal.Sign() > 0 {
		value := new(big.Int).Mul(principal, supplyIndex)
		return value.Quo(value, ray)
	}
	magnitude := new(big.Int).Neg(principal)
	magnitude.Mul(magnitude, borrowIndex)
	magnitude.Quo(magnitude, ray)
	return magnitude.Neg(magnitude)
}

// principalValue inverts presentValue, preserving sign. The supply side floors
// while the borrow side rounds the magnitude up so debt is never understated
// by the conversion.
func principalValue(present, supplyIndex, borrowIndex *big.Int) *big.Int {
	if present == nil || present.Sign() == 0 {
		return big.NewInt(0)
	}
	if present.Sign() > 0 {
		value := new(big.Int).Mul(present, ray)
		return value.Quo(value, supplyIndex)
	}
	magnitude := new(big.Int).Neg(present)
	magnitude.Mul(magnitude, ray)
	magnitude.Add(magnitude, new(big.Int).Sub(borrowIndex, big.NewInt(1)))
	magnitude.Quo(magnitude, borrowIndex)
	return magnitude.Neg(magnitude)
}

// repayAndSupplyAmount splits a principal increase into the portion that
// retires debt and the portion that becomes new supply. Decreases return two
// zeros; the two parts always sum to exactly new-old.
func repayAndSupplyAmount(oldPrincipal, newPrincipal *big.Int) (*big.Int, *big.Int) {
	if oldPrincipal == nil || newPrincipal == nil || newPrincipal.Cmp(oldPrincipal) < 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	if newPrincipal.Sign() <= 0 {
		return new(big.Int).Sub(newPrincipal, oldPrincipal), big.NewInt(0)
	}
	if oldPrincipal.Sign() >= 0 {
		return big.NewInt(0), new(big.Int).Sub(newPrincipal, oldPrincipal)
	}
	return new(big.Int).Neg(oldPrincipal), new(big.Int).Set(newPrincipal)
}

// withdrawAndBorrowAmount splits a principal decrease into the portion drawn
// from supply and the portion that becomes new debt. Increases return two
// zeros; the two parts always sum to exactly old-new.
func withdrawAndBorrowAmount(oldPrincipal, newPrincipal *big.Int) (*big.Int, *big.Int) {
	if oldPrincipal == nil || newPrincipal == nil || newPrincipal.Cmp(oldPrincipal) > 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	if newPrincipal.Sign() >= 0 {
		return new(big.Int).Sub(oldPrincipal, newPrincipal), big.NewInt(0)
	}
	if oldPrincipal.Sign() <= 0 {
		return big.NewInt(0), new(big.Int).Sub(oldPrincipal, newPrincipal)
	}
	return new(big.Int).Set(oldPrincipal), new(big.Int).Neg(newPrincipal)
}

// mulFactor applies a basis-point factor to a value, flooring.
func mulFactor(value *big.Int, bps uint64) *big.Int {
	if value == nil || value.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(value, new(big.Int).SetUint64(bps))
	return scaled.Quo(scaled, basisPoints)
}

// usdValue converts a native-scale amount into USD at oracle precision.
func usdValue(amount, price, scale *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 || price == nil || scale == nil || scale.Sign() == 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(amount, price)
	return value.Quo(value, scale)
}
