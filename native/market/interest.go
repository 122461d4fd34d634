package market

import "math/big"

// InterestModel encapsulates the kinked two-slope curve that shapes borrow
// rates as a function of utilisation.
type InterestModel struct {
	// BaseRate is the minimum borrow APR applied when utilisation is zero.
	BaseRate *big.Rat
	// SlopeLow is the borrow APR increase per unit of utilisation up to the
	// kink point.
	SlopeLow *big.Rat
	// SlopeHigh governs the additional APR increase applied when utilisation
	// exceeds the kink point.
	SlopeHigh *big.Rat
	// Kink is the utilisation ratio where the slope changes to discourage
	// draining the pool.
	Kink *big.Rat
}

// NewInterestModel constructs an interest model from decimal inputs, e.g. a 2%
// base rate is 0.02 and an 80% kink utilisation is 0.8.
func NewInterestModel(baseRate, slopeLow, slopeHigh, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate:  new(big.Rat),
		SlopeLow:  new(big.Rat),
		SlopeHigh: new(big.Rat),
		Kink:      new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.SlopeLow.SetFloat64(slopeLow)
	model.SlopeHigh.SetFloat64(slopeHigh)
	model.Kink.SetFloat64(kink)
	return model
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	clone := &InterestModel{
		BaseRate:  new(big.Rat),
		SlopeLow:  new(big.Rat),
		SlopeHigh: new(big.Rat),
		Kink:      new(big.Rat),
	}
	if m.BaseRate != nil {
		clone.BaseRate.Set(m.BaseRate)
	}
	if m.SlopeLow != nil {
		clone.SlopeLow.Set(m.SlopeLow)
	}
	if m.SlopeHigh != nil {
		clone.SlopeHigh.Set(m.SlopeHigh)
	}
	if m.Kink != nil {
		clone.Kink.Set(m.Kink)
	}
	return clone
}

// Utilisation computes U = presentBorrow / presentSupply, defined as zero when
// either side is empty.
func (m *InterestModel) Utilisation(presentBorrow, presentSupply *big.Int) *big.Rat {
	if presentBorrow == nil || presentBorrow.Sign() == 0 {
		return new(big.Rat)
	}
	if presentSupply == nil || presentSupply.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(presentBorrow, presentSupply)
}

// BorrowAPR derives the borrow rate at the supplied utilisation: below the
// kink rate = base + slopeLow*U, above it the excess utilisation is charged at
// slopeHigh on top of the rate at the kink.
func (m *InterestModel) BorrowAPR(utilisation *big.Rat) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	if utilisation == nil || utilisation.Sign() == 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	slopeLow := cloneRat(m.SlopeLow)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(slopeLow, utilisation))
	}
	rate.Add(rate, new(big.Rat).Mul(slopeLow, kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	if excess.Sign() < 0 {
		excess.SetInt64(0)
	}
	return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.SlopeHigh), excess))
}

// SupplyAPR derives the supplier rate from the borrow APR, utilisation and the
// reserve factor withheld by the protocol, in basis points.
func (m *InterestModel) SupplyAPR(utilisation *big.Rat, reserveFactorBps uint64) *big.Rat {
	if m == nil || utilisation == nil || utilisation.Sign() == 0 {
		return new(big.Rat)
	}
	borrowAPR := m.BorrowAPR(utilisation)
	if borrowAPR.Sign() == 0 {
		return new(big.Rat)
	}
	if reserveFactorBps > 10_000 {
		reserveFactorBps = 10_000
	}
	reserve := new(big.Rat).SetFrac(big.NewInt(int64(reserveFactorBps)), big.NewInt(10_000))
	oneMinus := new(big.Rat).Sub(big.NewRat(1, 1), reserve)
	supply := new(big.Rat).Mul(borrowAPR, utilisation)
	return supply.Mul(supply, oneMinus)
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestModel is a reasonable starting configuration with a modest
// base rate and a steep post-kink slope.
var DefaultInterestModel = NewInterestModel(0.02, 0.15, 0.6, 0.8)
