package market

import (
	"math/big"
	"testing"
)

func TestRepayAndSupplySplit(t *testing.T) {
	cases := []struct {
		name   string
		old    int64
		new    int64
		repay  int64
		supply int64
	}{
		{"debt to smaller debt", -100, -40, 60, 0},
		{"debt to zero", -100, 0, 100, 0},
		{"debt across zero", -100, 30, 100, 30},
		{"supply to more supply", 50, 80, 0, 30},
		{"zero to supply", 0, 25, 0, 25},
		{"no change", 10, 10, 0, 0},
		{"decrease yields nothing", 50, 20, 0, 0},
	}
	for _, tc := range cases {
		repay, supply := repayAndSupplyAmount(big.NewInt(tc.old), big.NewInt(tc.new))
		if repay.Cmp(big.NewInt(tc.repay)) != 0 || supply.Cmp(big.NewInt(tc.supply)) != 0 {
			t.Fatalf("%s: got repay %s supply %s, want %d %d", tc.name, repay, supply, tc.repay, tc.supply)
		}
	}
}

func TestWithdrawAndBorrowSplit(t *testing.T) {
	cases := []struct {
		name     string
		old      int64
		new      int64
		withdraw int64
		borrow   int64
	}{
		{"supply to smaller supply", 100, 40, 60, 0},
		{"supply to zero", 100, 0, 100, 0},
		{"supply across zero", 100, -30, 100, 30},
		{"debt to more debt", -50, -80, 0, 30},
		{"zero to debt", 0, -25, 0, 25},
		{"no change", -10, -10, 0, 0},
		{"increase yields nothing", 20, 50, 0, 0},
	}
	for _, tc := range cases {
		withdraw, borrow := withdrawAndBorrowAmount(big.NewInt(tc.old), big.NewInt(tc.new))
		if withdraw.Cmp(big.NewInt(tc.withdraw)) != 0 || borrow.Cmp(big.NewInt(tc.borrow)) != 0 {
			t.Fatalf("%s: got withdraw %s borrow %s, want %d %d", tc.name, withdraw, borrow, tc.withdraw, tc.borrow)
		}
	}
}

func TestPresentValueRounding(t *testing.T) {
	supplyIndex := new(big.Int).Add(ray, new(big.Int).Quo(ray, big.NewInt(2))) // 1.5
	borrowIndex := new(big.Int).Mul(ray, big.NewInt(2))                        // 2.0

	// Supply side floors: 3 * 1.5 = 4.5 -> 4.
	if got := presentValue(big.NewInt(3), supplyIndex, borrowIndex); got.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("supply present value = %s, want 4", got)
	}
	// Borrow magnitude floors too: -3 * 1.5 would be -4.5 under the supply
	// index, but debt uses the borrow index: -3 * 2 = -6.
	if got := presentValue(big.NewInt(-3), supplyIndex, borrowIndex); got.Cmp(big.NewInt(-6)) != 0 {
		t.Fatalf("borrow present value = %s, want -6", got)
	}
}

func TestPrincipalValueRounding(t *testing.T) {
	supplyIndex := new(big.Int).Mul(ray, big.NewInt(3)) // 3.0
	borrowIndex := new(big.Int).Mul(ray, big.NewInt(3))

	// Supply floors: 7 / 3 -> 2.
	if got := principalValue(big.NewInt(7), supplyIndex, borrowIndex); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("supply principal = %s, want 2", got)
	}
	// Borrow magnitude rounds up: -7 / 3 -> -3 so debt is never understated.
	if got := principalValue(big.NewInt(-7), supplyIndex, borrowIndex); got.Cmp(big.NewInt(-3)) != 0 {
		t.Fatalf("borrow principal = %s, want -3", got)
	}
}

func TestRateFactor(t *testing.T) {
	// 10% APR over a full year compounds linearly to a 1.1 factor.
	factor := rateFactor(big.NewRat(1, 10), secondsPerYear)
	want := new(big.Int).Add(ray, new(big.Int).Quo(ray, big.NewInt(10)))
	if factor.Cmp(want) != 0 {
		t.Fatalf("rate factor = %s, want %s", factor, want)
	}
	// Zero elapsed time leaves the index untouched.
	if got := rateFactor(big.NewRat(1, 10), 0); got.Cmp(ray) != 0 {
		t.Fatalf("zero elapsed factor = %s, want ray", got)
	}
}

func TestMulFactorFloors(t *testing.T) {
	if got := mulFactor(big.NewInt(999), 9500); got.Cmp(big.NewInt(949)) != 0 {
		t.Fatalf("mulFactor = %s, want 949", got)
	}
	if got := mulFactor(big.NewInt(100), 0); got.Sign() != 0 {
		t.Fatalf("zero factor = %s, want 0", got)
	}
}
