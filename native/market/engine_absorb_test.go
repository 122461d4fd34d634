package market

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// accountFeed reports a depositor-specific price when one is configured and
// the generic price otherwise.
type accountFeed struct {
	generic    *big.Int
	perAccount map[common.Address]*big.Int
}

func (f *accountFeed) LatestPrice() (*big.Int, uint64, error) {
	return new(big.Int).Set(f.generic), 1, nil
}

func (f *accountFeed) LatestPriceForAccount(account common.Address) (*big.Int, error) {
	if price, ok := f.perAccount[account]; ok {
		return new(big.Int).Set(price), nil
	}
	return new(big.Int).Set(f.generic), nil
}

type mockVault struct {
	tokens      map[common.Address][]uint64
	shares      map[uint64]*big.Int
	values      map[uint64]*big.Int
	transferred []uint64
}

func newMockVault() *mockVault {
	return &mockVault{
		tokens: make(map[common.Address][]uint64),
		shares: make(map[uint64]*big.Int),
		values: make(map[uint64]*big.Int),
	}
}

func (v *mockVault) IsVaultKind() bool { return true }

func (v *mockVault) GetLiquidatableTokenIds(account common.Address) ([]uint64, error) {
	return append([]uint64(nil), v.tokens[account]...), nil
}

func (v *mockVault) GetTokenIdShares(tokenID uint64) (*big.Int, error) {
	return new(big.Int).Set(v.shares[tokenID]), nil
}

func (v *mockVault) GetTokenIdValueUSD(tokenID uint64) (*big.Int, error) {
	return new(big.Int).Set(v.values[tokenID]), nil
}

func (v *mockVault) ForceLiquidateTransfer(tokenID uint64, to common.Address) error {
	v.transferred = append(v.transferred, tokenID)
	return nil
}

func (v *mockVault) GetUserTokenAmounts(account common.Address) (*big.Int, *big.Int, error) {
	return big.NewInt(0), big.NewInt(0), nil
}

func seedBorrower(t *testing.T, env *testEnv, lender, borrower common.Address, collateral, debt int64) {
	t.Helper()
	env.state.fund(lender, baseToken, 100_000)
	env.state.fund(borrower, wethToken, collateral)
	if err := env.engine.SupplyBase(lender, lender, big.NewInt(100_000)); err != nil {
		t.Fatalf("seed supply: %v", err)
	}
	if err := env.engine.SupplyCollateral(borrower, borrower, wethToken, big.NewInt(collateral)); err != nil {
		t.Fatalf("supply collateral: %v", err)
	}
	if err := env.engine.WithdrawBase(borrower, borrower, big.NewInt(debt)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
}

func TestAbsorbSeizesCollateralAndClearsDebt(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0xA1)
	bob := makeAddress(0xA2)
	keeper := makeAddress(0xA3)
	env.engine.SetAuthorizedAbsorber(keeper, true)

	seedBorrower(t, env, alice, bob, 1_000, 850)

	// $0.90 collateral: 1000 * 0.90 * 0.90 = $810 covers less than $850 owed.
	env.feeds[wethFeed].SetPrice(big.NewInt(90*dollar/100), 1)

	if err := env.engine.Absorb(keeper, bob); err != nil {
		t.Fatalf("absorb: %v", err)
	}

	balance, err := env.engine.CollateralBalanceOf(bob, wethToken)
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("collateral not seized, balance %s", balance)
	}
	if env.state.accounts[bob].AssetsIn != 0 {
		t.Fatalf("membership not cleared: %b", env.state.accounts[bob].AssetsIn)
	}

	// Discounted value 900 * 0.95 = 855 repays the 850 debt with 5 left over.
	base, err := env.engine.BaseBalanceOf(bob)
	if err != nil {
		t.Fatalf("base balance: %v", err)
	}
	if base.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected residual supply 5, got %s", base)
	}

	seized := env.state.tokenAccounts[keeper].Balance(wethToken)
	if seized.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("absorber received %s collateral tokens", seized)
	}
	aggregateInvariant(t, env)
}

func TestAbsorbShortfallBurnsReserves(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0xA4)
	bob := makeAddress(0xA5)
	keeper := makeAddress(0xA6)
	env.engine.SetAuthorizedAbsorber(keeper, true)

	seedBorrower(t, env, alice, bob, 1_000, 850)

	// Collateral crashes to $0.50: 500 * 0.95 = 475 recovered against 850.
	env.feeds[wethFeed].SetPrice(big.NewInt(50*dollar/100), 1)

	if err := env.engine.Absorb(keeper, bob); err != nil {
		t.Fatalf("absorb: %v", err)
	}

	base, err := env.engine.BaseBalanceOf(bob)
	if err != nil {
		t.Fatalf("base balance: %v", err)
	}
	if base.Sign() != 0 {
		t.Fatalf("expected debt cleared to zero, got %s", base)
	}
	if env.state.accounts[bob].Principal.Sign() != 0 {
		t.Fatalf("expected zero principal, got %s", env.state.accounts[bob].Principal)
	}

	// The full 850 debt was written off against reserves: 475 paid out for
	// seized collateral plus the 375 shortfall.
	reserves, err := env.engine.GetReserves()
	if err != nil {
		t.Fatalf("reserves: %v", err)
	}
	if reserves.Cmp(big.NewInt(-850)) != 0 {
		t.Fatalf("expected reserves -850, got %s", reserves)
	}
}

func TestAbsorbRequiresAuthorization(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0xA7)
	bob := makeAddress(0xA8)
	stranger := makeAddress(0xA9)

	seedBorrower(t, env, alice, bob, 1_000, 850)
	env.feeds[wethFeed].SetPrice(big.NewInt(90*dollar/100), 1)

	if err := env.engine.Absorb(stranger, bob); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAbsorbRejectsHealthyAccount(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0xAA)
	bob := makeAddress(0xAB)
	keeper := makeAddress(0xAC)
	env.engine.SetAuthorizedAbsorber(keeper, true)

	seedBorrower(t, env, alice, bob, 1_000, 500)

	if err := env.engine.Absorb(keeper, bob); err != ErrNotLiquidatable {
		t.Fatalf("expected ErrNotLiquidatable, got %v", err)
	}
}

func TestAbsorbDispatchesVaultPositions(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0xAD)
	bob := makeAddress(0xAE)
	keeper := makeAddress(0xAF)
	env.engine.SetAuthorizedAbsorber(keeper, true)

	feed := &accountFeed{
		generic:    big.NewInt(dollar),
		perAccount: map[common.Address]*big.Int{bob: big.NewInt(dollar)},
	}
	env.engine.oracles.Register(vaultFeedAddr, feed)

	if err := env.engine.AddAsset(AssetInfo{
		Asset:                        vaultToken,
		PriceFeed:                    vaultFeedAddr,
		Scale:                        big.NewInt(1),
		BorrowCollateralFactorBps:    7000,
		LiquidateCollateralFactorBps: 8000,
		LiquidationFactorBps:         9000,
		SupplyCap:                    big.NewInt(1_000_000),
	}); err != nil {
		t.Fatalf("add vault asset: %v", err)
	}
	vault := newMockVault()
	vault.tokens[bob] = []uint64{11, 12}
	vault.shares[11] = big.NewInt(600)
	vault.shares[12] = big.NewInt(400)
	vault.values[11] = big.NewInt(500 * dollar)
	vault.values[12] = big.NewInt(400 * dollar)
	if err := env.engine.RegisterVault(vaultToken, vaultModule, vault); err != nil {
		t.Fatalf("register vault: %v", err)
	}

	env.state.fund(alice, baseToken, 100_000)
	env.state.fund(bob, vaultToken, 1_000)
	if err := env.engine.SupplyBase(alice, alice, big.NewInt(100_000)); err != nil {
		t.Fatalf("seed supply: %v", err)
	}
	if err := env.engine.SupplyCollateral(bob, bob, vaultToken, big.NewInt(1_000)); err != nil {
		t.Fatalf("supply vault collateral: %v", err)
	}
	if err := env.engine.WithdrawBase(bob, bob, big.NewInt(650)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Per-account valuation slips to $0.80: 800 * 0.80 = 640 against 650.
	feed.perAccount[bob] = big.NewInt(80 * dollar / 100)

	if err := env.engine.Absorb(keeper, bob); err != nil {
		t.Fatalf("absorb: %v", err)
	}

	if len(vault.transferred) != 2 || vault.transferred[0] != 11 || vault.transferred[1] != 12 {
		t.Fatalf("expected forced transfer of tokens 11 and 12, got %v", vault.transferred)
	}
	balance, err := env.engine.CollateralBalanceOf(bob, vaultToken)
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("vault collateral not cleared: %s", balance)
	}
	// Seized value 800 discounted at 0.90 repays 720 of the 650 debt.
	base, err := env.engine.BaseBalanceOf(bob)
	if err != nil {
		t.Fatalf("base balance: %v", err)
	}
	if base.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("expected residual supply 70, got %s", base)
	}
}
