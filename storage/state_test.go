package storage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"rangemarket/core/types"
	"rangemarket/native/market"
)

func makeAddress(suffix byte) common.Address {
	var addr common.Address
	addr[common.AddressLength-1] = suffix
	return addr
}

func TestTotalsRoundTrip(t *testing.T) {
	state := NewState(NewMemDB())

	missing, err := state.GetTotals()
	if err != nil {
		t.Fatalf("get empty totals: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil totals, got %+v", missing)
	}

	totals := &market.Totals{
		BaseSupplyIndex:     big.NewInt(1_000_000),
		BaseBorrowIndex:     big.NewInt(2_000_000),
		TrackingSupplyIndex: big.NewInt(3),
		TrackingBorrowIndex: big.NewInt(4),
		TotalSupplyBase:     big.NewInt(5_000),
		TotalBorrowBase:     big.NewInt(600),
		LastAccrualTime:     42,
	}
	if err := state.PutTotals(totals); err != nil {
		t.Fatalf("put totals: %v", err)
	}
	loaded, err := state.GetTotals()
	if err != nil {
		t.Fatalf("get totals: %v", err)
	}
	if loaded.BaseSupplyIndex.Cmp(totals.BaseSupplyIndex) != 0 ||
		loaded.BaseBorrowIndex.Cmp(totals.BaseBorrowIndex) != 0 ||
		loaded.TotalSupplyBase.Cmp(totals.TotalSupplyBase) != 0 ||
		loaded.TotalBorrowBase.Cmp(totals.TotalBorrowBase) != 0 ||
		loaded.LastAccrualTime != totals.LastAccrualTime {
		t.Fatalf("totals mismatch: %+v", loaded)
	}

	// Decoded values are fresh allocations, never aliases of prior reads.
	loaded.TotalSupplyBase.SetInt64(999)
	again, err := state.GetTotals()
	if err != nil {
		t.Fatalf("reload totals: %v", err)
	}
	if again.TotalSupplyBase.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("stored totals aliased a read: %s", again.TotalSupplyBase)
	}
}

func TestAccountStatePreservesSign(t *testing.T) {
	state := NewState(NewMemDB())
	addr := makeAddress(0xD1)

	borrower := &market.AccountState{
		Address:             addr,
		Principal:           big.NewInt(-12_345),
		AssetsIn:            0b101,
		BaseTrackingIndex:   big.NewInt(77),
		BaseTrackingAccrued: big.NewInt(88),
	}
	if err := state.PutAccountState(addr, borrower); err != nil {
		t.Fatalf("put account: %v", err)
	}
	loaded, err := state.GetAccountState(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if loaded.Principal.Cmp(big.NewInt(-12_345)) != 0 {
		t.Fatalf("principal sign lost: %s", loaded.Principal)
	}
	if loaded.AssetsIn != 0b101 {
		t.Fatalf("assets bitmap lost: %b", loaded.AssetsIn)
	}
	if loaded.BaseTrackingAccrued.Cmp(big.NewInt(88)) != 0 {
		t.Fatalf("tracking accrued lost: %s", loaded.BaseTrackingAccrued)
	}
}

func TestCollateralBalances(t *testing.T) {
	state := NewState(NewMemDB())
	addr := makeAddress(0xD2)
	asset := makeAddress(0xD3)

	missing, err := state.GetCollateral(addr, asset)
	if err != nil {
		t.Fatalf("get empty collateral: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil collateral, got %s", missing)
	}

	if err := state.PutCollateral(addr, asset, big.NewInt(777)); err != nil {
		t.Fatalf("put collateral: %v", err)
	}
	if err := state.PutCollateralTotal(asset, big.NewInt(777)); err != nil {
		t.Fatalf("put total: %v", err)
	}
	balance, err := state.GetCollateral(addr, asset)
	if err != nil {
		t.Fatalf("get collateral: %v", err)
	}
	if balance.Cmp(big.NewInt(777)) != 0 {
		t.Fatalf("collateral %s, want 777", balance)
	}
	total, err := state.GetCollateralTotal(asset)
	if err != nil {
		t.Fatalf("get total: %v", err)
	}
	if total.Cmp(big.NewInt(777)) != 0 {
		t.Fatalf("total %s, want 777", total)
	}
}

func TestTokenAccountsAndTransfer(t *testing.T) {
	state := NewState(NewMemDB())
	alice := makeAddress(0xD4)
	bob := makeAddress(0xD5)
	token := makeAddress(0xD6)

	account := types.NewAccount(alice)
	account.Credit(token, big.NewInt(1_000))
	if err := state.PutTokenAccount(alice, account); err != nil {
		t.Fatalf("put token account: %v", err)
	}

	if err := state.Transfer(alice, bob, token, big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBalance, err := state.BalanceOf(alice, token)
	if err != nil {
		t.Fatalf("alice balance: %v", err)
	}
	if aliceBalance.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("alice balance %s, want 600", aliceBalance)
	}
	bobBalance, err := state.BalanceOf(bob, token)
	if err != nil {
		t.Fatalf("bob balance: %v", err)
	}
	if bobBalance.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("bob balance %s, want 400", bobBalance)
	}

	if err := state.Transfer(bob, alice, token, big.NewInt(500)); err == nil {
		t.Fatalf("expected overdraft rejection")
	}
}

// The typed store must satisfy the engine's persistence contract end to end,
// not just record by record.
func TestEngineRunsOverState(t *testing.T) {
	moduleAddr := makeAddress(0x01)
	base := makeAddress(0x02)
	alice := makeAddress(0xD7)

	engine := market.NewEngine(moduleAddr, market.Params{
		BaseToken: base,
		BaseScale: big.NewInt(1),
		BorrowMin: big.NewInt(10),
	})
	state := NewState(NewMemDB())
	engine.SetState(state)
	engine.SetTime(1)

	funded := types.NewAccount(alice)
	funded.Credit(base, big.NewInt(1_000))
	if err := state.PutTokenAccount(alice, funded); err != nil {
		t.Fatalf("fund: %v", err)
	}

	if err := engine.SupplyBase(alice, alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	balance, err := engine.BaseBalanceOf(alice)
	if err != nil {
		t.Fatalf("base balance: %v", err)
	}
	if balance.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("balance %s, want 1000", balance)
	}
	if err := engine.WithdrawBase(alice, alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	tokens, err := state.BalanceOf(alice, base)
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	if tokens.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("tokens %s, want 1000", tokens)
	}
}
