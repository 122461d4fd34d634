package liquidator

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"rangemarket/native/oracle"
)

func makeAddress(suffix byte) common.Address {
	var addr common.Address
	addr[common.AddressLength-1] = suffix
	return addr
}

var (
	routerAddr = makeAddress(0x01)
	marketAddr = makeAddress(0x02)
	baseToken  = makeAddress(0x03)
	wethToken  = makeAddress(0x04)
	wethFeed   = makeAddress(0x05)
	vaultAddr  = makeAddress(0x06)
	token0     = makeAddress(0x07)
	token1     = makeAddress(0x08)
	token0Feed = makeAddress(0x09)
	perpFeed   = makeAddress(0x0A)
)

const dollar = 100_000_000

type balanceKey struct {
	addr  common.Address
	token common.Address
}

type mockBank struct {
	balances map[balanceKey]*big.Int
}

func newMockBank() *mockBank {
	return &mockBank{balances: make(map[balanceKey]*big.Int)}
}

func (b *mockBank) credit(addr, token common.Address, amount int64) {
	key := balanceKey{addr: addr, token: token}
	balance, ok := b.balances[key]
	if !ok {
		balance = big.NewInt(0)
		b.balances[key] = balance
	}
	balance.Add(balance, big.NewInt(amount))
}

func (b *mockBank) BalanceOf(addr, token common.Address) (*big.Int, error) {
	if balance, ok := b.balances[balanceKey{addr: addr, token: token}]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

func (b *mockBank) Transfer(from, to, token common.Address, amount *big.Int) error {
	fromKey := balanceKey{addr: from, token: token}
	balance, ok := b.balances[fromKey]
	if !ok || balance.Cmp(amount) < 0 {
		return errors.New("mock bank: insufficient balance")
	}
	balance.Sub(balance, amount)
	toKey := balanceKey{addr: to, token: token}
	dest, ok := b.balances[toKey]
	if !ok {
		dest = big.NewInt(0)
		b.balances[toKey] = dest
	}
	dest.Add(dest, amount)
	return nil
}

// absorbMarket credits seized collateral to the absorber, per account.
type absorbMarket struct {
	bank     *mockBank
	seizures map[common.Address]int64
	failFor  map[common.Address]bool
	absorbed []common.Address
}

func (m *absorbMarket) Absorb(absorber, account common.Address) error {
	if m.failFor[account] {
		return errors.New("mock market: not liquidatable")
	}
	m.bank.credit(absorber, wethToken, m.seizures[account])
	m.absorbed = append(m.absorbed, account)
	return nil
}

func (m *absorbMarket) ModuleAddress() common.Address { return marketAddr }
func (m *absorbMarket) BaseToken() common.Address     { return baseToken }

// rateExchange swaps at a fixed numerator/denominator rate through the bank.
type rateExchange struct {
	bank *mockBank
	num  int64
	den  int64
}

func (x *rateExchange) Swap(owner, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int) (*big.Int, error) {
	out := new(big.Int).Mul(amountIn, big.NewInt(x.num))
	out.Quo(out, big.NewInt(x.den))
	if err := x.bank.Transfer(owner, makeAddress(0xFF), tokenIn, amountIn); err != nil {
		return nil, err
	}
	x.bank.credit(owner, tokenOut, out.Int64())
	return out, nil
}

type mockUnwinder struct {
	owners  map[uint64]common.Address
	amounts map[uint64][2]int64
	bank    *mockBank
}

func newMockUnwinder(bank *mockBank) *mockUnwinder {
	return &mockUnwinder{
		owners:  make(map[uint64]common.Address),
		amounts: make(map[uint64][2]int64),
		bank:    bank,
	}
}

func (u *mockUnwinder) OwnerOf(tokenID uint64) (common.Address, error) {
	owner, ok := u.owners[tokenID]
	if !ok {
		return common.Address{}, errors.New("mock unwinder: unknown token")
	}
	return owner, nil
}

func (u *mockUnwinder) WithdrawLiquidity(tokenID uint64, to common.Address) (*big.Int, *big.Int, error) {
	amounts := u.amounts[tokenID]
	u.bank.credit(to, token0, amounts[0])
	u.bank.credit(to, token1, amounts[1])
	delete(u.owners, tokenID)
	return big.NewInt(amounts[0]), big.NewInt(amounts[1]), nil
}

func (u *mockUnwinder) PoolTokens() (common.Address, common.Address) {
	return token0, token1
}

type perpRequest struct {
	amount *big.Int
	minOut *big.Int
	fee    *big.Int
}

type mockPerpRouter struct {
	requests []perpRequest
}

func (p *mockPerpRouter) RequestWithdrawal(amount, minOut, fee *big.Int) error {
	p.requests = append(p.requests, perpRequest{
		amount: new(big.Int).Set(amount),
		minOut: new(big.Int).Set(minOut),
		fee:    new(big.Int).Set(fee),
	})
	return nil
}

type testEnv struct {
	router *Router
	bank   *mockBank
	market *absorbMarket
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bank := newMockBank()
	registry := oracle.NewRegistry(0)
	registry.Register(wethFeed, oracle.NewStaticFeed(big.NewInt(dollar), 1))
	registry.Register(token0Feed, oracle.NewStaticFeed(big.NewInt(dollar), 1))
	registry.Register(perpFeed, oracle.NewStaticFeed(big.NewInt(dollar), 1))

	router := NewRouter(routerAddr, bank, registry)
	market := &absorbMarket{
		bank:     bank,
		seizures: make(map[common.Address]int64),
		failFor:  make(map[common.Address]bool),
	}
	router.RegisterMarket(market)
	router.RegisterVenue("poolswap", &rateExchange{bank: bank, num: 1, den: 1})
	return &testEnv{router: router, bank: bank, market: market}
}

func TestExecuteLiquidationsSwapsAndRemits(t *testing.T) {
	env := newTestEnv(t)
	operator := makeAddress(0xB1)
	borrower := makeAddress(0xB2)
	env.router.SetOperator(operator, true)
	env.market.seizures[borrower] = 900

	swaps := []SwapConfig{{Venue: "poolswap", Feed: wethFeed, MaxSlippageBps: 100}}
	err := env.router.ExecuteLiquidations(operator, marketAddr, []common.Address{borrower}, []common.Address{wethToken}, swaps)
	if err != nil {
		t.Fatalf("execute liquidations: %v", err)
	}

	remitted, _ := env.bank.BalanceOf(marketAddr, baseToken)
	if remitted.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("market received %s base, want 900", remitted)
	}
	leftover, _ := env.bank.BalanceOf(routerAddr, wethToken)
	if leftover.Sign() != 0 {
		t.Fatalf("router kept %s collateral", leftover)
	}
}

func TestExecuteLiquidationsRequiresOperator(t *testing.T) {
	env := newTestEnv(t)
	stranger := makeAddress(0xB3)
	err := env.router.ExecuteLiquidations(stranger, marketAddr, nil, nil, nil)
	if err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestExecuteLiquidationsSkipsFailedAbsorbs(t *testing.T) {
	env := newTestEnv(t)
	operator := makeAddress(0xB4)
	healthy := makeAddress(0xB5)
	underwater := makeAddress(0xB6)
	env.router.SetOperator(operator, true)
	env.market.failFor[healthy] = true
	env.market.seizures[underwater] = 400

	swaps := []SwapConfig{{Venue: "poolswap", Feed: wethFeed, MaxSlippageBps: 100}}
	accounts := []common.Address{healthy, underwater}
	err := env.router.ExecuteLiquidations(operator, marketAddr, accounts, []common.Address{wethToken}, swaps)
	if err != nil {
		t.Fatalf("execute liquidations: %v", err)
	}
	if len(env.market.absorbed) != 1 || env.market.absorbed[0] != underwater {
		t.Fatalf("expected only the underwater account absorbed, got %v", env.market.absorbed)
	}
	remitted, _ := env.bank.BalanceOf(marketAddr, baseToken)
	if remitted.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("market received %s base, want 400", remitted)
	}
}

func TestSlippageBoundEnforced(t *testing.T) {
	env := newTestEnv(t)
	operator := makeAddress(0xB7)
	borrower := makeAddress(0xB8)
	env.router.SetOperator(operator, true)
	env.market.seizures[borrower] = 1_000
	// Venue pays out 10% under par while the config tolerates only 1%.
	env.router.RegisterVenue("thin", &rateExchange{bank: env.bank, num: 9, den: 10})

	swaps := []SwapConfig{{Venue: "thin", Feed: wethFeed, MaxSlippageBps: 100}}
	err := env.router.ExecuteLiquidations(operator, marketAddr, []common.Address{borrower}, []common.Address{wethToken}, swaps)
	if err != ErrTooMuchSlippage {
		t.Fatalf("expected ErrTooMuchSlippage, got %v", err)
	}
}

func TestPendingQueueMergesAcrossCalls(t *testing.T) {
	env := newTestEnv(t)
	unwinder := newMockUnwinder(env.bank)
	swap := SwapConfig{Venue: "poolswap", Feed: token0Feed, MaxSlippageBps: 100}
	if err := env.router.RegisterVault(vaultAddr, unwinder, marketAddr, swap); err != nil {
		t.Fatalf("register vault: %v", err)
	}
	unwinder.owners[21] = routerAddr
	unwinder.owners[22] = routerAddr
	unwinder.amounts[21] = [2]int64{300, 200}
	unwinder.amounts[22] = [2]int64{100, 400}

	// Two liquidation rounds push into the same pending record, the second
	// round repeating a tokenId.
	if err := env.router.OnNFTReceived(vaultAddr, 21); err != nil {
		t.Fatalf("queue 21: %v", err)
	}
	if err := env.router.OnNFTReceived(vaultAddr, 22); err != nil {
		t.Fatalf("queue 22: %v", err)
	}
	if err := env.router.OnNFTReceived(vaultAddr, 21); err != nil {
		t.Fatalf("requeue 21: %v", err)
	}
	if got := env.router.PendingNFTCount(vaultAddr); got != 2 {
		t.Fatalf("pending count %d, want 2", got)
	}

	if err := env.router.ProcessPendingNFTs(nil); err != nil {
		t.Fatalf("process pending: %v", err)
	}
	// 300+200+100+400 at one dollar each, swapped 1:1 to base.
	remitted, _ := env.bank.BalanceOf(marketAddr, baseToken)
	if remitted.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("market received %s base, want 1000", remitted)
	}
	if got := env.router.PendingNFTCount(vaultAddr); got != 0 {
		t.Fatalf("pending record not cleared, %d entries", got)
	}
}

func TestProcessPendingSkipsUnownedPositions(t *testing.T) {
	env := newTestEnv(t)
	unwinder := newMockUnwinder(env.bank)
	swap := SwapConfig{Venue: "poolswap", Feed: token0Feed, MaxSlippageBps: 100}
	if err := env.router.RegisterVault(vaultAddr, unwinder, marketAddr, swap); err != nil {
		t.Fatalf("register vault: %v", err)
	}
	elsewhere := makeAddress(0xB9)
	unwinder.owners[31] = routerAddr
	unwinder.owners[32] = elsewhere
	unwinder.amounts[31] = [2]int64{250, 250}
	unwinder.amounts[32] = [2]int64{999, 999}

	if err := env.router.OnNFTReceived(vaultAddr, 31); err != nil {
		t.Fatalf("queue 31: %v", err)
	}
	if err := env.router.OnNFTReceived(vaultAddr, 32); err != nil {
		t.Fatalf("queue 32: %v", err)
	}
	if err := env.router.ProcessPendingNFTs([]common.Address{vaultAddr}); err != nil {
		t.Fatalf("process pending: %v", err)
	}

	remitted, _ := env.bank.BalanceOf(marketAddr, baseToken)
	if remitted.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("market received %s base, want 500", remitted)
	}
	if _, ok := unwinder.owners[32]; !ok {
		t.Fatalf("unowned position was unwound")
	}
}

func TestPerpWithdrawalFlow(t *testing.T) {
	env := newTestEnv(t)
	operator := makeAddress(0xBA)
	env.router.SetOperator(operator, true)
	perp := &mockPerpRouter{}
	env.router.ConfigurePerp(perp, perpFeed, 200, big.NewInt(7))

	if err := env.router.RequestPerpWithdrawal(operator, marketAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("request withdrawal: %v", err)
	}
	if len(perp.requests) != 1 {
		t.Fatalf("expected one perp request, got %d", len(perp.requests))
	}
	req := perp.requests[0]
	// $1 price with a 2% slippage bound on 1000 units.
	if req.minOut.Cmp(big.NewInt(980)) != 0 {
		t.Fatalf("minimum out %s, want 980", req.minOut)
	}
	if req.fee.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("execution fee %s, want 7", req.fee)
	}

	// The async completion shows up as a plain balance increase.
	env.bank.credit(routerAddr, baseToken, 985)

	if err := env.router.ProcessPendingWithdrawals(marketAddr); err != nil {
		t.Fatalf("process withdrawals: %v", err)
	}
	remitted, _ := env.bank.BalanceOf(marketAddr, baseToken)
	if remitted.Cmp(big.NewInt(985)) != 0 {
		t.Fatalf("market received %s base, want 985", remitted)
	}
	if env.router.PendingPerpRequests() != 0 {
		t.Fatalf("perp bookkeeping not cleared")
	}
}

func TestSwapSlippageBoundAboveUnityRejected(t *testing.T) {
	env := newTestEnv(t)
	operator := makeAddress(0xBB)
	borrower := makeAddress(0xBC)
	env.router.SetOperator(operator, true)
	env.market.seizures[borrower] = 500

	swaps := []SwapConfig{{Venue: "poolswap", Feed: wethFeed, MaxSlippageBps: 10_001}}
	err := env.router.ExecuteLiquidations(operator, marketAddr, []common.Address{borrower}, []common.Address{wethToken}, swaps)
	if err != ErrInvalidSlippage {
		t.Fatalf("expected ErrInvalidSlippage, got %v", err)
	}
}

func TestPerpSlippageBoundAboveUnityRejected(t *testing.T) {
	env := newTestEnv(t)
	operator := makeAddress(0xBD)
	env.router.SetOperator(operator, true)
	perp := &mockPerpRouter{}
	env.router.ConfigurePerp(perp, perpFeed, 10_001, big.NewInt(0))

	err := env.router.RequestPerpWithdrawal(operator, marketAddr, big.NewInt(1_000))
	if err != ErrInvalidSlippage {
		t.Fatalf("expected ErrInvalidSlippage, got %v", err)
	}
	if len(perp.requests) != 0 {
		t.Fatalf("request forwarded despite invalid bound")
	}
}
