package vault

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type recordingMover struct {
	moves []moverCall
}

type moverCall struct {
	from, to, token common.Address
	amount          *big.Int
}

func (m *recordingMover) Transfer(from, to, token common.Address, amount *big.Int) error {
	m.moves = append(m.moves, moverCall{from: from, to: to, token: token, amount: new(big.Int).Set(amount)})
	return nil
}

func TestPositionBookCustody(t *testing.T) {
	token0 := common.HexToAddress("0x0000000000000000000000000000000000000101")
	token1 := common.HexToAddress("0x0000000000000000000000000000000000000102")
	pool := common.HexToAddress("0x0000000000000000000000000000000000000103")
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b1")

	book := NewPositionBook(token0, token1, pool, nil)
	if err := book.Register(7, alice, big.NewInt(100), big.NewInt(200)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := book.Register(7, alice, big.NewInt(1), big.NewInt(1)); err != ErrPositionExists {
		t.Fatalf("expected ErrPositionExists, got %v", err)
	}
	owner, err := book.OwnerOf(7)
	if err != nil || owner != alice {
		t.Fatalf("owner = %v, %v", owner, err)
	}
	if err := book.Transfer(7, bob, alice); err != ErrNotOwner {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := book.Transfer(7, alice, bob); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	owner, _ = book.OwnerOf(7)
	if owner != bob {
		t.Fatalf("owner after transfer = %v", owner)
	}
	amount0, amount1, err := book.PrincipalAmounts(7)
	if err != nil {
		t.Fatalf("principal amounts: %v", err)
	}
	if amount0.Cmp(big.NewInt(100)) != 0 || amount1.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("principal amounts = %s, %s", amount0, amount1)
	}
}

func TestPositionBookWithdrawLiquidity(t *testing.T) {
	token0 := common.HexToAddress("0x0000000000000000000000000000000000000101")
	token1 := common.HexToAddress("0x0000000000000000000000000000000000000102")
	pool := common.HexToAddress("0x0000000000000000000000000000000000000103")
	router := common.HexToAddress("0x00000000000000000000000000000000000000c1")

	mover := &recordingMover{}
	book := NewPositionBook(token0, token1, pool, mover)
	if err := book.Register(9, router, big.NewInt(500), big.NewInt(0)); err != nil {
		t.Fatalf("register: %v", err)
	}
	amount0, amount1, err := book.WithdrawLiquidity(9, router)
	if err != nil {
		t.Fatalf("withdraw liquidity: %v", err)
	}
	if amount0.Cmp(big.NewInt(500)) != 0 || amount1.Sign() != 0 {
		t.Fatalf("amounts = %s, %s", amount0, amount1)
	}
	if len(mover.moves) != 1 {
		t.Fatalf("expected one transfer, got %d", len(mover.moves))
	}
	move := mover.moves[0]
	if move.from != pool || move.to != router || move.token != token0 || move.amount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected move %+v", move)
	}
	if _, err := book.OwnerOf(9); err != ErrUnknownToken {
		t.Fatalf("expected ErrUnknownToken after burn, got %v", err)
	}
}
