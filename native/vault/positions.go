package vault

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrPositionExists indicates a tokenId is already registered.
	ErrPositionExists = errors.New("vault: position already registered")
)

// TokenMover moves fungible balances when a position's liquidity is paid out.
type TokenMover interface {
	Transfer(from common.Address, to common.Address, token common.Address, amount *big.Int) error
}

type bookEntry struct {
	owner   common.Address
	amount0 *big.Int
	amount1 *big.Int
}

// PositionBook is the in-process custody record of a concentrated-liquidity
// pool's NFT positions: who holds each tokenId and the principal amounts
// behind it. It backs the ledger as its PositionSource and the disposal
// router as its unwinder.
type PositionBook struct {
	token0 common.Address
	token1 common.Address
	pool   common.Address
	mover  TokenMover

	entries map[uint64]*bookEntry
}

// NewPositionBook constructs an empty book for the given pool. Liquidity
// withdrawals pay out of the pool address through the mover.
func NewPositionBook(token0, token1, pool common.Address, mover TokenMover) *PositionBook {
	return &PositionBook{
		token0:  token0,
		token1:  token1,
		pool:    pool,
		mover:   mover,
		entries: make(map[uint64]*bookEntry),
	}
}

// Register records a new position under the given owner.
func (b *PositionBook) Register(tokenID uint64, owner common.Address, amount0, amount1 *big.Int) error {
	if b == nil {
		return errNilSource
	}
	if _, exists := b.entries[tokenID]; exists {
		return ErrPositionExists
	}
	b.entries[tokenID] = &bookEntry{
		owner:   owner,
		amount0: cloneOrZero(amount0),
		amount1: cloneOrZero(amount1),
	}
	return nil
}

// UpdateAmounts replaces a position's recorded principal amounts, e.g. after
// fees compound into the position.
func (b *PositionBook) UpdateAmounts(tokenID uint64, amount0, amount1 *big.Int) error {
	entry, ok := b.entries[tokenID]
	if !ok {
		return ErrUnknownToken
	}
	entry.amount0 = cloneOrZero(amount0)
	entry.amount1 = cloneOrZero(amount1)
	return nil
}

// OwnerOf returns the current holder of the position.
func (b *PositionBook) OwnerOf(tokenID uint64) (common.Address, error) {
	entry, ok := b.entries[tokenID]
	if !ok {
		return common.Address{}, ErrUnknownToken
	}
	return entry.owner, nil
}

// PrincipalAmounts returns the token amounts backing the position.
func (b *PositionBook) PrincipalAmounts(tokenID uint64) (*big.Int, *big.Int, error) {
	entry, ok := b.entries[tokenID]
	if !ok {
		return nil, nil, ErrUnknownToken
	}
	return new(big.Int).Set(entry.amount0), new(big.Int).Set(entry.amount1), nil
}

// Transfer moves custody of the NFT between addresses.
func (b *PositionBook) Transfer(tokenID uint64, from common.Address, to common.Address) error {
	entry, ok := b.entries[tokenID]
	if !ok {
		return ErrUnknownToken
	}
	if entry.owner != from {
		return ErrNotOwner
	}
	entry.owner = to
	return nil
}

// WithdrawLiquidity burns the position and pays its principal amounts from
// the pool to the recipient.
func (b *PositionBook) WithdrawLiquidity(tokenID uint64, to common.Address) (*big.Int, *big.Int, error) {
	entry, ok := b.entries[tokenID]
	if !ok {
		return nil, nil, ErrUnknownToken
	}
	amount0 := new(big.Int).Set(entry.amount0)
	amount1 := new(big.Int).Set(entry.amount1)
	if b.mover != nil {
		if amount0.Sign() > 0 {
			if err := b.mover.Transfer(b.pool, to, b.token0, amount0); err != nil {
				return nil, nil, err
			}
		}
		if amount1.Sign() > 0 {
			if err := b.mover.Transfer(b.pool, to, b.token1, amount1); err != nil {
				return nil, nil, err
			}
		}
	}
	delete(b.entries, tokenID)
	return amount0, amount1, nil
}

// PoolTokens returns the pool's token pair.
func (b *PositionBook) PoolTokens() (common.Address, common.Address) {
	if b == nil {
		return common.Address{}, common.Address{}
	}
	return b.token0, b.token1
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
