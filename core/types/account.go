package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Account tracks the fungible token holdings for a single actor. Every token
// balance is denominated in the token's native scale and kept as a big integer
// to match on-chain precision.
type Account struct {
	Address  common.Address              `json:"address"`
	Balances map[common.Address]*big.Int `json:"balances"`
}

// NewAccount returns an account with an initialised balance table.
func NewAccount(addr common.Address) *Account {
	return &Account{Address: addr, Balances: make(map[common.Address]*big.Int)}
}

// Balance returns the held amount for the supplied token, defaulting to zero.
// The returned value is a copy so callers cannot mutate ledger state through
// the accessor.
func (a *Account) Balance(token common.Address) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Balances[token]; ok && bal != nil {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Credit increases the account's balance for the supplied token.
func (a *Account) Credit(token common.Address, amount *big.Int) {
	if a == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[common.Address]*big.Int)
	}
	current, ok := a.Balances[token]
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	a.Balances[token] = new(big.Int).Add(current, amount)
}

// Debit decreases the account's balance for the supplied token. It returns
// false without mutating state when the balance is insufficient.
func (a *Account) Debit(token common.Address, amount *big.Int) bool {
	if a == nil || amount == nil || amount.Sign() <= 0 {
		return false
	}
	current := a.Balance(token)
	if current.Cmp(amount) < 0 {
		return false
	}
	if a.Balances == nil {
		a.Balances = make(map[common.Address]*big.Int)
	}
	a.Balances[token] = current.Sub(current, amount)
	return true
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := NewAccount(a.Address)
	for token, bal := range a.Balances {
		if bal != nil {
			clone.Balances[token] = new(big.Int).Set(bal)
		}
	}
	return clone
}
