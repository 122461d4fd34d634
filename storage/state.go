package storage

import (
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"rangemarket/core/types"
	"rangemarket/native/market"
)

var (
	keyTotals = []byte("market/totals")

	errInsufficientFunds = errors.New("storage: insufficient token balance")
)

const (
	prefixAccount         = "market/account/"
	prefixCollateral      = "market/collateral/"
	prefixCollateralTotal = "market/collateral-total/"
	prefixTokenAccount    = "market/token-account/"
)

// State is the persistence layer behind the market engine. Every record is an
// RLP blob under a prefixed key; reads decode fresh values, so the engine's
// in-memory mutations never reach the store until the matching Put.
type State struct {
	db Database
}

// NewState wraps a key-value database in the typed market store.
func NewState(db Database) *State {
	return &State{db: db}
}

type totalsRecord struct {
	BaseSupplyIndex     *big.Int
	BaseBorrowIndex     *big.Int
	TrackingSupplyIndex *big.Int
	TrackingBorrowIndex *big.Int
	TotalSupplyBase     *big.Int
	TotalBorrowBase     *big.Int
	LastAccrualTime     uint64
}

type accountRecord struct {
	Address             common.Address
	PrincipalNegative   bool
	PrincipalMagnitude  *big.Int
	AssetsIn            uint16
	BaseTrackingIndex   *big.Int
	BaseTrackingAccrued *big.Int
}

type balanceEntry struct {
	Token   common.Address
	Balance [32]byte
}

type tokenAccountRecord struct {
	Address  common.Address
	Balances []balanceEntry
}

// GetTotals loads the aggregate market totals, or nil when unset.
func (s *State) GetTotals() (*market.Totals, error) {
	var record totalsRecord
	ok, err := s.load(keyTotals, &record)
	if err != nil || !ok {
		return nil, err
	}
	return &market.Totals{
		BaseSupplyIndex:     record.BaseSupplyIndex,
		BaseBorrowIndex:     record.BaseBorrowIndex,
		TrackingSupplyIndex: record.TrackingSupplyIndex,
		TrackingBorrowIndex: record.TrackingBorrowIndex,
		TotalSupplyBase:     record.TotalSupplyBase,
		TotalBorrowBase:     record.TotalBorrowBase,
		LastAccrualTime:     record.LastAccrualTime,
	}, nil
}

// PutTotals persists the aggregate market totals.
func (s *State) PutTotals(totals *market.Totals) error {
	record := totalsRecord{
		BaseSupplyIndex:     nonNil(totals.BaseSupplyIndex),
		BaseBorrowIndex:     nonNil(totals.BaseBorrowIndex),
		TrackingSupplyIndex: nonNil(totals.TrackingSupplyIndex),
		TrackingBorrowIndex: nonNil(totals.TrackingBorrowIndex),
		TotalSupplyBase:     nonNil(totals.TotalSupplyBase),
		TotalBorrowBase:     nonNil(totals.TotalBorrowBase),
		LastAccrualTime:     totals.LastAccrualTime,
	}
	return s.store(keyTotals, &record)
}

// GetAccountState loads one account's market position, or nil when unknown.
func (s *State) GetAccountState(addr common.Address) (*market.AccountState, error) {
	var record accountRecord
	ok, err := s.load(accountKey(addr), &record)
	if err != nil || !ok {
		return nil, err
	}
	principal := nonNil(record.PrincipalMagnitude)
	if record.PrincipalNegative {
		principal = new(big.Int).Neg(principal)
	}
	return &market.AccountState{
		Address:             record.Address,
		Principal:           principal,
		AssetsIn:            record.AssetsIn,
		BaseTrackingIndex:   record.BaseTrackingIndex,
		BaseTrackingAccrued: record.BaseTrackingAccrued,
	}, nil
}

// PutAccountState persists one account's market position. RLP has no signed
// integers, so the principal is stored as sign plus magnitude.
func (s *State) PutAccountState(addr common.Address, account *market.AccountState) error {
	principal := nonNil(account.Principal)
	record := accountRecord{
		Address:             account.Address,
		PrincipalNegative:   principal.Sign() < 0,
		PrincipalMagnitude:  new(big.Int).Abs(principal),
		AssetsIn:            account.AssetsIn,
		BaseTrackingIndex:   nonNil(account.BaseTrackingIndex),
		BaseTrackingAccrued: nonNil(account.BaseTrackingAccrued),
	}
	return s.store(accountKey(addr), &record)
}

// GetCollateral loads one collateral balance, or nil when unset.
func (s *State) GetCollateral(addr common.Address, asset common.Address) (*big.Int, error) {
	return s.loadBalance(collateralKey(addr, asset))
}

// PutCollateral persists one collateral balance.
func (s *State) PutCollateral(addr common.Address, asset common.Address, balance *big.Int) error {
	return s.storeBalance(collateralKey(addr, asset), balance)
}

// GetCollateralTotal loads the market-wide total for an asset.
func (s *State) GetCollateralTotal(asset common.Address) (*big.Int, error) {
	return s.loadBalance(collateralTotalKey(asset))
}

// PutCollateralTotal persists the market-wide total for an asset.
func (s *State) PutCollateralTotal(asset common.Address, total *big.Int) error {
	return s.storeBalance(collateralTotalKey(asset), total)
}

// GetTokenAccount loads an address's token balances, or nil when unknown.
func (s *State) GetTokenAccount(addr common.Address) (*types.Account, error) {
	var record tokenAccountRecord
	ok, err := s.load(tokenAccountKey(addr), &record)
	if err != nil || !ok {
		return nil, err
	}
	account := types.NewAccount(record.Address)
	for _, entry := range record.Balances {
		balance := new(uint256.Int).SetBytes(entry.Balance[:])
		account.Credit(entry.Token, balance.ToBig())
	}
	return account, nil
}

// PutTokenAccount persists an address's token balances. Entries are sorted by
// token address and fixed-width encoded so the record is deterministic.
func (s *State) PutTokenAccount(addr common.Address, account *types.Account) error {
	record := tokenAccountRecord{Address: account.Address}
	for token, balance := range account.Balances {
		if balance == nil || balance.Sign() <= 0 {
			continue
		}
		fixed, overflow := uint256.FromBig(balance)
		if overflow {
			fixed = new(uint256.Int).SetAllOne()
		}
		record.Balances = append(record.Balances, balanceEntry{
			Token:   token,
			Balance: fixed.Bytes32(),
		})
	}
	sort.Slice(record.Balances, func(i, j int) bool {
		return record.Balances[i].Token.Cmp(record.Balances[j].Token) < 0
	})
	return s.store(tokenAccountKey(addr), &record)
}

// BalanceOf reports an address's balance of one token.
func (s *State) BalanceOf(addr common.Address, token common.Address) (*big.Int, error) {
	account, err := s.GetTokenAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return big.NewInt(0), nil
	}
	return account.Balance(token), nil
}

// Transfer moves a token balance between two addresses.
func (s *State) Transfer(from common.Address, to common.Address, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInsufficientFunds
	}
	source, err := s.GetTokenAccount(from)
	if err != nil {
		return err
	}
	if source == nil {
		source = types.NewAccount(from)
	}
	if !source.Debit(token, amount) {
		return errInsufficientFunds
	}
	destination, err := s.GetTokenAccount(to)
	if err != nil {
		return err
	}
	if destination == nil {
		destination = types.NewAccount(to)
	}
	destination.Credit(token, amount)
	if err := s.PutTokenAccount(from, source); err != nil {
		return err
	}
	return s.PutTokenAccount(to, destination)
}

func (s *State) load(key []byte, out interface{}) (bool, error) {
	ok, err := s.db.Has(key)
	if err != nil || !ok {
		return false, err
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *State) store(key []byte, record interface{}) error {
	raw, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	return s.db.Put(key, raw)
}

func (s *State) loadBalance(key []byte) (*big.Int, error) {
	ok, err := s.db.Has(key)
	if err != nil || !ok {
		return nil, err
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	var fixed [32]byte
	if err := rlp.DecodeBytes(raw, &fixed); err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(fixed[:]).ToBig(), nil
}

func (s *State) storeBalance(key []byte, balance *big.Int) error {
	fixed := new(uint256.Int)
	if balance != nil && balance.Sign() > 0 {
		converted, overflow := uint256.FromBig(balance)
		if overflow {
			converted = new(uint256.Int).SetAllOne()
		}
		fixed = converted
	}
	bytes := fixed.Bytes32()
	raw, err := rlp.EncodeToBytes(bytes)
	if err != nil {
		return err
	}
	return s.db.Put(key, raw)
}

func accountKey(addr common.Address) []byte {
	return append([]byte(prefixAccount), addr.Bytes()...)
}

func collateralKey(addr common.Address, asset common.Address) []byte {
	key := append([]byte(prefixCollateral), addr.Bytes()...)
	return append(key, asset.Bytes()...)
}

func collateralTotalKey(asset common.Address) []byte {
	return append([]byte(prefixCollateralTotal), asset.Bytes()...)
}

func tokenAccountKey(addr common.Address) []byte {
	return append([]byte(prefixTokenAccount), addr.Bytes()...)
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
