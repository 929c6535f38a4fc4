package lending

import (
	"errors"
	"fmt"
	"math/big"

	"riskengine/state"
)

var (
	ErrAssetNotListed  = errors.New("lending store: asset not listed")
	ErrPoolNotFound    = errors.New("lending store: pool not initialised")
	errCorruptedState  = errors.New("lending store: corrupted stored amount")
	errNilManager      = errors.New("lending store: state manager not configured")
	errSymbolRequired  = errors.New("lending store: symbol required")
	errAccountRequired = errors.New("lending store: owner required")
)

const (
	assetKeyPrefix   = "lending/asset/"
	poolKeyPrefix    = "lending/pool/"
	accountKeyPrefix = "lending/acct/"
	assetIndexKey    = "lending/assets"
)

// PoolKey returns the entity key used both for storage and for lock
// acquisition of a pool.
func PoolKey(symbol string) string { return poolKeyPrefix + symbol }

// AccountKey returns the entity key for an account.
func AccountKey(owner string) string { return accountKeyPrefix + owner }

// Store persists assets, pools and accounts as JSON documents through the
// shared state manager. All big integers are stored as decimal strings.
type Store struct {
	m *state.Manager
}

// NewStore wires the store to the state manager.
func NewStore(m *state.Manager) *Store {
	return &Store{m: m}
}

// Lock acquires the entity locks for the supplied keys.
func (s *Store) Lock(keys ...string) func() {
	if s == nil || s.m == nil {
		return func() {}
	}
	return s.m.Lock(keys...)
}

// Begin opens a transaction that commits atomically.
func (s *Store) Begin() *state.Tx {
	if s == nil || s.m == nil {
		return nil
	}
	return s.m.NewTx()
}

type storedAsset struct {
	Symbol              string `json:"symbol"`
	Decimals            uint8  `json:"decimals"`
	CollateralWeightBps uint64 `json:"collateralWeightBps"`
}

type storedPool struct {
	Symbol           string `json:"symbol"`
	TotalSupply      string `json:"totalSupply"`
	TotalBorrow      string `json:"totalBorrow"`
	SupplyIndex      string `json:"supplyIndex"`
	BorrowIndex      string `json:"borrowIndex"`
	LastUpdate       int64  `json:"lastUpdate"`
	ReserveFactorBps uint64 `json:"reserveFactorBps"`
	MaxTxUnits       string `json:"maxTxUnits"`
	MaxSupplyUnits   string `json:"maxSupplyUnits"`
	MaxBorrowUnits   string `json:"maxBorrowUnits"`
	Paused           bool   `json:"paused"`
}

type storedAccount struct {
	Owner           string            `json:"owner"`
	Supplies        map[string]string `json:"supplies"`
	Borrows         map[string]string `json:"borrows"`
	LastInteraction int64             `json:"lastInteraction"`
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	out, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errCorruptedState, raw)
	}
	return out, nil
}

// Asset loads a listed asset.
func (s *Store) Asset(symbol string) (*Asset, error) {
	if s == nil || s.m == nil {
		return nil, errNilManager
	}
	var stored storedAsset
	ok, err := s.m.GetJSON(assetKeyPrefix+symbol, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotListed, symbol)
	}
	return &Asset{
		Symbol:              stored.Symbol,
		Decimals:            stored.Decimals,
		CollateralWeightBps: stored.CollateralWeightBps,
	}, nil
}

// Assets lists every listed symbol.
func (s *Store) Assets() ([]string, error) {
	if s == nil || s.m == nil {
		return nil, errNilManager
	}
	var symbols []string
	if _, err := s.m.GetJSON(assetIndexKey, &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

// StageAsset stages the asset and its index entry into the transaction.
func (s *Store) StageAsset(tx *state.Tx, asset *Asset) error {
	if s == nil || s.m == nil || tx == nil || asset == nil {
		return errNilManager
	}
	if asset.Symbol == "" {
		return errSymbolRequired
	}
	symbols, err := s.Assets()
	if err != nil {
		return err
	}
	present := false
	for _, symbol := range symbols {
		if symbol == asset.Symbol {
			present = true
			break
		}
	}
	if !present {
		symbols = append(symbols, asset.Symbol)
		tx.PutJSON(assetIndexKey, symbols)
	}
	tx.PutJSON(assetKeyPrefix+asset.Symbol, storedAsset{
		Symbol:              asset.Symbol,
		Decimals:            asset.Decimals,
		CollateralWeightBps: asset.CollateralWeightBps,
	})
	return nil
}

// Pool loads the accounting state for a symbol.
func (s *Store) Pool(symbol string) (*Pool, error) {
	if s == nil || s.m == nil {
		return nil, errNilManager
	}
	var stored storedPool
	ok, err := s.m.GetJSON(PoolKey(symbol), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, symbol)
	}
	pool := &Pool{
		Symbol:           stored.Symbol,
		LastUpdate:       stored.LastUpdate,
		ReserveFactorBps: stored.ReserveFactorBps,
		Paused:           stored.Paused,
	}
	fields := []struct {
		raw  string
		into func(*big.Int)
	}{
		{stored.TotalSupply, func(v *big.Int) { pool.TotalSupply = NewUnits(v) }},
		{stored.TotalBorrow, func(v *big.Int) { pool.TotalBorrow = NewUnits(v) }},
		{stored.SupplyIndex, func(v *big.Int) { pool.SupplyIndex = v }},
		{stored.BorrowIndex, func(v *big.Int) { pool.BorrowIndex = v }},
		{stored.MaxTxUnits, func(v *big.Int) { pool.MaxTxUnits = NewUnits(v) }},
		{stored.MaxSupplyUnits, func(v *big.Int) { pool.MaxSupplyUnits = NewUnits(v) }},
		{stored.MaxBorrowUnits, func(v *big.Int) { pool.MaxBorrowUnits = NewUnits(v) }},
	}
	for _, field := range fields {
		value, err := parseAmount(field.raw)
		if err != nil {
			return nil, err
		}
		field.into(value)
	}
	pool.normalize()
	return pool, nil
}

// HasPool reports whether the pool exists without decoding it fully.
func (s *Store) HasPool(symbol string) (bool, error) {
	if s == nil || s.m == nil {
		return false, errNilManager
	}
	var stored storedPool
	return s.m.GetJSON(PoolKey(symbol), &stored)
}

// StagePool stages the pool into the transaction.
func (s *Store) StagePool(tx *state.Tx, pool *Pool) error {
	if s == nil || tx == nil || pool == nil {
		return errNilManager
	}
	if pool.Symbol == "" {
		return errSymbolRequired
	}
	pool.normalize()
	tx.PutJSON(PoolKey(pool.Symbol), storedPool{
		Symbol:           pool.Symbol,
		TotalSupply:      pool.TotalSupply.String(),
		TotalBorrow:      pool.TotalBorrow.String(),
		SupplyIndex:      pool.SupplyIndex.String(),
		BorrowIndex:      pool.BorrowIndex.String(),
		LastUpdate:       pool.LastUpdate,
		ReserveFactorBps: pool.ReserveFactorBps,
		MaxTxUnits:       pool.MaxTxUnits.String(),
		MaxSupplyUnits:   pool.MaxSupplyUnits.String(),
		MaxBorrowUnits:   pool.MaxBorrowUnits.String(),
		Paused:           pool.Paused,
	})
	return nil
}

// Account loads the account for the owner, returning an empty account when
// none exists yet.
func (s *Store) Account(owner string) (*Account, error) {
	if s == nil || s.m == nil {
		return nil, errNilManager
	}
	if owner == "" {
		return nil, errAccountRequired
	}
	var stored storedAccount
	ok, err := s.m.GetJSON(AccountKey(owner), &stored)
	if err != nil {
		return nil, err
	}
	account := NewAccount(owner)
	if !ok {
		return account, nil
	}
	account.LastInteraction = stored.LastInteraction
	for symbol, raw := range stored.Supplies {
		value, err := parseAmount(raw)
		if err != nil {
			return nil, err
		}
		account.Supplies[symbol] = NewScaled(value)
	}
	for symbol, raw := range stored.Borrows {
		value, err := parseAmount(raw)
		if err != nil {
			return nil, err
		}
		account.Borrows[symbol] = NewScaled(value)
	}
	return account, nil
}

// StageAccount stages the account into the transaction. Zero balances are
// kept so accounts persist after closing positions.
func (s *Store) StageAccount(tx *state.Tx, account *Account) error {
	if s == nil || tx == nil || account == nil {
		return errNilManager
	}
	if account.Owner == "" {
		return errAccountRequired
	}
	stored := storedAccount{
		Owner:           account.Owner,
		Supplies:        make(map[string]string, len(account.Supplies)),
		Borrows:         make(map[string]string, len(account.Borrows)),
		LastInteraction: account.LastInteraction,
	}
	for symbol, balance := range account.Supplies {
		stored.Supplies[symbol] = balance.String()
	}
	for symbol, balance := range account.Borrows {
		stored.Borrows[symbol] = balance.String()
	}
	tx.PutJSON(AccountKey(account.Owner), stored)
	return nil
}
