package oracle

import (
	"fmt"
	"math/big"
	"sync"
)

// Source supplies the most recent raw observation for a symbol. Observations
// from a Source are untrusted; the registry validates them on every read.
type Source interface {
	Latest(symbol string) (Observation, error)
}

// ManualSource is an in-memory observation store fed by maintenance actors.
// It doubles as the test source and as a manual override during incident
// response.
type ManualSource struct {
	mu  sync.RWMutex
	obs map[string]Observation
}

// NewManualSource constructs an empty manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{obs: make(map[string]Observation)}
}

// Record stores the observation, replacing any previous one for the symbol.
func (m *ManualSource) Record(obs Observation) {
	if m == nil {
		return
	}
	sym := normalizeSymbol(obs.Symbol)
	if sym == "" {
		return
	}
	stored := obs
	stored.Symbol = sym
	if obs.Price != nil {
		stored.Price = new(big.Int).Set(obs.Price)
	}
	m.mu.Lock()
	m.obs[sym] = stored
	m.mu.Unlock()
}

// Latest returns the stored observation for the symbol.
func (m *ManualSource) Latest(symbol string) (Observation, error) {
	if m == nil {
		return Observation{}, fmt.Errorf("oracle: manual source not configured")
	}
	sym := normalizeSymbol(symbol)
	m.mu.RLock()
	obs, ok := m.obs[sym]
	m.mu.RUnlock()
	if !ok {
		return Observation{}, fmt.Errorf("oracle: no observation for %s", sym)
	}
	if obs.Price != nil {
		obs.Price = new(big.Int).Set(obs.Price)
	}
	return obs, nil
}
