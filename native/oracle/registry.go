// Package oracle binds market symbols to registered price feed identities and
// is the only legal path to a price anywhere in the engine. Every read checks
// the feed identity, the observation freshness and price positivity before a
// Quote is handed out; no component accepts a caller-supplied price.
package oracle

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"riskengine/core/events"
	"riskengine/native/authority"
)

var (
	ErrFeedNotBound = errors.New("oracle: symbol has no registered feed")
	ErrFeedMismatch = errors.New("oracle: observation feed identity does not match binding")
	ErrStalePrice   = errors.New("oracle: observation older than the binding allows")
	ErrInvalidPrice = errors.New("oracle: price must be positive")
	ErrUnauthorized = errors.New("oracle: capability not authorized")

	errSymbolRequired = errors.New("oracle: symbol required")
	errFeedRequired   = errors.New("oracle: feed identity required")
)

// PriceScale is the fixed-point scale of every price handled by the engine:
// an integer price of 1_000_000 means 1.00 USD per whole token.
const PriceScale = 1_000_000

// Binding pins a symbol to a feed identity and the maximum observation age
// accepted for that feed.
type Binding struct {
	FeedID string
	MaxAge time.Duration
}

// Observation is the raw input delivered by the oracle collaborator. It is
// untrusted until it passes ReadPrice.
type Observation struct {
	Symbol    string
	FeedID    string
	Price     *big.Int
	Timestamp time.Time
}

// Quote is a validated price. Quotes are only constructed by the registry,
// so holding one proves the feed identity, freshness and positivity checks
// already ran.
type Quote struct {
	symbol     string
	price      *big.Int
	observedAt time.Time
}

// Symbol returns the market symbol the quote prices.
func (q Quote) Symbol() string { return q.symbol }

// Price returns a copy of the fixed-point price (PriceScale base).
func (q Quote) Price() *big.Int {
	if q.price == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(q.price)
}

// ObservedAt returns the upstream observation timestamp.
func (q Quote) ObservedAt() time.Time { return q.observedAt }

// Registry maintains the symbol to feed-identity bindings. Mutation requires
// the admin capability supplied at construction.
type Registry struct {
	mu       sync.RWMutex
	admin    authority.Capability
	bindings map[string]Binding
	emitter  events.Emitter
}

// NewRegistry constructs an empty registry guarded by the supplied admin
// capability. A nil emitter discards binding records.
func NewRegistry(admin authority.Capability, emitter events.Emitter) *Registry {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Registry{
		admin:    admin,
		bindings: make(map[string]Binding),
		emitter:  emitter,
	}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// SetFeed binds or re-binds a symbol to a feed identity. The overwrite is
// idempotent and every change emits a binding record carrying the previous
// identity for auditability.
func (r *Registry) SetFeed(cap authority.Capability, symbol, feedID string, maxAge time.Duration) error {
	if r == nil {
		return ErrFeedNotBound
	}
	if !cap.Valid() || cap != r.admin {
		return ErrUnauthorized
	}
	sym := normalizeSymbol(symbol)
	if sym == "" {
		return errSymbolRequired
	}
	feed := strings.TrimSpace(feedID)
	if feed == "" {
		return errFeedRequired
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}

	r.mu.Lock()
	previous := r.bindings[sym].FeedID
	r.bindings[sym] = Binding{FeedID: feed, MaxAge: maxAge}
	r.mu.Unlock()

	r.emitter.Emit(events.FeedBound{
		Symbol:        sym,
		PreviousFeed:  previous,
		FeedID:        feed,
		MaxAgeSeconds: int64(maxAge / time.Second),
	}.Event())
	return nil
}

// Binding returns the registered binding for the symbol.
func (r *Registry) Binding(symbol string) (Binding, bool) {
	if r == nil {
		return Binding{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	binding, ok := r.bindings[normalizeSymbol(symbol)]
	return binding, ok
}

// ReadPrice validates the observation against the registered binding and
// returns a Quote. It fails with ErrFeedNotBound, ErrFeedMismatch,
// ErrStalePrice or ErrInvalidPrice; a returned Quote passed every check.
func (r *Registry) ReadPrice(symbol string, obs Observation, now time.Time) (Quote, error) {
	if r == nil {
		return Quote{}, ErrFeedNotBound
	}
	sym := normalizeSymbol(symbol)
	if sym == "" {
		return Quote{}, errSymbolRequired
	}
	r.mu.RLock()
	binding, ok := r.bindings[sym]
	r.mu.RUnlock()
	if !ok {
		return Quote{}, ErrFeedNotBound
	}
	if strings.TrimSpace(obs.FeedID) != binding.FeedID {
		return Quote{}, ErrFeedMismatch
	}
	if obs.Timestamp.IsZero() || now.Sub(obs.Timestamp) > binding.MaxAge {
		return Quote{}, ErrStalePrice
	}
	if obs.Price == nil || obs.Price.Sign() <= 0 {
		return Quote{}, ErrInvalidPrice
	}
	return Quote{
		symbol:     sym,
		price:      new(big.Int).Set(obs.Price),
		observedAt: obs.Timestamp,
	}, nil
}

// PriceSet is a snapshot of validated quotes built by the registry for one
// health evaluation. Each quote re-ran the binding checks at construction
// time, so a PriceSet never carries an unverified symbol.
type PriceSet struct {
	quotes  map[string]Quote
	builtAt time.Time
}

// Snapshot reads and validates a quote for every supplied symbol from the
// source. The snapshot fails as a whole if any symbol cannot produce a valid
// quote; partial price sets are never returned.
func (r *Registry) Snapshot(src Source, symbols []string, now time.Time) (*PriceSet, error) {
	if src == nil {
		return nil, ErrFeedNotBound
	}
	set := &PriceSet{quotes: make(map[string]Quote, len(symbols)), builtAt: now}
	for _, symbol := range symbols {
		sym := normalizeSymbol(symbol)
		if _, ok := set.quotes[sym]; ok {
			continue
		}
		obs, err := src.Latest(sym)
		if err != nil {
			return nil, err
		}
		quote, err := r.ReadPrice(sym, obs, now)
		if err != nil {
			return nil, err
		}
		set.quotes[sym] = quote
	}
	return set, nil
}

// Quote returns the validated quote for the symbol.
func (ps *PriceSet) Quote(symbol string) (Quote, bool) {
	if ps == nil {
		return Quote{}, false
	}
	quote, ok := ps.quotes[normalizeSymbol(symbol)]
	return quote, ok
}

// BuiltAt returns the time the snapshot was assembled. Callers holding a set
// across operations re-snapshot instead of reusing a stale one.
func (ps *PriceSet) BuiltAt() time.Time {
	if ps == nil {
		return time.Time{}
	}
	return ps.builtAt
}
