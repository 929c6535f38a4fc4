package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"riskengine/core/events"
	"riskengine/native/authority"
)

var testNow = time.Unix(1_700_000_000, 0)

func freshObservation(symbol, feed string, price int64) Observation {
	return Observation{
		Symbol:    symbol,
		FeedID:    feed,
		Price:     big.NewInt(price),
		Timestamp: testNow,
	}
}

func TestSetFeedRequiresAdmin(t *testing.T) {
	admin := authority.Grant()
	registry := NewRegistry(admin, nil)

	if err := registry.SetFeed(authority.Grant(), "ATOM", "feed-atom", time.Minute); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign capability err = %v, want ErrUnauthorized", err)
	}
	var zero authority.Capability
	if err := registry.SetFeed(zero, "ATOM", "feed-atom", time.Minute); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("zero capability err = %v, want ErrUnauthorized", err)
	}
	if err := registry.SetFeed(admin, "ATOM", "feed-atom", time.Minute); err != nil {
		t.Fatalf("admin bind: %v", err)
	}
}

func TestSetFeedNormalizesAndDefaults(t *testing.T) {
	admin := authority.Grant()
	registry := NewRegistry(admin, nil)

	if err := registry.SetFeed(admin, "  atom ", "feed-atom", 0); err != nil {
		t.Fatalf("bind: %v", err)
	}
	binding, ok := registry.Binding("ATOM")
	if !ok {
		t.Fatalf("normalized symbol not bound")
	}
	if binding.FeedID != "feed-atom" {
		t.Fatalf("feed = %s, want feed-atom", binding.FeedID)
	}
	// Unset max age falls back to one minute.
	if binding.MaxAge != time.Minute {
		t.Fatalf("max age = %s, want 1m", binding.MaxAge)
	}

	if err := registry.SetFeed(admin, "", "feed-x", time.Minute); err == nil {
		t.Fatalf("empty symbol accepted")
	}
	if err := registry.SetFeed(admin, "ATOM", "  ", time.Minute); err == nil {
		t.Fatalf("empty feed accepted")
	}
}

func TestRebindRecordsPreviousFeed(t *testing.T) {
	admin := authority.Grant()
	ring := events.NewRingEmitter(8)
	registry := NewRegistry(admin, ring)

	if err := registry.SetFeed(admin, "ATOM", "feed-v1", time.Minute); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := registry.SetFeed(admin, "ATOM", "feed-v2", time.Minute); err != nil {
		t.Fatalf("rebind: %v", err)
	}

	recent := ring.Recent()
	if len(recent) != 2 {
		t.Fatalf("recorded %d events, want 2", len(recent))
	}
	last := recent[len(recent)-1]
	if last.Type != "oracle.feedBound" {
		t.Fatalf("event type = %s", last.Type)
	}
	if last.Attributes["previousFeed"] != "feed-v1" {
		t.Fatalf("previousFeed = %s, want feed-v1", last.Attributes["previousFeed"])
	}
	if last.Attributes["feedId"] != "feed-v2" {
		t.Fatalf("feedId = %s, want feed-v2", last.Attributes["feedId"])
	}
}

func TestReadPriceValidation(t *testing.T) {
	admin := authority.Grant()
	registry := NewRegistry(admin, nil)
	if err := registry.SetFeed(admin, "ATOM", "feed-atom", time.Minute); err != nil {
		t.Fatalf("bind: %v", err)
	}

	cases := []struct {
		name    string
		symbol  string
		obs     Observation
		wantErr error
	}{
		{
			name:    "unbound symbol",
			symbol:  "OSMO",
			obs:     freshObservation("OSMO", "feed-osmo", 1_000_000),
			wantErr: ErrFeedNotBound,
		},
		{
			name:    "wrong feed identity",
			symbol:  "ATOM",
			obs:     freshObservation("ATOM", "feed-impostor", 1_000_000),
			wantErr: ErrFeedMismatch,
		},
		{
			name:   "stale observation",
			symbol: "ATOM",
			obs: Observation{
				Symbol:    "ATOM",
				FeedID:    "feed-atom",
				Price:     big.NewInt(1_000_000),
				Timestamp: testNow.Add(-2 * time.Minute),
			},
			wantErr: ErrStalePrice,
		},
		{
			name:   "zero timestamp",
			symbol: "ATOM",
			obs: Observation{
				Symbol: "ATOM",
				FeedID: "feed-atom",
				Price:  big.NewInt(1_000_000),
			},
			wantErr: ErrStalePrice,
		},
		{
			name:    "zero price",
			symbol:  "ATOM",
			obs:     freshObservation("ATOM", "feed-atom", 0),
			wantErr: ErrInvalidPrice,
		},
		{
			name:    "negative price",
			symbol:  "ATOM",
			obs:     freshObservation("ATOM", "feed-atom", -5),
			wantErr: ErrInvalidPrice,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := registry.ReadPrice(tc.symbol, tc.obs, testNow)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}

	quote, err := registry.ReadPrice("atom", freshObservation("ATOM", "feed-atom", 1_000_000), testNow)
	if err != nil {
		t.Fatalf("valid observation rejected: %v", err)
	}
	if quote.Symbol() != "ATOM" {
		t.Fatalf("quote symbol = %s, want ATOM", quote.Symbol())
	}
	if quote.Price().Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("quote price = %s", quote.Price())
	}
	if !quote.ObservedAt().Equal(testNow) {
		t.Fatalf("observedAt = %s", quote.ObservedAt())
	}
}

func TestReadPriceBoundaryAge(t *testing.T) {
	admin := authority.Grant()
	registry := NewRegistry(admin, nil)
	if err := registry.SetFeed(admin, "ATOM", "feed-atom", time.Minute); err != nil {
		t.Fatalf("bind: %v", err)
	}

	// Exactly max age old is still acceptable; one second past is not.
	atLimit := freshObservation("ATOM", "feed-atom", 1_000_000)
	atLimit.Timestamp = testNow.Add(-time.Minute)
	if _, err := registry.ReadPrice("ATOM", atLimit, testNow); err != nil {
		t.Fatalf("observation at max age rejected: %v", err)
	}
	past := atLimit
	past.Timestamp = testNow.Add(-time.Minute - time.Second)
	if _, err := registry.ReadPrice("ATOM", past, testNow); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("err = %v, want ErrStalePrice", err)
	}
}

func TestSnapshotAllOrNothing(t *testing.T) {
	admin := authority.Grant()
	registry := NewRegistry(admin, nil)
	source := NewManualSource()
	for _, symbol := range []string{"ATOM", "OSMO"} {
		if err := registry.SetFeed(admin, symbol, "feed-"+symbol, time.Minute); err != nil {
			t.Fatalf("bind %s: %v", symbol, err)
		}
	}
	source.Record(freshObservation("ATOM", "feed-ATOM", 9_870_000))
	source.Record(freshObservation("OSMO", "feed-OSMO", 1_230_000))

	set, err := registry.Snapshot(source, []string{"ATOM", "osmo", "ATOM"}, testNow)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !set.BuiltAt().Equal(testNow) {
		t.Fatalf("builtAt = %s", set.BuiltAt())
	}
	quote, ok := set.Quote("OSMO")
	if !ok {
		t.Fatalf("normalized symbol missing from set")
	}
	if quote.Price().Cmp(big.NewInt(1_230_000)) != 0 {
		t.Fatalf("OSMO price = %s", quote.Price())
	}

	// Poison one feed: the whole snapshot fails rather than going partial.
	stale := freshObservation("OSMO", "feed-OSMO", 1_230_000)
	stale.Timestamp = testNow.Add(-time.Hour)
	source.Record(stale)
	if _, err := registry.Snapshot(source, []string{"ATOM", "OSMO"}, testNow); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("poisoned snapshot err = %v, want ErrStalePrice", err)
	}
}

func TestManualSourceCopiesPrices(t *testing.T) {
	source := NewManualSource()
	price := big.NewInt(1_000_000)
	source.Record(Observation{Symbol: "atom", FeedID: "feed-atom", Price: price, Timestamp: testNow})
	price.SetInt64(7)

	obs, err := source.Latest("ATOM")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if obs.Price.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("stored price mutated through caller: %s", obs.Price)
	}
	if _, err := source.Latest("UNKNOWN"); err == nil {
		t.Fatalf("unknown symbol returned an observation")
	}
}
