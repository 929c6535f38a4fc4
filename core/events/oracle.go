package events

import "strconv"

const (
	// TypeFeedBound is emitted whenever a symbol is bound or re-bound to a
	// price feed identity.
	TypeFeedBound = "oracle.feedBound"
)

// FeedBound captures a feed binding change, including the identity it
// replaced so re-bindings leave an audit trail.
type FeedBound struct {
	Symbol        string
	PreviousFeed  string
	FeedID        string
	MaxAgeSeconds int64
}

// Event converts the binding change into the generic event representation.
func (f FeedBound) Event() Event {
	return Event{
		Type: TypeFeedBound,
		Attributes: map[string]string{
			"symbol":        f.Symbol,
			"previousFeed":  f.PreviousFeed,
			"feedId":        f.FeedID,
			"maxAgeSeconds": strconv.FormatInt(f.MaxAgeSeconds, 10),
		},
	}
}
