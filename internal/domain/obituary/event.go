package obituary

type EventType string

const (
	EventNew     EventType = "obituary:new"
	EventUpdated EventType = "obituary:updated"
)

// Event is one committed change pushed to subscribers.
type Event struct {
	Type     EventType
	Obituary Obituary
}

// FeedFilter selects events for a subscriber. Nil fields match anything.
type FeedFilter struct {
	ChainID *int64
	Reason  *Reason
}

func (f FeedFilter) Matches(o Obituary) bool {
	if f.ChainID != nil && *f.ChainID != o.ChainID {
		return false
	}
	if f.Reason != nil && *f.Reason != o.Reason {
		return false
	}
	return true
}
