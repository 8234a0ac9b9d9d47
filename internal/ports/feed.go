package ports

import (
	"context"

	domainobituary "obituaries/internal/domain/obituary"
)

// EventPublisher receives committed obituary changes. Publish must not block
// on slow consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event domainobituary.Event) error
}

// Metrics records service-level counters. Implementations must be safe for concurrent use.
type Metrics interface {
	ObserveSubmission(result string)
	ObserveVote(action string, result string)
	ObserveTransition(to string)
	SubscriberAdded()
	SubscriberRemoved(overrun bool)
	ObserveRequest(method string, route string, status int, seconds float64)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ObserveSubmission(string) {}
func (NopMetrics) ObserveVote(string, string) {}
func (NopMetrics) ObserveTransition(string) {}
func (NopMetrics) SubscriberAdded() {}
func (NopMetrics) SubscriberRemoved(bool) {}
func (NopMetrics) ObserveRequest(string, string, int, float64) {}
