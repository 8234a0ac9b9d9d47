// Package metrics exposes service counters in Prometheus format.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"obituaries/internal/ports"
)

// Prometheus implements ports.Metrics. Metric names are prefixed with the
// namespace passed to New.
type Prometheus struct {
	submissions     *prometheus.CounterVec
	votes           *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	subscribers     prometheus.Gauge
	overruns        prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

var _ ports.Metrics = (*Prometheus)(nil)

// New registers the collectors with reg. Registration fails on duplicate names.
func New(namespace string, reg prometheus.Registerer) (*Prometheus, error) {
	m := &Prometheus{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Obituary submissions by result.",
		}, []string{"result"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Verification votes by action and result.",
		}, []string{"action", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Verification status transitions by target status.",
		}, []string{"to"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_subscribers",
			Help:      "Currently registered feed subscribers.",
		}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_overruns_total",
			Help:      "Subscribers dropped because their backlog filled up.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	for _, c := range []prometheus.Collector{
		m.submissions, m.votes, m.transitions, m.subscribers, m.overruns, m.requestDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Prometheus) ObserveSubmission(result string) {
	m.submissions.WithLabelValues(result).Inc()
}

func (m *Prometheus) ObserveVote(action string, result string) {
	m.votes.WithLabelValues(action, result).Inc()
}

func (m *Prometheus) ObserveTransition(to string) {
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Prometheus) SubscriberAdded() {
	m.subscribers.Inc()
}

func (m *Prometheus) SubscriberRemoved(overrun bool) {
	m.subscribers.Dec()
	if overrun {
		m.overruns.Inc()
	}
}

func (m *Prometheus) ObserveRequest(method string, route string, status int, seconds float64) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}
