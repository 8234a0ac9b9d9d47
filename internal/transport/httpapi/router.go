// Package httpapi exposes the obituary service as JSON over HTTP and streams
// the change feed over WebSocket.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/feed"
	"obituaries/internal/ports"
	"obituaries/internal/stats"
	obituaryuc "obituaries/internal/usecase/obituary"
)

// ObituaryService is the part of the use-case layer served over HTTP.
type ObituaryService interface {
	Submit(ctx context.Context, input obituaryuc.SubmitInput) (obituaryuc.SubmitResult, error)
	Get(ctx context.Context, id string) (domainobituary.Obituary, error)
	GetByAddress(ctx context.Context, address string, chainID int64) ([]domainobituary.Obituary, error)
	Search(ctx context.Context, query domainobituary.SearchQuery) (domainobituary.Page, error)
	Vote(ctx context.Context, input obituaryuc.VoteInput) (obituaryuc.VoteResult, error)
	ListVerifications(ctx context.Context, id string) ([]domainobituary.Verification, error)
	AppendAlternatives(ctx context.Context, id string, addresses []string) (obituaryuc.AppendResult, error)
	AppendProofAttachments(ctx context.Context, id string, attachments []string) (obituaryuc.AppendResult, error)
	Stats(ctx context.Context) (stats.Snapshot, error)
	RebuildStats(ctx context.Context) (stats.Snapshot, error)
	CheckStats(ctx context.Context) ([]stats.Divergence, error)
	AnalyzeContract(ctx context.Context, input obituaryuc.AnalyzeInput) (obituaryuc.AnalyzeResult, error)
	DraftDescription(ctx context.Context, req ports.DescriptionRequest) (string, error)
	IndexSize() int
}

// Subscriber registers feed consumers.
type Subscriber interface {
	Subscribe(filter domainobituary.FeedFilter) *feed.Subscription
	Len() int
}

type Options struct {
	RequestTimeout time.Duration
	Metrics        ports.Metrics
	MetricsHandler http.Handler

	// RateLimit is the sustained number of write requests per second per
	// client IP. Zero disables limiting.
	RateLimit float64
	Burst     int

	// SubscribeTimeout bounds the wait for the first WebSocket message.
	SubscribeTimeout time.Duration
	PingInterval     time.Duration
}

type handler struct {
	svc  ObituaryService
	hub  Subscriber
	opts Options
	// done is closed when the server shuts down so open streams end.
	done <-chan struct{}
}

// NewRouter builds the HTTP handler. Closing done ends open WebSocket streams.
func NewRouter(svc ObituaryService, hub Subscriber, opts Options, done <-chan struct{}) http.Handler {
	if opts.Metrics == nil {
		opts.Metrics = ports.NopMetrics{}
	}
	if opts.SubscribeTimeout <= 0 {
		opts.SubscribeTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	h := &handler{svc: svc, hub: hub, opts: opts, done: done}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(withRequestLogging(opts.Metrics))
	r.Use(middleware.Recoverer)

	writes := func(next http.Handler) http.Handler { return next }
	if opts.RateLimit > 0 {
		writes = newIPRateLimiter(opts.RateLimit, opts.Burst).middleware
	}

	r.Get("/health", h.health)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}
	r.Get("/subscribe", h.subscribe)

	r.Group(func(r chi.Router) {
		r.Use(withDeadline(opts.RequestTimeout))

		r.Get("/obituaries", h.searchObituaries)
		r.Get("/obituaries/{id}", h.getObituary)
		r.Get("/obituaries/{id}/verifications", h.listVerifications)
		r.Get("/stats", h.stats)
		r.Get("/stats/check", h.checkStats)

		r.Group(func(r chi.Router) {
			r.Use(writes)
			r.Post("/obituaries", h.submitObituary)
			r.Post("/obituaries/{id}/verifications", h.vote)
			r.Post("/obituaries/{id}/alternatives", h.appendAlternatives)
			r.Post("/obituaries/{id}/attachments", h.appendAttachments)
			r.Post("/stats/rebuild", h.rebuildStats)
			r.Post("/analyze", h.analyze)
			r.Post("/describe", h.describe)
		})
	})
	return r
}
