package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"obituaries/internal/bootstrap/logging"
	"obituaries/internal/errs"
	"obituaries/internal/transport/wire"
)

type ClientConfig struct {
	URL           string
	Filter        wire.SubscribeRequest
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	Dialer        *websocket.Dialer
	// OnConnect is called after every successful dial with the connection number, starting at 1.
	OnConnect func(n int)
}

// Client follows a remote feed over WebSocket and reconnects with
// exponential backoff until its context is cancelled.
type Client struct {
	cfg ClientConfig
}

type handlerError struct {
	err error
}

func (e handlerError) Error() string { return e.err.Error() }
func (e handlerError) Unwrap() error { return e.err }

func NewClient(cfg ClientConfig) *Client {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 500 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Client{cfg: cfg}
}

// Run delivers events to handle until ctx is done or handle returns an
// error. Connection failures never end the loop.
func (c *Client) Run(ctx context.Context, handle func(wire.Event) error) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "feed.client"), slog.String("url", c.cfg.URL))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectBase
	b.MaxInterval = c.cfg.ReconnectMax
	b.Reset()

	connections := 0
	for {
		err := c.session(ctx, b, &connections, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var herr handlerError
		if errors.As(err, &herr) {
			return herr.err
		}

		wait := b.NextBackOff()
		logging.Warn(logCtx, "feed connection lost, reconnecting",
			slog.Any("err", errs.Loggable(err)),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) session(ctx context.Context, b *backoff.ExponentialBackOff, connections *int, handle func(wire.Event) error) error {
	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return errs.Wrap(err, "dial feed")
	}
	b.Reset()
	*connections++
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect(*connections)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
		_ = conn.Close()
	}()

	if err := conn.WriteJSON(c.cfg.Filter); err != nil {
		return errs.Wrap(err, "send subscribe")
	}

	for {
		var event wire.Event
		if err := conn.ReadJSON(&event); err != nil {
			return errs.Wrap(err, "read feed event")
		}
		if err := handle(event); err != nil {
			return handlerError{err: err}
		}
	}
}
