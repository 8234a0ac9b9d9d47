package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"obituaries/internal/bootstrap/logging"
	"obituaries/internal/errs"
)

// Server owns the listener and the shutdown signal for open streams.
type Server struct {
	http     *http.Server
	done     chan struct{}
	stopOnce sync.Once
}

func NewServer(ctx context.Context, addr string, svc ObituaryService, hub Subscriber, opts Options) *Server {
	done := make(chan struct{})
	s := &Server{done: done}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           NewRouter(svc, hub, opts, done),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return logging.WithAttrs(ctx, slog.String("component", "httpapi"))
		},
	}
	return s
}

// Serve blocks until the listener fails or Shutdown is called. A clean
// shutdown returns nil.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errs.As(errs.CodeUnavailable, err, "serve http")
	}
	return nil
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return errs.As(errs.CodeUnavailable, err, "listen")
	}
	return s.Serve(ln)
}

// Shutdown ends open streams with a going-away close and waits for
// in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	if err := s.http.Shutdown(ctx); err != nil {
		return errs.Wrap(err, "shutdown http")
	}
	return nil
}
