package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"obituaries/internal/bootstrap/logging"
	"obituaries/internal/errs"
	"obituaries/internal/feed"
	"obituaries/internal/transport/wire"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// subscribe upgrades to WebSocket, reads one filter message and streams
// matching events until the client leaves, the server shuts down or the
// subscriber overruns its backlog.
func (h *handler) subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Warn(r.Context(), "websocket upgrade failed", slog.Any("err", errs.Loggable(err)))
		return
	}
	defer conn.Close()

	ctx := logging.WithAttrs(r.Context(), slog.String("component", "httpapi.subscribe"))

	_ = conn.SetReadDeadline(time.Now().Add(h.opts.SubscribeTimeout))
	var req wire.SubscribeRequest
	if err := conn.ReadJSON(&req); err != nil {
		closeWith(conn, websocket.CloseUnsupportedData, "expected a subscribe message")
		return
	}
	filter, err := req.ToFilter()
	if err != nil {
		closeWith(conn, websocket.CloseUnsupportedData, err.Error())
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	sub := h.hub.Subscribe(filter)
	defer sub.Close()
	logging.Info(ctx, "subscriber connected", slog.String("remote", clientIP(r)))

	// The read loop only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				if errors.Is(sub.Err(), feed.ErrSubscriberOverrun) {
					logging.Warn(ctx, "subscriber overrun, closing stream")
					closeWith(conn, websocket.ClosePolicyViolation, string(errs.CodeSubscriberOverrun))
					return
				}
				closeWith(conn, websocket.CloseGoingAway, "feed closed")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(wire.FromEvent(ev)); err != nil {
				logging.Debug(ctx, "subscriber write failed", slog.Any("err", errs.Loggable(err)))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			logging.Info(ctx, "subscriber disconnected")
			return
		case <-h.done:
			closeWith(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case <-ctx.Done():
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
