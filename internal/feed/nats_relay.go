package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
	"obituaries/internal/ports"
	"obituaries/internal/transport/wire"
)

// NATSRelay republishes committed events so that consumers outside this
// process can follow the feed. Subjects have the form <prefix>.<chainId>.<reason>.
type NATSRelay struct {
	conn   *nats.Conn
	prefix string
}

var _ ports.EventPublisher = (*NATSRelay)(nil)

func NewNATSRelay(url string, prefix string) (*NATSRelay, error) {
	conn, err := nats.Connect(url,
		nats.Name("obituaries-feed"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errs.As(errs.CodeUnavailable, err, "connect nats")
	}
	return &NATSRelay{conn: conn, prefix: normalizePrefix(prefix)}, nil
}

func (r *NATSRelay) Publish(ctx context.Context, event domainobituary.Event) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	payload, err := json.Marshal(wire.FromEvent(event))
	if err != nil {
		return errs.Wrap(err, "encode relay event")
	}
	if err := r.conn.Publish(RelaySubject(r.prefix, event), payload); err != nil {
		return errs.As(errs.CodeUnavailable, err, "publish relay event")
	}
	return nil
}

func (r *NATSRelay) Close() error {
	return r.conn.Drain()
}

func RelaySubject(prefix string, event domainobituary.Event) string {
	return fmt.Sprintf("%s.%d.%s", normalizePrefix(prefix), event.Obituary.ChainID, event.Obituary.Reason)
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return "obituaries"
	}
	return prefix
}
