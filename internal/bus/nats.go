package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Tyrowin/nexus-chat-server/internal/logger"
)

// NATS is a Messenger backed by a NATS connection, for fleets of servers.
type NATS struct {
	conn *nats.Conn
	log  logger.Logger
}

// NATSOptions configures the connection.
type NATSOptions struct {
	URL  string
	Name string
	// Timeout bounds the initial connect; zero uses the client default.
	Timeout time.Duration
}

// ConnectNATS dials url and keeps reconnecting for as long as the process
// runs.
func ConnectNATS(opts NATSOptions, log logger.Logger) (*NATS, error) {
	log = logger.OrNop(log).With("component", "bus", "driver", "nats")

	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
	}
	if opts.Timeout > 0 {
		natsOpts = append(natsOpts, nats.Timeout(opts.Timeout))
	}

	conn, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect nats: %w", err)
	}
	return &NATS{conn: conn, log: log}, nil
}

func (n *NATS) Publish(_ context.Context, subject string, data []byte) error {
	if err := n.conn.Publish(subject, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrConnectionClosed
		}
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

func (n *NATS) Subscribe(ctx context.Context, subject string, h Handler) (Subscription, error) {
	sub, err := n.conn.Subscribe(subject, func(m *nats.Msg) {
		h(ctx, m.Data)
	})
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("bus: subscribe %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		if sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}()
	return sub, nil
}

// Flush waits until the server has processed everything published so far.
func (n *NATS) Flush(ctx context.Context) error {
	return n.conn.FlushWithContext(ctx)
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	if n.conn.IsClosed() {
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return fmt.Errorf("bus: drain: %w", err)
	}
	return nil
}

var _ Messenger = (*NATS)(nil)
