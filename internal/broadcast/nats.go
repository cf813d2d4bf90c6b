package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const DefaultSubject = "market.control"

// NATS carries signals on a single core NATS subject so every engine replica
// connected to the same server observes the same control stream.
type NATS struct {
	nc      *nats.Conn
	subject string
	log     *zap.SugaredLogger
}

func ConnectNATS(url, subject string, log *zap.SugaredLogger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("trading-simulator"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnw("ConnectNATS | disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infow("ConnectNATS | reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return NewNATS(nc, subject, log), nil
}

func NewNATS(nc *nats.Conn, subject string, log *zap.SugaredLogger) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{nc: nc, subject: subject, log: log}
}

func (n *NATS) Publish(ctx context.Context, s Signal) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := n.nc.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	if err := n.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush signal: %w", err)
	}
	return nil
}

func (n *NATS) Subscribe(h Handler) (func(), error) {
	sub, err := n.nc.Subscribe(n.subject, func(msg *nats.Msg) {
		s, err := Decode(msg.Data)
		if err != nil {
			n.log.Warnw("NATS.Subscribe | dropping malformed signal", "error", err)
			return
		}
		h(s)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", n.subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			n.log.Warnw("NATS.Subscribe | failed to unsubscribe", "error", err)
		}
	}, nil
}

func (n *NATS) Close() error {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}
