package channels

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/miradorstack/latencyguard/internal/dispatch"
)

type natsPublisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATS publishes the digest as one JSON message on a subject.
type NATS struct {
	name    string
	subject string
	conn    natsPublisher
	closeFn func()
}

// NewNATS connects to the server at url.
func NewNATS(name, url, subject string) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("latencyguard"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATS{
		name:    name,
		subject: subject,
		conn:    conn,
		closeFn: func() {
			_ = conn.Drain()
			conn.Close()
		},
	}, nil
}

// Name implements dispatch.Channel.
func (n *NATS) Name() string { return n.name }

// Deliver implements dispatch.Channel. The publish is flushed so a broken connection
// surfaces as a delivery failure.
func (n *NATS) Deliver(ctx context.Context, d dispatch.Digest) error {
	data, err := json.Marshal(newDigestPayload(d))
	if err != nil {
		return fmt.Errorf("marshal digest: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	return n.conn.FlushWithContext(ctx)
}

// Close drains the connection.
func (n *NATS) Close() error {
	if n.closeFn != nil {
		n.closeFn()
	}
	return nil
}
