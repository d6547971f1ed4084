// Package nats publishes tag snapshots to a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	natsio "github.com/nats-io/nats.go"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/gateway"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// Conn is the part of *nats.Conn used by the gateway.
type Conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Message is the JSON document published once per scan cycle.
type Message struct {
	Source    string               `json:"source"`
	Sequence  uint64               `json:"sequence"`
	Timestamp time.Time            `json:"timestamp"`
	Tags      map[string]tag.Value `json:"tags"`
}

// Gateway implements gateway.Gateway over a NATS connection.
type Gateway struct {
	conn    Conn
	subject string
	source  string
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sequence uint64
	lastErr  error
}

// NewGateway wraps an established connection.
func NewGateway(conn Conn, subject, source string, timeout time.Duration) *Gateway {
	return &Gateway{
		conn:    conn,
		subject: subject,
		source:  source,
		timeout: timeout,
		now:     time.Now,
	}
}

// Connect dials the configured server. Reconnection is unbounded so a broker restart
// never stops the controller from publishing once the broker is back.
func Connect(cfg config.NATSConfig) (*Gateway, error) {
	opts := []natsio.Option{
		natsio.Name(cfg.Name),
		natsio.Timeout(cfg.Timeout),
		natsio.MaxReconnects(-1),
		natsio.ReconnectWait(time.Second),
		natsio.DisconnectErrHandler(func(_ *natsio.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS gateway disconnected: %v", err)
			}
		}),
		natsio.ReconnectHandler(func(nc *natsio.Conn) {
			logger.Infof("NATS gateway reconnected to %s.", nc.ConnectedUrl())
		}),
	}
	nc, err := natsio.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	logger.Infof("NATS gateway connected to %s (subject %s).", nc.ConnectedUrl(), cfg.Subject)
	return NewGateway(nc, cfg.Subject, cfg.Name, cfg.Timeout), nil
}

func (g *Gateway) Name() string { return "nats" }

// Publish encodes snapshot as a Message and publishes it.
func (g *Gateway) Publish(ctx context.Context, snapshot map[string]tag.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	g.sequence++
	msg := Message{
		Source:    g.source,
		Sequence:  g.sequence,
		Timestamp: g.now().UTC(),
		Tags:      snapshot,
	}
	g.mu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		return g.fail(fmt.Errorf("failed to encode snapshot: %w", err))
	}
	if !g.conn.IsConnected() {
		return g.fail(errors.New("not connected"))
	}
	if err := g.conn.Publish(g.subject, payload); err != nil {
		return g.fail(fmt.Errorf("failed to publish to %s: %w", g.subject, err))
	}
	return g.fail(nil)
}

func (g *Gateway) fail(err error) error {
	g.mu.Lock()
	g.lastErr = err
	g.mu.Unlock()
	return err
}

// Healthy is true while connected and the last publish succeeded.
func (g *Gateway) Healthy() bool {
	g.mu.Lock()
	lastErr := g.lastErr
	g.mu.Unlock()
	return lastErr == nil && g.conn.IsConnected()
}

// Close flushes buffered messages and closes the connection.
func (g *Gateway) Close() error {
	var err error
	if g.conn.IsConnected() {
		if ferr := g.conn.FlushTimeout(g.timeout); ferr != nil {
			err = fmt.Errorf("failed to flush NATS connection: %w", ferr)
		}
	}
	g.conn.Close()
	return err
}

var _ gateway.Gateway = (*Gateway)(nil)
