package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	clientName = "diagnostician"

	// QueueGroup load-balances turn requests across replicas.
	QueueGroup = "diagnostician"

	// DefaultWorkers bounds how many queued turn handlers run at once per replica.
	DefaultWorkers = 32
)

// Handler receives one message. Handlers registered with QueueSubscribe may
// run concurrently with each other.
type Handler func(subject string, data []byte)

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription

	sem      chan struct{}
	inflight sync.WaitGroup
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name(clientName),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Warn("nats async error", "subject", subject, "error", err)
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	if err := ctx.Err(); err != nil {
		nc.Close()
		return nil, err
	}

	return &Client{
		conn:   nc,
		logger: logger,
		sem:    make(chan struct{}, DefaultWorkers),
	}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers every message on subject to h, one at a time, on the
// connection's dispatch goroutine. Use it for cheap handlers.
func (c *Client) Subscribe(subject string, h Handler) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		h(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.track(sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// QueueSubscribe joins queue so each message reaches one replica, and runs
// h on its own goroutine. At most DefaultWorkers handlers run at once; past
// that the subscription stops pulling until a worker frees up.
func (c *Client) QueueSubscribe(subject, queue string, h Handler) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		c.sem <- struct{}{}
		c.inflight.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("handler panicked", "subject", msg.Subject, "panic", r)
				}
				<-c.sem
				c.inflight.Done()
			}()
			h(msg.Subject, msg.Data)
		}()
	})
	if err != nil {
		return fmt.Errorf("queue subscribe %s: %w", subject, err)
	}
	c.track(sub)
	c.logger.Info("subscribed", "subject", subject, "queue", queue)
	return nil
}

func (c *Client) track(sub *nats.Subscription) {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
}

// Close stops taking new messages, waits for running handlers so their
// replies still go out, then closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	c.inflight.Wait()
	if err := c.conn.Flush(); err != nil {
		c.logger.Debug("nats flush on close", "error", err)
	}
	c.conn.Close()
}
