package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sethvargo/go-retry"

	"github.com/formatninja/transformd/internal/config"
	"github.com/formatninja/transformd/internal/interfaces"
)

// Client publishes transformation tasks to a JetStream work queue. The
// job id is sent as the message id, so JetStream's duplicate window
// collapses repeated enqueues of the same job into one delivery.
type Client struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewClient connects to NATS and makes sure the work-queue stream
// exists.
func NewClient(cfg config.QueueConfig) (*Client, error) {
	conn, err := connect(cfg.URL)
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to get jetstream context: %w", err)
	}
	if err := ensureStream(js, cfg); err != nil {
		conn.Close()
		return nil, err
	}

	return &Client{conn: conn, js: js, subject: cfg.Subject}, nil
}

// Enqueue publishes one named task. Duplicate names within the stream's
// duplicate window are dropped by the server.
func (c *Client) Enqueue(ctx context.Context, name string, payload interfaces.TaskPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	_, err = c.js.Publish(c.subject, data, nats.MsgId(name), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish task %s: %w", name, err)
	}
	return nil
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// connect dials NATS with backoff; the broker may still be starting up
// alongside the service.
func connect(url string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var conn *nats.Conn
	backoff := retry.WithMaxRetries(5, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := nats.Connect(url)
		if err != nil {
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

func ensureStream(js nats.JetStreamContext, cfg config.QueueConfig) error {
	_, err := js.StreamInfo(cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", cfg.Stream, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Subject},
		Retention:  nats.WorkQueuePolicy,
		Duplicates: cfg.DedupWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", cfg.Stream, err)
	}
	return nil
}
