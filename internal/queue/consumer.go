package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/formatninja/transformd/internal/config"
	"github.com/formatninja/transformd/internal/interfaces"
	"github.com/formatninja/transformd/internal/logger"
)

// Processor executes one delivered job. It must be idempotent: the
// queue delivers at least once.
type Processor interface {
	Process(ctx context.Context, id string) error
}

// Consumer subscribes workers to the task stream and feeds deliveries
// to the processor.
type Consumer struct {
	conn      *nats.Conn
	js        nats.JetStreamContext
	sub       *nats.Subscription
	processor Processor
	cfg       config.QueueConfig
}

func NewConsumer(cfg config.QueueConfig, processor Processor) (*Consumer, error) {
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

	return &Consumer{conn: conn, js: js, processor: processor, cfg: cfg}, nil
}

// Subscribe starts the durable queue subscription. Deliveries are acked
// on success, including recorded job failures: a permanently broken job
// is marked failed in the store and must not circulate forever. Only
// infrastructure errors (store unreachable) are nacked for redelivery.
func (c *Consumer) Subscribe() error {
	sub, err := c.js.QueueSubscribe(c.cfg.Subject, c.cfg.Durable, c.handle,
		nats.Durable(c.cfg.Durable),
		nats.ManualAck(),
		nats.AckWait(2*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.cfg.Subject, err)
	}
	c.sub = sub
	return nil
}

func (c *Consumer) handle(msg *nats.Msg) {
	var payload interfaces.TaskPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		logger.Logger.Error().Err(err).Msg("Dropping undecodable task payload")
		_ = msg.Term()
		return
	}

	log := logger.WithJobID(payload.JobID)
	if err := c.processor.Process(context.Background(), payload.JobID); err != nil {
		log.Error().Err(err).Msg("Delivery failed, requesting redelivery")
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func (c *Consumer) Close() {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
