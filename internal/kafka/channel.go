// Package kafka adapts segmentio/kafka-go to the trade ledger: a
// per-topic writer channel, topic provisioning and the ingest consumer.
package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Channel sends messages to Kafka, keeping one writer per topic.
// Messages are partitioned by key so events of a trade stay ordered.
type Channel struct {
	brokers []string
	logger  *zap.Logger

	mu      sync.RWMutex
	writers map[string]*kafka.Writer
}

// NewChannel creates a Channel for the given brokers. Writers are created
// per topic on first use.
func NewChannel(brokers []string, logger *zap.Logger) *Channel {
	return &Channel{
		brokers: brokers,
		logger:  logger,
		writers: make(map[string]*kafka.Writer),
	}
}

// Send writes one message synchronously. Retries are left to the caller.
func (c *Channel) Send(ctx context.Context, topic string, key, payload []byte) error {
	return c.writer(topic).WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (c *Channel) writer(topic string) *kafka.Writer {
	c.mu.RLock()
	w, ok := c.writers[topic]
	c.mu.RUnlock()
	if ok {
		return w
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.writers[topic]; ok {
		return w
	}
	w = &kafka.Writer{
		Addr:         kafka.TCP(c.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  1,
	}
	c.writers[topic] = w
	c.logger.Debug("kafka writer created", zap.String("topic", topic))
	return w
}

// Close flushes and closes every writer.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for topic, w := range c.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.writers, topic)
	}
	return errors.Join(errs...)
}
