package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/efreitasn/tradeledger/internal/domain"
	"github.com/efreitasn/tradeledger/internal/event"
)

// Submitter applies an incoming trade change.
type Submitter interface {
	Submit(ctx context.Context, change domain.TradeChange) (*domain.Trade, error)
}

// Consumer reads trade change events from the ingest topic and submits
// them. Undecodable or rejected messages are logged and skipped.
type Consumer struct {
	reader    *kafka.Reader
	submitter Submitter
	logger    *zap.Logger
}

// NewConsumer creates a group consumer for topic.
func NewConsumer(brokers []string, topic, groupID string, submitter Submitter, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1e6,
			MaxWait:  500 * time.Millisecond,
		}),
		submitter: submitter,
		logger:    logger,
	}
}

// Run consumes until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	change, err := event.Decode(m.Value)
	if err != nil {
		c.logger.Warn("bad message",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
		return
	}

	t, err := c.submitter.Submit(ctx, change)
	if err != nil {
		var invalid *domain.InvalidTradeError
		if errors.As(err, &invalid) {
			c.logger.Warn("trade rejected",
				zap.String("trade_id", change.TradeID.String()),
				zap.Int64("version", change.Version),
				zap.String("reason", invalid.Message),
			)
			return
		}
		c.logger.Error("submit trade",
			zap.String("trade_id", change.TradeID.String()),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("trade applied",
		zap.String("trade_id", t.TradeID.String()),
		zap.Int64("version", t.Version),
	)
}
