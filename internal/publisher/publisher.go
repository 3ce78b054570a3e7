// Package publisher emits trade change events to the event channel behind
// a per-topic circuit breaker and bounded retries. Publish never fails the
// caller: undeliverable events are handed to a fallback recorder.
package publisher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/efreitasn/tradeledger/internal/domain"
	"github.com/efreitasn/tradeledger/internal/event"
	"github.com/efreitasn/tradeledger/internal/fallback"
	"github.com/efreitasn/tradeledger/internal/metrics"
)

// ErrBreakerOpen is the recorded cause when a topic's breaker rejects a send.
var ErrBreakerOpen = errors.New("breaker_open")

// Channel sends one message to a topic of the event log.
type Channel interface {
	Send(ctx context.Context, topic string, key, payload []byte) error
}

// Config controls retries and circuit breaking. An empty topic passed to
// Publish means DefaultTopic.
type Config struct {
	DefaultTopic     string
	MaxAttempts      int
	Backoff          Backoff
	AttemptTimeout   time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// Publisher delivers trade changes over a Channel with a circuit breaker
// per topic and bounded retries. Undeliverable changes go to the recorder.
type Publisher struct {
	channel  Channel
	recorder fallback.Recorder
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// New creates a Publisher. A nil metrics is allowed.
func New(channel Channel, recorder fallback.Recorder, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Publisher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Publisher{
		channel:  channel,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		sleep:    sleep,
		breakers: make(map[string]*Breaker),
	}
}

// Publish sends change to topic, or to the default topic when topic is
// empty. It returns once the event is delivered or has been recorded as
// a failure.
func (p *Publisher) Publish(ctx context.Context, change domain.TradeChange, topic string) {
	if topic == "" {
		topic = p.cfg.DefaultTopic
	}

	payload, err := event.Encode(change)
	if err != nil {
		p.fail(ctx, change, topic, nil, err)
		return
	}
	key := event.Key(change)
	b := p.breaker(topic)

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if !b.Allow() {
			if lastErr == nil {
				lastErr = ErrBreakerOpen
			}
			break
		}
		if attempt > 1 {
			p.metrics.PublishRetry(topic)
		}

		err := p.send(ctx, topic, key, payload)
		if err == nil {
			b.Success()
			p.metrics.Publish(topic, metrics.OutcomeSent)
			return
		}
		b.Failure()
		lastErr = err
		p.logger.Warn("publish attempt failed",
			zap.String("topic", topic),
			zap.String("trade_id", change.TradeID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == p.cfg.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, p.cfg.Backoff.Next(attempt)); err != nil {
			break
		}
	}

	p.fail(ctx, change, topic, payload, lastErr)
}

// BreakerState returns the breaker state of topic.
func (p *Publisher) BreakerState(topic string) State {
	return p.breaker(topic).State()
}

func (p *Publisher) send(ctx context.Context, topic string, key, payload []byte) error {
	if p.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		defer cancel()
	}
	return p.channel.Send(ctx, topic, key, payload)
}

func (p *Publisher) fail(ctx context.Context, change domain.TradeChange, topic string, payload []byte, cause error) {
	p.metrics.Publish(topic, metrics.OutcomeFallback)
	err := p.recorder.Record(context.WithoutCancel(ctx), fallback.Failure{
		Kind:    fallback.KindPublish,
		TradeID: change.TradeID,
		Topic:   topic,
		Cause:   cause,
		Payload: payload,
		At:      p.now(),
	})
	if err != nil {
		p.logger.Error("failed to record publish failure",
			zap.String("topic", topic),
			zap.String("trade_id", change.TradeID.String()),
			zap.Error(err),
		)
	}
}

func (p *Publisher) breaker(topic string) *Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.breakers[topic]
	if !ok {
		b = NewBreaker(p.cfg.FailureThreshold, p.cfg.Cooldown, func() time.Time { return p.now() },
			func(from, to State) {
				p.logger.Info("publish breaker state changed",
					zap.String("topic", topic),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
				p.metrics.BreakerState(topic, int(to))
			})
		p.breakers[topic] = b
	}
	return b
}
