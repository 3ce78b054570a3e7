// Package fallback records operations that were absorbed instead of
// failing the caller: history writes that did not land and events that
// could not be published.
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Kind names the absorbed operation.
type Kind string

const (
	KindHistory Kind = "history"
	KindPublish Kind = "publish"
)

// Failure identifies an absorbed operation and why it failed.
type Failure struct {
	Kind    Kind
	TradeID uuid.UUID
	Topic   string
	Cause   error
	Payload []byte
	At      time.Time
}

// Recorder captures failures for later inspection or replay.
type Recorder interface {
	Record(ctx context.Context, f Failure) error
}

// LogRecorder writes failures to the log at error level.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder creates a LogRecorder writing to logger.
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// Record logs f. It never fails.
func (r *LogRecorder) Record(_ context.Context, f Failure) error {
	fields := []zap.Field{
		zap.String("kind", string(f.Kind)),
		zap.String("trade_id", f.TradeID.String()),
		zap.Error(f.Cause),
	}
	if f.Topic != "" {
		fields = append(fields, zap.String("topic", f.Topic))
	}
	r.logger.Error("operation recorded for retry", fields...)
	return nil
}

// RedisRecorder pushes failures as JSON onto a capped Redis list per kind,
// newest first.
type RedisRecorder struct {
	client redis.Cmdable
	prefix string
	maxLen int64
}

// NewRedisRecorder creates a recorder writing to "<prefix>:<kind>" lists
// trimmed to maxLen entries. maxLen <= 0 disables trimming.
func NewRedisRecorder(client redis.Cmdable, prefix string, maxLen int64) *RedisRecorder {
	return &RedisRecorder{client: client, prefix: prefix, maxLen: maxLen}
}

// ListKey returns the list a kind is recorded to.
func (r *RedisRecorder) ListKey(kind Kind) string {
	return r.prefix + ":" + string(kind)
}

// Record pushes f onto the list for its kind and trims the list to the
// configured length.
func (r *RedisRecorder) Record(ctx context.Context, f Failure) error {
	b, err := encodeEntry(f)
	if err != nil {
		return err
	}
	key := r.ListKey(f.Kind)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, b)
		if r.maxLen > 0 {
			p.LTrim(ctx, key, 0, r.maxLen-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record %s failure in redis: %w", f.Kind, err)
	}
	return nil
}

// entry is the JSON form stored in Redis.
type entry struct {
	Kind       Kind      `json:"kind"`
	TradeID    string    `json:"tradeId,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	Cause      string    `json:"cause"`
	Payload    string    `json:"payload,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

func encodeEntry(f Failure) ([]byte, error) {
	e := entry{
		Kind:       f.Kind,
		Topic:      f.Topic,
		Payload:    string(f.Payload),
		RecordedAt: f.At.UTC(),
	}
	if f.TradeID != uuid.Nil {
		e.TradeID = f.TradeID.String()
	}
	if f.Cause != nil {
		e.Cause = f.Cause.Error()
	}
	return json.Marshal(e)
}

// Multi fans a failure out to several recorders. Every recorder is tried;
// their errors are joined.
type Multi []Recorder

// Record passes f to every recorder.
func (m Multi) Record(ctx context.Context, f Failure) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
