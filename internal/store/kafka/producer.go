// Package kafka publishes indicator updates to a Kafka topic, keyed by
// symbol and period so each series stays on one partition.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"fxindicators/internal/logger"
	"fxindicators/internal/model"
)

// Producer wraps a Kafka writer. It implements model.UpdateSink.
type Producer struct {
	writer *kafka.Writer
	topic  string
	batch  int
	linger time.Duration
	log    zerolog.Logger

	// Metrics hook
	OnWrite func(msgs int, d time.Duration, err error)
}

// NewProducer creates a new Kafka producer.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		Topic:        DefaultTopic,
		RequiredAcks: -1,
		Compression:  "snappy",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchSize:    100,
		BatchTimeout: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}
	return &Producer{
		writer: writer,
		topic:  cfg.Topic,
		batch:  cfg.BatchSize,
		linger: cfg.BatchTimeout,
		log:    logger.Component("kafka"),
	}, nil
}

// Message converts an update into a Kafka message on topic.
func Message(topic string, u model.IndicatorUpdate) kafka.Message {
	return kafka.Message{
		Topic: topic,
		Key:   []byte(u.Symbol + ":" + u.Period),
		Value: u.JSON(),
		Time:  u.TS,
		Headers: []kafka.Header{
			{Key: "family", Value: []byte(u.Family)},
		},
	}
}

// PublishBatch sends updates in one WriteMessages call.
func (p *Producer) PublishBatch(ctx context.Context, updates []model.IndicatorUpdate) (err error) {
	if len(updates) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		if p.OnWrite != nil {
			p.OnWrite(len(updates), time.Since(start), err)
		}
	}()

	msgs := make([]kafka.Message, len(updates))
	for i, u := range updates {
		msgs[i] = Message(p.topic, u)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Run batches updates from ch until ctx is cancelled or ch is closed.
func (p *Producer) Run(ctx context.Context, ch <-chan model.IndicatorUpdate) {
	ticker := time.NewTicker(p.linger)
	defer ticker.Stop()

	batch := make([]model.IndicatorUpdate, 0, p.batch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.PublishBatch(context.WithoutCancel(ctx), batch); err != nil {
			p.log.Error().Err(err).Int("count", len(batch)).Msg("publish failed, batch dropped")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case u, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, u)
			if len(batch) >= p.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close closes the producer.
func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}
