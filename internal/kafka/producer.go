package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/kicker-achievements/internal/config"
	"github.com/kicker-achievements/internal/domain"
)

// Producer publishes unlock notifications to the unlocks topic. It is a
// feed.Sink; messages are keyed by player so one player's unlocks stay in
// order on one partition.
type Producer struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewProducer creates a new unlock producer
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return newProducer(producer, cfg.UnlocksTopic, logger), nil
}

func newProducer(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *Producer {
	p := &Producer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.logger.Error("failed to publish unlock", "topic", p.topic, "error", err.Err)
		}
	}()
	return p
}

// Name implements feed.Sink
func (p *Producer) Name() string {
	return "kafka"
}

// Deliver implements feed.Sink
func (p *Producer) Deliver(ctx context.Context, n domain.UnlockNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(n.PlayerID),
		Value: sarama.ByteEncoder(data),
	}

	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending messages and stops the producer
func (p *Producer) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}
