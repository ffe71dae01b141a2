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

// EventHandler processes domain events in order and reports how many of
// them are done. Events from the first undone one on must be delivered
// again.
type EventHandler interface {
	ProcessEvents(ctx context.Context, events []domain.Event) (int, error)
}

// Consumer consumes domain events from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       EventHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler EventHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.EventsTopic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				config:  c.config,
				handler: c.handler,
				logger:  c.logger,
				ready:   c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.EventsTopic}, handler); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	config  *config.KafkaConfig
	handler EventHandler
	logger  *slog.Logger
	ready   chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	if h.ready != nil {
		close(h.ready)
	}
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Offsets are
// marked only up to the last event the handler finished, so a crash or a
// rebalance replays the rest; the engine's pair dedup makes that safe.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	batchSize := max(h.config.BatchSize, 1)
	batchTimeout := h.config.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	backoff := h.config.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	batch := make([]domain.Event, 0, batchSize)
	msgs := make([]*sarama.ConsumerMessage, 0, batchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(batchTimeout)
	defer batchTimer.Stop()

	// processBatch retries the unfinished tail of the batch until it goes
	// through. It returns false when the session ended first.
	processBatch := func() bool {
		for len(batch) > 0 {
			// events carry their own deadline; a rebalance must not cut a batch short
			done, err := h.handler.ProcessEvents(context.Background(), batch)
			if err == nil {
				h.logger.Debug("processed batch", "batch_size", len(batch))
				break
			}
			h.logger.Error("failed to process batch, retrying",
				"error", err,
				"batch_size", len(batch),
				"done", done,
				"partition", claim.Partition(),
			)
			if done > 0 {
				session.MarkMessage(msgs[done-1], "")
				batch, msgs = batch[done:], msgs[done:]
			}
			select {
			case <-session.Context().Done():
				return false
			case <-time.After(backoff):
			}
		}
		batch, msgs = batch[:0], msgs[:0]
		if last != nil {
			session.MarkMessage(last, "")
			last = nil
		}
		return true
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			processBatch()
			return nil

		case <-batchTimer.C:
			if !processBatch() {
				return nil
			}
			batchTimer.Reset(batchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}
			last = message

			ev, err := decodeEvent(message.Value)
			if err != nil {
				h.logger.Warn("skipping invalid event message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}

			batch = append(batch, ev)
			msgs = append(msgs, message)
			if len(batch) >= batchSize {
				if !processBatch() {
					return nil
				}
				batchTimer.Reset(batchTimeout)
			}
		}
	}
}

// decodeEvent parses and validates one message value
func decodeEvent(value []byte) (domain.Event, error) {
	var ev domain.Event
	if err := json.Unmarshal(value, &ev); err != nil {
		return ev, fmt.Errorf("decoding event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return ev, err
	}
	return ev, nil
}
