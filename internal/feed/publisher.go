package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kicker-achievements/internal/config"
	"github.com/kicker-achievements/internal/domain"
)

var (
	notificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "achievement_notifications_dropped_total",
		Help: "Unlock notifications dropped because the publisher queue was full.",
	})
	deliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "achievement_notification_delivery_failures_total",
		Help: "Unlock notifications a sink failed to deliver.",
	}, []string{"sink"})
)

// Sink receives unlock notifications from the publisher
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n domain.UnlockNotification) error
}

// Publisher queues unlock notifications and delivers them to every sink
// on its own goroutine. Publish never blocks: a full queue drops.
type Publisher struct {
	queue   chan domain.UnlockNotification
	sinks   []Sink
	onDrop  []func(domain.UnlockNotification)
	timeout time.Duration
	logger  *slog.Logger
}

// NewPublisher creates a publisher delivering to sinks
func NewPublisher(cfg *config.FeedConfig, logger *slog.Logger, sinks ...Sink) *Publisher {
	size := 1024
	if cfg != nil && cfg.BufferSize > 0 {
		size = cfg.BufferSize
	}
	return &Publisher{
		queue:   make(chan domain.UnlockNotification, size),
		sinks:   sinks,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// AddSink registers a sink. It must be called before Run.
func (p *Publisher) AddSink(s Sink) {
	p.sinks = append(p.sinks, s)
}

// OnDrop registers fn to be told about every notification the full queue
// dropped. It must be called before Run.
func (p *Publisher) OnDrop(fn func(domain.UnlockNotification)) {
	p.onDrop = append(p.onDrop, fn)
}

// Publish implements engine.Notifier
func (p *Publisher) Publish(n domain.UnlockNotification) {
	select {
	case p.queue <- n:
	default:
		notificationsDropped.Inc()
		p.logger.Warn("notification queue full, dropping unlock notification",
			"player_id", n.PlayerID,
			"achievement_id", n.AchievementID,
		)
		for _, fn := range p.onDrop {
			fn(n)
		}
	}
}

// Run delivers queued notifications until ctx is done, then drains what
// is already queued.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case n := <-p.queue:
			p.deliver(ctx, n)
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	for {
		select {
		case n := <-p.queue:
			p.deliver(ctx, n)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, n domain.UnlockNotification) {
	for _, s := range p.sinks {
		dctx, cancel := context.WithTimeout(ctx, p.timeout)
		err := s.Deliver(dctx, n)
		cancel()
		if err != nil {
			deliveryFailures.WithLabelValues(s.Name()).Inc()
			p.logger.Error("failed to deliver unlock notification",
				"sink", s.Name(),
				"player_id", n.PlayerID,
				"achievement_id", n.AchievementID,
				"error", err,
			)
		}
	}
}
