package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kicker-achievements/internal/config"
	"github.com/kicker-achievements/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingHandler struct {
	mu      sync.Mutex
	batches [][]domain.Event
}

func (h *recordingHandler) ProcessEvents(ctx context.Context, events []domain.Event) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, append([]domain.Event(nil), events...))
	return len(events), nil
}

// outageHandler fails its first calls after finishing done events
type outageHandler struct {
	recordingHandler
	failures int
	done     int
	onFail   func()
}

func (h *outageHandler) ProcessEvents(ctx context.Context, events []domain.Event) (int, error) {
	h.recordingHandler.ProcessEvents(ctx, events)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failures == 0 {
		return len(events), nil
	}
	h.failures--
	if h.onFail != nil {
		h.onFail()
	}
	return min(h.done, len(events)), errors.New("store unavailable")
}

func (h *recordingHandler) eventIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var ids []string
	for _, b := range h.batches {
		for _, ev := range b {
			ids = append(ids, ev.EventID)
		}
	}
	return ids
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32                       { return nil }
func (s *fakeSession) MemberID() string                                 { return "member" }
func (s *fakeSession) GenerationID() int32                              { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)          {}
func (s *fakeSession) Commit()                                          {}
func (s *fakeSession) ResetOffset(string, int32, int64, string)         {}
func (s *fakeSession) Context() context.Context                         { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "kicker-events" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func eventMessage(t *testing.T, offset int64, id string) *sarama.ConsumerMessage {
	t.Helper()
	data, err := json.Marshal(domain.Event{
		EventID:      id,
		Type:         domain.TriggerMatchEnded,
		KickerID:     "k1",
		Participants: []domain.Participant{{PlayerID: "p1", Result: domain.ResultWin}},
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Offset: offset, Value: data}
}

func TestConsumeClaim_BatchesAndMarksAfterProcessing(t *testing.T) {
	handler := &recordingHandler{}
	h := &consumerGroupHandler{
		config:  &config.KafkaConfig{BatchSize: 2, BatchTimeout: time.Hour},
		handler: handler,
		logger:  discardLogger(),
	}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 4)}
	claim.messages <- eventMessage(t, 1, "e1")
	claim.messages <- &sarama.ConsumerMessage{Offset: 2, Value: []byte("not json")}
	claim.messages <- eventMessage(t, 3, "e2")
	claim.messages <- eventMessage(t, 4, "e3")
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claim))

	assert.Equal(t, []string{"e1", "e2", "e3"}, handler.eventIDs())
	require.Len(t, handler.batches, 2)
	assert.Len(t, handler.batches[0], 2)
	// the invalid message is marked along with its batch
	assert.Equal(t, []int64{3, 4}, session.marked)
}

func TestConsumeClaim_RetriesUnfinishedEvents(t *testing.T) {
	handler := &outageHandler{failures: 1, done: 1}
	h := &consumerGroupHandler{
		config:  &config.KafkaConfig{BatchSize: 2, BatchTimeout: time.Hour, RetryBackoff: time.Millisecond},
		handler: handler,
		logger:  discardLogger(),
	}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- eventMessage(t, 1, "e1")
	claim.messages <- eventMessage(t, 2, "e2")
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claim))

	// e1 went through on the first call, only e2 is handed over again
	assert.Equal(t, []string{"e1", "e2", "e2"}, handler.eventIDs())
	assert.Equal(t, []int64{1, 2}, session.marked)
}

func TestConsumeClaim_LeavesFailedEventsUnmarkedWhenSessionEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := &outageHandler{failures: 100, onFail: cancel}
	h := &consumerGroupHandler{
		config:  &config.KafkaConfig{BatchSize: 2, BatchTimeout: time.Hour, RetryBackoff: time.Hour},
		handler: handler,
		logger:  discardLogger(),
	}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- eventMessage(t, 1, "e1")
	claim.messages <- eventMessage(t, 2, "e2")

	session := &fakeSession{ctx: ctx}
	require.NoError(t, h.ConsumeClaim(session, claim))

	assert.Equal(t, []string{"e1", "e2"}, handler.eventIDs())
	assert.Empty(t, session.marked, "the next owner of the partition replays both")
}

func TestDecodeEvent(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		msg := eventMessage(t, 0, "e1")
		ev, err := decodeEvent(msg.Value)
		require.NoError(t, err)
		assert.Equal(t, "e1", ev.EventID)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := decodeEvent([]byte("{"))
		assert.Error(t, err)
	})

	t.Run("missing participants", func(t *testing.T) {
		_, err := decodeEvent([]byte(`{"event_id":"e1","type":"MATCH_ENDED","kicker_id":"k1"}`))
		assert.True(t, domain.IsValidationError(err))
	})
}

func TestProducer_DeliverKeysByPlayer(t *testing.T) {
	mock := mocks.NewAsyncProducer(t, nil)
	mock.ExpectInputWithCheckerFunctionAndSucceed(func(value []byte) error {
		var n domain.UnlockNotification
		if err := json.Unmarshal(value, &n); err != nil {
			return err
		}
		if n.UnlockID != "u1" {
			return errors.New("unexpected unlock id " + n.UnlockID)
		}
		return nil
	})

	p := newProducer(mock, "achievement-unlocks", discardLogger())
	assert.Equal(t, "kafka", p.Name())

	err := p.Deliver(context.Background(), domain.UnlockNotification{
		UnlockID: "u1", KickerID: "k1", PlayerID: "p1", Kind: domain.UnlockNew,
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestProducer_DeliverHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocked := &blockingProducer{}
	p := &Producer{producer: blocked, topic: "achievement-unlocks", logger: discardLogger()}

	err := p.Deliver(ctx, domain.UnlockNotification{UnlockID: "u1", PlayerID: "p1"})
	assert.ErrorIs(t, err, context.Canceled)
}

// blockingProducer never accepts input
type blockingProducer struct {
	sarama.AsyncProducer
}

func (b *blockingProducer) Input() chan<- *sarama.ProducerMessage {
	return make(chan *sarama.ProducerMessage)
}
