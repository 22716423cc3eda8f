package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/ricesearch/rice-bench/internal/pkg/logger"
)

// TestKafkaConfig_Validation tests configuration validation without a broker.
func TestKafkaConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     KafkaConfig
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "test-group",
			},
			wantErr: false,
		},
		{
			name: "empty brokers",
			cfg: KafkaConfig{
				Brokers:       []string{},
				ConsumerGroup: "test-group",
			},
			wantErr: true,
		},
		{
			name: "empty consumer group",
			cfg: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "",
			},
			wantErr: true,
		},
		{
			name: "invalid kafka version",
			cfg: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "test-group",
				Version:       "invalid",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			_, err := newSaramaConfig(&cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("newSaramaConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKafkaConfig_Defaults(t *testing.T) {
	cfg := KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		ConsumerGroup: "test-group",
	}

	sc, err := newSaramaConfig(&cfg)
	if err != nil {
		t.Fatalf("newSaramaConfig() error = %v", err)
	}
	if cfg.ClientID != "rice-bench" {
		t.Errorf("ClientID = %q, want rice-bench", cfg.ClientID)
	}
	if sc.Version != sarama.V2_8_0_0 {
		t.Errorf("Version = %v, want 2.8.0", sc.Version)
	}
	if !sc.Producer.Return.Successes {
		t.Error("sync producer requires Return.Successes")
	}
}

// TestParseKafkaBrokers tests broker string parsing.
func TestParseKafkaBrokers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single broker",
			input: "localhost:9092",
			want:  []string{"localhost:9092"},
		},
		{
			name:  "multiple brokers",
			input: "broker1:9092,broker2:9092,broker3:9092",
			want:  []string{"broker1:9092", "broker2:9092", "broker3:9092"},
		},
		{
			name:  "with whitespace and empties",
			input: "broker1:9092 , ,broker2:9092",
			want:  []string{"broker1:9092", "broker2:9092"},
		},
		{
			name:  "empty string",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseKafkaBrokers(tt.input)
			if len(got) != len(tt.want) {
				t.Errorf("ParseKafkaBrokers() = %v, want %v", got, tt.want)
				return
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseKafkaBrokers()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNewProducerMessage_KeyedByRun(t *testing.T) {
	event := NewEvent(TopicBenchReport, "bench", "run-42", map[string]string{"strategy": "bm25"})

	msg, err := newProducerMessage(TopicBenchReport, event)
	if err != nil {
		t.Fatalf("newProducerMessage() error = %v", err)
	}

	key, _ := msg.Key.Encode()
	if string(key) != "run-42" {
		t.Errorf("key = %s, want run-42", key)
	}

	orphan := NewEvent(TopicBenchReport, "bench", "", nil)
	msg, _ = newProducerMessage(TopicBenchReport, orphan)
	key, _ = msg.Key.Encode()
	if string(key) != orphan.ID {
		t.Errorf("key without run = %s, want event id", key)
	}
}

func TestKafkaBus_PublishWithMockProducer(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event Event
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.RunID != "run-1" || event.Type != TopicBenchStarted {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})

	bus := &KafkaBus{
		producer: producer,
		handlers: make(map[string][]Handler),
	}

	if err := bus.Publish(context.Background(), TopicBenchStarted, NewEvent(TopicBenchStarted, "bench", "run-1", nil)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := producer.Close(); err != nil {
		t.Errorf("producer expectations: %v", err)
	}
}

func TestKafkaBus_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	bus := &KafkaBus{
		producer: producer,
		handlers: make(map[string][]Handler),
	}

	if err := bus.Publish(context.Background(), TopicBenchReport, NewEvent(TopicBenchReport, "bench", "", nil)); err == nil {
		t.Error("Publish() should surface producer errors")
	}
	producer.Close()
}

// TestKafkaBus_Interface verifies KafkaBus implements Bus interface.
func TestKafkaBus_Interface(t *testing.T) {
	var _ Bus = (*KafkaBus)(nil)
}

// TestKafkaBus_CloseIdempotent tests that Close() on a closed bus is a no-op.
func TestKafkaBus_CloseIdempotent(t *testing.T) {
	bus := &KafkaBus{
		handlers: make(map[string][]Handler),
		closed:   true,
	}

	if err := bus.Close(); err != nil {
		t.Errorf("Close() on closed bus returned error: %v", err)
	}
}

// TestKafkaBus_PublishAfterClose tests that operations fail after Close().
func TestKafkaBus_PublishAfterClose(t *testing.T) {
	bus := &KafkaBus{
		handlers: make(map[string][]Handler),
		closed:   true,
	}

	if err := bus.Publish(context.Background(), "test", Event{ID: "test"}); err == nil {
		t.Error("Publish() after Close() should return error")
	}
	if err := bus.Subscribe(context.Background(), "test", func(context.Context, Event) error { return nil }); err == nil {
		t.Error("Subscribe() after Close() should return error")
	}
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx context.Context

	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, msg.Offset)
	s.mu.Unlock()
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func kafkaMessage(t *testing.T, topic string, offset int64, event Event) *sarama.ConsumerMessage {
	t.Helper()
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	return &sarama.ConsumerMessage{Topic: topic, Offset: offset, Value: data}
}

func TestConsumerGroupHandler_ConsumeClaim(t *testing.T) {
	var got []Event
	record := func(_ context.Context, e Event) error {
		got = append(got, e)
		return nil
	}
	bus := &KafkaBus{
		log:      logger.Nop(),
		handlers: map[string][]Handler{TopicBenchReport: {record}},
	}
	h := &consumerGroupHandler{bus: bus, topic: TopicBenchReport}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- kafkaMessage(t, TopicBenchReport, 0, NewEvent(TopicBenchReport, "bench", "run-1", nil))
	claim.messages <- &sarama.ConsumerMessage{Topic: TopicBenchReport, Offset: 1, Value: []byte("not json")}
	claim.messages <- kafkaMessage(t, TopicBenchReport, 2, NewEvent(TopicBenchReport, "bench", "run-2", nil))
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim() error = %v", err)
	}

	if len(got) != 2 || got[0].RunID != "run-1" || got[1].RunID != "run-2" {
		t.Errorf("handled events = %+v, want run-1 and run-2", got)
	}
	if fmt.Sprint(session.marked) != "[0 1 2]" {
		t.Errorf("marked offsets = %v, want every message including the undecodable one", session.marked)
	}
}

// fakeGroup serves one batch of messages on the first Consume call and then
// blocks until the session context ends.
type fakeGroup struct {
	sarama.ConsumerGroup
	messages []*sarama.ConsumerMessage

	mu     sync.Mutex
	calls  int
	topics []string
	closed bool
}

func (g *fakeGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.topics = append(g.topics, topics...)
	g.mu.Unlock()

	if !first {
		<-ctx.Done()
		return ctx.Err()
	}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(g.messages))}
	for _, m := range g.messages {
		claim.messages <- m
	}
	close(claim.messages)
	return handler.ConsumeClaim(&fakeSession{ctx: ctx}, claim)
}

func (g *fakeGroup) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return nil
}

func TestKafkaBus_SubscribeConsumesTopic(t *testing.T) {
	group := &fakeGroup{messages: []*sarama.ConsumerMessage{
		kafkaMessage(t, TopicIngestBatch, 0, NewEvent(TopicIngestBatch, "ingest", "run-9", nil)),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	bus := &KafkaBus{
		producer:       mocks.NewSyncProducer(t, nil),
		consumer:       group,
		log:            logger.Nop(),
		handlers:       make(map[string][]Handler),
		consumerCtx:    ctx,
		consumerCancel: cancel,
	}

	received := make(chan Event, 1)
	err := Follow(context.Background(), bus, []string{TopicIngestBatch}, func(_ context.Context, e Event) error {
		received <- e
		return nil
	})
	if err != nil {
		t.Fatalf("Follow() error = %v", err)
	}

	select {
	case e := <-received:
		if e.RunID != "run-9" || e.Type != TopicIngestBatch {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for consumed event")
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	group.mu.Lock()
	defer group.mu.Unlock()
	if !group.closed {
		t.Error("consumer group not closed")
	}
	if len(group.topics) == 0 || group.topics[0] != TopicIngestBatch {
		t.Errorf("consumed topics = %v", group.topics)
	}
}
