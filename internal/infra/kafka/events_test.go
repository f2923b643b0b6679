package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/nowrise/authgate/internal/core/domain"
	"github.com/nowrise/authgate/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T) (*EventPublisher, *fakeAsyncProducer) {
	t.Helper()

	asyncProducer := newFakeAsyncProducer()
	producer := &Producer{
		producer: asyncProducer,
		logger:   zaptest.NewLogger(t),
		cfg:      config.KafkaSettings{TopicPrefix: "authgate"},
		errChan:  make(chan error, 1),
		done:     make(chan struct{}),
	}

	appCfg := config.AppSettings{Name: "authgate", Env: "test"}
	return NewEventPublisher(producer, appCfg, zaptest.NewLogger(t)), asyncProducer
}

func TestPublishOTPIssued(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	issuedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	event := domain.OTPIssuedEvent{
		EventID:     "evt-1",
		ChallengeID: "chal-1",
		MaskedEmail: "ali***@example.com",
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(10 * time.Minute),
		Resend:      true,
	}

	if err := publisher.PublishOTPIssued(context.Background(), event); err != nil {
		t.Fatalf("PublishOTPIssued returned error: %v", err)
	}

	var msg *sarama.ProducerMessage
	select {
	case msg = <-asyncProducer.input:
	case <-time.After(time.Second):
		t.Fatal("no message produced")
	}

	if msg.Topic != "authgate.otp.issued" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}

	raw, err := msg.Value.Encode()
	if err != nil {
		t.Fatalf("encode message value: %v", err)
	}

	var envelope struct {
		EventID   string            `json:"event_id"`
		EventType string            `json:"event_type"`
		Version   string            `json:"version"`
		Metadata  map[string]string `json:"metadata"`
		Payload   struct {
			ChallengeID string `json:"challenge_id"`
			MaskedEmail string `json:"masked_email"`
			Resend      bool   `json:"resend"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	if envelope.EventID != "evt-1" {
		t.Errorf("event id = %q, want evt-1", envelope.EventID)
	}
	if envelope.EventType != "otp.issued" {
		t.Errorf("event type = %q, want otp.issued", envelope.EventType)
	}
	if envelope.Version != schemaVersion {
		t.Errorf("version = %q, want %q", envelope.Version, schemaVersion)
	}
	if envelope.Metadata["service"] != "authgate" || envelope.Metadata["environment"] != "test" {
		t.Errorf("unexpected metadata %v", envelope.Metadata)
	}
	if envelope.Payload.ChallengeID != "chal-1" || !envelope.Payload.Resend {
		t.Errorf("unexpected payload %+v", envelope.Payload)
	}
	if envelope.Payload.MaskedEmail != "ali***@example.com" {
		t.Errorf("masked email = %q", envelope.Payload.MaskedEmail)
	}
}

func TestPublishOTPThrottledCarriesRetryAfterSeconds(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	event := domain.OTPThrottledEvent{
		EventID:     "evt-2",
		MaskedEmail: "bob***@example.com",
		ThrottledAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		RetryAfter:  90 * time.Second,
	}

	if err := publisher.PublishOTPThrottled(context.Background(), event); err != nil {
		t.Fatalf("PublishOTPThrottled returned error: %v", err)
	}

	msg := <-asyncProducer.input
	if msg.Topic != "authgate.otp.throttled" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}

	raw, err := msg.Value.Encode()
	if err != nil {
		t.Fatalf("encode message value: %v", err)
	}

	var envelope struct {
		Payload struct {
			RetryAfterSeconds int `json:"retry_after_seconds"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	if envelope.Payload.RetryAfterSeconds != 90 {
		t.Errorf("retry_after_seconds = %d, want 90", envelope.Payload.RetryAfterSeconds)
	}
}

func TestPublishHonoursContextCancellation(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	// Fill the buffered input channel so the next publish blocks.
	asyncProducer.input <- &sarama.ProducerMessage{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := publisher.PublishOTPVerified(ctx, domain.OTPVerifiedEvent{
		EventID:     "evt-3",
		ChallengeID: "chal-3",
		MaskedEmail: "eve***@example.com",
		VerifiedAt:  time.Now().UTC(),
	})
	if err == nil {
		t.Fatal("expected context error, got nil")
	}
}

func TestTopicNameAppliesPrefixOnce(t *testing.T) {
	producer := &Producer{cfg: config.KafkaSettings{TopicPrefix: "authgate"}}

	if got := producer.TopicName("otp.issued"); got != "authgate.otp.issued" {
		t.Errorf("TopicName = %q, want authgate.otp.issued", got)
	}
	if got := producer.TopicName("authgate.otp.issued"); got != "authgate.otp.issued" {
		t.Errorf("TopicName double-prefixed: %q", got)
	}

	bare := &Producer{cfg: config.KafkaSettings{}}
	if got := bare.TopicName("otp.issued"); got != "otp.issued" {
		t.Errorf("TopicName without prefix = %q", got)
	}
}
