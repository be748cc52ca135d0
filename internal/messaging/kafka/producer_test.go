package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func testProducer(t *testing.T, mockProducer *mocks.SyncProducer) *Producer {
	t.Helper()
	return NewProducerFromSync(
		mockProducer,
		WithProducerLogger(log.WithField("component", "kafka-producer-test")),
		WithProducerClock(func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }),
	)
}

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := testProducer(t, mockProducer)

	var sent *sarama.ProducerMessage
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		sent = msg
		return nil
	})

	err := producer.PublishEvent(TopicOrderEvents, "order-123", map[string]string{"order_id": "order-123"}, map[string]string{
		HeaderEventType: "order.created",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}

	if sent.Topic != TopicOrderEvents {
		t.Fatalf("expected topic %s, got %s", TopicOrderEvents, sent.Topic)
	}
	key, _ := sent.Key.Encode()
	if string(key) != "order-123" {
		t.Fatalf("expected key order-123, got %s", key)
	}
	if len(sent.Headers) != 1 || string(sent.Headers[0].Key) != HeaderEventType {
		t.Fatalf("unexpected headers: %+v", sent.Headers)
	}
	if !sent.Timestamp.Equal(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %s", sent.Timestamp)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := testProducer(t, mockProducer)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(TopicOrderEvents, "order-123", map[string]string{"order_id": "order-123"}, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := testProducer(t, mockProducer)

	if err := producer.PublishEvent(TopicOrderEvents, "k", make(chan int), nil); err == nil {
		t.Fatal("expected marshal error")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	if _, err := NewProducer(nil, ""); err == nil {
		t.Fatal("expected error for empty broker list")
	}
}

func TestNewConfig_Idempotent(t *testing.T) {
	config := NewConfig("")

	if config.ClientID != defaultClientID {
		t.Errorf("expected client id %s, got %s", defaultClientID, config.ClientID)
	}
	if !config.Producer.Idempotent {
		t.Error("expected idempotent producer")
	}
	if config.Producer.RequiredAcks != sarama.WaitForAll {
		t.Error("expected acks from all in-sync replicas")
	}
	if config.Net.MaxOpenRequests != 1 {
		t.Errorf("expected single in-flight request, got %d", config.Net.MaxOpenRequests)
	}
}

func TestProducer_CloseNil(t *testing.T) {
	var producer *Producer
	if err := producer.Close(); err != nil {
		t.Fatalf("expected nil close on nil producer, got %v", err)
	}
}
