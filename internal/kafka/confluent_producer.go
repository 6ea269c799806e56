package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/MrChampion2020/etokserver/internal/domain"
	pkglog "github.com/MrChampion2020/etokserver/pkg/log"
)

// ConfluentProducer implements EventProducer using confluent-kafka-go.
type ConfluentProducer struct {
	producer      *kafka.Producer
	callTopic     string
	presenceTopic string
	doneCh        chan struct{}
}

// NewConfluentProducer creates a Kafka producer for call and presence events.
func NewConfluentProducer(brokers, callTopic, presenceTopic string, partitions int) (*ConfluentProducer, error) {
	for _, topic := range []string{callTopic, presenceTopic} {
		// Ensure topic exists with desired partition count
		if err := ensureTopic(brokers, topic, partitions); err != nil {
			l := pkglog.L()
			l.Warn().Err(err).Str("topic", topic).Msg("failed to ensure topic, may already exist")
		}
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	cp := &ConfluentProducer{
		producer:      p,
		callTopic:     callTopic,
		presenceTopic: presenceTopic,
		doneCh:        make(chan struct{}),
	}

	go cp.deliveryReportHandler()

	return cp, nil
}

func ensureTopic(brokers, topic string, partitions int) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{
		{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		},
	})
	if err != nil {
		return err
	}

	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError && result.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", result.Topic, result.Error)
		}
	}
	return nil
}

func (cp *ConfluentProducer) deliveryReportHandler() {
	l := pkglog.L()
	for e := range cp.producer.Events() {
		if ev, ok := e.(*kafka.Message); ok && ev.TopicPartition.Error != nil {
			l.Error().Err(ev.TopicPartition.Error).Str("topic", *ev.TopicPartition.Topic).Msg("kafka delivery failed")
		}
	}
	close(cp.doneCh)
}

func (cp *ConfluentProducer) produce(topic, key string, event interface{}) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = cp.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: value,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// ProduceCallRecord sends a call_finished event keyed by call ID.
func (cp *ConfluentProducer) ProduceCallRecord(ctx context.Context, rec *domain.CallRecord) error {
	return cp.produce(cp.callTopic, rec.CallID, &CallRecordEvent{
		Type:        EventCallFinished,
		CallID:      rec.CallID,
		CallerID:    rec.CallerID,
		ReceiverID:  rec.ReceiverID,
		CallType:    string(rec.Type),
		Status:      string(rec.Status),
		Reason:      rec.EndReason,
		StartTime:   rec.StartTime.Unix(),
		EndTime:     rec.EndTime.Unix(),
		DurationSec: rec.DurationSec,
		Timestamp:   time.Now().Unix(),
	})
}

// ProducePresenceChanged sends a presence event keyed by user ID so one
// user's transitions stay ordered within a partition.
func (cp *ConfluentProducer) ProducePresenceChanged(ctx context.Context, userID string, online bool, at time.Time) error {
	eventType := EventUserOffline
	if online {
		eventType = EventUserOnline
	}
	return cp.produce(cp.presenceTopic, userID, &PresenceEvent{
		Type:      eventType,
		UserID:    userID,
		Online:    online,
		Timestamp: at.Unix(),
	})
}

// Close flushes pending messages and closes the producer.
func (cp *ConfluentProducer) Close() error {
	cp.producer.Flush(5000)
	cp.producer.Close()
	<-cp.doneCh
	return nil
}
