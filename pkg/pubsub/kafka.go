package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/MrChampion2020/etokserver/pkg/log"
)

// channelToTopicAndKey converts a Redis-style channel to a Kafka topic and message key.
//
//	"signal:user:U123:deliver" → topic: "signal-user-deliver", key: "U123"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	prefix, id, suffix, err := parseChannel(channel)
	if err != nil {
		return "", "", err
	}
	return prefix + "-user-" + strings.ReplaceAll(suffix, "_", "-"), id, nil
}

// patternToTopic converts a Redis-style subscribe pattern to a Kafka topic.
//
//	"signal:user:*:deliver" → "signal-user-deliver"
func patternToTopic(pattern string) (string, error) {
	topic, _, err := channelToTopicAndKey(strings.ReplaceAll(pattern, "*", "_any_"))
	return topic, err
}

type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
}

// KafkaPubSub implements PubSub interface using Apache Kafka. Every node
// consumes with its own group so each event reaches all nodes, which is
// the fan-out semantics Redis pub/sub gives for free.
type KafkaPubSub struct {
	producer      *kafka.Producer
	subscriptions map[string]*kafkaSubscription
	config        KafkaConfig
	nodeID        string
	mu            sync.Mutex
	doneCh        chan struct{}
}

// NewKafkaPubSub creates a new Kafka-based PubSub instance.
func NewKafkaPubSub(cfg KafkaConfig, nodeID string) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kps := &KafkaPubSub{
		producer:      p,
		subscriptions: make(map[string]*kafkaSubscription),
		config:        cfg,
		nodeID:        nodeID,
		doneCh:        make(chan struct{}),
	}

	go kps.deliveryReportHandler()

	if err := kps.ensureTopic(); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("failed to ensure pubsub topic, may already exist")
	}

	return kps, nil
}

func (k *KafkaPubSub) ensureTopic() error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": k.config.Brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	topic, err := patternToTopic(PatternUserDeliver)
	if err != nil {
		return err
	}

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", r.Topic, r.Error)
		}
	}
	return nil
}

func (k *KafkaPubSub) deliveryReportHandler() {
	l := log.L()
	for e := range k.producer.Events() {
		if ev, ok := e.(*kafka.Message); ok && ev.TopicPartition.Error != nil {
			l.Error().Err(ev.TopicPartition.Error).Msg("kafka pubsub delivery failed")
		}
	}
	close(k.doneCh)
}

// Publish publishes an event; the user ID becomes the message key so one
// user's events stay ordered within a partition.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// SubscribePattern consumes every message on the pattern's topic.
func (k *KafkaPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	topic, err := patternToTopic(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pattern: %w", err)
	}
	return k.subscribeToTopic(ctx, pattern, topic)
}

func (k *KafkaPubSub) subscribeToTopic(ctx context.Context, subKey, topic string) (<-chan *Event, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, ok := k.subscriptions[subKey]; ok {
		existing.cancel()
		existing.consumer.Close()
		delete(k.subscriptions, subKey)
	}

	groupID := k.config.GroupID
	if groupID == "" {
		groupID = "etok-signal"
	}
	groupID = sanitizeGroupID(fmt.Sprintf("%s-%s-%s", groupID, k.nodeID, subKey))

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       k.config.Brokers,
		"group.id":                groupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	eventCh := make(chan *Event, 256)

	k.subscriptions[subKey] = &kafkaSubscription{consumer: c, cancel: cancel}

	go k.consumeMessages(subCtx, c, eventCh)

	return eventCh, nil
}

func (k *KafkaPubSub) consumeMessages(ctx context.Context, c *kafka.Consumer, eventCh chan<- *Event) {
	defer close(eventCh)
	l := log.L()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := c.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l.Warn().Err(err).Msg("dropping malformed pubsub event")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
				l.Warn().Str("key", string(e.Key)).Msg("pubsub consumer lagging, event dropped")
			}

		case kafka.Error:
			l.Error().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka pubsub error")
			if e.IsFatal() {
				return
			}
		}
	}
}

// Close closes all subscriptions and the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	for key, sub := range k.subscriptions {
		sub.cancel()
		sub.consumer.Close()
		delete(k.subscriptions, key)
	}
	k.mu.Unlock()

	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh
	return nil
}

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}
