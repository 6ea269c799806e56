package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrChampion2020/etokserver/pkg/log"
)

// RedisPubSub implements PubSub interface using Redis.
type RedisPubSub struct {
	client        *redis.Client
	subscriptions map[string]*redis.PubSub
	mu            sync.Mutex
}

// NewRedisPubSub creates a new Redis-based PubSub instance.
func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPubSub{
		client:        client,
		subscriptions: make(map[string]*redis.PubSub),
	}, nil
}

// Publish publishes an event to the specified channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// SubscribePattern subscribes to channels matching a pattern. Subscribing
// to the same pattern again replaces the earlier subscription.
func (r *RedisPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	ps := r.client.PSubscribe(ctx, pattern)
	// Wait for the subscription confirmation so publishes issued right
	// after this returns are not lost.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}

	r.mu.Lock()
	if old, ok := r.subscriptions[pattern]; ok {
		old.Close()
	}
	r.subscriptions[pattern] = ps
	r.mu.Unlock()

	eventCh := make(chan *Event, 256)
	go r.processMessages(ctx, ps, eventCh)
	return eventCh, nil
}

// Close closes all subscriptions and the Redis client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	for key, ps := range r.subscriptions {
		ps.Close()
		delete(r.subscriptions, key)
	}
	r.mu.Unlock()

	return r.client.Close()
}

func (r *RedisPubSub) processMessages(ctx context.Context, ps *redis.PubSub, eventCh chan<- *Event) {
	defer close(eventCh)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				l := log.L()
				l.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed pubsub event")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
				l := log.L()
				l.Warn().Str("channel", msg.Channel).Msg("pubsub consumer lagging, event dropped")
			}
		}
	}
}
