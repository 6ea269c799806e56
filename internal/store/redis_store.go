package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrChampion2020/etokserver/internal/domain"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

type redisPresenceStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPresenceStore connects to Redis and returns a PresenceStore.
func NewRedisPresenceStore(cfg RedisConfig) (PresenceStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisPresenceStore(client, cfg.KeyPrefix, cfg.TTL), nil
}

func newRedisPresenceStore(client *redis.Client, prefix string, ttl time.Duration) *redisPresenceStore {
	if prefix == "" {
		prefix = "etok"
	}
	return &redisPresenceStore{client: client, prefix: prefix, ttl: ttl}
}

// Redis key patterns:
// {prefix}:presence:user:{user_id}   HASH         - online, last_seen (unix ms)
// {prefix}:presence:online           SET<user_id> - users currently online
// {prefix}:presence:user:{id}:nodes  SET<node_id> - nodes holding a connection
// {prefix}:presence:node:{node_id}   SET<user_id> - users connected to a node

func (s *redisPresenceStore) userKey(userID string) string {
	return fmt.Sprintf("%s:presence:user:%s", s.prefix, userID)
}

func (s *redisPresenceStore) onlineKey() string {
	return s.prefix + ":presence:online"
}

func (s *redisPresenceStore) nodesKey(userID string) string {
	return s.userKey(userID) + ":nodes"
}

func (s *redisPresenceStore) nodeKey(nodeID string) string {
	return fmt.Sprintf("%s:presence:node:%s", s.prefix, nodeID)
}

func (s *redisPresenceStore) SetOnline(ctx context.Context, userID string, at time.Time) error {
	key := s.userKey(userID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "online", "1")
	pipe.SAdd(ctx, s.onlineKey(), userID)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisPresenceStore) SetOffline(ctx context.Context, userID string, at time.Time) error {
	key := s.userKey(userID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"online":    "0",
		"last_seen": strconv.FormatInt(at.UnixMilli(), 10),
	})
	pipe.SRem(ctx, s.onlineKey(), userID)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisPresenceStore) Get(ctx context.Context, userID string) (*domain.PresenceStatus, error) {
	result, err := s.client.HGetAll(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	status := &domain.PresenceStatus{UserID: userID, Online: result["online"] == "1"}
	if raw, ok := result["last_seen"]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			seen := time.UnixMilli(ms).UTC()
			status.LastSeen = &seen
		}
	}
	return status, nil
}

func (s *redisPresenceStore) Join(ctx context.Context, userID, nodeID string) error {
	key := s.nodesKey(userID)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, nodeID)
	pipe.SAdd(ctx, s.nodeKey(nodeID), userID)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisPresenceStore) Leave(ctx context.Context, userID, nodeID string) (int, error) {
	key := s.nodesKey(userID)
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, key, nodeID)
	pipe.SRem(ctx, s.nodeKey(nodeID), userID)
	remaining := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(remaining.Val()), nil
}

func (s *redisPresenceStore) Nodes(ctx context.Context, userID string) ([]string, error) {
	return s.client.SMembers(ctx, s.nodesKey(userID)).Result()
}

func (s *redisPresenceStore) ClearNode(ctx context.Context, nodeID string) error {
	nodeKey := s.nodeKey(nodeID)
	users, err := s.client.SMembers(ctx, nodeKey).Result()
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	for _, userID := range users {
		pipe.SRem(ctx, s.nodesKey(userID), nodeID)
	}
	pipe.Del(ctx, nodeKey)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisPresenceStore) Close() error {
	return s.client.Close()
}
