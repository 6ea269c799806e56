package pubsub

import "time"

// Drivers.
const (
	DriverNone  = "none"
	DriverRedis = "redis"
	DriverKafka = "kafka"
)

// KafkaConfig holds Kafka-specific configuration.
type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"`
	GroupID    string `mapstructure:"group_id"`
	Partitions int    `mapstructure:"partitions"`
}

// Config holds the configuration for the pub/sub system.
type Config struct {
	Driver string      `mapstructure:"driver"` // "none", "redis", "kafka"
	Redis  RedisConfig `mapstructure:"redis"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
}

// RedisConfig holds Redis-specific configuration.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// NewPubSub creates a PubSub for cfg.Driver. It returns (nil, nil) when
// cross-node fan-out is disabled. nodeID keeps Kafka consumer groups
// distinct so every node sees every event.
func NewPubSub(cfg Config, nodeID string) (PubSub, error) {
	switch cfg.Driver {
	case DriverKafka:
		return NewKafkaPubSub(cfg.Kafka, nodeID)
	case DriverRedis:
		return NewRedisPubSub(cfg.Redis)
	default:
		return nil, nil
	}
}
