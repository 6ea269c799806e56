package config

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	pkgconfig "github.com/MrChampion2020/etokserver/pkg/config"
	"github.com/MrChampion2020/etokserver/pkg/database"
	"github.com/MrChampion2020/etokserver/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Database  database.Config
	Storage   StorageConfig
	Cassandra CassandraConfig
	Presence  PresenceConfig
	Redis     RedisConfig
	PubSub    pubsub.Config
	Kafka     KafkaConfig
	Call      CallConfig
	Chat      ChatConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host   string
	Port   int
	NodeID string `mapstructure:"node_id"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type StorageConfig struct {
	MessageBackend string `mapstructure:"message_backend"` // gorm, cassandra
}

type CassandraConfig struct {
	Hosts          []string      `mapstructure:"hosts"`
	Keyspace       string        `mapstructure:"keyspace"`
	Consistency    string        `mapstructure:"consistency"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type PresenceConfig struct {
	Store        string        `mapstructure:"store"` // gorm, redis
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       string
	CallTopic     string `mapstructure:"call_topic"`
	PresenceTopic string `mapstructure:"presence_topic"`
	Partitions    int
}

type CallConfig struct {
	RingTimeout    time.Duration `mapstructure:"ring_timeout"`
	ReconnectGrace time.Duration `mapstructure:"reconnect_grace"`
}

type ChatConfig struct {
	MaxBodyLength      int `mapstructure:"max_body_length"`
	HistoryPageSize    int `mapstructure:"history_page_size"`
	HistoryMaxPageSize int `mapstructure:"history_max_page_size"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	setDefaults(v)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.node_id", "NODE_ID")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("cassandra.hosts", "CASSANDRA_HOSTS")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Cassandra.ConnectTimeout = pkgconfig.Duration(v, "cassandra.connect_timeout", 10*time.Second)
	cfg.Cassandra.Timeout = pkgconfig.Duration(v, "cassandra.timeout", 5*time.Second)
	cfg.Presence.WriteTimeout = pkgconfig.Duration(v, "presence.write_timeout", 3*time.Second)
	cfg.Redis.TTL = pkgconfig.Duration(v, "redis.ttl", 24*time.Hour)
	cfg.PubSub.Redis.ReadTimeout = pkgconfig.Duration(v, "pubsub.redis.read_timeout", 3*time.Second)
	cfg.PubSub.Redis.WriteTimeout = pkgconfig.Duration(v, "pubsub.redis.write_timeout", 3*time.Second)
	cfg.Call.RingTimeout = pkgconfig.Duration(v, "call.ring_timeout", 45*time.Second)
	cfg.Call.ReconnectGrace = pkgconfig.Duration(v, "call.reconnect_grace", 10*time.Second)

	// CASSANDRA_HOSTS arrives as one comma-separated string.
	if len(cfg.Cassandra.Hosts) == 1 {
		cfg.Cassandra.Hosts = pkgconfig.SplitList(cfg.Cassandra.Hosts[0])
	}

	if cfg.Server.NodeID == "" {
		cfg.Server.NodeID = defaultNodeID()
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "etok.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("storage.message_backend", "gorm")
	v.SetDefault("cassandra.hosts", []string{"localhost"})
	v.SetDefault("cassandra.keyspace", "etok")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.connect_timeout", "10s")
	v.SetDefault("cassandra.timeout", "5s")
	v.SetDefault("presence.store", "gorm")
	v.SetDefault("presence.write_timeout", "3s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "etok")
	v.SetDefault("redis.ttl", "24h")
	v.SetDefault("pubsub.driver", pubsub.DriverNone)
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "etok-signal")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.call_topic", "call-records")
	v.SetDefault("kafka.presence_topic", "presence-events")
	v.SetDefault("kafka.partitions", 4)
	v.SetDefault("call.ring_timeout", "45s")
	v.SetDefault("call.reconnect_grace", "10s")
	v.SetDefault("chat.max_body_length", 4096)
	v.SetDefault("chat.history_page_size", 50)
	v.SetDefault("chat.history_max_page_size", 200)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func defaultNodeID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.New().String()
}
