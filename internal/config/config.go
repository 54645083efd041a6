package config

import (
	"os"
	"time"

	"github.com/google/uuid"

	pkgconfig "github.com/teamhub/realtime-gateway/pkg/config"
	"github.com/teamhub/realtime-gateway/pkg/database"
	"github.com/teamhub/realtime-gateway/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Auth      AuthConfig
	Presence  PresenceConfig
	Broadcast BroadcastConfig
	Relay     RelayConfig
	Kafka     KafkaConfig
	Database  DatabaseConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	InstanceID      string        `mapstructure:"instance_id"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
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
	Issuer    string
}

type PresenceConfig struct {
	OfflineGracePeriod time.Duration `mapstructure:"offline_grace_period"`
	StoreTimeout       time.Duration `mapstructure:"store_timeout"`
	TypingTTL          time.Duration `mapstructure:"typing_ttl"`
}

type BroadcastConfig struct {
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// RelayConfig configures cross-instance fan-out over the event bus.
type RelayConfig struct {
	Enabled       bool
	Channel       string
	pubsub.Config `mapstructure:",squash"`
}

// KafkaConfig configures the consumer of notification commands from the CRUD layer.
type KafkaConfig struct {
	Enabled bool
	Brokers string
	Topic   string
	GroupID string `mapstructure:"group_id"`
}

// DatabaseConfig configures status persistence. When disabled, statuses live in memory.
type DatabaseConfig struct {
	Enabled         bool
	database.Config `mapstructure:",squash"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads ./config/config.yaml and the environment.
func Load() (*Config, error) {
	return LoadFrom("./config")
}

// LoadFrom reads config.yaml from dir and the environment.
func LoadFrom(dir string) (*Config, error) {
	v, err := pkgconfig.Load(dir, "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.instance_id", "")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "teamhub")
	v.SetDefault("presence.offline_grace_period", "0s")
	v.SetDefault("presence.store_timeout", "2s")
	v.SetDefault("presence.typing_ttl", "5s")
	v.SetDefault("broadcast.send_timeout", "5s")
	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.channel", pubsub.ChannelRelay)
	v.SetDefault("relay.driver", "redis")
	v.SetDefault("relay.redis.address", "localhost:6379")
	v.SetDefault("relay.redis.password", "")
	v.SetDefault("relay.redis.db", 0)
	v.SetDefault("relay.redis.pool_size", 10)
	v.SetDefault("relay.redis.read_timeout", "3s")
	v.SetDefault("relay.redis.write_timeout", "3s")
	v.SetDefault("relay.kafka.brokers", "localhost:9092")
	v.SetDefault("relay.kafka.group_id", "realtime-gateway")
	v.SetDefault("relay.kafka.partitions", 4)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "realtime-events")
	v.SetDefault("kafka.group_id", "realtime-gateway")
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "realtime")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "realtime.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.instance_id", "INSTANCE_ID")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.issuer", "JWT_ISSUER")
	v.BindEnv("presence.offline_grace_period", "PRESENCE_OFFLINE_GRACE_PERIOD")
	v.BindEnv("relay.enabled", "RELAY_ENABLED")
	v.BindEnv("relay.driver", "RELAY_DRIVER")
	v.BindEnv("relay.redis.address", "REDIS_ADDRESS")
	v.BindEnv("relay.redis.password", "REDIS_PASSWORD")
	v.BindEnv("relay.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_REALTIME_TOPIC")
	v.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("database.enabled", "DATABASE_ENABLED")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Presence.OfflineGracePeriod = pkgconfig.Duration(v, "presence.offline_grace_period", 0)
	cfg.Presence.StoreTimeout = pkgconfig.Duration(v, "presence.store_timeout", 2*time.Second)
	cfg.Presence.TypingTTL = pkgconfig.Duration(v, "presence.typing_ttl", 5*time.Second)
	cfg.Broadcast.SendTimeout = pkgconfig.Duration(v, "broadcast.send_timeout", 5*time.Second)
	cfg.Relay.Redis.ReadTimeout = pkgconfig.Duration(v, "relay.redis.read_timeout", 3*time.Second)
	cfg.Relay.Redis.WriteTimeout = pkgconfig.Duration(v, "relay.redis.write_timeout", 3*time.Second)

	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = defaultInstanceID()
	}

	return &cfg, nil
}

func defaultInstanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.New().String()
}
