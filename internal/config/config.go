package config

import "time"

type Config struct {
	Service        *ServiceConfig
	Store          *StoreConfig
	Redis          *RedisConfig
	Postgres       *PostgresConfig
	Tracer         *TracerConfig
	Push           *PushConfig
	Kafka          *KafkaConfig
	Twilio         *TwilioConfig
	Directory      *DirectoryConfig
	Worker         *WorkerConfig
	Gateway        *GatewayConfig
	Logger         *LoggerConfig
	Auth           *AuthConfig
	PersistTimeout time.Duration
}

type ServiceConfig struct {
	Name string
	Env  string
	Add  string
}

// StoreConfig picks the persistence backend: "postgres" or "memory".
type StoreConfig struct {
	Backend string
}

type RedisConfig struct {
	URL          string
	ClientName   string
	Stream       string
	StreamMaxLen int64
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	Migrate         bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

type TracerConfig struct {
	Enabled bool
	Address string
}

// PushConfig picks the notification sink: "log", "kafka" or "twilio".
type PushConfig struct {
	Sink string
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type TwilioConfig struct {
	SID   string
	Token string
	From  string
}

type DirectoryConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// WorkerConfig names the outbox consumer. Consumer should survive restarts so a
// restarted worker picks up the entries it left pending.
type WorkerConfig struct {
	NotificationGroup string
	Consumer          string
	ClaimIdle         time.Duration
}

type GatewayConfig struct {
	SendBuffer     int
	MaxFrameBytes  int64
	WriteWait      time.Duration
	PongWait       time.Duration
	EventsPerSec   float64
	EventBurst     int
	AllowedOrigins []string
}

type LoggerConfig struct {
	Level  string
	Format string
}

type AuthConfig struct {
	Secret   string
	Issuer   string
	Validity time.Duration
}
