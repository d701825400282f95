// Package config loads and validates the tickrl runtime configuration.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file laid over
// Defaults and may be overridden by TICKRL_* environment variables.
type Config struct {
	Feed      FeedConfig      `toml:"feed"`
	Market    MarketConfig    `toml:"market"`
	Agent     AgentConfig     `toml:"agent"`
	Memory    MemoryConfig    `toml:"memory"`
	Estimator EstimatorConfig `toml:"estimator"`
	Train     TrainConfig     `toml:"train"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// FeedConfig describes the exchange websocket.
type FeedConfig struct {
	URL              string   `toml:"ws_url"`
	Market           string   `toml:"market"`
	ChannelCapacity  int      `toml:"channel_capacity"`
	ReconnectDelay   duration `toml:"reconnect_delay"`
	HandshakeTimeout duration `toml:"handshake_timeout"`
}

// MarketConfig sizes the tick and book windows.
type MarketConfig struct {
	TickCapacity int      `toml:"tick_capacity"`
	BookCapacity int      `toml:"book_capacity"`
	PollTimeout  duration `toml:"poll_timeout"`
}

// AgentConfig controls exploration.
type AgentConfig struct {
	Epsilon      float64 `toml:"epsilon"`
	EpsilonDecay float64 `toml:"epsilon_decay"`
	EpsilonFloor float64 `toml:"epsilon_floor"`
	// Seed fixes the exploration RNG; 0 means random.
	Seed int64 `toml:"seed"`
}

// MemoryConfig sizes the experience memory and the flush batch.
type MemoryConfig struct {
	Capacity       int `toml:"capacity"`
	BatchThreshold int `toml:"batch_threshold"`
}

// EstimatorConfig configures the value network.
type EstimatorConfig struct {
	Device         string  `toml:"device"`
	CheckpointPath string  `toml:"checkpoint_path"`
	Resume         bool    `toml:"resume"`
	LearningRate   float64 `toml:"learning_rate"`
	Gamma          float64 `toml:"gamma"`
	TDClip         float64 `toml:"td_clip"`
	Seed           int64   `toml:"seed"`
}

// TrainConfig controls training passes.
type TrainConfig struct {
	Epochs        int    `toml:"epochs"`
	BatchSize     int    `toml:"batch_size"`
	OnFlush       bool   `toml:"on_flush"`
	ArchivePrefix string `toml:"archive_prefix"`
}

// PostgresConfig holds the experience store connection.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	PreferIPv4    bool   `toml:"prefer_ipv4"`
}

// RedisConfig holds the cache and signal bus connection.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	BookTTL      duration `toml:"book_ttl"`
}

// S3Config holds the archive bucket.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the HTTP API listener.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds the operator alert channels. A channel is active when
// its credentials are set.
type NotifyConfig struct {
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`
	DiscordWebhook string `toml:"discord_webhook"`
	// Events filters which events are sent; empty sends all.
	Events []string `toml:"events"`
}

// Addr is the listen address for the server.
func (s ServerConfig) Addr() string { return fmt.Sprintf(":%d", s.Port) }

// duration lets TOML carry "10ms"-style strings.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Modes.
const (
	ModeCollect = "collect"
	ModeTrain   = "train"
	ModeFull    = "full"
)

// Defaults returns a configuration that runs collect mode against the
// public Upbit feed with every external backend disabled.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			URL:              "wss://api.upbit.com/websocket/v1",
			Market:           "KRW-BTC",
			ChannelCapacity:  100,
			ReconnectDelay:   duration{time.Second},
			HandshakeTimeout: duration{10 * time.Second},
		},
		Market: MarketConfig{
			TickCapacity: 200,
			BookCapacity: 200,
			PollTimeout:  duration{10 * time.Millisecond},
		},
		Agent: AgentConfig{
			Epsilon:      1.0,
			EpsilonDecay: 0.99,
			EpsilonFloor: 0.05,
		},
		Memory: MemoryConfig{
			Capacity:       10_000,
			BatchThreshold: 100,
		},
		Estimator: EstimatorConfig{
			Device:         "cpu",
			CheckpointPath: "data/model.bin",
			Resume:         true,
			LearningRate:   0.001,
			Gamma:          0.99,
			TDClip:         1.0,
		},
		Train: TrainConfig{
			Epochs:    10,
			BatchSize: 32,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tickrl",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tickrl",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Mode:     ModeCollect,
		LogLevel: "info",
	}
}

var validModes = map[string]bool{ModeCollect: true, ModeTrain: true, ModeFull: true}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: collect, train, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.Feed.Market == "" {
		add("feed: market must not be empty")
	}
	if mode != ModeTrain {
		if c.Feed.URL == "" {
			add("feed: ws_url must not be empty")
		}
		if c.Feed.ChannelCapacity < 1 {
			add("feed: channel_capacity must be >= 1")
		}
	}

	if c.Market.TickCapacity < 2 {
		add("market: tick_capacity must be >= 2, got %d", c.Market.TickCapacity)
	}
	if c.Market.BookCapacity < 1 {
		add("market: book_capacity must be >= 1, got %d", c.Market.BookCapacity)
	}
	if c.Market.PollTimeout.Duration <= 0 {
		add("market: poll_timeout must be > 0")
	}

	if c.Agent.Epsilon < 0 || c.Agent.Epsilon > 1 {
		add("agent: epsilon must be in [0, 1], got %g", c.Agent.Epsilon)
	}
	if c.Agent.EpsilonDecay <= 0 || c.Agent.EpsilonDecay > 1 {
		add("agent: epsilon_decay must be in (0, 1], got %g", c.Agent.EpsilonDecay)
	}
	if c.Agent.EpsilonFloor < 0 || c.Agent.EpsilonFloor > c.Agent.Epsilon {
		add("agent: epsilon_floor must be in [0, epsilon], got %g", c.Agent.EpsilonFloor)
	}

	if c.Memory.Capacity < 1 {
		add("memory: capacity must be >= 1")
	}
	if c.Memory.BatchThreshold < 1 {
		add("memory: batch_threshold must be >= 1")
	}

	if !strings.EqualFold(c.Estimator.Device, "cpu") {
		add("estimator: device %q is not supported (valid: cpu)", c.Estimator.Device)
	}
	if c.Estimator.LearningRate <= 0 {
		add("estimator: learning_rate must be > 0")
	}
	if c.Estimator.Gamma < 0 || c.Estimator.Gamma > 1 {
		add("estimator: gamma must be in [0, 1]")
	}

	if c.Train.Epochs < 1 {
		add("train: epochs must be >= 1")
	}
	if c.Train.BatchSize < 1 {
		add("train: batch_size must be >= 1")
	}
	if c.Train.BatchSize > c.Memory.Capacity {
		add("train: batch_size %d exceeds memory capacity %d", c.Train.BatchSize, c.Memory.Capacity)
	}
	if mode == ModeTrain && !c.S3.Enabled && !c.Postgres.Enabled {
		add("train: mode train reads the archive and requires s3.enabled or postgres.enabled")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
