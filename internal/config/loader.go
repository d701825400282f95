package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TICKRL_"

// Load lays the TOML file at path over Defaults, then applies .env and
// TICKRL_* overrides. An empty path skips the file. The result is not
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Feed.URL, "FEED_WS_URL")
	setStr(&cfg.Feed.Market, "FEED_MARKET")
	setInt(&cfg.Feed.ChannelCapacity, "FEED_CHANNEL_CAPACITY")
	setDuration(&cfg.Feed.ReconnectDelay, "FEED_RECONNECT_DELAY")
	setDuration(&cfg.Feed.HandshakeTimeout, "FEED_HANDSHAKE_TIMEOUT")

	setInt(&cfg.Market.TickCapacity, "MARKET_TICK_CAPACITY")
	setInt(&cfg.Market.BookCapacity, "MARKET_BOOK_CAPACITY")
	setDuration(&cfg.Market.PollTimeout, "MARKET_POLL_TIMEOUT")

	setFloat64(&cfg.Agent.Epsilon, "AGENT_EPSILON")
	setFloat64(&cfg.Agent.EpsilonDecay, "AGENT_EPSILON_DECAY")
	setFloat64(&cfg.Agent.EpsilonFloor, "AGENT_EPSILON_FLOOR")
	setInt64(&cfg.Agent.Seed, "AGENT_SEED")

	setInt(&cfg.Memory.Capacity, "MEMORY_CAPACITY")
	setInt(&cfg.Memory.BatchThreshold, "MEMORY_BATCH_THRESHOLD")

	setStr(&cfg.Estimator.Device, "ESTIMATOR_DEVICE")
	setStr(&cfg.Estimator.CheckpointPath, "ESTIMATOR_CHECKPOINT_PATH")
	setBool(&cfg.Estimator.Resume, "ESTIMATOR_RESUME")
	setFloat64(&cfg.Estimator.LearningRate, "ESTIMATOR_LEARNING_RATE")
	setFloat64(&cfg.Estimator.Gamma, "ESTIMATOR_GAMMA")
	setFloat64(&cfg.Estimator.TDClip, "ESTIMATOR_TD_CLIP")
	setInt64(&cfg.Estimator.Seed, "ESTIMATOR_SEED")

	setInt(&cfg.Train.Epochs, "TRAIN_EPOCHS")
	setInt(&cfg.Train.BatchSize, "TRAIN_BATCH_SIZE")
	setBool(&cfg.Train.OnFlush, "TRAIN_ON_FLUSH")
	setStr(&cfg.Train.ArchivePrefix, "TRAIN_ARCHIVE_PREFIX")

	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")
	setBool(&cfg.Postgres.PreferIPv4, "POSTGRES_PREFER_IPV4")

	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.BookTTL, "REDIS_BOOK_TTL")

	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")

	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "NOTIFY_DISCORD_WEBHOOK")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// Each setter changes dst only when the variable is set, non-empty and
// parses.

func lookup(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
