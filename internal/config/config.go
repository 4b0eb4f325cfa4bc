// Package config loads server settings from defaults, an optional TOML file and
// the environment, in that order of precedence (environment wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const FileEnv = "GLUCOSE_CONFIG"

type Config struct {
	Port             string        `toml:"port"`
	CORSAllowOrigin  string        `toml:"cors_allow_origin"`
	SubscriberBuffer int           `toml:"subscriber_buffer"`
	TrustProxy       bool          `toml:"trust_proxy_headers"`
	IngestRateLimit  int           `toml:"ingest_rate_limit"`
	IngestRateWindow time.Duration `toml:"ingest_rate_window"`
	PublicIPLookup   bool          `toml:"public_ip_lookup"`

	Archive ArchiveConfig `toml:"archive"`
	MQTT    MQTTConfig    `toml:"mqtt"`
}

type ArchiveConfig struct {
	DatabaseURL  string   `toml:"database_url"`
	PGMaxConns   int      `toml:"pg_max_conns"`
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
	QueueSize    int      `toml:"queue_size"`
}

type MQTTConfig struct {
	Broker   string `toml:"broker"`
	Topic    string `toml:"topic"`
	ClientID string `toml:"client_id"`
}

func Default() Config {
	return Config{
		Port:             "5000",
		CORSAllowOrigin:  "*",
		SubscriberBuffer: 64,
		IngestRateLimit:  120,
		IngestRateWindow: time.Minute,
		PublicIPLookup:   true,
		Archive: ArchiveConfig{
			PGMaxConns: 4,
			KafkaTopic: "glucose.readings",
			QueueSize:  1024,
		},
		MQTT: MQTTConfig{
			Topic: "glucose/+/reading",
		},
	}
}

// Load reads the file named by GLUCOSE_CONFIG when set, then applies
// environment overrides.
func Load() (Config, error) {
	return load(os.Getenv(FileEnv), os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	env := environment{getenv: getenv}
	cfg.Port = env.stringOr("PORT", cfg.Port)
	cfg.CORSAllowOrigin = env.stringOr("CORS_ALLOW_ORIGIN", cfg.CORSAllowOrigin)
	cfg.SubscriberBuffer = env.intOr("SUBSCRIBER_BUFFER", cfg.SubscriberBuffer)
	cfg.TrustProxy = env.boolOr("TRUST_PROXY_HEADERS", cfg.TrustProxy)
	cfg.IngestRateLimit = env.intOr("INGEST_RATE_LIMIT", cfg.IngestRateLimit)
	cfg.IngestRateWindow = env.durationOr("INGEST_RATE_WINDOW", cfg.IngestRateWindow)
	cfg.PublicIPLookup = env.boolOr("PUBLIC_IP_LOOKUP", cfg.PublicIPLookup)

	cfg.Archive.DatabaseURL = env.stringOr("ARCHIVE_DATABASE_URL", cfg.Archive.DatabaseURL)
	cfg.Archive.PGMaxConns = env.intOr("PG_MAX_CONNS", cfg.Archive.PGMaxConns)
	if brokers := env.stringOr("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Archive.KafkaBrokers = strings.Split(brokers, ",")
	}
	cfg.Archive.KafkaTopic = env.stringOr("KAFKA_TOPIC", cfg.Archive.KafkaTopic)
	cfg.Archive.QueueSize = env.intOr("ARCHIVE_QUEUE_SIZE", cfg.Archive.QueueSize)

	cfg.MQTT.Broker = env.stringOr("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.Topic = env.stringOr("MQTT_TOPIC", cfg.MQTT.Topic)
	cfg.MQTT.ClientID = env.stringOr("MQTT_CLIENT_ID", cfg.MQTT.ClientID)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", cfg.Port)
	}
	if cfg.SubscriberBuffer < 1 {
		return fmt.Errorf("subscriber buffer must be >= 1, got %d", cfg.SubscriberBuffer)
	}
	if cfg.IngestRateLimit < 0 {
		return fmt.Errorf("ingest rate limit must be >= 0, got %d", cfg.IngestRateLimit)
	}
	return nil
}

type environment struct {
	getenv func(string) string
}

func (env environment) stringOr(key string, fallback string) string {
	value := strings.TrimSpace(env.getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func (env environment) intOr(key string, fallback int) int {
	value := strings.TrimSpace(env.getenv(key))
	if value == "" {
		return fallback
	}

	parsedValue, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsedValue
}

func (env environment) boolOr(key string, fallback bool) bool {
	value := strings.TrimSpace(env.getenv(key))
	if value == "" {
		return fallback
	}

	parsedValue, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsedValue
}

func (env environment) durationOr(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(env.getenv(key))
	if value == "" {
		return fallback
	}

	parsedValue, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsedValue
}
