package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fakeEnv(values map[string]string) func(string) string {
	return func(key string) string {
		return values[key]
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("", fakeEnv(nil))
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	if cfg.Port != "5000" {
		t.Fatalf("expected default port 5000, got %q", cfg.Port)
	}
	if cfg.SubscriberBuffer != 64 {
		t.Fatalf("expected default subscriber buffer 64, got %d", cfg.SubscriberBuffer)
	}
	if cfg.MQTT.Broker != "" || cfg.Archive.DatabaseURL != "" {
		t.Fatalf("expected optional integrations to be disabled by default")
	}
}

func TestLoadFileThenEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glucose.toml")
	contents := `
port = "6000"
subscriber_buffer = 16
ingest_rate_window = "30s"

[archive]
kafka_brokers = ["kafka-1:9092", "kafka-2:9092"]
kafka_topic = "from-file"

[mqtt]
broker = "tcp://file-broker:1883"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := load(path, fakeEnv(map[string]string{
		"PORT":        "7000",
		"KAFKA_TOPIC": "from-env",
		"MQTT_TOPIC":  "clinic/+/reading",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != "7000" {
		t.Fatalf("expected env port 7000, got %q", cfg.Port)
	}
	if cfg.SubscriberBuffer != 16 {
		t.Fatalf("expected file subscriber buffer 16, got %d", cfg.SubscriberBuffer)
	}
	if cfg.IngestRateWindow != 30*time.Second {
		t.Fatalf("expected file rate window 30s, got %s", cfg.IngestRateWindow)
	}
	if len(cfg.Archive.KafkaBrokers) != 2 {
		t.Fatalf("expected two kafka brokers from file, got %v", cfg.Archive.KafkaBrokers)
	}
	if cfg.Archive.KafkaTopic != "from-env" {
		t.Fatalf("expected env kafka topic, got %q", cfg.Archive.KafkaTopic)
	}
	if cfg.MQTT.Broker != "tcp://file-broker:1883" {
		t.Fatalf("expected file mqtt broker, got %q", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Topic != "clinic/+/reading" {
		t.Fatalf("expected env mqtt topic, got %q", cfg.MQTT.Topic)
	}
}

func TestLoadIgnoresUnparsableNumericEnvironment(t *testing.T) {
	cfg, err := load("", fakeEnv(map[string]string{"SUBSCRIBER_BUFFER": "lots"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SubscriberBuffer != 64 {
		t.Fatalf("expected fallback subscriber buffer 64, got %d", cfg.SubscriberBuffer)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	if _, err := load("", fakeEnv(map[string]string{"PORT": "99999"})); err == nil {
		t.Fatalf("expected invalid port to fail validation")
	}
}

func TestLoadReportsMissingFile(t *testing.T) {
	if _, err := load(filepath.Join(t.TempDir(), "missing.toml"), fakeEnv(nil)); err == nil {
		t.Fatalf("expected missing config file to fail")
	}
}
