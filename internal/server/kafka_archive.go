package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// KafkaArchive exports accepted readings as JSON messages on one topic.
type KafkaArchive struct {
	writer  messageWriter
	brokers []string
	topic   string
}

func NewKafkaArchive(brokers []string, topic string) (*KafkaArchive, error) {
	cleaned := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			cleaned = append(cleaned, broker)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("kafka archive requires at least one broker")
	}

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("kafka archive requires a topic")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cleaned...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	return &KafkaArchive{writer: writer, brokers: cleaned, topic: topic}, nil
}

func (archive *KafkaArchive) Name() string {
	return "kafka"
}

func (archive *KafkaArchive) Write(ctx context.Context, reading Reading) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(reading.Timestamp.Format(TimestampLayout)),
		Value: payload,
		Time:  reading.Timestamp,
	}
	if err := archive.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Ping dials the first reachable broker.
func (archive *KafkaArchive) Ping(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var lastErr error
	for _, broker := range archive.brokers {
		conn, err := kafka.DialContext(dialCtx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

func (archive *KafkaArchive) Close() {
	_ = archive.writer.Close()
}

var _ ReadingSink = (*KafkaArchive)(nil)
