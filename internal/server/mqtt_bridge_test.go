package server

import (
	"testing"
)

type fakeMQTTMessage struct {
	topic   string
	payload []byte
}

func (message *fakeMQTTMessage) Duplicate() bool   { return false }
func (message *fakeMQTTMessage) Qos() byte         { return 0 }
func (message *fakeMQTTMessage) Retained() bool    { return false }
func (message *fakeMQTTMessage) Topic() string     { return message.topic }
func (message *fakeMQTTMessage) MessageID() uint16 { return 1 }
func (message *fakeMQTTMessage) Payload() []byte   { return message.payload }
func (message *fakeMQTTMessage) Ack()              {}

func TestMQTTBridgeFeedsIngestor(t *testing.T) {
	history := NewHistoryStore()
	hub := NewBroadcastHub(0)
	ingestor := NewIngestor(history, hub, WithClock(fixedClock))

	bridge, err := NewMQTTBridge(MQTTBridgeOptions{BrokerURL: "tcp://localhost:1883"}, ingestor)
	if err != nil {
		t.Fatalf("create bridge: %v", err)
	}
	if bridge.topic != DefaultMQTTTopic {
		t.Fatalf("expected default topic, got %q", bridge.topic)
	}

	subscription := hub.Subscribe()
	defer hub.Unsubscribe(subscription)

	bridge.handleMessage(nil, &fakeMQTTMessage{topic: "glucose/esp32/reading", payload: []byte(`{"glucose":"120.4"}`)})
	bridge.handleMessage(nil, &fakeMQTTMessage{topic: "glucose/esp32/reading", payload: []byte(`{"glucose":"high"}`)})

	if history.Len() != 1 {
		t.Fatalf("expected one accepted reading, got %d", history.Len())
	}
	if received := receive(t, subscription); received.Value != 120.4 {
		t.Fatalf("expected broadcast of 120.4, got %v", received)
	}
	expectNothing(t, subscription)
}

func TestNewMQTTBridgeRequiresBroker(t *testing.T) {
	if _, err := NewMQTTBridge(MQTTBridgeOptions{}, nil); err == nil {
		t.Fatalf("expected missing broker to fail")
	}
}

func TestDeviceFromTopic(t *testing.T) {
	cases := map[string]string{
		"glucose/esp32/reading": "esp32",
		"glucose/reading":       "",
		"":                      "",
	}
	for topic, expected := range cases {
		if got := deviceFromTopic(topic); got != expected {
			t.Fatalf("topic %q: expected %q, got %q", topic, expected, got)
		}
	}
}
