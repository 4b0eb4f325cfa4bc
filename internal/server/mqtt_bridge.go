package server

import (
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const DefaultMQTTTopic = "glucose/+/reading"

type MQTTBridgeOptions struct {
	BrokerURL string
	ClientID  string
	Topic     string
}

// MQTTBridge feeds samples published on an MQTT topic into the ingestor, for
// devices that speak MQTT instead of holding a socket to this server.
type MQTTBridge struct {
	client   mqtt.Client
	ingestor *Ingestor
	topic    string
}

func NewMQTTBridge(options MQTTBridgeOptions, ingestor *Ingestor) (*MQTTBridge, error) {
	brokerURL := strings.TrimSpace(options.BrokerURL)
	if brokerURL == "" {
		return nil, fmt.Errorf("mqtt bridge requires a broker url")
	}
	topic := strings.TrimSpace(options.Topic)
	if topic == "" {
		topic = DefaultMQTTTopic
	}
	clientID := strings.TrimSpace(options.ClientID)
	if clientID == "" {
		clientID = fmt.Sprintf("glucose-monitor-%d", time.Now().UnixNano())
	}

	bridge := &MQTTBridge{ingestor: ingestor, topic: topic}

	clientOptions := mqtt.NewClientOptions()
	clientOptions.AddBroker(brokerURL)
	clientOptions.SetClientID(clientID)
	clientOptions.SetConnectRetry(true)
	clientOptions.SetConnectRetryInterval(2 * time.Second)
	clientOptions.SetAutoReconnect(true)
	// Subscriptions do not survive a clean-session reconnect, so subscribe on
	// every (re)connect.
	clientOptions.SetOnConnectHandler(func(client mqtt.Client) {
		token := client.Subscribe(bridge.topic, 0, bridge.handleMessage)
		if token.Wait() && token.Error() != nil {
			log.Printf("mqtt subscribe failed topic=%s: %v", bridge.topic, token.Error())
			return
		}
		log.Printf("mqtt bridge subscribed topic=%s", bridge.topic)
	})
	clientOptions.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqtt connection lost: %v", err)
	})

	bridge.client = mqtt.NewClient(clientOptions)
	return bridge, nil
}

func (bridge *MQTTBridge) Start() error {
	token := bridge.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect mqtt broker: %w", token.Error())
	}
	return nil
}

func (bridge *MQTTBridge) handleMessage(_ mqtt.Client, message mqtt.Message) {
	sample, err := DecodeSample(message.Payload())
	if err != nil {
		bridge.ingestor.reject(fmt.Errorf("topic %s: %w", message.Topic(), err))
		return
	}
	if sample.DeviceID == "" {
		sample.DeviceID = deviceFromTopic(message.Topic())
	}
	bridge.ingestor.Accept(sample)
}

// deviceFromTopic returns the second topic level, e.g. "esp32" in
// "glucose/esp32/reading".
func deviceFromTopic(topic string) string {
	levels := strings.Split(topic, "/")
	if len(levels) < 3 {
		return ""
	}
	return levels[1]
}

func (bridge *MQTTBridge) Close() {
	bridge.client.Disconnect(250)
}
