package diag

import (
	"log/slog"
	"time"

	mqtt_paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

const publishTimeout = 5 * time.Second

// MQTTSink publishes every diagnostic as a CBOR encoded Message.
type MQTTSink struct {
	addr       string
	topic      string
	mqttClient mqtt_paho.Client
}

func NewMQTTSink(addr string, topic string) *MQTTSink {
	return &MQTTSink{
		addr:  addr,
		topic: topic,
	}
}

func (m *MQTTSink) Connect(clientID string) error {
	m.mqttClient = mqtt_paho.NewClient(
		mqtt_paho.NewClientOptions().
			AddBroker(m.addr).
			SetClientID(clientID).
			SetConnectTimeout(publishTimeout),
	)

	if token := m.mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "connecting to %s", m.addr)
	}
	return nil
}

func (m *MQTTSink) Emit(message string, received bool, timestamp bool) {
	if m.mqttClient == nil {
		return
	}

	payload, err := cbor.Marshal(Message{
		Text:      message,
		Received:  received,
		Timestamp: timestamp,
	})
	if err != nil {
		slog.Warn("Failed to encode diagnostic", "err", err)
		return
	}

	token := m.mqttClient.Publish(m.topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		slog.Warn("Timed out publishing diagnostic", "topic", m.topic)
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("Error publishing diagnostic", "topic", m.topic, "err", err)
	}
}

func (m *MQTTSink) Close() {
	if m.mqttClient != nil {
		m.mqttClient.Disconnect(250)
	}
}
