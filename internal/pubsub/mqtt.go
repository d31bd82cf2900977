package pubsub

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MQTT adapts an eclipse/paho.mqtt.golang client to Publisher/Subscriber,
// registering a retained last-will on the status topic so subscribers
// see the engine drop off even on an unclean disconnect.
type MQTT struct {
	client      mqtt.Client
	statusTopic string
}

// The two terminal status payloads are distinct on purpose: the
// last-will fires only when the broker loses the connection uncleanly,
// while the offline payload is published on a deliberate exit, so a
// subscriber can tell a crash from a shutdown.
const (
	willPayload    = `{"info":"error"}`
	offlinePayload = `{"info":"offline"}`
)

// NewMQTT connects to broker (e.g. "tcp://localhost:1883") with the
// given clientID, registering statusTopic as a retained last-will set
// to the error payload.
func NewMQTT(broker, clientID, statusTopic string) (*MQTT, error) {
	c := mqtt.NewClient(clientOptions(broker, clientID, statusTopic))
	if tok := c.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("pubsub: mqtt connect: %w", tok.Error())
	}
	return &MQTT{client: c, statusTopic: statusTopic}, nil
}

func clientOptions(broker, clientID, statusTopic string) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second).
		SetWill(statusTopic, willPayload, 1, true)
}

// Publish implements Publisher.
func (m *MQTT) Publish(topic string, payload []byte, retain bool) error {
	tok := m.client.Publish(topic, 1, retain, payload)
	tok.Wait()
	return tok.Error()
}

// Subscribe implements Subscriber.
func (m *MQTT) Subscribe(topic string, h Handler) error {
	tok := m.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				logrus.Errorf("pubsub: recovered panic handling %s: %v", msg.Topic(), r)
			}
		}()
		h(msg.Topic(), msg.Payload())
	})
	tok.Wait()
	return tok.Error()
}

// Close publishes the offline status and disconnects cleanly, so the
// retained last-will error payload never fires.
func (m *MQTT) Close() {
	_ = m.Publish(m.statusTopic, []byte(offlinePayload), true)
	m.client.Disconnect(250)
}
