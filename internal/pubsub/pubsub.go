// Package pubsub defines the Publisher/Subscriber contract the control
// plane and the passing engine use to talk to the outside world, plus
// an MQTT adapter (github.com/eclipse/paho.mqtt.golang) and an
// in-memory fake for tests.
package pubsub

import (
	"encoding/json"

	"github.com/mjolnir42/velotrain/internal/asyncwait"
)

// Publisher sends payloads to named topics.
type Publisher interface {
	// Publish sends payload to topic. When retain is true the broker
	// keeps the payload as the topic's last-known-good value.
	Publish(topic string, payload []byte, retain bool) error
}

// PublishJSON marshals v and publishes it.
func PublishJSON(p Publisher, topic string, v interface{}, retain bool) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Publish(topic, b, retain)
}

// tracked wraps a Publisher so every Publish call is bracketed by an
// asyncwait.Group, letting a shutdown path drain in-flight MQTT publishes
// (paho's Publish call returns a token before the broker has actually
// acknowledged delivery) instead of closing the connection underneath
// them.
type tracked struct {
	Publisher
	grp *asyncwait.Group
}

// Tracked wraps p so Close-time shutdown can Wait() for every publish
// started before the shutdown signal to finish.
func Tracked(p Publisher, grp *asyncwait.Group) Publisher {
	return &tracked{Publisher: p, grp: grp}
}

func (t *tracked) Publish(topic string, payload []byte, retain bool) error {
	t.grp.Use()
	defer t.grp.Done()
	return t.Publisher.Publish(topic, payload, retain)
}

// Handler processes one inbound message on a subscribed topic.
type Handler func(topic string, payload []byte)

// Subscriber registers handlers for topics.
type Subscriber interface {
	Subscribe(topic string, h Handler) error
}
