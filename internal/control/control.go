// Package control implements the command control plane: subscribing
// to the five inbound command topics and forwarding each message onto
// the passing engine's single input queue as a typed ingest.Event.
package control

import (
	"fmt"

	"github.com/mjolnir42/velotrain/internal/ingest"
	"github.com/mjolnir42/velotrain/internal/pubsub"
)

// topics is the fixed set of command suffixes the Control Plane
// subscribes under baseTopic.
var topics = []string{"marker", "request", "reset", "resetunit", "timer"}

// Plane owns the five command-topic subscriptions.
type Plane struct {
	sub   pubsub.Subscriber
	base  string
	input chan<- ingest.Event
}

// New constructs a Plane that will forward inbound commands onto input.
func New(sub pubsub.Subscriber, baseTopic string, input chan<- ingest.Event) *Plane {
	return &Plane{sub: sub, base: baseTopic, input: input}
}

// Start subscribes to every command topic. Subscriptions are independent:
// a failure on one does not prevent attempting the rest, but the first
// error is returned after all have been attempted.
func (p *Plane) Start() error {
	var firstErr error
	for _, t := range topics {
		topic := p.base + "/" + t
		if err := p.sub.Subscribe(topic, p.forward); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("control: subscribe %s: %w", topic, err)
			}
		}
	}
	return firstErr
}

// forward wraps one inbound command message as an ingest.Event and
// hands it to the engine's input queue.
func (p *Plane) forward(topic string, payload []byte) {
	p.input <- ingest.Event{Kind: ingest.Command, CommandTopic: topic, CommandMsg: payload}
}
