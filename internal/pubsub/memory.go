package pubsub

import "sync"

// Memory is an in-process Publisher/Subscriber fake for tests: it
// records every publish and invokes any handler subscribed to the
// exact topic, synchronously.
type Memory struct {
	mu        sync.Mutex
	Published []MemoryMessage
	handlers  map[string][]Handler
}

// MemoryMessage is one recorded publish.
type MemoryMessage struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// NewMemory constructs an empty Memory fake.
func NewMemory() *Memory {
	return &Memory{handlers: map[string][]Handler{}}
}

// Publish implements Publisher.
func (m *Memory) Publish(topic string, payload []byte, retain bool) error {
	m.mu.Lock()
	m.Published = append(m.Published, MemoryMessage{Topic: topic, Payload: payload, Retain: retain})
	hs := append([]Handler{}, m.handlers[topic]...)
	m.mu.Unlock()

	for _, h := range hs {
		h(topic, payload)
	}
	return nil
}

// Subscribe implements Subscriber.
func (m *Memory) Subscribe(topic string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = append(m.handlers[topic], h)
	return nil
}

// Deliver synthesises an inbound message on topic without it having
// been published, useful for driving Control Plane tests directly.
func (m *Memory) Deliver(topic string, payload []byte) {
	m.mu.Lock()
	hs := append([]Handler{}, m.handlers[topic]...)
	m.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
}
