package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjolnir42/velotrain/internal/ingest"
	"github.com/mjolnir42/velotrain/internal/pubsub"
)

func TestStartForwardsEveryCommandTopic(t *testing.T) {
	m := pubsub.NewMemory()
	input := make(chan ingest.Event, 8)
	p := New(m, "velotrain", input)
	require.NoError(t, p.Start())

	for _, suffix := range []string{"marker", "request", "reset", "resetunit", "timer"} {
		m.Deliver("velotrain/"+suffix, []byte("payload-"+suffix))
	}

	require.Len(t, input, 5)
	ev := <-input
	assert.Equal(t, ingest.Command, ev.Kind)
	assert.Equal(t, "velotrain/marker", ev.CommandTopic)
	assert.Equal(t, []byte("payload-marker"), ev.CommandMsg)
}

func TestStartIgnoresUnrelatedTopics(t *testing.T) {
	m := pubsub.NewMemory()
	input := make(chan ingest.Event, 8)
	p := New(m, "velotrain", input)
	require.NoError(t, p.Start())

	m.Deliver("velotrain/passing", []byte("x"))
	m.Deliver("other/marker", []byte("x"))
	assert.Empty(t, input)
}
