package dhi

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjolnir42/velotrain/internal/metrics"
)

func TestFrameLayout(t *testing.T) {
	b := frame("DC", "24.5")
	require.Len(t, b, 8)
	assert.Equal(t, byte(stx), b[0])
	assert.Equal(t, "DC24.5", string(b[1:7]))
	assert.Equal(t, byte(etx), b[7])
}

func TestPushEnvSendsThreeFrames(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(time.Second))
		buf := make([]byte, 256)
		n := 0
		for {
			m, err := conn.Read(buf[n:])
			n += m
			if err != nil {
				break
			}
		}
		got <- buf[:n]
	}()

	c := New(ln.Addr().String(), "utf-8", metrics.New())
	c.PushEnv(24.5, 61.25, 1013.5)

	select {
	case msg := <-got:
		want := append(append(
			frame("DC", "24.5"),
			frame("RH", "61")...),
			frame("BP", "1014")...)
		assert.Equal(t, want, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scoreboard payload")
	}
}

func TestPushEnvSurvivesDownScoreboard(t *testing.T) {
	c := New("127.0.0.1:1", "utf-8", metrics.New())
	c.PushEnv(20, 50, 1000)
}

func TestPushEnvNoAddrIsNoop(t *testing.T) {
	c := New("", "utf-8", metrics.New())
	c.PushEnv(20, 50, 1000)
}
