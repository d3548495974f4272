package adapter

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ionbridge/pkg/hl7"
)

func TestSettings_TypedAccessorsWithFallback(t *testing.T) {
	s := Settings{
		"Host":      "10.0.0.1",
		"Port":      float64(2575),
		"Timeout":   "5s",
		"Enabled":   true,
		"SomeInt":   42,
		"SomeInt64": int64(99),
	}

	assert.Equal(t, "10.0.0.1", s.String("Host", "x"))
	assert.Equal(t, "x", s.String("Missing", "x"))
	assert.Equal(t, 2575, s.Int("Port", 0))
	assert.Equal(t, 42, s.Int("SomeInt", 0))
	assert.Equal(t, 99, s.Int("SomeInt64", 0))
	assert.Equal(t, 5*time.Second, s.Duration("Timeout", 0))
	assert.Equal(t, time.Second, s.Duration("Missing", time.Second))
	assert.True(t, s.Bool("Enabled", false))
	assert.False(t, s.Bool("Missing", false))
}

func TestSettings_CaseInsensitiveLookup(t *testing.T) {
	s := Settings{"FilePath": "/tmp/in"}
	assert.Equal(t, "/tmp/in", s.String("filepath", ""))
	assert.Equal(t, "/tmp/in", s.String("FILEPATH", ""))
}

func TestMLLPInbound_RoundTrip(t *testing.T) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		return append([]byte("ACK:"), payload...), nil
	}
	a := NewMLLPInbound(Settings{"Host": "127.0.0.1", "Port": 0}, handler)

	err := a.Start(context.Background())
	require.NoError(t, err)
	defer a.Stop(context.Background())

	addr := a.listener.Addr().String()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(hl7.Wrap([]byte(`MSH|^~\&|`)))
	require.NoError(t, err)

	reply, err := hl7.ReadFrame(bufio.NewReader(conn))
	require.NoError(t, err)
	assert.Equal(t, `ACK:MSH|^~\&|`, string(reply))

	assert.Eventually(t, func() bool {
		return a.Snapshot().BytesReceived > 0
	}, time.Second, 10*time.Millisecond)
}

func TestMLLPInbound_RejectsBeyondMaxConnections(t *testing.T) {
	block := make(chan struct{})
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		<-block
		return payload, nil
	}
	a := NewMLLPInbound(Settings{"Host": "127.0.0.1", "Port": 0, "MaxConnections": 1}, handler)
	require.NoError(t, a.Start(context.Background()))
	defer func() { close(block); a.Stop(context.Background()) }()

	addr := a.listener.Addr().String()
	conn1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn1.Close()
	_, err = conn1.Write(hl7.Wrap([]byte("hold")))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return a.Snapshot().ConnectionsActive == 1
	}, time.Second, 10*time.Millisecond)

	conn2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn2.Close()

	buf := make([]byte, 1)
	conn2.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn2.Read(buf)
	assert.Error(t, err) // refused connection is closed immediately
}
