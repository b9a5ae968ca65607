package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"fincontrol/pkg/uds"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayPublishesInboundFrames(t *testing.T) {
	b := New(Option{QueueCapacity: 16})
	defer b.Close()

	socketPath := filepath.Join(t.TempDir(), "bus.sock")
	g, err := NewGateway(b, socketPath, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	received := make(chan Message, 1)
	require.NoError(t, b.Subscribe(ctx, TypeEmergencyStop, "t", func(_ context.Context, m Message) {
		received <- m
	}))

	conn := dialGateway(t, socketPath)
	defer conn.Close()

	m, err := NewMessage(TypeEmergencyStop, "master-control", EmergencyCommand{
		Action:      "stop",
		Scope:       "system",
		Reason:      "drawdown breach",
		InitiatedBy: "ops",
	})
	require.NoError(t, err)
	frame, err := json.Marshal(m)
	require.NoError(t, err)
	frame = append(frame, '\n')
	_, err = conn.Write(frame)
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, m.ID, got.ID)
		assert.Equal(t, "master-control", got.Source)
	case <-time.After(3 * time.Second):
		t.Fatal("inbound frame never reached the bus")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}

func TestGatewayForwardsAndSkipsOriginator(t *testing.T) {
	b := New(Option{QueueCapacity: 16})
	defer b.Close()

	socketPath := filepath.Join(t.TempDir(), "bus.sock")
	g, err := NewGateway(b, socketPath, []MessageType{TypeSystemStatus})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	sender := dialGateway(t, socketPath)
	defer sender.Close()
	listener := dialGateway(t, socketPath)
	defer listener.Close()

	// Give the accept loop a moment to register both connections before the
	// first broadcast.
	time.Sleep(200 * time.Millisecond)

	// The sender identifies itself with one frame; the gateway learns its
	// source from it and skips it on fan-out.
	hello, err := NewMessage(TypeSystemStatus, "trading-engine", Heartbeat{SubType: SubTypeHeartbeat, ModuleName: "trading-engine"})
	require.NoError(t, err)
	writeFrame(t, sender, hello)

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(3*time.Second)))
	reader := bufio.NewReader(listener)
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal(line, &got))
	assert.Equal(t, hello.ID, got.ID)
	assert.Equal(t, "trading-engine", got.Source)

	// The sender must never receive its own frames back.
	second, err := NewMessage(TypeSystemStatus, "trading-engine", Heartbeat{SubType: SubTypeHeartbeat, ModuleName: "trading-engine"})
	require.NoError(t, err)
	writeFrame(t, sender, second)

	line, err = reader.ReadBytes('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(line, &got))
	assert.Equal(t, second.ID, got.ID)

	require.NoError(t, sender.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	buf := make([]byte, 1)
	_, err = sender.Read(buf)
	assert.Error(t, err, "originator should not see its own frames")

	cancel()
	<-done
}

func dialGateway(t *testing.T, path string) *net.UnixConn {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn, err := uds.Dial(path)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial gateway: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func writeFrame(t *testing.T, conn *net.UnixConn, m Message) {
	t.Helper()
	frame, err := json.Marshal(m)
	require.NoError(t, err)
	frame = append(frame, '\n')
	_, err = conn.Write(frame)
	require.NoError(t, err)
}
