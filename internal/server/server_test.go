package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posecast-go/internal/config"
	"posecast-go/internal/registry"
	"posecast-go/internal/types"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHandleConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Devices = []string{"kinect-a"}
	srv := New(cfg, registry.New(0), nil)

	req := httptest.NewRequest("GET", "/config", nil)
	rec := httptest.NewRecorder()
	srv.handleConfig(rec, req)

	require.Equal(t, 200, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "127.0.0.1:61420", payload["listen"])
	assert.Equal(t, float64(100), payload["max_missed_frames"])
	assert.Equal(t, []any{"kinect-a"}, payload["devices"])
}

func TestHandleStatus(t *testing.T) {
	reg := registry.New(0)
	statusFn := func() types.StatusSnapshot {
		return types.StatusSnapshot{
			Type:    "status",
			Devices: []types.DeviceSnapshot{{Index: 0, ID: "kinect-a", Trackers: 2}},
			Metrics: map[string]any{"batches_total": 10},
		}
	}
	srv := New(config.Default(), reg, statusFn)

	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	var got types.StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "status", got.Type)
	assert.Equal(t, 0, got.Clients)
	require.Len(t, got.Devices, 1)
	assert.Equal(t, 2, got.Devices[0].Trackers)
}

func TestWebSocketSubscriberReceivesLines(t *testing.T) {
	reg := registry.New(time.Second)
	ts := httptest.NewServer(New(config.Default(), reg, nil).Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	waitFor(t, func() bool { return reg.Len() == 1 })
	res := reg.SnapshotAndBroadcast([]byte("Kinect 0 0 0 0 1 2 3\n"))
	assert.Equal(t, registry.Result{Delivered: 1}, res)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, "Kinect 0 0 0 0 1 2 3\n", string(msg))

	require.NoError(t, conn.Close())
	waitFor(t, func() bool { return reg.Len() == 0 })
}

func TestTCPListenerRegistersAndDropsSubscribers(t *testing.T) {
	reg := registry.New(time.Second)
	ln, err := Listen("127.0.0.1:0", reg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- ln.Serve(ctx) }()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	waitFor(t, func() bool { return reg.Len() == 1 })

	reg.SnapshotAndBroadcast([]byte("Kinect 1 1 2 3 4 5 6\n"))
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Kinect 1 1 2 3 4 5 6\n", line)

	require.NoError(t, client.Close())
	waitFor(t, func() bool { return reg.Len() == 0 })

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestTCPListenerAcceptsManyClients(t *testing.T) {
	reg := registry.New(time.Second)
	ln, err := Listen("127.0.0.1:0", reg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ln.Serve(ctx) }()

	var clients []net.Conn
	for i := 0; i < 5; i++ {
		c, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		clients = append(clients, c)
	}
	defer func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}()
	waitFor(t, func() bool { return reg.Len() == 5 })

	res := reg.SnapshotAndBroadcast([]byte("Kinect 0 0 0 0 0 0 0\n"))
	assert.Equal(t, 5, res.Delivered)
}
