package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"mentorlive/internal/ws"
)

func newMonitoredPair(t *testing.T) (*ws.Connection, *websocket.Conn) {
	t.Helper()

	serverConnCh := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConnCh <- raw
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	raw := <-serverConnCh
	conn := ws.NewConnection(raw, "u1", "User One", "s1", 8, time.Second)
	t.Cleanup(func() { conn.Close() })
	return conn, client
}

func TestMonitorPingsOnInterval(t *testing.T) {
	conn, client := newMonitoredPair(t)

	var pings int32
	client.SetPingHandler(func(string) error {
		atomic.AddInt32(&pings, 1)
		return nil
	})
	go func() {
		// Pings are surfaced by the read pump.
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		NewMonitor(conn, 20*time.Millisecond, time.Second).Run()
		close(done)
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&pings) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after connection close")
	}
}

func TestMonitorStopsWhenConnectionCloses(t *testing.T) {
	conn, _ := newMonitoredPair(t)

	done := make(chan struct{})
	go func() {
		NewMonitor(conn, 10*time.Millisecond, 50*time.Millisecond).Run()
		close(done)
	}()

	conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not observe closed connection")
	}
}
