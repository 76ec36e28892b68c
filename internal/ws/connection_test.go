package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newTestPair returns a Connection wrapping the server side of a live
// socket, and the client side for observing what the wrapper sends.
func newTestPair(t *testing.T, userID, sessionID string, queueSize int) (*Connection, *websocket.Conn) {
	t.Helper()

	serverConnCh := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	raw := <-serverConnCh
	conn := NewConnection(raw, userID, userID, sessionID, queueSize, time.Second)
	t.Cleanup(func() { conn.Close() })

	return conn, client
}

func readJSON(t *testing.T, client *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestConnectionIdentity(t *testing.T) {
	conn, _ := newTestPair(t, "u1", "s1", 8)

	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, "u1", conn.UserID())
	assert.Equal(t, "s1", conn.SessionID())
	assert.False(t, conn.AttachedAt().IsZero())

	other, _ := newTestPair(t, "u1", "s1", 8)
	assert.NotEqual(t, conn.ID(), other.ID(), "each attach gets a fresh connection id")
}

func TestSendDeliversInOrder(t *testing.T) {
	conn, client := newTestPair(t, "u1", "s1", 16)

	for i := 0; i < 5; i++ {
		require.NoError(t, conn.Send(map[string]interface{}{"seq": i}))
	}

	for i := 0; i < 5; i++ {
		var got map[string]interface{}
		readJSON(t, client, &got)
		assert.Equal(t, float64(i), got["seq"], "per-recipient delivery preserves emission order")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	conn, _ := newTestPair(t, "u1", "s1", 8)

	require.NoError(t, conn.Close())
	assert.Equal(t, ErrConnectionClosed, conn.Send(map[string]interface{}{"x": 1}))
}

func TestSendQueueFullNeverBlocks(t *testing.T) {
	// A wrapper with no writer goroutine and no buffer: the enqueue must
	// fail immediately instead of blocking the caller.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &Connection{
		id:      "test",
		writeCh: make(chan []byte),
		ctx:     ctx,
		cancel:  cancel,
	}

	done := make(chan error, 1)
	go func() { done <- conn.Send(map[string]interface{}{"x": 1}) }()

	select {
	case err := <-done:
		assert.Equal(t, ErrSendQueueFull, err)
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full queue")
	}
}

func TestCloseWithCodeReachesPeer(t *testing.T) {
	conn, client := newTestPair(t, "u1", "s1", 8)

	require.NoError(t, conn.CloseWithCode(4403, "Forbidden"))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	assert.Equal(t, 4403, closeErr.Code)
	assert.Equal(t, "Forbidden", closeErr.Text)
}

func TestCloseIsIdempotent(t *testing.T) {
	conn, _ := newTestPair(t, "u1", "s1", 8)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	select {
	case <-conn.Done():
	default:
		t.Error("Done should be closed after Close")
	}
}
