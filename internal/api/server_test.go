package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorlive/internal/gateway"
	"mentorlive/internal/group"
	"mentorlive/internal/notify"
	"mentorlive/internal/presence"
	"mentorlive/internal/router"
	"mentorlive/internal/store"
	"mentorlive/pkg/types"
)

type apiFixture struct {
	server   *httptest.Server
	store    *store.SQLite
	presence *presence.Store
	notify   *notify.Channel
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"), 4, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	presenceStore := presence.NewStore()
	registry := group.NewRegistry()
	channel := notify.NewChannel()
	signals := router.NewSignalCache(time.Minute)
	t.Cleanup(signals.Stop)
	msgRouter := router.NewRouter(registry, presenceStore, signals)

	gw := gateway.NewHandler(registry, presenceStore, msgRouter, channel, db, gateway.Options{
		SendQueueSize: 32,
		WriteTimeout:  time.Second,
		ReadTimeout:   5 * time.Second,
		PingInterval:  time.Second,
		AuthTimeout:   time.Second,
	})

	apiServer := NewServer(gw, presenceStore, registry, channel, db, db)
	httpServer := httptest.NewServer(apiServer)
	t.Cleanup(httpServer.Close)

	return &apiFixture{
		server:   httpServer,
		store:    db,
		presence: presenceStore,
		notify:   channel,
	}
}

func (f *apiFixture) postJSON(t *testing.T, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (f *apiFixture) getJSON(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.getJSON(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPresenceEndpointReflectsStore(t *testing.T) {
	f := newAPIFixture(t)
	f.presence.Join("s1", "mentor-1", "Mentor One", true)
	f.presence.Join("s1", "learner-1", "Learner One", false)
	f.presence.MarkLeft("s1", "learner-1")

	resp, body := f.getJSON(t, "/api/sessions/s1/presence")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "s1", body["session_id"])
	assert.Equal(t, float64(1), body["active_count"])

	participants, ok := body["participants"].([]interface{})
	require.True(t, ok)
	assert.Len(t, participants, 2)
}

func TestSessionStatusTransition(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.InsertSession(context.Background(), &types.Session{
		ID:          "s1",
		MentorID:    "mentor-1",
		Title:       "System design review",
		Status:      types.SessionScheduled,
		ScheduledAt: time.Now(),
	}))

	resp, body := f.postJSON(t, "/api/sessions/s1/status", `{"status":"live"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "live", body["status"])

	status, err := f.store.SessionStatus(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionLive, status)
}

func TestSessionStatusRejectsUnknownValue(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.postJSON(t, "/api/sessions/s1/status", `{"status":"paused"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "invalid session status")
}

func TestSessionStatusUnknownSession(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.postJSON(t, "/api/sessions/missing/status", `{"status":"live"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionStatusBroadcastsToAttachedClients(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.InsertSession(context.Background(), &types.Session{
		ID:          "s1",
		MentorID:    "mentor-1",
		Title:       "Mock interview",
		Status:      types.SessionScheduled,
		ScheduledAt: time.Now(),
	}))

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/sessions/s1?user_id=mentor-1"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	// Drain the join snapshot before the transition fires.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = client.ReadMessage()
	require.NoError(t, err)

	resp, body := f.postJSON(t, "/api/sessions/s1/status", `{"status":"live"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["notified"])

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	var env types.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, types.MessageTypeSessionStatus, env.Type)
	assert.Equal(t, "live", env.Content["status"])
}

func TestNotifyPersistsAndCountsDelivery(t *testing.T) {
	f := newAPIFixture(t)

	// No subscriber yet: accepted, recorded, delivered to nobody.
	resp, body := f.postJSON(t, "/api/notify", `{"user_id":"u1","type":"booking_confirmed","payload":{"session_id":"s1"}}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, float64(0), body["delivered"])
	assert.NotEmpty(t, body["id"])

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/notifications?user_id=u1"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.Eventually(t, func() bool {
		return f.notify.SubscriberCount("u1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, body = f.postJSON(t, "/api/notify", `{"user_id":"u1","type":"mentor_ready"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, float64(1), body["delivered"])

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	var env types.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, types.MessageTypeNotification, env.Type)
	assert.Equal(t, "mentor_ready", env.Content["event"])
}

func TestNotifyValidation(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.postJSON(t, "/api/notify", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.postJSON(t, "/api/notify", `{"user_id":"","type":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.postJSON(t, "/api/notify", `{"user_id":"u1","type":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
