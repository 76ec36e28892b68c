package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"mentorlive/internal/group"
	"mentorlive/internal/metrics"
	"mentorlive/internal/notify"
	"mentorlive/internal/presence"
	"mentorlive/internal/router"
	"mentorlive/internal/ws"
	"mentorlive/pkg/interfaces"
	"mentorlive/pkg/types"
)

// Options bound the per-connection resources the gateway hands out.
type Options struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	ReadTimeout   time.Duration
	PingInterval  time.Duration
	AuthTimeout   time.Duration
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy belongs to the fronting proxy; the gateway
		// closes unauthorized identities with its own codes.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler accepts inbound connections, authorizes them against the
// booking store, wires them into the group registry and presence store,
// and tears all of that down on disconnect. It owns each Connection for
// its lifetime.
type Handler struct {
	registry *group.Registry
	presence *presence.Store
	router   *router.Router
	notify   *notify.Channel
	store    interfaces.BookingStore
	opts     Options
}

// NewHandler wires the gateway against its collaborators.
func NewHandler(registry *group.Registry, store *presence.Store, msgRouter *router.Router,
	channel *notify.Channel, bookings interfaces.BookingStore, opts Options) *Handler {
	return &Handler{
		registry: registry,
		presence: store,
		router:   msgRouter,
		notify:   channel,
		store:    bookings,
		opts:     opts,
	}
}

// HandleSession is the session channel entry point. The socket is
// upgraded before authorization so failures close with distinguishable
// wire codes instead of opaque HTTP errors.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	userID := r.URL.Query().Get("user_id")

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	if !types.IsValidUserID(userID) {
		metrics.ConnectionsTotal.WithLabelValues("unauthorized").Inc()
		closeRaw(raw, types.CloseUnauthorized, h.opts.WriteTimeout)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.AuthTimeout)
	isMentor, code := h.authorize(ctx, userID, sessionID)
	cancel()
	if code != 0 {
		switch code {
		case types.CloseSessionNotFound:
			metrics.ConnectionsTotal.WithLabelValues("not_found").Inc()
		default:
			metrics.ConnectionsTotal.WithLabelValues("forbidden").Inc()
		}
		closeRaw(raw, code, h.opts.WriteTimeout)
		return
	}

	username := h.displayName(r.Context(), userID)
	conn := ws.NewConnection(raw, userID, username, sessionID, h.opts.SendQueueSize, h.opts.WriteTimeout)

	// Attach and join together from the caller's point of view: nothing
	// is broadcast until both have happened.
	h.registry.Attach(sessionID, conn)
	participant := h.presence.Join(sessionID, userID, username, isMentor)
	metrics.ConnectionsTotal.WithLabelValues("joined").Inc()
	metrics.ActiveConnections.WithLabelValues("session").Inc()
	log.Printf("Connection joined: conn=%s user=%s session=%s mentor=%v reconnects=%d",
		conn.ID(), userID, sessionID, isMentor, participant.ReconnectCount)

	h.sendSnapshot(conn, participant)

	joined := types.NewEnvelope(types.MessageTypeParticipantJoined, map[string]interface{}{
		"participant": participant,
	})
	joined.FromUser = userID
	joined.Username = username
	h.registry.Broadcast(sessionID, joined, conn.ID())

	go NewMonitor(conn, h.opts.PingInterval, h.opts.WriteTimeout).Run()
	go h.readLoop(conn)
}

// authorize applies the access rule: the session's mentor, a booking in
// an allowed status, or any historical booking once the session is live.
// Returns a close code on refusal, zero on success.
func (h *Handler) authorize(ctx context.Context, userID, sessionID string) (isMentor bool, closeCode int) {
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return false, types.CloseSessionNotFound
		}
		log.Printf("Authorization lookup failed: user=%s session=%s err=%v", userID, sessionID, err)
		return false, types.CloseForbidden
	}

	if session.MentorID == userID {
		return true, 0
	}

	allowed, err := h.store.HasBooking(ctx, userID, sessionID, types.AllowedBookingStatuses)
	if err != nil {
		log.Printf("Booking lookup failed: user=%s session=%s err=%v", userID, sessionID, err)
		return false, types.CloseForbidden
	}
	if allowed {
		return false, 0
	}

	// Looser rule for sessions already underway: any historical booking
	// grants access once the session is live.
	if session.Status == types.SessionLive {
		any, err := h.store.HasBooking(ctx, userID, sessionID, nil)
		if err == nil && any {
			return false, 0
		}
	}

	return false, types.CloseForbidden
}

// displayName resolves a username for outbound envelopes; lookup
// failures fall back to the user id.
func (h *Handler) displayName(ctx context.Context, userID string) string {
	name, err := h.store.UserName(ctx, userID)
	if err != nil || name == "" {
		return userID
	}
	return name
}

// sendSnapshot delivers the current session view to a freshly joined
// connection.
func (h *Handler) sendSnapshot(conn *ws.Connection, self *types.Participant) {
	snapshot := types.NewEnvelope(types.MessageTypeSessionSnapshot, map[string]interface{}{
		"session_id":   conn.SessionID(),
		"self":         self,
		"participants": h.presence.Snapshot(conn.SessionID(), conn.UserID()),
		"active_count": h.presence.ActiveCount(conn.SessionID()),
	})
	if err := conn.Send(snapshot); err != nil {
		log.Printf("Snapshot delivery failed: user=%s err=%v", conn.UserID(), err)
	}
}

// readLoop pumps inbound frames into the router until the connection
// dies, then runs teardown exactly once.
func (h *Handler) readLoop(conn *ws.Connection) {
	closeCode := websocket.CloseAbnormalClosure
	defer func() { h.teardown(conn, closeCode) }()

	if err := conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		// A pong is traffic too; a silent-but-alive client keeps its
		// last_activity current.
		h.presence.Touch(conn.SessionID(), conn.UserID())
		return conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				closeCode = closeErr.Code
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Read failed: conn=%s user=%s err=%v", conn.ID(), conn.UserID(), err)
			}
			return
		}

		// Any inbound frame resets the liveness window, pong or not.
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))

		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendDecodeError(conn)
			continue
		}
		h.router.Route(conn, &env)
	}
}

// sendDecodeError answers undecodable frames with a scoped error
// envelope; malformed traffic never drops the connection.
func (h *Handler) sendDecodeError(conn *ws.Connection) {
	metrics.RoutingErrors.WithLabelValues("invalid_payload").Inc()
	env := types.NewEnvelope(types.MessageTypeError, map[string]interface{}{
		"message": "envelope is not valid JSON",
		"reason":  "invalid_payload",
	})
	_ = conn.Send(env)
}

// teardown walks the connection through closing -> closed: registry
// entry removed, presence marked left, the group told with a
// human-readable reason, monitor cancelled via the connection context.
// Detach runs first so the departure check below sees only the user's
// surviving connections and no broadcast reaches the dead socket. A
// user can hold two sockets to one session during a browser refresh;
// closing the stale one while the replacement is attached must not
// touch presence or announce a departure.
func (h *Handler) teardown(conn *ws.Connection, closeCode int) {
	sessionID := conn.SessionID()
	userID := conn.UserID()

	h.registry.Detach(sessionID, conn.ID())

	if h.registry.UserConnectionCount(sessionID, userID) > 0 {
		_ = conn.Close()
		metrics.ActiveConnections.WithLabelValues("session").Dec()
		log.Printf("Duplicate connection closed: conn=%s user=%s session=%s code=%d",
			conn.ID(), userID, sessionID, closeCode)
		return
	}

	h.presence.MarkLeft(sessionID, userID)

	left := types.NewEnvelope(types.MessageTypeParticipantLeft, map[string]interface{}{
		"user_id":      userID,
		"username":     conn.Username(),
		"reason":       types.CloseReason(closeCode),
		"close_code":   closeCode,
		"active_count": h.presence.ActiveCount(sessionID),
	})
	left.FromUser = userID
	h.registry.Broadcast(sessionID, left, "")

	_ = conn.Close()
	metrics.ActiveConnections.WithLabelValues("session").Dec()
	log.Printf("Connection closed: conn=%s user=%s session=%s code=%d reason=%q",
		conn.ID(), userID, sessionID, closeCode, types.CloseReason(closeCode))
}

// HandleNotifications is the dashboard channel entry point: a second,
// session-independent per-user stream carrying application events.
func (h *Handler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	if !types.IsValidUserID(userID) {
		metrics.ConnectionsTotal.WithLabelValues("unauthorized").Inc()
		closeRaw(raw, types.CloseUnauthorized, h.opts.WriteTimeout)
		return
	}

	conn := ws.NewConnection(raw, userID, h.displayName(r.Context(), userID), "", h.opts.SendQueueSize, h.opts.WriteTimeout)
	h.notify.Subscribe(userID, conn)
	metrics.ActiveConnections.WithLabelValues("notification").Inc()
	log.Printf("Notification channel attached: conn=%s user=%s", conn.ID(), userID)

	go NewMonitor(conn, h.opts.PingInterval, h.opts.WriteTimeout).Run()
	go h.notificationReadLoop(conn)
}

// notificationReadLoop keeps the dashboard socket alive. The channel is
// push-only; inbound frames only feed the liveness window.
func (h *Handler) notificationReadLoop(conn *ws.Connection) {
	defer func() {
		h.notify.Unsubscribe(conn.UserID(), conn.ID())
		_ = conn.Close()
		metrics.ActiveConnections.WithLabelValues("notification").Dec()
		log.Printf("Notification channel detached: conn=%s user=%s", conn.ID(), conn.UserID())
	}()

	if err := conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	}
}

// closeRaw refuses a socket that never got a Connection wrapper.
func closeRaw(raw *websocket.Conn, code int, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(code, types.CloseReason(code))
	_ = raw.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	_ = raw.Close()
}
