package router

import (
	"log"
	"time"

	"github.com/google/uuid"

	"mentorlive/internal/group"
	"mentorlive/internal/metrics"
	"mentorlive/internal/presence"
	"mentorlive/internal/ws"
	"mentorlive/pkg/types"
)

// handlerFunc processes one inbound envelope for an established
// connection. A returned error becomes a scoped error envelope to the
// sender; it never tears the connection down.
type handlerFunc func(conn *ws.Connection, env *types.Envelope) error

// Router validates inbound envelopes, applies presence side effects and
// fans derived envelopes out through the group registry. Dispatch runs
// on the calling connection's goroutine; the router holds no state of
// its own beyond the dispatch table and the signaling cache.
type Router struct {
	registry *group.Registry
	presence *presence.Store
	signals  *SignalCache
	handlers map[string]handlerFunc
}

// NewRouter builds the router and its type dispatch table.
func NewRouter(registry *group.Registry, store *presence.Store, signals *SignalCache) *Router {
	r := &Router{
		registry: registry,
		presence: store,
		signals:  signals,
	}
	r.handlers = map[string]handlerFunc{
		// Session broadcast, sender excluded
		types.MessageTypeReadyCheck:      r.handleReadyCheck,
		types.MessageTypeNetworkQuality:  r.handleNetworkQuality,
		types.MessageTypeUserStatus:      r.handleUserStatus,
		types.MessageTypeScreenShare:     r.handleScreenShare,
		types.MessageTypeRecordingStatus: r.handleRecordingStatus,
		types.MessageTypeAudioLevel:      r.handleAudioLevel,
		types.MessageTypeMediaState:      r.handleMediaState,
		types.MessageTypeChatMessage:     r.handleChatMessage,

		// Targeted signaling relay
		types.MessageTypeWebRTCOffer:  r.handleSignal,
		types.MessageTypeWebRTCAnswer: r.handleSignal,
		types.MessageTypeICECandidate: r.handleSignal,

		// Request/response, no group traffic
		types.MessageTypeConnectionTest:  r.handleConnectionTest,
		types.MessageTypePing:            r.handlePing,
		types.MessageTypePeerDiscovery:   r.handlePeerDiscovery,
		types.MessageTypeBandwidthTest:   r.handleBandwidthTest,
		types.MessageTypeGetSessionState: r.handleGetSessionState,
	}
	return r
}

// Route dispatches one inbound envelope. Any inbound traffic counts as
// liveness, so last_activity moves before validation. Validation and
// handler failures answer the sender with an error envelope and leave
// the connection open.
func (r *Router) Route(conn *ws.Connection, env *types.Envelope) {
	r.presence.Touch(conn.SessionID(), conn.UserID())

	if err := env.Validate(); err != nil {
		r.sendError(conn, env.Type, err)
		return
	}

	handler, ok := r.handlers[env.Type]
	if !ok {
		r.sendError(conn, env.Type, types.ErrUnknownMessageType)
		return
	}

	if err := handler(conn, env); err != nil {
		r.sendError(conn, env.Type, err)
		return
	}
	metrics.EnvelopesRouted.WithLabelValues(env.Type).Inc()
}

// broadcastFrom wraps the sender's content in a derived envelope and
// fans it out to everyone else in the session.
func (r *Router) broadcastFrom(conn *ws.Connection, messageType string, content map[string]interface{}) {
	out := types.NewEnvelope(messageType, content)
	out.ID = uuid.New().String()
	out.FromUser = conn.UserID()
	out.Username = conn.Username()
	r.registry.Broadcast(conn.SessionID(), out, conn.ID())
}

// reply answers the sender directly. Pure request/response envelopes
// omit from_user/username on the wire.
func (r *Router) reply(conn *ws.Connection, messageType string, content map[string]interface{}) {
	out := types.NewEnvelope(messageType, content)
	if err := conn.Send(out); err != nil {
		log.Printf("Reply delivery failed: type=%s user=%s err=%v", messageType, conn.UserID(), err)
	}
}

// sendError returns a scoped error envelope naming the problem. The
// connection always stays open; malformed traffic is recoverable.
func (r *Router) sendError(conn *ws.Connection, inReplyTo string, cause error) {
	reason := "invalid_payload"
	switch cause {
	case types.ErrUnknownMessageType, types.ErrMissingType:
		reason = "unknown_type"
	case types.ErrChatTooLong:
		reason = "oversized"
	}
	metrics.RoutingErrors.WithLabelValues(reason).Inc()

	content := map[string]interface{}{
		"message": cause.Error(),
		"reason":  reason,
	}
	if inReplyTo != "" {
		content["in_reply_to"] = inReplyTo
	}
	r.reply(conn, types.MessageTypeError, content)
}

// --- broadcast-shape handlers ---

func (r *Router) handleReadyCheck(conn *ws.Connection, env *types.Envelope) error {
	ready, ok := boolField(env.Content, "is_ready")
	if !ok {
		return ErrMissingField
	}
	r.presence.SetReady(conn.SessionID(), conn.UserID(), ready)
	r.broadcastFrom(conn, types.MessageTypeReadyStatus, map[string]interface{}{
		"user_id":  conn.UserID(),
		"is_ready": ready,
	})
	return nil
}

func (r *Router) handleNetworkQuality(conn *ws.Connection, env *types.Envelope) error {
	quality, ok := stringField(env.Content, "quality")
	if !ok {
		return ErrMissingField
	}
	switch types.NetworkQuality(quality) {
	case types.QualityHigh, types.QualityMedium, types.QualityLow, types.QualityPoor:
	default:
		return ErrInvalidQuality
	}

	m := types.NetworkMetrics{}
	m.PacketLoss, _ = floatField(env.Content, "packet_loss")
	m.LatencyMS, _ = floatField(env.Content, "latency_ms")
	m.BandwidthKbps, _ = floatField(env.Content, "bandwidth_kbps")
	r.presence.UpdateQuality(conn.SessionID(), conn.UserID(), types.NetworkQuality(quality), m)

	r.broadcastFrom(conn, types.MessageTypeNetworkQuality, env.Content)
	return nil
}

func (r *Router) handleUserStatus(conn *ws.Connection, env *types.Envelope) error {
	status, ok := stringField(env.Content, "status")
	if !ok {
		return ErrMissingField
	}
	switch types.ConnectionStatus(status) {
	case types.StatusConnecting, types.StatusConnected, types.StatusReconnecting, types.StatusDisconnected:
		r.presence.UpdateStatus(conn.SessionID(), conn.UserID(), types.ConnectionStatus(status))
	default:
		return ErrInvalidStatus
	}
	r.broadcastFrom(conn, types.MessageTypeUserStatus, env.Content)
	return nil
}

func (r *Router) handleScreenShare(conn *ws.Connection, env *types.Envelope) error {
	active, ok := boolField(env.Content, "active")
	if !ok {
		return ErrMissingField
	}
	r.presence.SetScreenSharing(conn.SessionID(), conn.UserID(), active)
	r.broadcastFrom(conn, types.MessageTypeScreenShare, env.Content)
	return nil
}

func (r *Router) handleRecordingStatus(conn *ws.Connection, env *types.Envelope) error {
	active, ok := boolField(env.Content, "active")
	if !ok {
		return ErrMissingField
	}
	r.presence.SetRecording(conn.SessionID(), conn.UserID(), active)
	r.broadcastFrom(conn, types.MessageTypeRecordingStatus, env.Content)
	return nil
}

// Audio levels are transient UI hints; relayed but not mirrored into
// presence.
func (r *Router) handleAudioLevel(conn *ws.Connection, env *types.Envelope) error {
	if len(env.Content) == 0 {
		return types.ErrEmptyPayload
	}
	r.broadcastFrom(conn, types.MessageTypeAudioLevel, env.Content)
	return nil
}

func (r *Router) handleMediaState(conn *ws.Connection, env *types.Envelope) error {
	muted, hasMuted := boolField(env.Content, "muted")
	videoOff, hasVideo := boolField(env.Content, "video_off")
	if !hasMuted && !hasVideo {
		return ErrMissingField
	}
	var mutedPtr, videoPtr *bool
	if hasMuted {
		mutedPtr = &muted
	}
	if hasVideo {
		videoPtr = &videoOff
	}
	r.presence.SetMediaState(conn.SessionID(), conn.UserID(), mutedPtr, videoPtr)
	r.broadcastFrom(conn, types.MessageTypeMediaState, env.Content)
	return nil
}

func (r *Router) handleChatMessage(conn *ws.Connection, env *types.Envelope) error {
	text, ok := stringField(env.Content, "text")
	if !ok {
		return ErrMissingField
	}
	if err := types.ValidateChatText(text); err != nil {
		return err
	}
	// Server-assigned id lets clients de-duplicate across reconnects.
	content := map[string]interface{}{
		"message_id": uuid.New().String(),
		"text":       text,
	}
	r.broadcastFrom(conn, types.MessageTypeChatMessage, content)
	return nil
}

// --- targeted relay ---

// handleSignal relays WebRTC offers, answers and ICE candidates. With a
// target the envelope goes only to that user's connections; without one
// it falls back to a sender-excluded broadcast. Offers and answers are
// cached briefly so a peer that drops mid-handshake can still pick them
// up on reconnect.
func (r *Router) handleSignal(conn *ws.Connection, env *types.Envelope) error {
	if len(env.Content) == 0 {
		return types.ErrEmptyPayload
	}

	out := types.NewEnvelope(env.Type, env.Content)
	out.ID = uuid.New().String()
	out.FromUser = conn.UserID()
	out.Username = conn.Username()

	if env.ToUser == nil {
		r.registry.Broadcast(conn.SessionID(), out, conn.ID())
		return nil
	}

	target := *env.ToUser
	out.ToUser = &target
	if env.Type == types.MessageTypeWebRTCOffer || env.Type == types.MessageTypeWebRTCAnswer {
		r.signals.Put(conn.SessionID(), target, out)
	}
	r.registry.UnicastUser(conn.SessionID(), target, out)
	return nil
}

// --- request/response handlers ---

func (r *Router) handleConnectionTest(conn *ws.Connection, env *types.Envelope) error {
	r.reply(conn, types.MessageTypeConnectionTestResult, map[string]interface{}{
		"status":      "ok",
		"server_time": time.Now(),
		"echo":        env.Content,
	})
	return nil
}

func (r *Router) handlePing(conn *ws.Connection, env *types.Envelope) error {
	r.reply(conn, types.MessageTypePong, map[string]interface{}{
		"server_time": time.Now(),
	})
	return nil
}

func (r *Router) handlePeerDiscovery(conn *ws.Connection, env *types.Envelope) error {
	peers := make([]map[string]interface{}, 0)
	for _, p := range r.presence.Snapshot(conn.SessionID(), conn.UserID()) {
		if p.Status != types.StatusConnected {
			continue
		}
		peers = append(peers, map[string]interface{}{
			"user_id":   p.UserID,
			"username":  p.Username,
			"is_mentor": p.IsMentor,
			"is_ready":  p.IsReady,
		})
	}
	r.reply(conn, types.MessageTypePeerList, map[string]interface{}{
		"peers": peers,
	})
	return nil
}

func (r *Router) handleBandwidthTest(conn *ws.Connection, env *types.Envelope) error {
	size := 0
	if payload, ok := stringField(env.Content, "payload"); ok {
		size = len(payload)
	}
	r.reply(conn, types.MessageTypeBandwidthTestResult, map[string]interface{}{
		"received_bytes": size,
		"server_time":    time.Now(),
	})
	return nil
}

// handleGetSessionState answers with the full presence snapshot and
// drains any signaling payloads cached for the requester while it was
// away.
func (r *Router) handleGetSessionState(conn *ws.Connection, env *types.Envelope) error {
	sessionID := conn.SessionID()
	participants := r.presence.Snapshot(sessionID, "")
	r.reply(conn, types.MessageTypeSessionState, map[string]interface{}{
		"session_id":   sessionID,
		"participants": participants,
		"active_count": r.presence.ActiveCount(sessionID),
		"member_count": r.registry.MemberCount(sessionID),
	})

	for _, pending := range r.signals.Drain(sessionID, conn.UserID()) {
		if err := conn.Send(pending); err != nil {
			log.Printf("Pending signal delivery failed: user=%s err=%v", conn.UserID(), err)
			break
		}
	}
	return nil
}

// --- content field helpers ---

func stringField(content map[string]interface{}, key string) (string, bool) {
	v, ok := content[key].(string)
	return v, ok
}

func boolField(content map[string]interface{}, key string) (bool, bool) {
	v, ok := content[key].(bool)
	return v, ok
}

func floatField(content map[string]interface{}, key string) (float64, bool) {
	v, ok := content[key].(float64)
	return v, ok
}
