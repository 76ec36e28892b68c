package types

import (
	"time"
)

// Inbound message types. These form a closed set; anything else is answered
// with an error envelope rather than a connection drop.
const (
	// Session-broadcast types (sender excluded from delivery)
	MessageTypeReadyCheck      = "ready_check"
	MessageTypeNetworkQuality  = "network_quality"
	MessageTypeUserStatus      = "user_status"
	MessageTypeScreenShare     = "screen_share"
	MessageTypeRecordingStatus = "recording_status"
	MessageTypeAudioLevel      = "audio_level"
	MessageTypeMediaState      = "media_state"
	MessageTypeChatMessage     = "chat_message"

	// Targeted signaling relay types
	MessageTypeWebRTCOffer  = "webrtc_offer"
	MessageTypeWebRTCAnswer = "webrtc_answer"
	MessageTypeICECandidate = "ice_candidate"

	// Request/response types (reply to sender only, no group traffic)
	MessageTypeConnectionTest  = "connection_test"
	MessageTypePing            = "ping"
	MessageTypePeerDiscovery   = "peer_discovery"
	MessageTypeBandwidthTest   = "bandwidth_test"
	MessageTypeGetSessionState = "get_session_state"
)

// Outbound-only message types generated by the server.
const (
	MessageTypeReadyStatus          = "ready_status"
	MessageTypePong                 = "pong"
	MessageTypeError                = "error"
	MessageTypeParticipantJoined    = "participant_joined"
	MessageTypeParticipantLeft      = "participant_left"
	MessageTypeSessionSnapshot      = "session_snapshot"
	MessageTypeSessionStatus        = "session_status"
	MessageTypeSessionState         = "session_state"
	MessageTypeNotification         = "notification"
	MessageTypeConnectionTestResult = "connection_test_result"
	MessageTypePeerList             = "peer_list"
	MessageTypeBandwidthTestResult  = "bandwidth_test_result"
)

// Shape classifies how an inbound message type is delivered.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeBroadcast     // session-wide fan-out, sender excluded
	ShapeTargeted      // signaling relay: unicast when to_user set, else broadcast
	ShapeRequest       // direct reply to sender, no group traffic
)

// ShapeOf returns the delivery shape for an inbound message type.
func ShapeOf(messageType string) Shape {
	switch messageType {
	case MessageTypeReadyCheck, MessageTypeNetworkQuality, MessageTypeUserStatus,
		MessageTypeScreenShare, MessageTypeRecordingStatus, MessageTypeAudioLevel,
		MessageTypeMediaState, MessageTypeChatMessage:
		return ShapeBroadcast
	case MessageTypeWebRTCOffer, MessageTypeWebRTCAnswer, MessageTypeICECandidate:
		return ShapeTargeted
	case MessageTypeConnectionTest, MessageTypePing, MessageTypePeerDiscovery,
		MessageTypeBandwidthTest, MessageTypeGetSessionState:
		return ShapeRequest
	default:
		return ShapeUnknown
	}
}

// Envelope is the unit of wire traffic. Content as map[string]interface{}
// keeps payloads flexible while staying JSON-compatible over WebSocket.
// A nil ToUser means broadcast to the session group; set means unicast
// to that user's connections only.
type Envelope struct {
	ID        string                 `json:"id,omitempty"`
	Type      string                 `json:"type"`
	Content   map[string]interface{} `json:"content,omitempty"`
	FromUser  string                 `json:"from_user,omitempty"`
	Username  string                 `json:"username,omitempty"`
	ToUser    *string                `json:"to_user,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEnvelope builds a server-generated envelope stamped with the current time.
func NewEnvelope(messageType string, content map[string]interface{}) *Envelope {
	return &Envelope{
		Type:      messageType,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// ConnectionStatus tracks where a participant is in its connection lifecycle.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// NetworkQuality is the coarse connection-quality bucket reported by clients.
type NetworkQuality string

const (
	QualityHigh   NetworkQuality = "high"
	QualityMedium NetworkQuality = "medium"
	QualityLow    NetworkQuality = "low"
	QualityPoor   NetworkQuality = "poor"
)

// NetworkMetrics carries the transient technical measurements a client
// reports alongside its quality bucket.
type NetworkMetrics struct {
	PacketLoss    float64 `json:"packet_loss"`
	LatencyMS     float64 `json:"latency_ms"`
	BandwidthKbps float64 `json:"bandwidth_kbps"`
}

// MediaToggles are the client UI switches mirrored into presence so late
// joiners see current state without a round of per-peer queries.
type MediaToggles struct {
	Muted         bool `json:"muted"`
	VideoOff      bool `json:"video_off"`
	ScreenSharing bool `json:"screen_sharing"`
	Recording     bool `json:"recording"`
}

// Participant is the presence record for one (session, user) pair. It is
// the session's attendance ledger: created on first join, mutated on every
// status change, never deleted. LeftAt is nil while connected. The
// reconnection counter only moves on a disconnected/reconnecting to
// connected transition and is never reset.
type Participant struct {
	UserID         string           `json:"user_id"`
	SessionID      string           `json:"session_id"`
	Username       string           `json:"username,omitempty"`
	IsMentor       bool             `json:"is_mentor"`
	Status         ConnectionStatus `json:"status"`
	Quality        NetworkQuality   `json:"network_quality"`
	IsReady        bool             `json:"is_ready"`
	JoinedAt       time.Time        `json:"joined_at"`
	LeftAt         *time.Time       `json:"left_at,omitempty"`
	ReconnectCount int              `json:"reconnect_count"`
	LastActivity   time.Time        `json:"last_activity"`
	Metrics        NetworkMetrics   `json:"metrics"`
	Toggles        MediaToggles     `json:"toggles"`
}

// SessionStatus is the booking store's view of a scheduled session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionLive      SessionStatus = "live"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Session is the scheduled mentoring call as the booking store records it.
// Distinct from a login session and from live presence.
type Session struct {
	ID          string        `json:"id" db:"id"`
	MentorID    string        `json:"mentor_id" db:"mentor_id"`
	Title       string        `json:"title" db:"title"`
	Status      SessionStatus `json:"status" db:"status"`
	ScheduledAt time.Time     `json:"scheduled_at" db:"scheduled_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty" db:"started_at"`
	EndedAt     *time.Time    `json:"ended_at,omitempty" db:"ended_at"`
}

// Booking links a user to a session with a marketplace status.
type Booking struct {
	ID        string `json:"id" db:"id"`
	SessionID string `json:"session_id" db:"session_id"`
	UserID    string `json:"user_id" db:"user_id"`
	Status    string `json:"status" db:"status"`
}

// AllowedBookingStatuses are the booking states that grant access to a
// session's live channel before it goes live.
var AllowedBookingStatuses = []string{"confirmed", "booked", "attended"}

// Notification is an application event pushed over the per-user channel.
type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
