package types

import "github.com/gorilla/websocket"

// Application-defined close codes in the 4000-4999 range. The standard
// codes come straight from gorilla/websocket. Clients map these to human
// messages, so the numeric values must not change.
const (
	CloseUnauthorized    = 4401 // no valid identity on the request
	CloseForbidden       = 4403 // valid identity, no access to this session
	CloseSessionNotFound = 4404 // connection target names an unknown session
)

// CloseReason maps a close code to the human-readable disconnect reason
// carried in participant_left broadcasts.
func CloseReason(code int) string {
	switch code {
	case websocket.CloseNormalClosure:
		return "Normal closure"
	case websocket.CloseGoingAway:
		return "Going away"
	case websocket.CloseProtocolError:
		return "Protocol error"
	case websocket.CloseUnsupportedData:
		return "Unsupported data"
	case websocket.CloseAbnormalClosure:
		return "Abnormal closure"
	case CloseUnauthorized:
		return "Unauthorized"
	case CloseForbidden:
		return "Forbidden"
	case CloseSessionNotFound:
		return "Session not found"
	default:
		return "Connection closed"
	}
}
