package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mentorlive/internal/gateway"
	"mentorlive/internal/group"
	"mentorlive/internal/notify"
	"mentorlive/internal/presence"
	"mentorlive/pkg/interfaces"
	"mentorlive/pkg/types"
)

// Server is the HTTP surface: the two WebSocket entry points, health
// and metrics, and the thin collaborator endpoints (notification push,
// session status transition, presence snapshot). No business logic
// lives here, only HTTP handling and JSON serialization.
type Server struct {
	router        *mux.Router
	gateway       *gateway.Handler
	presence      *presence.Store
	groups        *group.Registry
	notifications *notify.Channel
	bookings      interfaces.BookingStore
	recorder      interfaces.NotificationStore
}

// NewServer wires the route tree.
func NewServer(gw *gateway.Handler, store *presence.Store, groups *group.Registry,
	channel *notify.Channel, bookings interfaces.BookingStore, recorder interfaces.NotificationStore) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		gateway:       gw,
		presence:      store,
		groups:        groups,
		notifications: channel,
		bookings:      bookings,
		recorder:      recorder,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/ws/sessions/{id}", s.gateway.HandleSession)
	s.router.HandleFunc("/ws/notifications", s.gateway.HandleNotifications)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/api/sessions/{id}/presence", s.handlePresence).Methods(http.MethodGet)
	s.router.HandleFunc("/api/sessions/{id}/status", s.handleSessionStatus).Methods(http.MethodPost)
	s.router.HandleFunc("/api/notify", s.handleNotify).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	})
}

// handlePresence exposes the live presence view of one session for
// collaborators and operators.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":   sessionID,
		"active_count": s.presence.ActiveCount(sessionID),
		"member_count": s.groups.MemberCount(sessionID),
		"participants": s.presence.Snapshot(sessionID, ""),
	})
}

type statusRequest struct {
	Status string `json:"status"`
}

// handleSessionStatus is the explicit transition path for session
// status. Flipping to live notifies attached participants right here,
// in the code path that changes the status; no observers are wired at
// the data layer.
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	status := types.SessionStatus(req.Status)
	switch status {
	case types.SessionScheduled, types.SessionLive, types.SessionCompleted, types.SessionCancelled:
	default:
		s.writeError(w, http.StatusBadRequest, "invalid session status")
		return
	}

	if err := s.bookings.SetSessionStatus(r.Context(), sessionID, status); err != nil {
		if err == interfaces.ErrSessionNotFound {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Printf("Status update failed: session=%s err=%v", sessionID, err)
		s.writeError(w, http.StatusInternalServerError, "status update failed")
		return
	}

	env := types.NewEnvelope(types.MessageTypeSessionStatus, map[string]interface{}{
		"session_id": sessionID,
		"status":     status,
	})
	delivered := s.groups.Broadcast(sessionID, env, "")
	log.Printf("Session status changed: session=%s status=%s notified=%d", sessionID, status, delivered)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"status":     status,
		"notified":   delivered,
	})
}

type notifyRequest struct {
	UserID  string                 `json:"user_id"`
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// handleNotify is the collaborator push endpoint: booking confirmed,
// mentor ready and friends arrive here from the marketplace. Persistence
// and live delivery are two independent steps; a failed Record is
// logged and never blocks the push.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !types.IsValidUserID(req.UserID) || req.Type == "" {
		s.writeError(w, http.StatusBadRequest, "user_id and type are required")
		return
	}

	n := &types.Notification{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Type:      req.Type,
		Payload:   req.Payload,
		CreatedAt: time.Now(),
	}

	if err := s.recorder.Record(r.Context(), n); err != nil {
		log.Printf("Notification record failed: user=%s type=%s err=%v", n.UserID, n.Type, err)
	}

	delivered := s.notifications.Publish(req.UserID, n)
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":        n.ID,
		"delivered": delivered,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Response encoding failed: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
