package presence

import (
	"sync"
	"time"

	"mentorlive/pkg/types"
)

// Store is the authoritative in-memory presence record, sharded per
// session so unrelated sessions never contend on one lock. The outer
// map is guarded by mu; each session shard carries its own mutex.
// Participant records are an attendance ledger: they outlive the live
// connection and are never deleted.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionPresence
}

type sessionPresence struct {
	mu           sync.RWMutex
	participants map[string]*types.Participant // userID -> Participant
}

// NewStore creates an empty presence store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*sessionPresence),
	}
}

// shard returns the per-session shard, creating it when create is set.
func (s *Store) shard(sessionID string, create bool) *sessionPresence {
	s.mu.RLock()
	sp, exists := s.sessions[sessionID]
	s.mu.RUnlock()
	if exists || !create {
		return sp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sp, exists = s.sessions[sessionID]; exists {
		return sp
	}
	sp = &sessionPresence{participants: make(map[string]*types.Participant)}
	s.sessions[sessionID] = sp
	return sp
}

// Join records a participant joining a session and returns a copy of the
// resulting record. Join is idempotent: a duplicate join while already
// connected only refreshes joined_at (browser refresh race), while a join
// after markLeft reactivates the record and bumps the reconnection counter.
func (s *Store) Join(sessionID, userID, username string, isMentor bool) *types.Participant {
	sp := s.shard(sessionID, true)
	sp.mu.Lock()
	defer sp.mu.Unlock()

	now := time.Now()
	p, exists := sp.participants[userID]
	if !exists {
		p = &types.Participant{
			UserID:       userID,
			SessionID:    sessionID,
			Username:     username,
			IsMentor:     isMentor,
			Status:       types.StatusConnected,
			JoinedAt:     now,
			LastActivity: now,
		}
		sp.participants[userID] = p
		cp := *p
		return &cp
	}

	// Counter moves only on a disconnected/reconnecting -> connected
	// transition, never on a duplicate join.
	if p.Status == types.StatusDisconnected || p.Status == types.StatusReconnecting {
		p.ReconnectCount++
	}
	p.Status = types.StatusConnected
	p.LeftAt = nil
	p.JoinedAt = now
	p.LastActivity = now
	if username != "" {
		p.Username = username
	}
	cp := *p
	return &cp
}

// MarkLeft transitions a participant to disconnected and stamps left_at.
// Unknown participants are a no-op.
func (s *Store) MarkLeft(sessionID, userID string) {
	s.apply(sessionID, userID, func(p *types.Participant) {
		now := time.Now()
		p.Status = types.StatusDisconnected
		p.LeftAt = &now
	})
}

// UpdateStatus sets the connection status for a participant.
func (s *Store) UpdateStatus(sessionID, userID string, status types.ConnectionStatus) {
	s.apply(sessionID, userID, func(p *types.Participant) {
		p.Status = status
		if status == types.StatusConnected {
			p.LeftAt = nil
		}
	})
}

// UpdateQuality records the client-reported quality bucket and metrics.
// Last write wins; the owning connection is the only writer in practice.
func (s *Store) UpdateQuality(sessionID, userID string, quality types.NetworkQuality, metrics types.NetworkMetrics) {
	s.apply(sessionID, userID, func(p *types.Participant) {
		p.Quality = quality
		p.Metrics = metrics
	})
}

// SetReady flips the readiness flag.
func (s *Store) SetReady(sessionID, userID string, ready bool) {
	s.apply(sessionID, userID, func(p *types.Participant) {
		p.IsReady = ready
	})
}

// SetScreenSharing mirrors the screen-share toggle into presence.
func (s *Store) SetScreenSharing(sessionID, userID string, active bool) {
	s.apply(sessionID, userID, func(p *types.Participant) {
		p.Toggles.ScreenSharing = active
	})
}

// SetRecording mirrors the recording toggle into presence.
func (s *Store) SetRecording(sessionID, userID string, active bool) {
	s.apply(sessionID, userID, func(p *types.Participant) {
		p.Toggles.Recording = active
	})
}

// SetMediaState updates mute/video toggles. Nil fields are left untouched
// so clients can report one toggle without clobbering the other.
func (s *Store) SetMediaState(sessionID, userID string, muted, videoOff *bool) {
	s.apply(sessionID, userID, func(p *types.Participant) {
		if muted != nil {
			p.Toggles.Muted = *muted
		}
		if videoOff != nil {
			p.Toggles.VideoOff = *videoOff
		}
	})
}

// Touch refreshes last_activity. Called on any inbound traffic, not just
// ping/pong, so liveness reflects real usage.
func (s *Store) Touch(sessionID, userID string) {
	s.apply(sessionID, userID, func(p *types.Participant) {
		p.LastActivity = time.Now()
	})
}

// apply runs a mutation under the shard lock. Mutations on unknown
// participants are silently dropped; presence is best-effort bookkeeping.
func (s *Store) apply(sessionID, userID string, fn func(*types.Participant)) {
	sp := s.shard(sessionID, false)
	if sp == nil {
		return
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if p, exists := sp.participants[userID]; exists {
		fn(p)
	}
}

// Get returns a copy of one participant record.
func (s *Store) Get(sessionID, userID string) (*types.Participant, bool) {
	sp := s.shard(sessionID, false)
	if sp == nil {
		return nil, false
	}
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	p, exists := sp.participants[userID]
	if !exists {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// ActiveCount counts participants currently connected, independent of how
// many ever joined. Live-call presence, not booking confirmations.
func (s *Store) ActiveCount(sessionID string) int {
	sp := s.shard(sessionID, false)
	if sp == nil {
		return 0
	}
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	count := 0
	for _, p := range sp.participants {
		if p.Status == types.StatusConnected {
			count++
		}
	}
	return count
}

// Snapshot returns copies of every participant record in the session,
// optionally excluding one user. Order is unspecified.
func (s *Store) Snapshot(sessionID, excludeUserID string) []*types.Participant {
	sp := s.shard(sessionID, false)
	if sp == nil {
		return nil
	}
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	out := make([]*types.Participant, 0, len(sp.participants))
	for userID, p := range sp.participants {
		if userID == excludeUserID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out
}
