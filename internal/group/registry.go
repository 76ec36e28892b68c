package group

import (
	"log"
	"sync"

	"mentorlive/internal/metrics"
	"mentorlive/internal/ws"
	"mentorlive/pkg/types"
)

// Registry maps a session id to the set of currently attached
// connections. Sharded per session: the outer map is guarded by mu and
// every group carries its own lock, so fan-out in one session never
// serializes against unrelated sessions.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*group
}

type group struct {
	mu      sync.RWMutex
	members map[string]*ws.Connection // connectionID -> connection
}

// NewRegistry creates an empty group registry.
func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]*group),
	}
}

// Attach adds a connection to its session group. The member insert
// happens while the registry lock is held: a concurrent detach of the
// session's last member must not drop the group between the lookup and
// the insert, or the new connection would land in an orphaned group no
// broadcast can reach. Lock order is always registry then group.
func (r *Registry) Attach(sessionID string, conn *ws.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	g, exists := r.groups[sessionID]
	if !exists {
		g = &group{members: make(map[string]*ws.Connection)}
		r.groups[sessionID] = g
	}
	g.mu.Lock()
	g.members[conn.ID()] = conn
	g.mu.Unlock()
}

// Detach removes a connection from its session group. Idempotent; a
// connection id that was never attached is a no-op. Empty groups are
// dropped so a long-running process doesn't accumulate dead sessions;
// a late broadcast to a gone group is already a silent no-op.
func (r *Registry) Detach(sessionID, connectionID string) {
	r.mu.RLock()
	g, exists := r.groups[sessionID]
	r.mu.RUnlock()
	if !exists {
		return
	}

	g.mu.Lock()
	delete(g.members, connectionID)
	empty := len(g.members) == 0
	g.mu.Unlock()

	if empty {
		r.mu.Lock()
		// Re-check under the registry lock; someone may have attached,
		// or the entry may already be a different group created after a
		// concurrent delete. Only ever drop the group observed above.
		if r.groups[sessionID] == g {
			g.mu.RLock()
			if len(g.members) == 0 {
				delete(r.groups, sessionID)
			}
			g.mu.RUnlock()
		}
		r.mu.Unlock()
	}
}

// Broadcast fans an envelope out to every member of the session group,
// optionally excluding one connection (the sender). Delivery to each
// recipient is independent: a slow or dead recipient is dropped and
// closed, never allowed to stall the rest. Returns the delivered count;
// an empty or unknown group delivers zero, which is not an error.
func (r *Registry) Broadcast(sessionID string, env *types.Envelope, excludeConnectionID string) int {
	delivered := 0
	for _, conn := range r.members(sessionID) {
		if conn.ID() == excludeConnectionID {
			continue
		}
		if r.deliver(conn, env) {
			delivered++
		}
	}
	return delivered
}

// UnicastUser delivers an envelope to every connection owned by one user
// inside the session. Other members never see it.
func (r *Registry) UnicastUser(sessionID, userID string, env *types.Envelope) int {
	delivered := 0
	for _, conn := range r.members(sessionID) {
		if conn.UserID() != userID {
			continue
		}
		if r.deliver(conn, env) {
			delivered++
		}
	}
	return delivered
}

// UnicastConn delivers an envelope to one specific connection.
func (r *Registry) UnicastConn(sessionID, connectionID string, env *types.Envelope) bool {
	r.mu.RLock()
	g, exists := r.groups[sessionID]
	r.mu.RUnlock()
	if !exists {
		return false
	}

	g.mu.RLock()
	conn, ok := g.members[connectionID]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	return r.deliver(conn, env)
}

// UserConnectionCount returns how many of the session's attached
// connections belong to one user. Teardown consults this to tell a
// stale duplicate apart from the user's last connection.
func (r *Registry) UserConnectionCount(sessionID, userID string) int {
	count := 0
	for _, conn := range r.members(sessionID) {
		if conn.UserID() == userID {
			count++
		}
	}
	return count
}

// MemberCount returns how many connections are attached to the session.
func (r *Registry) MemberCount(sessionID string) int {
	r.mu.RLock()
	g, exists := r.groups[sessionID]
	r.mu.RUnlock()
	if !exists {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// members snapshots the group membership so delivery runs outside the lock.
func (r *Registry) members(sessionID string) []*ws.Connection {
	r.mu.RLock()
	g, exists := r.groups[sessionID]
	r.mu.RUnlock()
	if !exists {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	conns := make([]*ws.Connection, 0, len(g.members))
	for _, conn := range g.members {
		conns = append(conns, conn)
	}
	return conns
}

// deliver enqueues the envelope on one connection. A full queue means the
// recipient can't keep up; it is closed and degrades only itself.
func (r *Registry) deliver(conn *ws.Connection, env *types.Envelope) bool {
	err := conn.Send(env)
	if err == nil {
		return true
	}
	metrics.EnvelopesDropped.Inc()
	if err == ws.ErrSendQueueFull {
		log.Printf("Send queue full, closing connection: conn=%s user=%s session=%s",
			conn.ID(), conn.UserID(), conn.SessionID())
		go func() { _ = conn.Close() }()
	}
	return false
}
