package notify

import (
	"sync"

	"mentorlive/internal/metrics"
	"mentorlive/internal/ws"
	"mentorlive/pkg/types"
)

// Channel is the session-independent per-user push channel. Structurally
// the same fan-out primitive as the session group registry, keyed by user
// identity instead of session identity. Delivery is fire-and-forget: a
// publish with no attached subscriber is a silent no-op, durable storage
// is the collaborator's job.
type Channel struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*ws.Connection // userID -> connectionID -> connection
}

// NewChannel creates an empty notification channel.
func NewChannel() *Channel {
	return &Channel{
		subscribers: make(map[string]map[string]*ws.Connection),
	}
}

// Subscribe attaches a connection to a user's channel.
func (c *Channel) Subscribe(userID string, conn *ws.Connection) {
	if conn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribers[userID] == nil {
		c.subscribers[userID] = make(map[string]*ws.Connection)
	}
	c.subscribers[userID][conn.ID()] = conn
}

// Unsubscribe detaches a connection. Idempotent.
func (c *Channel) Unsubscribe(userID, connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conns, exists := c.subscribers[userID]; exists {
		delete(conns, connectionID)
		if len(conns) == 0 {
			delete(c.subscribers, userID)
		}
	}
}

// Publish pushes an event to every connection the user has attached and
// returns the delivered count. Zero deliveries is not an error.
func (c *Channel) Publish(userID string, n *types.Notification) int {
	c.mu.RLock()
	conns := make([]*ws.Connection, 0, len(c.subscribers[userID]))
	for _, conn := range c.subscribers[userID] {
		conns = append(conns, conn)
	}
	c.mu.RUnlock()

	if len(conns) == 0 {
		metrics.NotificationsPublished.WithLabelValues("no_subscriber").Inc()
		return 0
	}

	env := types.NewEnvelope(types.MessageTypeNotification, map[string]interface{}{
		"id":         n.ID,
		"event":      n.Type,
		"payload":    n.Payload,
		"created_at": n.CreatedAt,
	})

	delivered := 0
	for _, conn := range conns {
		if err := conn.Send(env); err == nil {
			delivered++
		} else {
			metrics.EnvelopesDropped.Inc()
		}
	}
	if delivered > 0 {
		metrics.NotificationsPublished.WithLabelValues("delivered").Inc()
	} else {
		metrics.NotificationsPublished.WithLabelValues("failed").Inc()
	}
	return delivered
}

// SubscriberCount reports how many connections a user has attached.
func (c *Channel) SubscriberCount(userID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers[userID])
}
