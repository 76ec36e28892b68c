package gateway

import (
	"time"

	"mentorlive/internal/ws"
)

// Monitor is the per-connection liveness loop: a control-frame ping on
// a fixed interval, paired with the read loop's pong handler extending
// the read deadline. It stops the moment its connection closes and
// holds nothing afterwards.
type Monitor struct {
	conn     *ws.Connection
	interval time.Duration
	timeout  time.Duration
}

// NewMonitor creates a monitor for one connection.
func NewMonitor(conn *ws.Connection, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		conn:     conn,
		interval: interval,
		timeout:  timeout,
	}
}

// Run blocks until the connection dies or a ping cannot be written.
// A failed ping means the socket is already gone; closing it lets the
// read loop observe the failure and run teardown.
func (m *Monitor) Run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.conn.Ping(m.timeout); err != nil {
				_ = m.conn.Close()
				return
			}
		case <-m.conn.Done():
			return
		}
	}
}
