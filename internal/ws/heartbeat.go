package ws

import (
	"log"
	"time"

	"github.com/gobwas/ws"

	"github.com/gsay/chatroulette/internal/metrics"
)

// startHeartbeat launches the liveness monitor. Every HeartbeatInterval it
// pings all registered connections and evicts the ones that have produced no
// frame for longer than interval+timeout. The goroutine exits when the
// server's done channel closes.
func (s *Server) startHeartbeat() {
	go func() {
		ticker := time.NewTicker(s.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.sweepDeadConnections()
			}
		}
	}()
}

// sweepDeadConnections walks the connection registry once. A connection is
// dead when nothing has been read from it within interval+timeout; everything
// else gets a protocol-level ping frame (opcode 0x9), which browsers answer
// with a pong automatically. Failed ping writes count as dead too.
func (s *Server) sweepDeadConnections() {
	deadline := s.config.HeartbeatInterval + s.config.HeartbeatTimeout
	now := time.Now()
	evicted := 0

	for _, c := range s.conns.All() {
		if now.Sub(c.LastSeen) > deadline {
			log.Printf("ws: heartbeat timeout session=%s last_seen=%s ago",
				c.ID, now.Sub(c.LastSeen).Round(time.Second))
			s.RemoveConnection(c)
			evicted++
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed session=%s: %v", c.ID, err)
			s.RemoveConnection(c)
			evicted++
		}
	}

	if evicted > 0 {
		metrics.HeartbeatEvictions.Add(float64(evicted))
	}
}

// WritePing sends a WebSocket protocol-level ping frame. The write mutex
// keeps it from interleaving with application frames.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}
