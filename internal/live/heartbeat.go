package live

import (
	"log"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // grace period after Interval before a silent client is dropped
}

// DefaultHeartbeatConfig returns the default heartbeat settings.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  30 * time.Second,
	}
}

// startHeartbeat pings every connection each Interval and drops those that
// have not sent any frame within Interval + Timeout.
func (h *Hub) startHeartbeat() {
	go func() {
		ticker := time.NewTicker(h.config.Heartbeat.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
				h.checkConnections(time.Now())
			}
		}
	}()
}

func (h *Hub) checkConnections(now time.Time) {
	deadline := h.config.Heartbeat.Interval + h.config.Heartbeat.Timeout

	for _, c := range h.Connections() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			log.Printf("[live] heartbeat timeout conn=%s event=%s idle=%s",
				c.ID, c.EventID, idle.Round(time.Second))
			h.remove(c)
			continue
		}
		if err := c.WritePing(); err != nil {
			log.Printf("[live] heartbeat ping failed conn=%s: %v", c.ID, err)
			h.remove(c)
		}
	}
}
