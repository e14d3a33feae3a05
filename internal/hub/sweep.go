package hub

import (
	"context"
	"log"
	"time"
)

// SweepStale removes every session whose last activity is older than
// timeout. Each eviction is a full teardown, so abandoned partners are named
// in the results for the caller to notify.
func (h *Hub) SweepStale(timeout time.Duration) []TeardownResult {
	cutoff := time.Now().Add(-timeout)

	h.mu.Lock()
	var stale []string
	for id, s := range h.sessions {
		if s.LastActive.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	results := make([]TeardownResult, 0, len(stale))
	for _, id := range stale {
		results = append(results, h.RemoveSession(id))
	}
	return results
}

// StartStaleSweep evicts inactive sessions on a fixed interval until ctx is
// cancelled. onEvict runs outside the hub lock, once per evicted session.
func (h *Hub) StartStaleSweep(ctx context.Context, interval, timeout time.Duration, onEvict func(TeardownResult)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[hub] stale sweep started (interval=%s, timeout=%s)", interval, timeout)
	for {
		select {
		case <-ctx.Done():
			log.Println("[hub] stale sweep stopped")
			return
		case <-ticker.C:
			evicted := h.SweepStale(timeout)
			if len(evicted) > 0 {
				log.Printf("[hub] evicted %d stale sessions", len(evicted))
			}
			if onEvict != nil {
				for _, res := range evicted {
					onEvict(res)
				}
			}
		}
	}
}
