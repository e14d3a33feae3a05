package moderation

import (
	"context"
	"log"
	"time"
)

// StartBanSweep deletes expired ban rows on a fixed interval until ctx is
// cancelled. Store errors are logged and the loop continues.
func StartBanSweep(ctx context.Context, store *Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[moderation] ban sweep started (interval=%s)", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("[moderation] ban sweep stopped")
			return
		case <-ticker.C:
			n, err := store.DeleteExpiredBans(ctx)
			if err != nil {
				log.Printf("[moderation] ban sweep error: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[moderation] ban sweep removed %d expired bans", n)
			}
		}
	}
}
