// Package transcript keeps a bounded in-memory log of messages per room. The
// log exists only as moderation evidence: when a report is filed the room's
// entries are handed to the moderation sink, otherwise they age out or are
// dropped with the room.
package transcript

import (
	"context"
	"log"
	"sync"
	"time"
)

// Entry is a single logged message.
type Entry struct {
	Sender string
	Text   string
	Ts     time.Time
}

// roomLog holds the entries for one room along with its creation time, which
// drives age-based eviction.
type roomLog struct {
	createdAt time.Time
	entries   []Entry
}

// Buffer stores per-room transcripts with a retention ceiling. It is
// goroutine-safe. Rooms are evicted when older than maxAge or when the number
// of tracked rooms exceeds maxRooms (oldest first).
type Buffer struct {
	mu       sync.RWMutex
	rooms    map[string]*roomLog
	maxAge   time.Duration
	maxRooms int
}

// NewBuffer creates an empty Buffer with the given retention limits.
func NewBuffer(maxAge time.Duration, maxRooms int) *Buffer {
	return &Buffer{
		rooms:    make(map[string]*roomLog),
		maxAge:   maxAge,
		maxRooms: maxRooms,
	}
}

// Track registers a room so that messages can be appended to it. Calling
// Track for an already-tracked room is a no-op.
func (b *Buffer) Track(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.rooms[roomID]; ok {
		return
	}
	b.rooms[roomID] = &roomLog{createdAt: time.Now()}
}

// Append adds an entry to the room's transcript. Appends to untracked rooms
// are dropped silently; the room may have aged out between relay and append.
func (b *Buffer) Append(roomID string, e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rl, ok := b.rooms[roomID]
	if !ok {
		return
	}
	rl.entries = append(rl.entries, e)
}

// Get returns a copy of the room's entries in append order, or nil if the
// room is not tracked.
func (b *Buffer) Get(roomID string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rl, ok := b.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Entry, len(rl.entries))
	copy(out, rl.entries)
	return out
}

// Remove deletes the transcript for a room (called when the room ends).
func (b *Buffer) Remove(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.rooms, roomID)
}

// Len returns the number of tracked rooms.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.rooms)
}

// Evict drops every room older than maxAge relative to now, then drops the
// oldest rooms until at most maxRooms remain. It returns the number of rooms
// evicted.
func (b *Buffer) Evict(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := 0
	cutoff := now.Add(-b.maxAge)
	for id, rl := range b.rooms {
		if rl.createdAt.Before(cutoff) {
			delete(b.rooms, id)
			evicted++
		}
	}

	for len(b.rooms) > b.maxRooms {
		oldestID := ""
		var oldestAt time.Time
		for id, rl := range b.rooms {
			if oldestID == "" || rl.createdAt.Before(oldestAt) {
				oldestID = id
				oldestAt = rl.createdAt
			}
		}
		delete(b.rooms, oldestID)
		evicted++
	}
	return evicted
}

// StartEviction runs Evict on a fixed interval until ctx is cancelled.
func (b *Buffer) StartEviction(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[transcript] eviction loop started (interval=%s, maxAge=%s)", interval, b.maxAge)
	for {
		select {
		case <-ctx.Done():
			log.Println("[transcript] eviction loop stopped")
			return
		case <-ticker.C:
			if n := b.Evict(time.Now()); n > 0 {
				log.Printf("[transcript] evicted %d expired room transcripts", n)
			}
		}
	}
}
