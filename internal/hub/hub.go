// Package hub owns all live pairing state: the session registry, the FIFO
// waiting queue and the room table. Every multi-structure transition runs as
// a single critical section under one mutex, so a session is always in at
// most one of the queue or a room. The hub never performs store or network
// I/O while holding the lock; callers do ban checks and relays between hub
// calls.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gsay/chatroulette/internal/transcript"
)

// Session is the in-memory record for one connected client.
type Session struct {
	ID          string
	Addr        string // client address, used for bans and rate limits
	Mode        string // "text" or "video", set by find_partner
	Interests   []string
	ConnectedAt time.Time
	LastActive  time.Time

	roomID  string // current room, empty when not chatting
	waiting bool   // true while in the waiting queue
}

// Room pairs exactly two sessions. Members[0] is the requester whose
// find_partner created the room.
type Room struct {
	ID        string
	Members   [2]string
	Mode      string
	CreatedAt time.Time
}

// Stats is a snapshot of the live population counters.
type Stats struct {
	Online      int
	Waiting     int
	ActiveChats int
}

// TeardownResult reports what a session removal or room teardown touched.
// PartnerID is empty when the session had no partner.
type TeardownResult struct {
	SessionID string
	PartnerID string
	RoomID    string
	WasInRoom bool
}

// PartnerInfo identifies a session's current chat partner.
type PartnerInfo struct {
	PartnerID   string
	PartnerAddr string
	RoomID      string
}

// Hub is the single state-owning component of the server.
type Hub struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	waiting     []string // session IDs in arrival order
	rooms       map[string]*Room
	transcripts *transcript.Buffer
}

// New creates an empty Hub writing room transcripts into buf.
func New(buf *transcript.Buffer) *Hub {
	return &Hub{
		sessions:    make(map[string]*Session),
		rooms:       make(map[string]*Room),
		transcripts: buf,
	}
}

// Connect registers a new session for a connected client.
func (h *Hub) Connect(sessionID, addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	h.sessions[sessionID] = &Session{
		ID:          sessionID,
		Addr:        addr,
		ConnectedAt: now,
		LastActive:  now,
	}
}

// Touch records activity for a session so the stale sweep keeps it alive.
func (h *Hub) Touch(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.sessions[sessionID]; ok {
		s.LastActive = time.Now()
	}
}

// AddrOf returns the client address of a session.
func (h *Hub) AddrOf(sessionID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return "", false
	}
	return s.Addr, true
}

// Stats returns the live population counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return Stats{
		Online:      len(h.sessions),
		Waiting:     len(h.waiting),
		ActiveChats: len(h.rooms),
	}
}

// RemoveSession removes a session entirely: out of the queue, out of its
// room, out of the registry. The result names the abandoned partner so the
// caller can notify it. Safe to call for unknown sessions.
func (h *Hub) RemoveSession(sessionID string) TeardownResult {
	h.mu.Lock()
	res := h.teardownLocked(sessionID)
	if _, ok := h.sessions[sessionID]; ok {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()

	if res.WasInRoom {
		h.transcripts.Remove(res.RoomID)
	}
	return res
}

// teardownLocked removes the session from the waiting queue and dissolves
// its room, leaving the partner connected but idle. Callers hold h.mu.
func (h *Hub) teardownLocked(sessionID string) TeardownResult {
	res := TeardownResult{SessionID: sessionID}

	s, ok := h.sessions[sessionID]
	if !ok {
		return res
	}

	if s.waiting {
		h.dequeueLocked(sessionID)
	}

	if s.roomID != "" {
		room, ok := h.rooms[s.roomID]
		if ok {
			res.WasInRoom = true
			res.RoomID = room.ID
			for _, member := range room.Members {
				if member == sessionID {
					continue
				}
				res.PartnerID = member
				if partner, ok := h.sessions[member]; ok {
					partner.roomID = ""
				}
			}
			delete(h.rooms, room.ID)
		}
		s.roomID = ""
	}
	return res
}

// dequeueLocked removes a session from the waiting queue. Callers hold h.mu.
func (h *Hub) dequeueLocked(sessionID string) {
	for i, id := range h.waiting {
		if id == sessionID {
			h.waiting = append(h.waiting[:i], h.waiting[i+1:]...)
			break
		}
	}
	if s, ok := h.sessions[sessionID]; ok {
		s.waiting = false
	}
}

// newRoomLocked creates a room binding the two sessions. Callers hold h.mu
// and have already verified both sessions are free.
func (h *Hub) newRoomLocked(requesterID, partnerID, mode string) *Room {
	room := &Room{
		ID:        uuid.NewString(),
		Members:   [2]string{requesterID, partnerID},
		Mode:      mode,
		CreatedAt: time.Now(),
	}
	h.rooms[room.ID] = room
	h.sessions[requesterID].roomID = room.ID
	h.sessions[partnerID].roomID = room.ID
	return room
}
