package hub

import (
	"time"

	"github.com/gsay/chatroulette/internal/transcript"
)

// Partner returns the session's current chat partner. The second return is
// false when the session is unknown or not in a room.
func (h *Hub) Partner(sessionID string) (PartnerInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.partnerLocked(sessionID)
}

func (h *Hub) partnerLocked(sessionID string) (PartnerInfo, bool) {
	s, ok := h.sessions[sessionID]
	if !ok || s.roomID == "" {
		return PartnerInfo{}, false
	}
	room, ok := h.rooms[s.roomID]
	if !ok {
		return PartnerInfo{}, false
	}
	for _, member := range room.Members {
		if member == sessionID {
			continue
		}
		partner, ok := h.sessions[member]
		if !ok {
			return PartnerInfo{}, false
		}
		return PartnerInfo{PartnerID: partner.ID, PartnerAddr: partner.Addr, RoomID: room.ID}, true
	}
	return PartnerInfo{}, false
}

// AppendMessage logs a relayed message to the room transcript, provided the
// sender is still in the given room. The second return is false when the
// room dissolved since the caller looked up the partner; the caller treats
// that as normal flow, not an error.
func (h *Hub) AppendMessage(sessionID, roomID, text string) (PartnerInfo, bool) {
	h.mu.Lock()
	info, ok := h.partnerLocked(sessionID)
	var sender string
	if ok && info.RoomID == roomID {
		s := h.sessions[sessionID]
		s.LastActive = time.Now()
		if room := h.rooms[roomID]; room.Members[0] == sessionID {
			sender = "user_a"
		} else {
			sender = "user_b"
		}
	} else {
		ok = false
	}
	h.mu.Unlock()

	if !ok {
		return PartnerInfo{}, false
	}
	h.transcripts.Append(roomID, transcript.Entry{Sender: sender, Text: text, Ts: time.Now()})
	return info, true
}

// LeaveRoom dissolves the session's current room, leaving both sessions
// connected and idle. The second return is false when the session was not in
// a room.
func (h *Hub) LeaveRoom(sessionID string) (TeardownResult, bool) {
	h.mu.Lock()
	res := h.teardownLocked(sessionID)
	h.mu.Unlock()

	if !res.WasInRoom {
		return res, false
	}
	h.transcripts.Remove(res.RoomID)
	return res, true
}

// TranscriptFor returns the transcript of the session's current room, or nil
// when the session has no room. The copy is taken after the room lookup, so
// a racing teardown yields nil rather than another room's entries.
func (h *Hub) TranscriptFor(sessionID string) (string, []transcript.Entry) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	roomID := ""
	if ok {
		roomID = s.roomID
	}
	h.mu.Unlock()

	if roomID == "" {
		return "", nil
	}
	return roomID, h.transcripts.Get(roomID)
}
