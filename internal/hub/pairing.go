package hub

import (
	"errors"
	"time"

	"github.com/gsay/chatroulette/internal/matching"
)

// ErrUnknownSession is returned when an operation names a session the hub
// does not know.
var ErrUnknownSession = errors.New("hub: unknown session")

// PairingPrep is the snapshot BeginPairing hands back for the out-of-lock
// phase: the candidates to rank and ban-check, plus the partner abandoned by
// the request if the requester was mid-chat.
type PairingPrep struct {
	PrevPartnerID string
	PrevRoomID    string
	Candidates    []matching.Candidate
}

// PairingResult is the outcome of CompletePairing.
type PairingResult struct {
	// Exactly one of Matched, Waiting, Gone is true, unless Retry is set.
	Matched bool
	Waiting bool
	Gone    bool

	RoomID    string
	PartnerID string

	// Retry holds same-mode candidates that entered the queue after the
	// snapshot and whose ban status is still unknown. The requester has not
	// been enqueued; the caller looks up their bans and calls
	// CompletePairing again. Addresses already present in the banned map are
	// never returned here, so the retry loop terminates.
	Retry []matching.Candidate
}

// BeginPairing is the first phase of find_partner. Under the lock it updates
// the session's mode and interests, tears down any current room, pulls the
// session out of the waiting queue, and snapshots the compatible candidates
// in queue order. Between BeginPairing and CompletePairing the requester is
// in neither the queue nor a room, so no concurrent pairing can select it.
func (h *Hub) BeginPairing(sessionID, mode string, interests []string) (*PairingPrep, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}

	prep := &PairingPrep{}
	if s.roomID != "" {
		res := h.teardownLocked(sessionID)
		prep.PrevPartnerID = res.PartnerID
		prep.PrevRoomID = res.RoomID
	}
	if s.waiting {
		h.dequeueLocked(sessionID)
	}

	s.Mode = mode
	s.Interests = interests
	s.LastActive = time.Now()

	for _, id := range h.waiting {
		c, ok := h.sessions[id]
		if !ok || c.Mode != mode {
			continue
		}
		prep.Candidates = append(prep.Candidates, matching.Candidate{
			SessionID: c.ID,
			Addr:      c.Addr,
			Interests: c.Interests,
		})
	}
	return prep, nil
}

// CompletePairing is the second phase of find_partner: the caller has ranked
// the candidate snapshot and looked up bans outside the lock. Under the lock
// it selects the first ranked candidate that is not banned and is still
// waiting in the same mode, removes it from the queue, and binds both
// sessions to a fresh room.
//
// When the snapshot is exhausted the live queue is re-scanned before giving
// up: peers that enqueued after BeginPairing are invisible to the snapshot,
// and without the re-scan two requests crossing each other would both end up
// waiting with a compatible peer right beside them. A fresh candidate with a
// known clean address is taken on the spot; candidates with unknown ban
// status come back in Retry for another lookup round. Only when the re-scan
// yields nothing is the requester appended to the waiting queue.
func (h *Hub) CompletePairing(sessionID, mode string, ranked []matching.Candidate, banned map[string]bool) PairingResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return PairingResult{Gone: true}
	}

	for _, c := range ranked {
		if c.SessionID == sessionID || banned[c.Addr] {
			continue
		}
		// Re-validate against live state: the snapshot is stale by now.
		partner, ok := h.sessions[c.SessionID]
		if !ok || !partner.waiting || partner.Mode != mode {
			continue
		}
		return h.bindLocked(sessionID, partner.ID, mode)
	}

	var fresh []matching.Candidate
	for _, id := range h.waiting {
		c, ok := h.sessions[id]
		if !ok || id == sessionID || c.Mode != mode {
			continue
		}
		isBanned, known := banned[c.Addr]
		if known && isBanned {
			continue
		}
		if known {
			return h.bindLocked(sessionID, c.ID, mode)
		}
		fresh = append(fresh, matching.Candidate{
			SessionID: c.ID,
			Addr:      c.Addr,
			Interests: c.Interests,
		})
	}
	if len(fresh) > 0 {
		return PairingResult{Retry: fresh}
	}

	s.waiting = true
	h.waiting = append(h.waiting, sessionID)
	return PairingResult{Waiting: true}
}

// bindLocked dequeues the chosen partner and creates the room. Callers hold
// h.mu and have verified the partner is waiting in the right mode.
func (h *Hub) bindLocked(sessionID, partnerID, mode string) PairingResult {
	h.dequeueLocked(partnerID)
	room := h.newRoomLocked(sessionID, partnerID, mode)
	h.transcripts.Track(room.ID)
	return PairingResult{Matched: true, RoomID: room.ID, PartnerID: partnerID}
}

// CancelSearch removes the session from the waiting queue. It is a no-op if
// the session is not waiting.
func (h *Hub) CancelSearch(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.sessions[sessionID]; ok && s.waiting {
		h.dequeueLocked(sessionID)
	}
}
