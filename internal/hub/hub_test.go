package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gsay/chatroulette/internal/matching"
	"github.com/gsay/chatroulette/internal/transcript"
)

func newTestHub() *Hub {
	return New(transcript.NewBuffer(time.Hour, 1024))
}

// pair runs both phases of find_partner without bans, ranking candidates in
// queue order and driving the retry loop the way the server does.
func pair(t *testing.T, h *Hub, sessionID, mode string, interests []string) PairingResult {
	t.Helper()
	prep, err := h.BeginPairing(sessionID, mode, interests)
	if err != nil {
		t.Fatalf("BeginPairing(%s): %v", sessionID, err)
	}
	return completeAllClean(h, sessionID, mode, interests, prep.Candidates)
}

// completeAllClean finishes pairing treating every candidate address as not
// banned, looping on Retry until the hub settles on matched or waiting.
func completeAllClean(h *Hub, sessionID, mode string, interests []string, candidates []matching.Candidate) PairingResult {
	banned := make(map[string]bool)
	for {
		for _, c := range candidates {
			banned[c.Addr] = false
		}
		res := h.CompletePairing(sessionID, mode, matching.Rank(interests, candidates), banned)
		if len(res.Retry) == 0 {
			return res
		}
		candidates = res.Retry
	}
}

// ---------- Registration and stats ----------

func TestConnectAndStats(t *testing.T) {
	h := newTestHub()

	h.Connect("a", "10.0.0.1")
	h.Connect("b", "10.0.0.2")

	stats := h.Stats()
	if stats.Online != 2 || stats.Waiting != 0 || stats.ActiveChats != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	addr, ok := h.AddrOf("a")
	if !ok || addr != "10.0.0.1" {
		t.Errorf("AddrOf(a) = %q, %v", addr, ok)
	}
	if _, ok := h.AddrOf("ghost"); ok {
		t.Error("expected AddrOf to miss for unknown session")
	}
}

// ---------- Pairing ----------

func TestPairing_FirstSearcherWaits(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.1")

	res := pair(t, h, "a", "text", []string{"music"})
	if !res.Waiting {
		t.Fatalf("expected waiting, got %+v", res)
	}
	if got := h.Stats().Waiting; got != 1 {
		t.Errorf("expected 1 waiting, got %d", got)
	}
}

func TestPairing_SecondSearcherMatches(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.1")
	h.Connect("b", "10.0.0.2")

	pair(t, h, "a", "text", nil)
	res := pair(t, h, "b", "text", nil)

	if !res.Matched {
		t.Fatalf("expected match, got %+v", res)
	}
	if res.PartnerID != "a" {
		t.Errorf("expected partner a, got %s", res.PartnerID)
	}
	if res.RoomID == "" {
		t.Error("expected a room id")
	}

	stats := h.Stats()
	if stats.Waiting != 0 || stats.ActiveChats != 1 {
		t.Errorf("unexpected stats after match: %+v", stats)
	}

	// Both sides resolve each other as partners.
	info, ok := h.Partner("a")
	if !ok || info.PartnerID != "b" || info.RoomID != res.RoomID {
		t.Errorf("Partner(a) = %+v, %v", info, ok)
	}
	info, ok = h.Partner("b")
	if !ok || info.PartnerID != "a" {
		t.Errorf("Partner(b) = %+v, %v", info, ok)
	}
}

func TestPairing_CrossingRequests(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.1")
	h.Connect("b", "10.0.0.2")

	// Both requests snapshot before either side enqueues: both snapshots
	// are empty, and only the live re-scan can bring them together.
	prepA, err := h.BeginPairing("a", "text", nil)
	if err != nil {
		t.Fatalf("BeginPairing(a): %v", err)
	}
	prepB, err := h.BeginPairing("b", "text", nil)
	if err != nil {
		t.Fatalf("BeginPairing(b): %v", err)
	}
	if len(prepA.Candidates) != 0 || len(prepB.Candidates) != 0 {
		t.Fatalf("expected empty snapshots, got %d/%d", len(prepA.Candidates), len(prepB.Candidates))
	}

	resA := completeAllClean(h, "a", "text", nil, prepA.Candidates)
	resB := completeAllClean(h, "b", "text", nil, prepB.Candidates)

	if !resA.Waiting {
		t.Fatalf("expected the first completion to wait, got %+v", resA)
	}
	if !resB.Matched || resB.PartnerID != "a" {
		t.Fatalf("expected the second completion to find a, got %+v", resB)
	}

	stats := h.Stats()
	if stats.ActiveChats != 1 || stats.Waiting != 0 {
		t.Errorf("expected one room and an empty queue, got %+v", stats)
	}
	if info, ok := h.Partner("a"); !ok || info.PartnerID != "b" {
		t.Errorf("Partner(a) = %+v, %v", info, ok)
	}
}

func TestPairing_RetryNamesOnlyUnknownAddresses(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.1")
	h.Connect("b", "10.0.0.2")

	prep, err := h.BeginPairing("b", "text", nil)
	if err != nil {
		t.Fatalf("BeginPairing(b): %v", err)
	}

	// a enqueues after b's snapshot.
	pair(t, h, "a", "text", nil)

	res := h.CompletePairing("b", "text", prep.Candidates, nil)
	if len(res.Retry) != 1 || res.Retry[0].SessionID != "a" {
		t.Fatalf("expected a retry naming the fresh candidate, got %+v", res)
	}
	if res.Matched || res.Waiting {
		t.Errorf("retry must not also match or enqueue: %+v", res)
	}

	// Once the address is known clean, the second round binds directly.
	res = h.CompletePairing("b", "text", nil, map[string]bool{"10.0.0.1": false})
	if !res.Matched || res.PartnerID != "a" {
		t.Fatalf("expected the known-clean candidate to be taken, got %+v", res)
	}
}

func TestPairing_RetrySkipsKnownBanned(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.66")
	h.Connect("b", "10.0.0.2")

	prep, err := h.BeginPairing("b", "text", nil)
	if err != nil {
		t.Fatalf("BeginPairing(b): %v", err)
	}
	pair(t, h, "a", "text", nil)

	res := h.CompletePairing("b", "text", prep.Candidates, map[string]bool{"10.0.0.66": true})
	if !res.Waiting {
		t.Fatalf("expected a banned fresh candidate to be ignored, got %+v", res)
	}
}

func TestPairing_PrefersSharedInterests(t *testing.T) {
	h := newTestHub()
	h.Connect("z", "10.0.0.1")
	h.Connect("y", "10.0.0.2")
	h.Connect("x", "10.0.0.3")

	// z queues first with no interests, y second with a shared one.
	pair(t, h, "z", "text", nil)
	pair(t, h, "y", "text", []string{"gaming"})

	res := pair(t, h, "x", "text", []string{"music", "gaming"})
	if !res.Matched || res.PartnerID != "y" {
		t.Fatalf("expected x to match y on shared interests, got %+v", res)
	}
}

func TestPairing_FIFOAmongTies(t *testing.T) {
	h := newTestHub()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("w%d", i)
		h.Connect(id, fmt.Sprintf("10.0.0.%d", i+1))
		pair(t, h, id, "text", nil)
	}
	h.Connect("req", "10.0.0.9")

	res := pair(t, h, "req", "text", nil)
	if !res.Matched || res.PartnerID != "w0" {
		t.Fatalf("expected FIFO pick w0, got %+v", res)
	}
}

func TestPairing_ModeMismatchExcluded(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.1")
	h.Connect("b", "10.0.0.2")

	pair(t, h, "a", "video", nil)
	res := pair(t, h, "b", "text", nil)

	if !res.Waiting {
		t.Fatalf("expected text searcher to wait past the video searcher, got %+v", res)
	}
	if got := h.Stats().Waiting; got != 2 {
		t.Errorf("expected both waiting, got %d", got)
	}
}

func TestPairing_BannedCandidateSkipped(t *testing.T) {
	h := newTestHub()
	h.Connect("banned", "10.0.0.66")
	h.Connect("clean", "10.0.0.2")
	h.Connect("req", "10.0.0.3")

	pair(t, h, "banned", "text", nil)
	pair(t, h, "clean", "text", nil)

	prep, err := h.BeginPairing("req", "text", nil)
	if err != nil {
		t.Fatalf("BeginPairing: %v", err)
	}
	res := h.CompletePairing("req", "text", prep.Candidates, map[string]bool{"10.0.0.66": true})
	if !res.Matched || res.PartnerID != "clean" {
		t.Fatalf("expected the banned candidate to be skipped, got %+v", res)
	}
}

func TestPairing_CandidateVanishedBetweenPhases(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.1")
	h.Connect("b", "10.0.0.2")

	pair(t, h, "a", "text", nil)

	prep, err := h.BeginPairing("b", "text", nil)
	if err != nil {
		t.Fatalf("BeginPairing: %v", err)
	}
	if len(prep.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(prep.Candidates))
	}

	// The candidate disconnects between the two phases.
	h.RemoveSession("a")

	res := h.CompletePairing("b", "text", prep.Candidates, nil)
	if !res.Waiting {
		t.Fatalf("expected requester to fall back to waiting, got %+v", res)
	}
}

func TestPairing_ModeChangedBetweenPhases(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.1")
	h.Connect("b", "10.0.0.2")

	pair(t, h, "a", "text", nil)

	prep, err := h.BeginPairing("b", "text", nil)
	if err != nil {
		t.Fatalf("BeginPairing: %v", err)
	}

	// The candidate re-queues for video before selection.
	pair(t, h, "a", "video", nil)

	res := h.CompletePairing("b", "text", prep.Candidates, nil)
	if !res.Waiting {
		t.Fatalf("expected stale-mode candidate to be rejected, got %+v", res)
	}
}

func TestPairing_RefindTearsDownRoom(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.1")
	h.Connect("b", "10.0.0.2")

	pair(t, h, "a", "text", nil)
	res := pair(t, h, "b", "text", nil)
	if !res.Matched {
		t.Fatal("setup: expected a match")
	}

	prep, err := h.BeginPairing("b", "text", nil)
	if err != nil {
		t.Fatalf("BeginPairing: %v", err)
	}
	if prep.PrevPartnerID != "a" {
		t.Errorf("expected abandoned partner a, got %q", prep.PrevPartnerID)
	}
	if _, ok := h.Partner("a"); ok {
		t.Error("expected a's room to be dissolved")
	}
	if h.Stats().ActiveChats != 0 {
		t.Error("expected no active rooms after teardown")
	}
}

func TestCancelSearch(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.1")

	pair(t, h, "a", "text", nil)
	h.CancelSearch("a")

	if got := h.Stats().Waiting; got != 0 {
		t.Errorf("expected empty queue after cancel, got %d", got)
	}

	// Cancelling again or for unknown sessions is harmless.
	h.CancelSearch("a")
	h.CancelSearch("ghost")
}

func TestBeginPairing_UnknownSession(t *testing.T) {
	h := newTestHub()
	if _, err := h.BeginPairing("ghost", "text", nil); err != ErrUnknownSession {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

// ---------- Relay ----------

func TestAppendMessage_LogsWithRoles(t *testing.T) {
	buf := transcript.NewBuffer(time.Hour, 1024)
	h := New(buf)
	h.Connect("a", "10.0.0.1")
	h.Connect("b", "10.0.0.2")

	pair(t, h, "a", "text", nil)
	res := pair(t, h, "b", "text", nil)

	// b initiated the room, so b is user_a.
	if _, ok := h.AppendMessage("b", res.RoomID, "hello"); !ok {
		t.Fatal("expected append from b to succeed")
	}
	if _, ok := h.AppendMessage("a", res.RoomID, "hi"); !ok {
		t.Fatal("expected append from a to succeed")
	}

	entries := buf.Get(res.RoomID)
	if len(entries) != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", len(entries))
	}
	if entries[0].Sender != "user_a" || entries[0].Text != "hello" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Sender != "user_b" || entries[1].Text != "hi" {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
}

func TestAppendMessage_StaleRoom(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.1")
	h.Connect("b", "10.0.0.2")

	pair(t, h, "a", "text", nil)
	res := pair(t, h, "b", "text", nil)

	h.LeaveRoom("a")

	if _, ok := h.AppendMessage("b", res.RoomID, "anyone?"); ok {
		t.Error("expected append to a dissolved room to be rejected")
	}
}

func TestLeaveRoom(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.1")
	h.Connect("b", "10.0.0.2")

	pair(t, h, "a", "text", nil)
	pair(t, h, "b", "text", nil)

	res, ok := h.LeaveRoom("a")
	if !ok {
		t.Fatal("expected LeaveRoom to succeed")
	}
	if res.PartnerID != "b" {
		t.Errorf("expected partner b, got %q", res.PartnerID)
	}

	// Both stay connected, neither is queued or in a room.
	stats := h.Stats()
	if stats.Online != 2 || stats.Waiting != 0 || stats.ActiveChats != 0 {
		t.Errorf("unexpected stats after leave: %+v", stats)
	}
	if _, ok := h.LeaveRoom("b"); ok {
		t.Error("expected second leave to be a no-op")
	}
}

func TestTranscriptFor(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.1")
	h.Connect("b", "10.0.0.2")

	pair(t, h, "a", "text", nil)
	res := pair(t, h, "b", "text", nil)
	h.AppendMessage("a", res.RoomID, "evidence")

	roomID, entries := h.TranscriptFor("b")
	if roomID != res.RoomID {
		t.Errorf("expected room %s, got %s", res.RoomID, roomID)
	}
	if len(entries) != 1 || entries[0].Text != "evidence" {
		t.Errorf("unexpected transcript: %+v", entries)
	}

	if roomID, entries := h.TranscriptFor("ghost"); roomID != "" || entries != nil {
		t.Error("expected empty transcript for unknown session")
	}
}

// ---------- Teardown ----------

func TestRemoveSession_DequeuesAndDissolvesRoom(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.1")
	h.Connect("b", "10.0.0.2")
	h.Connect("c", "10.0.0.3")

	pair(t, h, "a", "text", nil)
	pair(t, h, "b", "text", nil) // a+b in a room
	pair(t, h, "c", "text", nil) // c waiting

	res := h.RemoveSession("a")
	if !res.WasInRoom || res.PartnerID != "b" {
		t.Fatalf("expected room teardown naming b, got %+v", res)
	}

	res = h.RemoveSession("c")
	if res.WasInRoom || res.PartnerID != "" {
		t.Errorf("expected plain removal for a waiting session, got %+v", res)
	}

	stats := h.Stats()
	if stats.Online != 1 || stats.Waiting != 0 || stats.ActiveChats != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	// Removing an unknown session is harmless.
	h.RemoveSession("ghost")
}

// ---------- Stale sweep ----------

func TestSweepStale(t *testing.T) {
	h := newTestHub()
	h.Connect("idle", "10.0.0.1")
	h.Connect("active", "10.0.0.2")

	h.mu.Lock()
	h.sessions["idle"].LastActive = time.Now().Add(-10 * time.Minute)
	h.mu.Unlock()

	evicted := h.SweepStale(5 * time.Minute)
	if len(evicted) != 1 || evicted[0].SessionID != "idle" {
		t.Fatalf("expected only the idle session evicted, got %+v", evicted)
	}
	if h.Stats().Online != 1 {
		t.Errorf("expected 1 session left, got %d", h.Stats().Online)
	}
}

func TestSweepStale_EvictsRoomMemberAndNamesPartner(t *testing.T) {
	h := newTestHub()
	h.Connect("a", "10.0.0.1")
	h.Connect("b", "10.0.0.2")
	pair(t, h, "a", "text", nil)
	pair(t, h, "b", "text", nil)

	h.mu.Lock()
	h.sessions["a"].LastActive = time.Now().Add(-10 * time.Minute)
	h.mu.Unlock()

	evicted := h.SweepStale(5 * time.Minute)
	if len(evicted) != 1 {
		t.Fatalf("expected 1 eviction, got %d", len(evicted))
	}
	if evicted[0].PartnerID != "b" {
		t.Errorf("expected partner b to be named, got %q", evicted[0].PartnerID)
	}
	if _, ok := h.Partner("b"); ok {
		t.Error("expected b's room to be gone")
	}
}

// ---------- Concurrency ----------

// TestConcurrentPairing drives many sessions through find_partner at once
// and checks afterwards that the core invariant holds (every session is in
// at most one of the queue or a room, every room has exactly two live
// members) and that everybody actually matched: with an even same-mode
// population nobody may be left waiting.
func TestConcurrentPairing(t *testing.T) {
	h := newTestHub()
	const n = 100

	for i := 0; i < n; i++ {
		h.Connect(fmt.Sprintf("s%d", i), fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(id string) {
			defer wg.Done()
			prep, err := h.BeginPairing(id, "text", nil)
			if err != nil {
				t.Errorf("BeginPairing(%s): %v", id, err)
				return
			}
			completeAllClean(h, id, "text", nil, prep.Candidates)
		}(fmt.Sprintf("s%d", i))
	}
	wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()

	queued := make(map[string]bool, len(h.waiting))
	for _, id := range h.waiting {
		if queued[id] {
			t.Errorf("session %s queued twice", id)
		}
		queued[id] = true
		s := h.sessions[id]
		if s == nil {
			t.Errorf("queued session %s missing from registry", id)
			continue
		}
		if !s.waiting {
			t.Errorf("queued session %s not flagged waiting", id)
		}
		if s.roomID != "" {
			t.Errorf("session %s is both queued and in room %s", id, s.roomID)
		}
	}

	inRoom := make(map[string]string)
	for roomID, room := range h.rooms {
		for _, member := range room.Members {
			if prev, dup := inRoom[member]; dup {
				t.Errorf("session %s in rooms %s and %s", member, prev, roomID)
			}
			inRoom[member] = roomID
			s := h.sessions[member]
			if s == nil {
				t.Errorf("room %s member %s missing from registry", roomID, member)
				continue
			}
			if s.roomID != roomID {
				t.Errorf("session %s room pointer %q != membership %q", member, s.roomID, roomID)
			}
			if queued[member] {
				t.Errorf("session %s is both queued and in a room", member)
			}
		}
	}

	if 2*len(h.rooms)+len(h.waiting) != n {
		t.Errorf("population mismatch: %d rooms, %d waiting, %d sessions",
			len(h.rooms), len(h.waiting), n)
	}

	// The last request to settle re-scans the live queue under the lock, so
	// at most one same-mode session can end up waiting. With an even
	// population that means none.
	if len(h.waiting) != 0 || len(h.rooms) != n/2 {
		t.Errorf("expected %d rooms and an empty queue, got %d rooms and %d waiting",
			n/2, len(h.rooms), len(h.waiting))
	}
}

// TestConcurrentChurn mixes pairing, leaving and disconnecting.
func TestConcurrentChurn(t *testing.T) {
	h := newTestHub()
	const n = 60

	for i := 0; i < n; i++ {
		h.Connect(fmt.Sprintf("s%d", i), fmt.Sprintf("10.1.0.%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			for round := 0; round < 5; round++ {
				prep, err := h.BeginPairing(id, "text", nil)
				if err != nil {
					return
				}
				res := completeAllClean(h, id, "text", nil, prep.Candidates)
				if res.Matched {
					h.AppendMessage(id, res.RoomID, "hi")
					h.LeaveRoom(id)
				}
			}
			if i%3 == 0 {
				h.RemoveSession(id)
			}
		}(i)
	}
	wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID, room := range h.rooms {
		for _, member := range room.Members {
			s := h.sessions[member]
			if s == nil || s.roomID != roomID {
				t.Errorf("room %s holds a dead or detached member %s", roomID, member)
			}
		}
	}
	for _, id := range h.waiting {
		if h.sessions[id] == nil {
			t.Errorf("waiting queue holds removed session %s", id)
		}
	}
}
