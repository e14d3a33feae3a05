package main

import (
	"context"
	"database/sql"
	"errors"
	"html"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/gsay/chatroulette/internal/config"
	"github.com/gsay/chatroulette/internal/hub"
	"github.com/gsay/chatroulette/internal/matching"
	"github.com/gsay/chatroulette/internal/messaging"
	"github.com/gsay/chatroulette/internal/metrics"
	"github.com/gsay/chatroulette/internal/moderation"
	"github.com/gsay/chatroulette/internal/protocol"
	"github.com/gsay/chatroulette/internal/ratelimit"
	"github.com/gsay/chatroulette/internal/transcript"
	"github.com/gsay/chatroulette/internal/ws"
)

// maxMessageLen caps relayed text messages, in runes.
const maxMessageLen = 2000

func main() {
	cfg := config.MustLoad()

	serverConfig := ws.ServerConfig{
		ListenAddr:        cfg.ListenAddr,
		WorkerPoolSize:    cfg.WorkerPoolSize,
		MaxConnections:    cfg.MaxConnections,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
	}

	// --- PostgreSQL + migrations ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("failed to reach postgres: %v", err)
	}
	pingCancel()

	m, err := migrate.New("file://"+cfg.MigrationsPath, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to init migrations: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	// --- Redis (rate limiting) ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	limiter := ratelimit.NewLimiter(rdb)

	// --- NATS (moderation audit stream, optional) ---
	var events moderation.Publisher
	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		events = natsClient
	}

	// --- Moderation ---
	store := moderation.NewStore(db)
	sink, err := moderation.NewTranscriptSink(cfg.TranscriptDir)
	if err != nil {
		log.Fatalf("failed to create transcript sink: %v", err)
	}
	engine := moderation.NewEngine(store, sink, events, cfg.ReportThreshold, cfg.BanBaseDuration)

	// --- Hub ---
	transcripts := transcript.NewBuffer(cfg.TranscriptRetention, cfg.TranscriptMaxRooms)
	h := hub.New(transcripts)

	log.Printf("chatroulette server starting")
	log.Printf("  listen_addr:      %s", cfg.ListenAddr)
	log.Printf("  metrics_addr:     %s", cfg.MetricsAddr)
	log.Printf("  worker_pool:      %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections:  %d", cfg.MaxConnections)
	log.Printf("  postgres:         configured")
	log.Printf("  redis_addr:       %s", cfg.RedisAddr)
	log.Printf("  nats_url:         %s", cfg.NATSURL)
	log.Printf("  report_threshold: %d", cfg.ReportThreshold)
	log.Printf("  ban_base:         %s", cfg.BanBaseDuration)

	// Declare server early so closures can capture it.
	var server *ws.Server

	// send builds and delivers one server event; errors are logged only, the
	// epoll loop reaps dead connections.
	send := func(connID, msgType string, payload interface{}) {
		data, err := protocol.NewServerMessage(msgType, payload)
		if err != nil {
			log.Printf("failed to build %s for session=%s: %v", msgType, connID, err)
			return
		}
		if err := server.SendMessage(connID, data); err != nil {
			log.Printf("failed to send %s to session=%s: %v", msgType, connID, err)
		}
	}

	// broadcastStats pushes the live counters to every client and refreshes
	// the gauges. Called after every state-changing operation.
	broadcastStats := func() {
		stats := h.Stats()
		metrics.OnlineSessions.Set(float64(stats.Online))
		metrics.WaitingSessions.Set(float64(stats.Waiting))
		metrics.ActiveRooms.Set(float64(stats.ActiveChats))

		data, err := protocol.NewServerMessage(protocol.TypeStatsUpdate, protocol.StatsUpdateMsg{
			Online:      stats.Online,
			Waiting:     stats.Waiting,
			ActiveChats: stats.ActiveChats,
		})
		if err != nil {
			log.Printf("failed to build stats_update: %v", err)
			return
		}
		server.Connections().Broadcast(data)
	}

	// isBanned wraps the store lookup with the fail-open policy: a store
	// outage must not lock everyone out.
	isBanned := func(addr string) (bool, time.Time, string) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		banned, banEnd, reason, err := store.IsBanned(ctx, addr)
		if err != nil {
			log.Printf("ban lookup failed for %s (failing open): %v", addr, err)
			return false, time.Time{}, ""
		}
		return banned, banEnd, reason
	}

	// notifyPartnerGone tells an abandoned partner its room is over.
	notifyPartnerGone := func(partnerID string) {
		if partnerID != "" {
			send(partnerID, protocol.TypePartnerDisconnected, protocol.PartnerDisconnectedMsg{})
		}
	}

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// find_partner — two-phase pairing: snapshot under the hub lock, ban
	// lookups outside it, select-and-remove with re-validation
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeFindPartner, func(conn *ws.Connection, msg interface{}) {
		findMsg, ok := msg.(protocol.FindPartnerMsg)
		if !ok {
			return
		}
		sid := conn.ID

		if !protocol.ValidMode(findMsg.ChatMode) {
			dispatcher.SendError(conn, "unknown chat mode")
			return
		}

		// A ban issued mid-connection blocks new searches.
		if banned, banEnd, reason := isBanned(conn.Addr); banned {
			send(sid, protocol.TypeBanned, protocol.BannedMsg{
				BanEnd: banEnd.Format(time.RFC3339),
				Reason: reason,
			})
			return
		}

		prep, err := h.BeginPairing(sid, findMsg.ChatMode, findMsg.Interests)
		if err != nil {
			dispatcher.SendError(conn, "session not registered")
			return
		}
		notifyPartnerGone(prep.PrevPartnerID)

		// Phase two: rank the snapshot and look up candidate bans outside
		// the hub lock, then let the hub select. Peers that enqueued after
		// the snapshot come back in Retry for another lookup round; the
		// loop terminates because Retry only ever names addresses not yet
		// in the banned map.
		candidates := prep.Candidates
		banned := make(map[string]bool)
		var res hub.PairingResult
		for {
			for _, c := range candidates {
				if _, seen := banned[c.Addr]; seen {
					continue
				}
				isB, _, _ := isBanned(c.Addr)
				banned[c.Addr] = isB
			}
			res = h.CompletePairing(sid, findMsg.ChatMode, matching.Rank(findMsg.Interests, candidates), banned)
			if len(res.Retry) == 0 {
				break
			}
			candidates = res.Retry
		}
		switch {
		case res.Matched:
			send(sid, protocol.TypeMatched, protocol.MatchedMsg{
				Room:      res.RoomID,
				PartnerID: res.PartnerID,
				Initiator: true,
			})
			send(res.PartnerID, protocol.TypeMatched, protocol.MatchedMsg{
				Room:      res.RoomID,
				PartnerID: sid,
				Initiator: false,
			})
			log.Printf("matched session=%s partner=%s room=%s mode=%s", sid, res.PartnerID, res.RoomID, findMsg.ChatMode)
		case res.Waiting:
			send(sid, protocol.TypeWaiting, protocol.WaitingMsg{})
		}
		broadcastStats()
	})

	// -----------------------------------------------------------------------
	// stop_searching — leave the waiting queue
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeStopSearching, func(conn *ws.Connection, msg interface{}) {
		h.CancelSearch(conn.ID)
		h.Touch(conn.ID)
		broadcastStats()
	})

	// -----------------------------------------------------------------------
	// send_message — sanitize, log to the transcript, relay to the partner
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		sid := conn.ID

		if sendMsg.Message == "" || !utf8.ValidString(sendMsg.Message) ||
			utf8.RuneCountInString(sendMsg.Message) > maxMessageLen {
			dispatcher.SendError(conn, "invalid message")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		allowed, _ := limiter.Allow(ctx, sid, ratelimit.RuleMessage)
		cancel()
		if !allowed {
			dispatcher.SendError(conn, "too many messages")
			return
		}

		info, ok := h.Partner(sid)
		if !ok {
			dispatcher.SendError(conn, "no active chat")
			return
		}

		// Partner-ban check runs between the two hub critical sections.
		if banned, _, _ := isBanned(info.PartnerAddr); banned {
			dispatcher.SendError(conn, "partner unavailable")
			return
		}

		escaped := html.EscapeString(sendMsg.Message)
		if _, ok := h.AppendMessage(sid, info.RoomID, escaped); !ok {
			// The room dissolved between lookup and append; the partner
			// notice is already on its way. Not an error.
			return
		}

		send(info.PartnerID, protocol.TypeMessage, protocol.RelayedMessageMsg{
			Message: escaped,
			Sender:  "Stranger",
		})
		metrics.RelayedTotal.WithLabelValues("message").Inc()
	})

	// -----------------------------------------------------------------------
	// typing / stop_typing — relay the indicator, skip the transcript
	// -----------------------------------------------------------------------
	relayTyping := func(conn *ws.Connection, msgType string) {
		h.Touch(conn.ID)
		info, ok := h.Partner(conn.ID)
		if !ok {
			return
		}
		send(info.PartnerID, msgType, protocol.TypingMsg{})
		metrics.RelayedTotal.WithLabelValues("typing").Inc()
	}
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		relayTyping(conn, protocol.TypeTyping)
	})
	dispatcher.Register(protocol.TypeStopTyping, func(conn *ws.Connection, msg interface{}) {
		relayTyping(conn, protocol.TypeStopTyping)
	})

	// -----------------------------------------------------------------------
	// video_offer / video_answer / ice_candidate — opaque relay
	// -----------------------------------------------------------------------
	relaySignal := func(conn *ws.Connection, msg interface{}) {
		sig, ok := msg.(protocol.SignalMsg)
		if !ok {
			return
		}
		h.Touch(conn.ID)
		info, ok := h.Partner(conn.ID)
		if !ok {
			dispatcher.SendError(conn, "no active chat")
			return
		}
		// The payload is never inspected: the partner gets the frame verbatim.
		if err := server.SendMessage(info.PartnerID, sig.Raw); err != nil {
			log.Printf("failed to relay %s to session=%s: %v", sig.Type, info.PartnerID, err)
			return
		}
		metrics.RelayedTotal.WithLabelValues("signal").Inc()
	}
	dispatcher.Register(protocol.TypeVideoOffer, relaySignal)
	dispatcher.Register(protocol.TypeVideoAnswer, relaySignal)
	dispatcher.Register(protocol.TypeIceCandidate, relaySignal)

	// -----------------------------------------------------------------------
	// next_partner — dissolve the room; the client follows with find_partner
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeNextPartner, func(conn *ws.Connection, msg interface{}) {
		h.Touch(conn.ID)
		res, ok := h.LeaveRoom(conn.ID)
		if !ok {
			return
		}
		notifyPartnerGone(res.PartnerID)
		broadcastStats()
	})

	// -----------------------------------------------------------------------
	// report_user — file the report; past the threshold the reported session
	// is banned and force-disconnected
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeReportUser, func(conn *ws.Connection, msg interface{}) {
		reportMsg, ok := msg.(protocol.ReportUserMsg)
		if !ok {
			return
		}
		sid := conn.ID
		h.Touch(sid)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		allowed, _ := limiter.Allow(ctx, sid, ratelimit.RuleReport)
		cancel()
		if !allowed {
			dispatcher.SendError(conn, "too many reports")
			return
		}

		reportedAddr, _ := h.AddrOf(reportMsg.ReportedID)
		roomID, entries := h.TranscriptFor(sid)

		fileCtx, fileCancel := context.WithTimeout(context.Background(), 10*time.Second)
		outcome, err := engine.FileReport(fileCtx, moderation.ReportInput{
			ReporterID:   sid,
			ReportedID:   reportMsg.ReportedID,
			ReporterAddr: conn.Addr,
			ReportedAddr: reportedAddr,
			Reason:       reportMsg.Reason,
			Comment:      reportMsg.Comment,
			RoomID:       roomID,
			Transcript:   entries,
		})
		fileCancel()
		if err != nil {
			switch {
			case errors.Is(err, moderation.ErrSelfReport):
				dispatcher.SendError(conn, "cannot report yourself")
			case errors.Is(err, moderation.ErrUnknownReason):
				dispatcher.SendError(conn, "unknown report reason")
			case errors.Is(err, moderation.ErrUnresolvedAddress):
				dispatcher.SendError(conn, "nobody to report")
			default:
				log.Printf("report from session=%s failed: %v", sid, err)
				dispatcher.SendError(conn, "report failed")
			}
			return
		}

		metrics.ReportsTotal.Inc()
		log.Printf("report filed id=%d session=%s reported=%s reason=%s count=%d",
			outcome.ReportID, sid, reportMsg.ReportedID, reportMsg.Reason, outcome.Count)

		if !outcome.Banned {
			return
		}
		metrics.BansTotal.Inc()

		// Terminate the banned session: out of the hub, partner notified,
		// final force_disconnect, connection closed.
		res := h.RemoveSession(reportMsg.ReportedID)
		notifyPartnerGone(res.PartnerID)
		send(reportMsg.ReportedID, protocol.TypeForceDisconnect, protocol.ForceDisconnectMsg{
			BanEnd: outcome.BanEnd.Format(time.RFC3339),
			Reason: outcome.Reason,
		})
		if c := server.Connections().Get(reportMsg.ReportedID); c != nil {
			server.RemoveConnection(c)
		}
		broadcastStats()
	})

	// -----------------------------------------------------------------------
	// change_mode — full session reset before switching text/video
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeChangeMode, func(conn *ws.Connection, msg interface{}) {
		res := h.RemoveSession(conn.ID)
		notifyPartnerGone(res.PartnerID)
		h.Connect(conn.ID, conn.Addr)
		broadcastStats()
	})

	// -----------------------------------------------------------------------
	// get_stats — on-demand stats for the caller
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeGetStats, func(conn *ws.Connection, msg interface{}) {
		stats := h.Stats()
		send(conn.ID, protocol.TypeStatsUpdate, protocol.StatsUpdateMsg{
			Online:      stats.Online,
			Waiting:     stats.Waiting,
			ActiveChats: stats.ActiveChats,
		})
	})

	server = ws.NewServer(serverConfig, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Admission: per-IP connect rate limit, then the ban check. Both run
	// before any session state exists.
	server.SetOnAdmit(func(addr string) ([]byte, bool) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		allowed, _ := limiter.Allow(ctx, addr, ratelimit.RuleConnect)
		cancel()
		if !allowed {
			return nil, false
		}

		if banned, banEnd, reason := isBanned(addr); banned {
			reject, _ := protocol.NewServerMessage(protocol.TypeBanned, protocol.BannedMsg{
				BanEnd: banEnd.Format(time.RFC3339),
				Reason: reason,
			})
			return reject, false
		}
		return nil, true
	})

	server.SetOnConnect(func(conn *ws.Connection) {
		h.Connect(conn.ID, conn.Addr)
		broadcastStats()
	})

	server.SetOnDisconnect(func(connID string) {
		res := h.RemoveSession(connID)
		notifyPartnerGone(res.PartnerID)
		broadcastStats()
	})

	server.SetBanStatus(func(addr string) ws.BanStatus {
		banned, banEnd, reason := isBanned(addr)
		if !banned {
			return ws.BanStatus{}
		}
		return ws.BanStatus{Banned: true, BanEnd: banEnd.Format(time.RFC3339), Reason: reason}
	})

	// --- Sweepers ---
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go moderation.StartBanSweep(sweepCtx, store, cfg.BanSweepInterval)
	go transcripts.StartEviction(sweepCtx, cfg.TranscriptSweepInterval)
	go h.StartStaleSweep(sweepCtx, cfg.StaleSweepInterval, cfg.SessionTimeout, func(res hub.TeardownResult) {
		notifyPartnerGone(res.PartnerID)
		if c := server.Connections().Get(res.SessionID); c != nil {
			server.RemoveConnection(c)
		}
		broadcastStats()
	})

	// --- Metrics listener ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		sweepCancel()
		if natsClient != nil {
			natsClient.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
