// Command moderator tails the moderation audit stream. Operators run it to
// watch reports and bans in real time without querying Postgres.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gsay/chatroulette/internal/messaging"
	"github.com/gsay/chatroulette/internal/moderation"
)

func main() {
	log.Println("Starting moderation audit tail...")

	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "chatroulette-moderator"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	err = natsClient.SubscribeReports(func(ev moderation.ReportFiledEvent) {
		log.Printf("[moderator] REPORT id=%d reporter=%s reported=%s reason=%s count=%d",
			ev.ReportID, ev.ReporterAddr, ev.ReportedAddr, ev.Reason, ev.Count)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to reports: %v", err)
	}

	err = natsClient.SubscribeBans(func(ev moderation.BanIssuedEvent) {
		log.Printf("[moderator] BAN addr=%s until=%s reason=%s ban_count=%d",
			ev.Addr, ev.BanEnd.Format("2006-01-02 15:04:05"), ev.Reason, ev.BanCount)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to bans: %v", err)
	}

	log.Printf("moderation audit tail running")
	log.Printf("  nats_url: %s", natsConfig.URL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
}
