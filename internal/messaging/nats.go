// Package messaging provides a NATS client wrapper for the moderation audit
// stream. The server publishes every filed report and issued ban; the
// moderator tool subscribes to both subjects. Publishing is best-effort and
// never gates session state.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gsay/chatroulette/internal/moderation"
)

// Audit stream subjects.
const (
	SubjectReportFiled = "moderation.report"
	SubjectBanIssued   = "moderation.ban"
)

// NATSClient wraps the NATS connection with helper methods for the audit
// stream.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "chatroulette",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishReportFiled publishes a report event to the audit stream.
func (c *NATSClient) PublishReportFiled(_ context.Context, ev moderation.ReportFiledEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats: marshal report event: %w", err)
	}
	return c.conn.Publish(SubjectReportFiled, data)
}

// PublishBanIssued publishes a ban event to the audit stream.
func (c *NATSClient) PublishBanIssued(_ context.Context, ev moderation.BanIssuedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats: marshal ban event: %w", err)
	}
	return c.conn.Publish(SubjectBanIssued, data)
}

// SubscribeReports registers a handler for report events.
func (c *NATSClient) SubscribeReports(handler func(ev moderation.ReportFiledEvent)) error {
	return c.subscribe(SubjectReportFiled, func(msg *nats.Msg) {
		var ev moderation.ReportFiledEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] bad report event: %v", err)
			return
		}
		handler(ev)
	})
}

// SubscribeBans registers a handler for ban events.
func (c *NATSClient) SubscribeBans(handler func(ev moderation.BanIssuedEvent)) error {
	return c.subscribe(SubjectBanIssued, func(msg *nats.Msg) {
		var ev moderation.BanIssuedEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] bad ban event: %v", err)
			return
		}
		handler(ev)
	})
}

// subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
