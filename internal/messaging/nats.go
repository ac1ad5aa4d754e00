// Package messaging provides a NATS client wrapper for pub/sub messaging
// across Veil services. It handles connection lifecycle, subject-based
// subscriptions, and convenience methods for the matchmaking and moderation
// channels.
package messaging

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across Veil services.
const (
	SubjectMatchRequest    = "match.request"
	SubjectMatchCancel     = "match.cancel"
	SubjectMatchResult     = "match.result" // + .<participant_id>
	SubjectChatEnd         = "chat.end"
	SubjectChatSkip        = "chat.skip"
	SubjectChatEnded       = "chat.ended" // + .<participant_id>
	SubjectChatRate        = "chat.rate"
	SubjectReportSubmitted = "report.submitted"
	SubjectFrozen          = "moderation.frozen" // + .<participant_id>
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
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
		Name:          "veil",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
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

// participantSubject appends a participant id to a subject prefix.
func participantSubject(prefix string, id int64) string {
	return prefix + "." + strconv.FormatInt(id, 10)
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// subscribeData is Subscribe with the raw payload unwrapped for the handler.
func (c *NATSClient) subscribeData(subject string, handler func(data []byte)) error {
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishMatchRequest publishes a find-partner request.
func (c *NATSClient) PublishMatchRequest(data []byte) error {
	return c.Publish(SubjectMatchRequest, data)
}

// SubscribeMatchRequest subscribes to find-partner requests from the command layer.
func (c *NATSClient) SubscribeMatchRequest(handler func(data []byte)) error {
	return c.subscribeData(SubjectMatchRequest, handler)
}

// PublishMatchCancel publishes a cancel-search request.
func (c *NATSClient) PublishMatchCancel(data []byte) error {
	return c.Publish(SubjectMatchCancel, data)
}

// SubscribeMatchCancel subscribes to cancel-search requests.
func (c *NATSClient) SubscribeMatchCancel(handler func(data []byte)) error {
	return c.subscribeData(SubjectMatchCancel, handler)
}

// PublishMatchResult publishes a match outcome to a specific participant.
func (c *NATSClient) PublishMatchResult(id int64, data []byte) error {
	return c.Publish(participantSubject(SubjectMatchResult, id), data)
}

// SubscribeMatchResult subscribes to match outcomes for a specific participant.
func (c *NATSClient) SubscribeMatchResult(id int64, handler func(data []byte)) error {
	return c.subscribeData(participantSubject(SubjectMatchResult, id), handler)
}

// UnsubscribeMatchResult unsubscribes a participant's match outcome channel.
func (c *NATSClient) UnsubscribeMatchResult(id int64) error {
	return c.unsubscribe(participantSubject(SubjectMatchResult, id))
}

// PublishChatEnd publishes an end-chat request.
func (c *NATSClient) PublishChatEnd(data []byte) error {
	return c.Publish(SubjectChatEnd, data)
}

// SubscribeChatEnd subscribes to end-chat requests.
func (c *NATSClient) SubscribeChatEnd(handler func(data []byte)) error {
	return c.subscribeData(SubjectChatEnd, handler)
}

// PublishChatSkip publishes a skip-to-next-partner request.
func (c *NATSClient) PublishChatSkip(data []byte) error {
	return c.Publish(SubjectChatSkip, data)
}

// SubscribeChatSkip subscribes to skip requests.
func (c *NATSClient) SubscribeChatSkip(handler func(data []byte)) error {
	return c.subscribeData(SubjectChatSkip, handler)
}

// PublishChatEnded notifies a participant that their conversation is over.
func (c *NATSClient) PublishChatEnded(id int64, data []byte) error {
	return c.Publish(participantSubject(SubjectChatEnded, id), data)
}

// SubscribeChatEnded subscribes to conversation-over notifications for a participant.
func (c *NATSClient) SubscribeChatEnded(id int64, handler func(data []byte)) error {
	return c.subscribeData(participantSubject(SubjectChatEnded, id), handler)
}

// PublishChatRate publishes a post-chat rating.
func (c *NATSClient) PublishChatRate(data []byte) error {
	return c.Publish(SubjectChatRate, data)
}

// SubscribeChatRate subscribes to post-chat ratings.
func (c *NATSClient) SubscribeChatRate(handler func(data []byte)) error {
	return c.subscribeData(SubjectChatRate, handler)
}

// PublishReport publishes an abuse report for the moderation service.
func (c *NATSClient) PublishReport(data []byte) error {
	return c.Publish(SubjectReportSubmitted, data)
}

// SubscribeReports subscribes to abuse reports.
func (c *NATSClient) SubscribeReports(handler func(data []byte)) error {
	return c.subscribeData(SubjectReportSubmitted, handler)
}

// PublishFrozen notifies a participant that a freeze was applied to them.
func (c *NATSClient) PublishFrozen(id int64, data []byte) error {
	return c.Publish(participantSubject(SubjectFrozen, id), data)
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

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
