// Package messaging provides a NATS client wrapper for pub/sub messaging
// across Santa services. It handles connection lifecycle, subject-based
// subscriptions, and convenience methods for draw and notification subjects.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across Santa services.
const (
	SubjectDrawRequest = "draw.request"
	SubjectDrawResult  = "draw.result" // + .<event_id>
	SubjectNotify      = "notify"      // + .<channel>
)

// Queue groups, so that several worker replicas share one stream.
const (
	QueueMatchers  = "matchers"
	QueueNotifiers = "notifiers"
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
		URL:           nats.DefaultURL,
		Name:          "santa",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
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

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription under key for later cleanup.
func (c *NATSClient) Subscribe(key, subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.track(key, sub)
	return nil
}

// QueueSubscribe registers a handler that shares the subject with every
// other member of queue: each message is delivered to one member only.
func (c *NATSClient) QueueSubscribe(subject, queue string, handler func(data []byte)) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s/%s: %w", subject, queue, err)
	}
	c.track(subject+"#"+queue, sub)
	return nil
}

// PublishDrawRequest publishes data to the draw.request subject.
func (c *NATSClient) PublishDrawRequest(data []byte) error {
	return c.Publish(SubjectDrawRequest, data)
}

// SubscribeDrawRequest joins the matcher queue group on draw.request.
func (c *NATSClient) SubscribeDrawRequest(handler func(data []byte)) error {
	return c.QueueSubscribe(SubjectDrawRequest, QueueMatchers, handler)
}

// PublishDrawResult publishes data to the draw.result.<eventID> subject.
func (c *NATSClient) PublishDrawResult(eventID string, data []byte) error {
	return c.Publish(SubjectDrawResult+"."+eventID, data)
}

// SubscribeDrawResult subscribes to draw.result.<eventID>. The subscription
// is keyed by key so that callers can hold one subscription per watcher.
func (c *NATSClient) SubscribeDrawResult(eventID, key string, handler func(data []byte)) error {
	return c.Subscribe(key, SubjectDrawResult+"."+eventID, handler)
}

// UnsubscribeDrawResult removes a subscription created by SubscribeDrawResult.
func (c *NATSClient) UnsubscribeDrawResult(key string) error {
	return c.unsubscribe(key)
}

// PublishNotification publishes data to the notify.<channel> subject.
func (c *NATSClient) PublishNotification(channel string, data []byte) error {
	return c.Publish(SubjectNotify+"."+channel, data)
}

// SubscribeNotifications joins the notifier queue group on notify.<channel>.
func (c *NATSClient) SubscribeNotifications(channel string, handler func(data []byte)) error {
	return c.QueueSubscribe(SubjectNotify+"."+channel, QueueNotifiers, handler)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

func (c *NATSClient) track(key string, sub *nats.Subscription) {
	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
}

// unsubscribe removes and unsubscribes the subscription stored under key.
func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}
