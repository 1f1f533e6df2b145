package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/whisper/santa/internal/metrics"
	"github.com/whisper/santa/internal/protocol"
)

const sendTimeout = 10 * time.Second

// Sender delivers a rendered message on one channel. Email, SMS and
// WhatsApp vendors implement it outside this repository.
type Sender interface {
	Send(ctx context.Context, channel, to, subject, body string) error
}

// LogSender writes every message to the log instead of delivering it.
type LogSender struct{}

// Send logs the message.
func (LogSender) Send(_ context.Context, channel, to, subject, body string) error {
	log.Printf("[notifier] %s to=%s subject=%q body=%q", channel, to, subject, body)
	return nil
}

// Subscriber delivers queued notifications for a channel.
type Subscriber interface {
	SubscribeNotifications(channel string, handler func(data []byte)) error
}

// Dispatcher consumes notify.<channel> subjects and delivers each
// notification through the Sender registered for its channel.
type Dispatcher struct {
	senders map[string]Sender
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewDispatcher creates a dispatcher. fallback is used for every channel
// without an entry in senders; it may be nil.
func NewDispatcher(senders map[string]Sender, fallback Sender) *Dispatcher {
	all := make(map[string]Sender, len(protocol.Channels))
	for _, ch := range protocol.Channels {
		if s, ok := senders[ch]; ok {
			all[ch] = s
		} else if fallback != nil {
			all[ch] = fallback
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{senders: all, ctx: ctx, cancel: cancel}
}

// Start subscribes to every channel that has a sender.
func (d *Dispatcher) Start(sub Subscriber) error {
	for channel := range d.senders {
		if err := sub.SubscribeNotifications(channel, func(data []byte) { d.Handle(data) }); err != nil {
			return err
		}
		log.Printf("[notifier] listening on %s", channel)
	}
	return nil
}

// Stop cancels in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.cancel()
	log.Println("[notifier] dispatcher stopped")
}

// Handle decodes, renders and delivers one notification. It reports whether
// the notification was sent.
func (d *Dispatcher) Handle(data []byte) bool {
	var n protocol.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		log.Printf("[notifier] invalid notification: %v", err)
		return false
	}

	sender, ok := d.senders[n.Channel]
	if !ok {
		log.Printf("[notifier] no sender for channel %q (event=%s)", n.Channel, n.EventID)
		metrics.NotificationsTotal.WithLabelValues(n.Channel, "skipped").Inc()
		return false
	}

	subject, body, err := Render(n)
	if err != nil {
		log.Printf("[notifier] render event=%s to=%s: %v", n.EventID, n.To, err)
		metrics.NotificationsTotal.WithLabelValues(n.Channel, "failed").Inc()
		return false
	}

	ctx, cancel := context.WithTimeout(d.ctx, sendTimeout)
	defer cancel()

	if err := sender.Send(ctx, n.Channel, n.To, subject, body); err != nil {
		log.Printf("[notifier] send %s event=%s to=%s: %v", n.Channel, n.EventID, n.To, err)
		metrics.NotificationsTotal.WithLabelValues(n.Channel, "failed").Inc()
		return false
	}

	metrics.NotificationsTotal.WithLabelValues(n.Channel, "sent").Inc()
	return true
}
