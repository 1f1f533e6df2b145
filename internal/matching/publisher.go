package matching

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/whisper/santa/internal/event"
	"github.com/whisper/santa/internal/metrics"
	"github.com/whisper/santa/internal/protocol"
)

// PublishAssignments queues one notification per giver per chosen channel.
// SMS and WhatsApp are skipped for participants without a phone number.
// Returns the number of notifications published; individual failures are
// joined into the returned error and do not stop the fan-out.
func PublishAssignments(pub Publisher, ev *event.Event, participants []event.Participant, pairs []Pair) (int, error) {
	byEmail := make(map[string]event.Participant, len(participants))
	for _, p := range participants {
		byEmail[p.Email] = p
	}

	var exchangeDate string
	if ev.ExchangeDate != nil {
		exchangeDate = ev.ExchangeDate.Format("2006-01-02")
	}

	var (
		sent int
		errs []error
	)
	for _, pair := range pairs {
		giver, ok := byEmail[pair.Giver]
		if !ok {
			continue
		}
		receiver := byEmail[pair.Receiver]

		for _, channel := range giver.Channels {
			to := giver.Email
			switch channel {
			case protocol.ChannelEmail:
			case protocol.ChannelSMS, protocol.ChannelWhatsApp:
				to = giver.Phone
			default:
				continue
			}
			if to == "" {
				metrics.NotificationsTotal.WithLabelValues(channel, "skipped").Inc()
				continue
			}

			data, err := json.Marshal(protocol.Notification{
				EventID:       ev.ID,
				EventName:     ev.Name,
				Channel:       channel,
				To:            to,
				GiverName:     giver.Name,
				ReceiverName:  receiver.Name,
				ReceiverEmail: receiver.Email,
				Wishlist:      receiver.Wishlist,
				BudgetCents:   ev.BudgetCents,
				Currency:      ev.Currency,
				ExchangeDate:  exchangeDate,
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("matching: marshal notification for %s: %w", giver.Email, err))
				continue
			}
			if err := pub.PublishNotification(channel, data); err != nil {
				errs = append(errs, fmt.Errorf("matching: publish %s notification for %s: %w", channel, giver.Email, err))
				continue
			}
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

func publishResult(pub Publisher, result protocol.DrawResult) error {
	if result.EventID == "" {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("matching: marshal draw result: %w", err)
	}
	if err := pub.PublishDrawResult(result.EventID, data); err != nil {
		return fmt.Errorf("matching: publish draw result: %w", err)
	}
	return nil
}
