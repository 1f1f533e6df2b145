// Package event provides PostgreSQL-backed storage for gift-exchange events:
// the event itself, its participants, the restrictions between them and the
// assignments produced by a draw.
package event

import (
	"errors"
	"time"

	"github.com/samber/lo"
)

// Event statuses.
const (
	StatusOpen  = "open"
	StatusDrawn = "drawn"
)

var (
	ErrNotFound        = errors.New("event: not found")
	ErrAlreadyDrawn    = errors.New("event: assignments already drawn")
	ErrNotParticipant  = errors.New("event: not a participant")
	ErrSelfRestriction = errors.New("event: participant cannot restrict themselves")
)

// Event is a single gift exchange.
type Event struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	OrganizerEmail string     `json:"organizer_email"`
	BudgetCents    int64      `json:"budget_cents"`
	Currency       string     `json:"currency"`
	ExchangeDate   *time.Time `json:"exchange_date,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	DrawnAt        *time.Time `json:"drawn_at,omitempty"`
}

// Participant is identified by Email within an event.
type Participant struct {
	EventID  string   `json:"event_id"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Phone    string   `json:"phone,omitempty"`
	Channels []string `json:"channels"`
	Wishlist string   `json:"wishlist,omitempty"`
}

// HasChannel reports whether the participant asked to be notified on ch.
func (p Participant) HasChannel(ch string) bool {
	return lo.Contains(p.Channels, ch)
}

// Restriction forbids Giver from giving to Receiver.
type Restriction struct {
	EventID  string `json:"event_id"`
	Giver    string `json:"giver"`
	Receiver string `json:"receiver"`
}

// Assignment is one drawn pair.
type Assignment struct {
	EventID   string    `json:"event_id"`
	Giver     string    `json:"giver"`
	Receiver  string    `json:"receiver"`
	CreatedAt time.Time `json:"created_at"`
}

// Emails returns the participant identifiers in the given order.
func Emails(participants []Participant) []string {
	return lo.Map(participants, func(p Participant, _ int) string { return p.Email })
}
