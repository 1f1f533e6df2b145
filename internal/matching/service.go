package matching

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand/v2"
	"time"

	"github.com/whisper/santa/internal/event"
	"github.com/whisper/santa/internal/metrics"
	"github.com/whisper/santa/internal/protocol"
)

const drawTimeout = 30 * time.Second

// EventStore is the persistence the draw service needs.
type EventStore interface {
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	ListParticipants(ctx context.Context, eventID string) ([]event.Participant, error)
	ListRestrictions(ctx context.Context, eventID string) (map[string][]string, error)
	SaveDraw(ctx context.Context, eventID string, assignments []event.Assignment) error
}

// Locker serializes draws of the same event across matcher replicas.
type Locker interface {
	Acquire(ctx context.Context, eventID string) (string, bool, error)
	Release(ctx context.Context, eventID, token string) error
}

// Publisher delivers draw results and notifications.
type Publisher interface {
	PublishDrawResult(eventID string, data []byte) error
	PublishNotification(channel string, data []byte) error
}

// RequestSubscriber delivers draw requests to the service.
type RequestSubscriber interface {
	SubscribeDrawRequest(handler func(data []byte)) error
}

// Service is the background draw service: it turns draw requests into
// persisted assignments and queued notifications.
type Service struct {
	store   EventStore
	lock    Locker
	pub     Publisher
	newRand func() *rand.Rand
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewService creates a new draw service.
func NewService(store EventStore, lock Locker, pub Publisher) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:   store,
		lock:    lock,
		pub:     pub,
		newRand: newRand,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to draw requests.
func (s *Service) Start(sub RequestSubscriber) error {
	if err := sub.SubscribeDrawRequest(s.handleDrawRequest); err != nil {
		return err
	}
	log.Println("[matcher] service started")
	return nil
}

// Stop cancels in-flight draws.
func (s *Service) Stop() {
	s.cancel()
	log.Println("[matcher] service stopped")
}

func (s *Service) handleDrawRequest(data []byte) {
	var req protocol.DrawRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[matcher] invalid draw request: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, drawTimeout)
	defer cancel()

	s.Process(ctx, req)
}

// Process runs one draw end to end and publishes its result. A draw that
// cannot match everybody is reported as incomplete and nothing is stored,
// so that no participant is left without a giver or a receiver.
func (s *Service) Process(ctx context.Context, req protocol.DrawRequest) protocol.DrawResult {
	result := s.process(ctx, req)

	metrics.DrawsTotal.WithLabelValues(result.Status, tierLabel(result.Tier)).Inc()
	if err := publishResult(s.pub, result); err != nil {
		log.Printf("[matcher] publish result for event=%s: %v", req.EventID, err)
	}
	log.Printf("[matcher] draw event=%s status=%s tier=%s assigned=%d unmatched=%d",
		req.EventID, result.Status, tierLabel(result.Tier), result.Assigned, len(result.Unmatched))
	return result
}

func (s *Service) process(ctx context.Context, req protocol.DrawRequest) protocol.DrawResult {
	reject := func(reason string) protocol.DrawResult {
		return protocol.DrawResult{EventID: req.EventID, Status: protocol.DrawRejected, Reason: reason}
	}
	if req.EventID == "" {
		return reject("missing event id")
	}

	token, ok, err := s.lock.Acquire(ctx, req.EventID)
	switch {
	case err != nil:
		// SaveDraw still refuses a second draw, so proceed unlocked.
		log.Printf("[matcher] lock event=%s: %v (proceeding without lock)", req.EventID, err)
	case !ok:
		return protocol.DrawResult{EventID: req.EventID, Status: protocol.DrawBusy, Reason: "a draw is already running"}
	default:
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx), req.EventID, token); err != nil {
				log.Printf("[matcher] release lock event=%s: %v", req.EventID, err)
			}
		}()
	}

	ev, err := s.store.GetEvent(ctx, req.EventID)
	if errors.Is(err, event.ErrNotFound) {
		return reject("event not found")
	}
	if err != nil {
		log.Printf("[matcher] load event=%s: %v", req.EventID, err)
		return reject("failed to load event")
	}
	if ev.Status == event.StatusDrawn {
		return reject("assignments already drawn")
	}

	participants, err := s.store.ListParticipants(ctx, ev.ID)
	if err != nil {
		log.Printf("[matcher] load participants event=%s: %v", ev.ID, err)
		return reject("failed to load participants")
	}
	stored, err := s.store.ListRestrictions(ctx, ev.ID)
	if err != nil {
		log.Printf("[matcher] load restrictions event=%s: %v", ev.ID, err)
		return reject("failed to load restrictions")
	}

	emails := event.Emails(participants)
	restrictions := Restrictions(stored).Filter(emails)

	start := time.Now()
	res := Draw(emails, restrictions, s.newRand())
	metrics.DrawDuration.Observe(time.Since(start).Seconds())
	metrics.DrawParticipants.Observe(float64(len(emails)))

	if !res.Complete {
		out := protocol.DrawResult{
			EventID:   ev.ID,
			Status:    protocol.DrawIncomplete,
			Tier:      res.Tier.String(),
			Assigned:  len(res.Pairs),
			Unmatched: Unmatched(emails, res.Pairs),
		}
		if len(emails) < 2 {
			out.Reason = "at least two participants are required"
		} else {
			out.Reason = "restrictions leave some participants without a match"
		}
		return out
	}

	assignments := make([]event.Assignment, len(res.Pairs))
	for i, p := range res.Pairs {
		assignments[i] = event.Assignment{EventID: ev.ID, Giver: p.Giver, Receiver: p.Receiver}
	}
	if err := s.store.SaveDraw(ctx, ev.ID, assignments); err != nil {
		if errors.Is(err, event.ErrAlreadyDrawn) {
			return reject("assignments already drawn")
		}
		log.Printf("[matcher] save draw event=%s: %v", ev.ID, err)
		return reject("failed to save assignments")
	}

	sent, err := PublishAssignments(s.pub, ev, participants, res.Pairs)
	if err != nil {
		log.Printf("[matcher] notifications event=%s: %v", ev.ID, err)
	}
	log.Printf("[matcher] queued %d notifications for event=%s", sent, ev.ID)

	return protocol.DrawResult{
		EventID:  ev.ID,
		Status:   protocol.DrawComplete,
		Tier:     res.Tier.String(),
		Assigned: len(res.Pairs),
	}
}

func tierLabel(tier string) string {
	if tier == "" {
		return TierNone.String()
	}
	return tier
}
