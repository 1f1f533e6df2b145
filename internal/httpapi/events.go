package httpapi

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/whisper/santa/internal/event"
	"github.com/whisper/santa/internal/ratelimit"
)

type eventResponse struct {
	Event            *event.Event `json:"event"`
	ParticipantCount int          `json:"participant_count"`
}

func (h *Handler) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, clientIP(r), ratelimit.RuleCreateEvent) {
		return
	}

	var req createEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.OrganizerEmail = normalizeEmail(req.OrganizerEmail)
	req.Currency = strings.ToUpper(req.Currency)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", validationMessage(err))
		return
	}

	ev := &event.Event{
		Name:           strings.TrimSpace(req.Name),
		OrganizerEmail: req.OrganizerEmail,
		BudgetCents:    req.BudgetCents,
		Currency:       req.Currency,
	}
	if req.ExchangeDate != "" {
		// Already validated as YYYY-MM-DD.
		d, _ := time.Parse(time.DateOnly, req.ExchangeDate)
		ev.ExchangeDate = &d
	}

	if err := h.store.CreateEvent(r.Context(), ev); err != nil {
		writeStoreError(w, err, "create event")
		return
	}
	log.Printf("[api] event created id=%s organizer=%s", ev.ID, ev.OrganizerEmail)
	writeJSON(w, http.StatusCreated, eventResponse{Event: ev})
}

func (h *Handler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.store.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "get event")
		return
	}
	participants, err := h.store.ListParticipants(r.Context(), ev.ID)
	if err != nil {
		writeStoreError(w, err, "list participants")
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{Event: ev, ParticipantCount: len(participants)})
}

// allow applies rule to identifier and writes a 429 when the limit is hit.
// Limiter errors fail open.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, identifier string, rule ratelimit.Rule) bool {
	d, err := h.limiter.Allow(r.Context(), identifier, rule)
	if err != nil {
		log.Printf("[api] rate limit check %s%s: %v", rule.Key, identifier, err)
	}
	if d.Allowed {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Round(time.Second).Seconds())))
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, try again later")
	return false
}
