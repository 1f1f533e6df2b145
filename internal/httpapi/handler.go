// Package httpapi exposes events, participants, restrictions, draws and
// assignments over HTTP/JSON, plus the organizer live feed.
package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/whisper/santa/internal/event"
	"github.com/whisper/santa/internal/metrics"
	"github.com/whisper/santa/internal/ratelimit"
)

// Store is the event persistence used by the API.
type Store interface {
	CreateEvent(ctx context.Context, ev *event.Event) error
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	AddParticipant(ctx context.Context, p *event.Participant) error
	ListParticipants(ctx context.Context, eventID string) ([]event.Participant, error)
	RemoveParticipant(ctx context.Context, eventID, email string) error
	AddRestriction(ctx context.Context, r *event.Restriction) error
	ListRestrictions(ctx context.Context, eventID string) (map[string][]string, error)
	ResetDraw(ctx context.Context, eventID string) error
	GetAssignment(ctx context.Context, eventID, giver string) (*event.Assignment, error)
	ListAssignments(ctx context.Context, eventID string) ([]event.Assignment, error)
}

// Limiter throttles event creation and draws.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (ratelimit.Decision, error)
}

// DrawPublisher hands draw requests to the matcher.
type DrawPublisher interface {
	PublishDrawRequest(data []byte) error
}

// LiveFeed serves the organizer WebSocket for an event.
type LiveFeed interface {
	Serve(w http.ResponseWriter, r *http.Request, eventID string)
}

// Handler serves the Santa API.
type Handler struct {
	store     Store
	limiter   Limiter
	pub       DrawPublisher
	live      LiveFeed
	startedAt time.Time
}

// NewHandler creates a Handler.
func NewHandler(store Store, limiter Limiter, pub DrawPublisher, live LiveFeed) *Handler {
	return &Handler{
		store:     store,
		limiter:   limiter,
		pub:       pub,
		live:      live,
		startedAt: time.Now(),
	}
}

// Routes returns the API router wrapped with request metrics.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /events", h.handleCreateEvent)
	mux.HandleFunc("GET /events/{id}", h.handleGetEvent)

	mux.HandleFunc("POST /events/{id}/participants", h.handleAddParticipant)
	mux.HandleFunc("GET /events/{id}/participants", h.handleListParticipants)
	mux.HandleFunc("DELETE /events/{id}/participants/{email}", h.handleRemoveParticipant)

	mux.HandleFunc("POST /events/{id}/restrictions", h.handleAddRestriction)
	mux.HandleFunc("GET /events/{id}/restrictions", h.handleListRestrictions)

	mux.HandleFunc("POST /events/{id}/draw", h.handleDraw)
	mux.HandleFunc("DELETE /events/{id}/draw", h.handleResetDraw)

	mux.HandleFunc("GET /events/{id}/assignments", h.handleListAssignments)
	mux.HandleFunc("GET /events/{id}/assignments/{email}", h.handleGetAssignment)

	mux.HandleFunc("GET /events/{id}/live", h.handleLive)

	return instrument(mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}{
		Status: "ok",
		Uptime: time.Since(h.startedAt).Round(time.Second).String(),
	})
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.store.GetEvent(r.Context(), id); err != nil {
		writeStoreError(w, err, "get event")
		return
	}
	log.Printf("[api] live feed requested event=%s remote=%s", id, clientIP(r))
	h.live.Serve(w, r, id)
}
