package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/whisper/santa/internal/event"
	"github.com/whisper/santa/internal/protocol"
	"github.com/whisper/santa/internal/ratelimit"
)

type drawAccepted struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

type receiverDTO struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Wishlist string `json:"wishlist,omitempty"`
}

type assignmentResponse struct {
	Giver    string      `json:"giver"`
	Receiver receiverDTO `json:"receiver"`
}

type assignmentsResponse struct {
	Assignments []event.Assignment `json:"assignments"`
}

// handleDraw queues a draw. The outcome arrives asynchronously on the live
// feed.
func (h *Handler) handleDraw(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req drawRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	req.RequestedBy = normalizeEmail(req.RequestedBy)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", validationMessage(err))
		return
	}

	ev, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "get event")
		return
	}
	if ev.Status == event.StatusDrawn {
		writeStoreError(w, event.ErrAlreadyDrawn, "draw")
		return
	}
	participants, err := h.store.ListParticipants(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "list participants")
		return
	}
	if len(participants) < 2 {
		writeError(w, http.StatusBadRequest, "NOT_ENOUGH_PARTICIPANTS", "at least two participants are required")
		return
	}

	if !h.allow(w, r, id, ratelimit.RuleDraw) {
		return
	}

	data, err := json.Marshal(protocol.DrawRequest{
		EventID:     id,
		RequestedBy: req.RequestedBy,
		RequestedAt: time.Now().Unix(),
	})
	if err != nil {
		writeStoreError(w, err, "marshal draw request")
		return
	}
	if err := h.pub.PublishDrawRequest(data); err != nil {
		log.Printf("[api] publish draw request event=%s: %v", id, err)
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "draw service unavailable")
		return
	}

	log.Printf("[api] draw requested event=%s participants=%d", id, len(participants))
	writeJSON(w, http.StatusAccepted, drawAccepted{EventID: id, Status: "pending"})
}

func (h *Handler) handleResetDraw(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.ResetDraw(r.Context(), id); err != nil {
		writeStoreError(w, err, "reset draw")
		return
	}
	log.Printf("[api] draw reset event=%s", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	giver := normalizeEmail(r.PathValue("email"))

	ev, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "get event")
		return
	}
	if ev.Status != event.StatusDrawn {
		writeError(w, http.StatusConflict, "NOT_DRAWN", "assignments have not been drawn yet")
		return
	}

	a, err := h.store.GetAssignment(r.Context(), id, giver)
	if err != nil {
		writeStoreError(w, err, "get assignment")
		return
	}
	participants, err := h.store.ListParticipants(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "list participants")
		return
	}

	resp := assignmentResponse{Giver: a.Giver, Receiver: receiverDTO{Email: a.Receiver}}
	if p, ok := lo.Find(participants, func(p event.Participant) bool { return p.Email == a.Receiver }); ok {
		resp.Receiver.Name = p.Name
		resp.Receiver.Wishlist = p.Wishlist
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.store.GetEvent(r.Context(), id); err != nil {
		writeStoreError(w, err, "get event")
		return
	}
	assignments, err := h.store.ListAssignments(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "list assignments")
		return
	}
	if assignments == nil {
		assignments = []event.Assignment{}
	}
	writeJSON(w, http.StatusOK, assignmentsResponse{Assignments: assignments})
}
