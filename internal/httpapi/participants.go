package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/whisper/santa/internal/event"
	"github.com/whisper/santa/internal/protocol"
)

type participantsResponse struct {
	Participants []event.Participant `json:"participants"`
}

type restrictionsResponse struct {
	Restrictions []event.Restriction `json:"restrictions"`
}

func (h *Handler) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = normalizeEmail(req.Email)
	req.Channels = lo.Uniq(lo.Map(req.Channels, func(ch string, _ int) string {
		return strings.ToLower(strings.TrimSpace(ch))
	}))
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", validationMessage(err))
		return
	}
	if len(req.Channels) == 0 {
		req.Channels = []string{protocol.ChannelEmail}
	}

	p := &event.Participant{
		EventID:  r.PathValue("id"),
		Email:    req.Email,
		Name:     strings.TrimSpace(req.Name),
		Phone:    req.Phone,
		Channels: req.Channels,
		Wishlist: req.Wishlist,
	}
	if err := h.store.AddParticipant(r.Context(), p); err != nil {
		writeStoreError(w, err, "add participant")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.store.GetEvent(r.Context(), id); err != nil {
		writeStoreError(w, err, "get event")
		return
	}
	participants, err := h.store.ListParticipants(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "list participants")
		return
	}
	if participants == nil {
		participants = []event.Participant{}
	}
	writeJSON(w, http.StatusOK, participantsResponse{Participants: participants})
}

func (h *Handler) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	err := h.store.RemoveParticipant(r.Context(), r.PathValue("id"), normalizeEmail(r.PathValue("email")))
	if errors.Is(err, event.ErrNotParticipant) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "participant not found")
		return
	}
	if err != nil {
		writeStoreError(w, err, "remove participant")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAddRestriction(w http.ResponseWriter, r *http.Request) {
	var req restrictionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Giver = normalizeEmail(req.Giver)
	req.Receiver = normalizeEmail(req.Receiver)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", validationMessage(err))
		return
	}

	res := &event.Restriction{EventID: r.PathValue("id"), Giver: req.Giver, Receiver: req.Receiver}
	if err := h.store.AddRestriction(r.Context(), res); err != nil {
		writeStoreError(w, err, "add restriction")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleListRestrictions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.store.GetEvent(r.Context(), id); err != nil {
		writeStoreError(w, err, "get event")
		return
	}
	stored, err := h.store.ListRestrictions(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "list restrictions")
		return
	}

	out := make([]event.Restriction, 0, len(stored))
	for giver, receivers := range stored {
		for _, receiver := range receivers {
			out = append(out, event.Restriction{EventID: id, Giver: giver, Receiver: receiver})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Giver != out[j].Giver {
			return out[i].Giver < out[j].Giver
		}
		return out[i].Receiver < out[j].Receiver
	})
	writeJSON(w, http.StatusOK, restrictionsResponse{Restrictions: out})
}
