package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/blob"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// AdminHandler handles store-wide maintenance.
type AdminHandler struct {
	store  database.Store
	blobs  blob.Store
	events events.Publisher
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(store database.Store, blobs blob.Store, pub events.Publisher) *AdminHandler {
	return &AdminHandler{store: store, blobs: blobs, events: pub}
}

// StatsResponse summarizes the store.
type StatsResponse struct {
	Persons    int `json:"persons"`
	Embeddings int `json:"embeddings"`
	Groups     int `json:"groups"`
	Pending    int `json:"pending"`
}

// Stats returns store counts.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	persons, err := h.store.ListPersons(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list persons")
		return
	}
	embeddings, err := h.store.CountEmbeddings(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count embeddings")
		return
	}
	groups, err := h.store.ListGroups(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	pending, err := h.store.ListPending(ctx, database.StatusPending)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list pending enrollments")
		return
	}
	respondJSON(w, http.StatusOK, StatsResponse{
		Persons:    len(persons),
		Embeddings: embeddings,
		Groups:     len(groups),
		Pending:    len(pending),
	})
}

// Clear deletes every person, photo, group and pending enrollment.
func (h *AdminHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	persons, err := h.store.ListPersons(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list persons")
		return
	}
	pending, err := h.store.ListPending(ctx, database.StatusPending)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list pending enrollments")
		return
	}

	prefixes := make(map[string]struct{}, len(persons)+len(pending))
	for _, p := range persons {
		prefixes[p.ID] = struct{}{}
	}
	for _, p := range pending {
		prefixes[p.PersonID] = struct{}{}
	}
	photos := 0
	for prefix := range prefixes {
		n, err := h.blobs.DeletePrefix(ctx, prefix)
		if err != nil {
			log.WithError(err).WithField("prefix", prefix).Warn("Failed to delete photos")
			continue
		}
		photos += n
	}

	if err := h.store.Clear(ctx); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to clear store")
		return
	}
	log.WithFields(logger.Fields{"persons": len(persons), "photos": photos}).Warn("Store cleared")
	h.events.Publish(events.Event{Type: events.StoreCleared})
	respondJSON(w, http.StatusOK, map[string]int{"persons": len(persons), "photos": photos})
}
