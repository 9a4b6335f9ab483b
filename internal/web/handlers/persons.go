package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/blob"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// PersonsHandler handles enrolled persons and their photos.
type PersonsHandler struct {
	store  database.Store
	blobs  blob.Store
	events events.Publisher
}

// NewPersonsHandler creates a new persons handler.
func NewPersonsHandler(store database.Store, blobs blob.Store, pub events.Publisher) *PersonsHandler {
	return &PersonsHandler{store: store, blobs: blobs, events: pub}
}

// PersonResponse represents a person in API responses.
type PersonResponse struct {
	ID             string            `json:"id"`
	DisplayName    string            `json:"display_name"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	EmbeddingCount int               `json:"embedding_count"`
	Photos         []string          `json:"photos"`
	CreatedAt      time.Time         `json:"created_at"`
}

// List returns every person. ?q= filters by name, ignoring case and diacritics.
func (h *PersonsHandler) List(w http.ResponseWriter, r *http.Request) {
	persons, err := h.store.ListPersons(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list persons")
		return
	}

	query := r.URL.Query().Get("q")
	out := make([]PersonResponse, 0, len(persons))
	for _, p := range persons {
		if !facematch.NameContains(p.DisplayName, query) {
			continue
		}
		out = append(out, PersonResponse{
			ID:             p.ID,
			DisplayName:    p.DisplayName,
			Attributes:     p.Attributes,
			EmbeddingCount: p.EmbeddingCount,
			Photos:         nonNil(p.PhotoRefs),
			CreatedAt:      p.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// Get returns one person with photo refs.
func (h *PersonsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.store.GetPerson(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get person")
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}
	embs, err := h.store.ListFor(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list embeddings")
		return
	}

	resp := PersonResponse{
		ID:             p.ID,
		DisplayName:    p.DisplayName,
		Attributes:     p.Attributes,
		EmbeddingCount: len(embs),
		Photos:         []string{},
		CreatedAt:      p.CreatedAt,
	}
	for _, e := range embs {
		resp.Photos = append(resp.Photos, e.SourceRef)
	}
	respondJSON(w, http.StatusOK, resp)
}

// Delete removes the person, its embeddings, memberships and photos.
func (h *PersonsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	refs, err := h.store.DeletePerson(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	log := logger.FromContext(r.Context()).WithField("person_id", sanitizeForLog(id))
	for _, ref := range refs {
		if err := h.blobs.Delete(r.Context(), ref); err != nil {
			log.WithError(err).WithField("ref", ref).Warn("Failed to delete photo")
		}
	}
	log.WithField("photos", len(refs)).Info("Person deleted")
	h.events.Publish(events.Event{Type: events.PersonDeleted, PersonID: id})
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id, "photos": len(refs)})
}

// photoRef rebuilds the blob key from the route and checks it belongs to the person.
func photoRef(r *http.Request) (personID, ref string, ok bool) {
	personID = chi.URLParam(r, "id")
	ref = personID + "/" + chi.URLParam(r, "photo")
	if blob.ValidateKey(ref) != nil || !strings.HasPrefix(ref, personID+"/") {
		return "", "", false
	}
	return personID, ref, true
}

// Photo streams one enrollment photo.
func (h *PersonsHandler) Photo(w http.ResponseWriter, r *http.Request) {
	_, ref, ok := photoRef(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid photo reference")
		return
	}
	rc, err := h.blobs.Get(r.Context(), ref)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", blob.ContentType(ref))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// DeletePhoto removes exactly the embeddings derived from one photo, then the photo.
func (h *PersonsHandler) DeletePhoto(w http.ResponseWriter, r *http.Request) {
	personID, ref, ok := photoRef(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid photo reference")
		return
	}
	n, err := h.store.DeleteBySource(r.Context(), personID, ref)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete embeddings")
		return
	}
	if n == 0 {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}
	if err := h.blobs.Delete(r.Context(), ref); err != nil {
		logger.FromContext(r.Context()).WithError(err).WithField("ref", ref).Warn("Failed to delete photo")
	}
	h.events.Publish(events.Event{Type: events.PhotoDeleted, PersonID: personID, Data: ref})
	respondJSON(w, http.StatusOK, map[string]any{"deleted": ref, "embeddings": n})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
