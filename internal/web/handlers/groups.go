package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/events"
)

// GroupsHandler manages recognition groups.
type GroupsHandler struct {
	store  database.Store
	events events.Publisher
}

// NewGroupsHandler creates a new groups handler.
func NewGroupsHandler(store database.Store, pub events.Publisher) *GroupsHandler {
	return &GroupsHandler{store: store, events: pub}
}

// GroupResponse represents a group in API responses.
type GroupResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	GuideID   string    `json:"guide_id,omitempty"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

func toGroupResponse(g *database.Group) GroupResponse {
	return GroupResponse{
		ID:        g.ID,
		Name:      g.Name,
		GuideID:   g.GuideID,
		Members:   nonNil(g.Members),
		CreatedAt: g.CreatedAt,
	}
}

// List returns every group.
func (h *GroupsHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.store.ListGroups(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	out := make([]GroupResponse, 0, len(groups))
	for i := range groups {
		out = append(out, toGroupResponse(&groups[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

// Get returns one group.
func (h *GroupsHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.store.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get group")
		return
	}
	if g == nil {
		respondError(w, http.StatusNotFound, "group not found")
		return
	}
	respondJSON(w, http.StatusOK, toGroupResponse(g))
}

// GroupRequest is the body of create and update.
type GroupRequest struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	GuideID string   `json:"guide_id"`
	Members []string `json:"members"`
}

// Create creates a group. The id is generated when omitted.
func (h *GroupsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	existing, err := h.store.GetGroup(r.Context(), req.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get group")
		return
	}
	if existing != nil {
		respondError(w, http.StatusConflict, "group already exists")
		return
	}

	g := &database.Group{ID: req.ID, Name: req.Name, GuideID: req.GuideID, Members: req.Members}
	if err := h.store.SaveGroup(r.Context(), g); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create group")
		return
	}
	h.publish(g.ID)
	h.respondGroup(w, r, g.ID, http.StatusCreated)
}

// Update renames a group or changes its guide. Members listed in the body are added.
func (h *GroupsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	g, err := h.store.GetGroup(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get group")
		return
	}
	if g == nil {
		respondError(w, http.StatusNotFound, "group not found")
		return
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		g.Name = name
	}
	if req.GuideID != "" {
		g.GuideID = req.GuideID
	}

	if err := h.store.SaveGroup(r.Context(), g); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update group")
		return
	}
	for _, personID := range req.Members {
		if err := h.store.AddMember(r.Context(), id, personID); err != nil {
			respondDomainError(w, err)
			return
		}
	}
	h.publish(id)
	h.respondGroup(w, r, id, http.StatusOK)
}

// Delete removes a group; persons are kept.
func (h *GroupsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteGroup(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}
	h.publish(id)
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// AddMember adds a person to a group.
func (h *GroupsHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	id, personID := chi.URLParam(r, "id"), chi.URLParam(r, "personId")
	p, err := h.store.GetPerson(r.Context(), personID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get person")
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}
	if err := h.store.AddMember(r.Context(), id, personID); err != nil {
		respondDomainError(w, err)
		return
	}
	h.publish(id)
	h.respondGroup(w, r, id, http.StatusOK)
}

// RemoveMember removes a person from a group.
func (h *GroupsHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, personID := chi.URLParam(r, "id"), chi.URLParam(r, "personId")
	if err := h.store.RemoveMember(r.Context(), id, personID); err != nil {
		respondDomainError(w, err)
		return
	}
	h.publish(id)
	h.respondGroup(w, r, id, http.StatusOK)
}

func (h *GroupsHandler) publish(groupID string) {
	h.events.Publish(events.Event{Type: events.GroupChanged, Data: map[string]string{"group_id": groupID}})
}

func (h *GroupsHandler) respondGroup(w http.ResponseWriter, r *http.Request, id string, status int) {
	g, err := h.store.GetGroup(r.Context(), id)
	if err != nil || g == nil {
		respondError(w, http.StatusNotFound, "group not found")
		return
	}
	respondJSON(w, status, toGroupResponse(g))
}
