// Package mock provides an in-memory implementation of database.Store for testing.
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// MockStore is a mock implementation of database.Store
type MockStore struct {
	mu         sync.RWMutex
	persons    map[string]*database.Person
	embeddings []database.StoredEmbedding
	groups     map[string]*database.Group
	pending    map[string]*database.PendingEnrollment
	nextID     int64

	// Error injection
	SavePersonError      error
	GetPersonError       error
	ListPersonsError     error
	DeletePersonError    error
	AppendEmbeddingError error
	ListForError         error
	ListCandidatesError  error
	DeleteBySourceError  error
	SaveGroupError       error
	AddMemberError       error
	SavePendingError     error
	GetPendingError      error
	MarkApprovedError    error
	MarkRejectedError    error
	ClearError           error

	// Call counters
	SavePersonCalls      int
	AppendEmbeddingCalls int
	ListCandidatesCalls  int
}

var _ database.Store = (*MockStore)(nil)

// NewMockStore creates an empty mock store
func NewMockStore() *MockStore {
	return &MockStore{
		persons: make(map[string]*database.Person),
		groups:  make(map[string]*database.Group),
		pending: make(map[string]*database.PendingEnrollment),
	}
}

// PersonCount returns the number of stored persons
func (m *MockStore) PersonCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.persons)
}

// SavePerson creates the person if absent
func (m *MockStore) SavePerson(ctx context.Context, p *database.Person) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SavePersonCalls++
	if m.SavePersonError != nil {
		return false, m.SavePersonError
	}
	if _, ok := m.persons[p.ID]; ok {
		return false, nil
	}
	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.persons[p.ID] = &cp
	return true, nil
}

// GetPerson returns nil if not found
func (m *MockStore) GetPerson(ctx context.Context, id string) (*database.Person, error) {
	if m.GetPersonError != nil {
		return nil, m.GetPersonError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// ListPersons returns persons ordered by display name
func (m *MockStore) ListPersons(ctx context.Context) ([]database.PersonSummary, error) {
	if m.ListPersonsError != nil {
		return nil, m.ListPersonsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]database.PersonSummary, 0, len(m.persons))
	for _, p := range m.persons {
		s := database.PersonSummary{Person: *p}
		for _, e := range m.embeddings {
			if e.PersonID == p.ID {
				s.EmbeddingCount++
				s.PhotoRefs = append(s.PhotoRefs, e.SourceRef)
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeletePerson removes the person, embeddings and memberships
func (m *MockStore) DeletePerson(ctx context.Context, id string) ([]string, error) {
	if m.DeletePersonError != nil {
		return nil, m.DeletePersonError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.persons[id]; !ok {
		return nil, database.ErrNotFound
	}
	delete(m.persons, id)

	var refs []string
	kept := m.embeddings[:0]
	for _, e := range m.embeddings {
		if e.PersonID == id {
			refs = append(refs, e.SourceRef)
			continue
		}
		kept = append(kept, e)
	}
	m.embeddings = kept

	for _, g := range m.groups {
		g.Members = removeString(g.Members, id)
	}
	return refs, nil
}

// AppendEmbedding adds a vector, idempotent on (personID, sourceRef)
func (m *MockStore) AppendEmbedding(ctx context.Context, personID string, vector []float32, sourceRef string) (*database.StoredEmbedding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendEmbeddingCalls++
	if m.AppendEmbeddingError != nil {
		return nil, m.AppendEmbeddingError
	}

	for i := range m.embeddings {
		if m.embeddings[i].PersonID == personID && m.embeddings[i].SourceRef == sourceRef {
			e := m.embeddings[i]
			return &e, nil
		}
	}

	m.nextID++
	e := database.StoredEmbedding{
		ID:        m.nextID,
		PersonID:  personID,
		Vector:    append([]float32(nil), vector...),
		SourceRef: sourceRef,
		CreatedAt: time.Now(),
	}
	m.embeddings = append(m.embeddings, e)
	return &e, nil
}

// AddEmbedding stores a vector directly, bypassing error injection
func (m *MockStore) AddEmbedding(personID string, vector []float32, sourceRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.embeddings = append(m.embeddings, database.StoredEmbedding{
		ID:        m.nextID,
		PersonID:  personID,
		Vector:    vector,
		SourceRef: sourceRef,
		CreatedAt: time.Now(),
	})
}

// ListFor returns the embeddings of one person
func (m *MockStore) ListFor(ctx context.Context, personID string) ([]database.StoredEmbedding, error) {
	if m.ListForError != nil {
		return nil, m.ListForError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.StoredEmbedding
	for _, e := range m.embeddings {
		if e.PersonID == personID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListCandidates returns (person, vector) pairs, optionally filtered by group
func (m *MockStore) ListCandidates(ctx context.Context, groupID string) ([]database.Candidate, error) {
	m.mu.Lock()
	m.ListCandidatesCalls++
	m.mu.Unlock()
	if m.ListCandidatesError != nil {
		return nil, m.ListCandidatesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var members map[string]bool
	if groupID != "" {
		members = make(map[string]bool)
		if g, ok := m.groups[groupID]; ok {
			for _, id := range g.Members {
				members[id] = true
			}
		}
	}

	var out []database.Candidate
	for _, e := range m.embeddings {
		if members != nil && !members[e.PersonID] {
			continue
		}
		out = append(out, database.Candidate{EmbeddingID: e.ID, PersonID: e.PersonID, Vector: e.Vector})
	}
	return out, nil
}

// DeleteBySource removes the embeddings derived from one photo
func (m *MockStore) DeleteBySource(ctx context.Context, personID, sourceRef string) (int, error) {
	if m.DeleteBySourceError != nil {
		return 0, m.DeleteBySourceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	kept := m.embeddings[:0]
	for _, e := range m.embeddings {
		if e.PersonID == personID && e.SourceRef == sourceRef {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.embeddings = kept
	return n, nil
}

// CountEmbeddings returns the total number of embeddings
func (m *MockStore) CountEmbeddings(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.embeddings), nil
}

// SaveGroup creates or updates a group (members are left untouched on update)
func (m *MockStore) SaveGroup(ctx context.Context, g *database.Group) error {
	if m.SaveGroupError != nil {
		return m.SaveGroupError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.groups[g.ID]; ok {
		existing.Name = g.Name
		existing.GuideID = g.GuideID
		return nil
	}
	cp := *g
	cp.Members = append([]string(nil), g.Members...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.groups[g.ID] = &cp
	return nil
}

// GetGroup returns nil if not found
func (m *MockStore) GetGroup(ctx context.Context, id string) (*database.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	cp.Members = append([]string(nil), g.Members...)
	return &cp, nil
}

// ListGroups returns groups ordered by name
func (m *MockStore) ListGroups(ctx context.Context) ([]database.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.Group, 0, len(m.groups))
	for _, g := range m.groups {
		cp := *g
		cp.Members = append([]string(nil), g.Members...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

// DeleteGroup removes a group
func (m *MockStore) DeleteGroup(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return database.ErrNotFound
	}
	delete(m.groups, id)
	return nil
}

// AddMember adds a person to a group (idempotent)
func (m *MockStore) AddMember(ctx context.Context, groupID, personID string) error {
	if m.AddMemberError != nil {
		return m.AddMemberError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return database.ErrNotFound
	}
	for _, id := range g.Members {
		if id == personID {
			return nil
		}
	}
	g.Members = append(g.Members, personID)
	return nil
}

// RemoveMember removes a person from a group
func (m *MockStore) RemoveMember(ctx context.Context, groupID, personID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return database.ErrNotFound
	}
	g.Members = removeString(g.Members, personID)
	return nil
}

// SavePending stores a pending enrollment
func (m *MockStore) SavePending(ctx context.Context, p *database.PendingEnrollment) error {
	if m.SavePendingError != nil {
		return m.SavePendingError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	if cp.Status == "" {
		cp.Status = database.StatusPending
	}
	m.pending[p.ID] = &cp
	return nil
}

// GetPending returns nil if not found
func (m *MockStore) GetPending(ctx context.Context, id string) (*database.PendingEnrollment, error) {
	if m.GetPendingError != nil {
		return nil, m.GetPendingError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pending[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// ListPending returns enrollments in a status, oldest first
func (m *MockStore) ListPending(ctx context.Context, status database.PendingStatus) ([]database.PendingEnrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.PendingEnrollment
	for _, p := range m.pending {
		if status == "" || p.Status == status {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MarkApproved moves pending to approved
func (m *MockStore) MarkApproved(ctx context.Context, id string, result *database.ApprovalResult) error {
	if m.MarkApprovedError != nil {
		return m.MarkApprovedError
	}
	return m.transition(id, database.StatusApproved, result)
}

// MarkRejected moves pending to rejected
func (m *MockStore) MarkRejected(ctx context.Context, id string) error {
	if m.MarkRejectedError != nil {
		return m.MarkRejectedError
	}
	return m.transition(id, database.StatusRejected, nil)
}

func (m *MockStore) transition(id string, to database.PendingStatus, result *database.ApprovalResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	if !ok {
		return database.ErrNotFound
	}
	if p.Status != database.StatusPending {
		return database.ErrStatusConflict
	}
	now := time.Now()
	p.Status = to
	p.Result = result
	p.DecidedAt = &now
	return nil
}

// Clear wipes everything
func (m *MockStore) Clear(ctx context.Context) error {
	if m.ClearError != nil {
		return m.ClearError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persons = make(map[string]*database.Person)
	m.embeddings = nil
	m.groups = make(map[string]*database.Group)
	m.pending = make(map[string]*database.PendingEnrollment)
	return nil
}

// Close is a no-op
func (m *MockStore) Close() error {
	return nil
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, item := range list {
		if item != s {
			out = append(out, item)
		}
	}
	return out
}
