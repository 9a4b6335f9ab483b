package database

import (
	"context"
)

// PersonStore persists enrolled identities.
type PersonStore interface {
	// SavePerson creates the person if absent. Returns created=false when the id already exists;
	// an existing record is never overwritten.
	SavePerson(ctx context.Context, p *Person) (created bool, err error)
	// GetPerson returns nil if not found
	GetPerson(ctx context.Context, id string) (*Person, error)
	// ListPersons returns all persons with embedding counts, ordered by display name
	ListPersons(ctx context.Context) ([]PersonSummary, error)
	// DeletePerson removes the person and cascades to embeddings and group memberships.
	// Returns the photo refs that belonged to the person so blobs can be removed.
	DeletePerson(ctx context.Context, id string) ([]string, error)
}

// EmbeddingStore is the append-only per-person collection of face vectors.
type EmbeddingStore interface {
	// AppendEmbedding adds a vector. Appending the same (personID, sourceRef) twice is a no-op
	// that returns the existing row, so a retried commit converges without duplicates.
	AppendEmbedding(ctx context.Context, personID string, vector []float32, sourceRef string) (*StoredEmbedding, error)
	// ListFor returns every embedding of one person
	ListFor(ctx context.Context, personID string) ([]StoredEmbedding, error)
	// ListCandidates returns (person, vector) pairs, restricted to a group's members when groupID is set
	ListCandidates(ctx context.Context, groupID string) ([]Candidate, error)
	// DeleteBySource removes exactly the embeddings derived from one photo
	DeleteBySource(ctx context.Context, personID, sourceRef string) (int, error)
	// CountEmbeddings returns the total number of stored embeddings
	CountEmbeddings(ctx context.Context) (int, error)
}

// GroupStore manages groups and their member sets.
type GroupStore interface {
	SaveGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	DeleteGroup(ctx context.Context, id string) error
	// AddMember is idempotent
	AddMember(ctx context.Context, groupID, personID string) error
	RemoveMember(ctx context.Context, groupID, personID string) error
}

// PendingStore persists pending enrollments.
type PendingStore interface {
	SavePending(ctx context.Context, p *PendingEnrollment) error
	GetPending(ctx context.Context, id string) (*PendingEnrollment, error)
	// ListPending returns enrollments in the given status, all when status is empty
	ListPending(ctx context.Context, status PendingStatus) ([]PendingEnrollment, error)
	// MarkApproved moves pending to approved. Returns ErrStatusConflict if the row is no longer pending.
	MarkApproved(ctx context.Context, id string, result *ApprovalResult) error
	// MarkRejected moves pending to rejected. Returns ErrStatusConflict if the row is no longer pending.
	MarkRejected(ctx context.Context, id string) error
}

// Store bundles every repository of one backend.
type Store interface {
	PersonStore
	EmbeddingStore
	GroupStore
	PendingStore

	// Clear wipes all persons, embeddings, groups and pending enrollments
	Clear(ctx context.Context) error
	Close() error
}
