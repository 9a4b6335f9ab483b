package database

import (
	"time"
)

// Person is an enrolled identity. The id is supplied by the caller.
type Person struct {
	ID          string
	DisplayName string
	Attributes  map[string]string // demographic attributes (age, gender, ...)
	CreatedAt   time.Time
}

// StoredEmbedding is one immutable face vector derived from one enrollment photo.
type StoredEmbedding struct {
	ID        int64
	PersonID  string
	Vector    []float32 // L2-normalized
	SourceRef string    // blob key of the photo the vector came from
	CreatedAt time.Time
}

// Candidate is a (person, vector) pair fed to the match engine.
type Candidate struct {
	EmbeddingID int64
	PersonID    string
	Vector      []float32
}

// Group is a named set of persons used to scope recognition.
type Group struct {
	ID        string
	Name      string
	GuideID   string // person responsible for the group, optional
	Members   []string
	CreatedAt time.Time
}

// PendingStatus is the lifecycle state of a PendingEnrollment.
type PendingStatus string

const (
	StatusPending  PendingStatus = "pending"
	StatusApproved PendingStatus = "approved"
	StatusRejected PendingStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s PendingStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// PendingEnrollment is a remotely submitted enrollment waiting for an admin decision.
type PendingEnrollment struct {
	ID          string
	PersonID    string            // id the person will get on approval
	Fields      map[string]string // submitted form fields (name, attributes)
	PhotoRefs   []string
	GroupID     string
	Status      PendingStatus
	Result      *ApprovalResult // set once approved
	SubmittedAt time.Time
	DecidedAt   *time.Time
}

// ApprovalResult is what accepting a pending enrollment produced.
type ApprovalResult struct {
	PersonID        string   `json:"person_id"`
	EmbeddingCount  int      `json:"embedding_count"`
	FailedPhotoRefs []string `json:"failed_photo_refs,omitempty"`
	GroupID         string   `json:"group_id,omitempty"`
}

// PersonSummary is a person with counts for listing.
type PersonSummary struct {
	Person
	EmbeddingCount int
	PhotoRefs      []string
}
