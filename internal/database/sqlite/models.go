package sqlite

import (
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

type personModel struct {
	ID          string            `gorm:"primaryKey;size:64"`
	DisplayName string            `gorm:"not null;index"`
	Attributes  map[string]string `gorm:"serializer:json"`
	CreatedAt   time.Time         `gorm:"not null"`
}

func (personModel) TableName() string { return "persons" }

type embeddingModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	PersonID  string    `gorm:"size:64;not null;uniqueIndex:idx_embeddings_person_source,priority:1"`
	Vector    []byte    `gorm:"not null"` // little-endian float32
	SourceRef string    `gorm:"not null;uniqueIndex:idx_embeddings_person_source,priority:2"`
	CreatedAt time.Time `gorm:"not null"`
}

func (embeddingModel) TableName() string { return "embeddings" }

type groupModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"not null"`
	GuideID   string `gorm:"size:64"`
	CreatedAt time.Time
}

func (groupModel) TableName() string { return "person_groups" }

type memberModel struct {
	GroupID  string `gorm:"primaryKey;size:64"`
	PersonID string `gorm:"primaryKey;size:64;index"`
}

func (memberModel) TableName() string { return "group_members" }

type pendingModel struct {
	ID          string                   `gorm:"primaryKey;size:64"`
	PersonID    string                   `gorm:"size:64;not null"`
	Fields      map[string]string        `gorm:"serializer:json"`
	PhotoRefs   []string                 `gorm:"serializer:json"`
	GroupID     string                   `gorm:"size:64"`
	Status      database.PendingStatus   `gorm:"size:16;not null;index"`
	Result      *database.ApprovalResult `gorm:"serializer:json"`
	SubmittedAt time.Time                `gorm:"not null;index"`
	DecidedAt   *time.Time
}

func (pendingModel) TableName() string { return "pending_enrollments" }

func (m *personModel) toDomain() *database.Person {
	return &database.Person{
		ID:          m.ID,
		DisplayName: m.DisplayName,
		Attributes:  m.Attributes,
		CreatedAt:   m.CreatedAt,
	}
}

func (m *embeddingModel) toDomain() (database.StoredEmbedding, error) {
	vec, err := database.DecodeVector(m.Vector)
	if err != nil {
		return database.StoredEmbedding{}, err
	}
	return database.StoredEmbedding{
		ID:        m.ID,
		PersonID:  m.PersonID,
		Vector:    vec,
		SourceRef: m.SourceRef,
		CreatedAt: m.CreatedAt,
	}, nil
}

func (m *pendingModel) toDomain() *database.PendingEnrollment {
	return &database.PendingEnrollment{
		ID:          m.ID,
		PersonID:    m.PersonID,
		Fields:      m.Fields,
		PhotoRefs:   m.PhotoRefs,
		GroupID:     m.GroupID,
		Status:      m.Status,
		Result:      m.Result,
		SubmittedAt: m.SubmittedAt,
		DecidedAt:   m.DecidedAt,
	}
}
