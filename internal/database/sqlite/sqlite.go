// Package sqlite is the default single-file backend, built on gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

func init() {
	database.Register("sqlite", func(ctx context.Context, cfg *config.DatabaseConfig) (database.Store, error) {
		return Open(ctx, cfg)
	})
}

// Store implements database.Store on SQLite.
type Store struct {
	db *gorm.DB
}

var _ database.Store = (*Store)(nil)

// Open connects to the SQLite file at cfg.Path and migrates the schema.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	gormLog := gormlogger.New(logger.Default().Component("gorm"), gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})

	dsn := cfg.Path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.WithContext(ctx).AutoMigrate(
		&personModel{},
		&embeddingModel{},
		&groupModel{},
		&memberModel{},
		&pendingModel{},
	); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

// SavePerson inserts the person unless the id already exists.
func (s *Store) SavePerson(ctx context.Context, p *database.Person) (bool, error) {
	m := personModel{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Attributes:  p.Attributes,
		CreatedAt:   p.CreatedAt,
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return false, fmt.Errorf("insert person: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// GetPerson returns nil if not found.
func (s *Store) GetPerson(ctx context.Context, id string) (*database.Person, error) {
	var m personModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query person: %w", err)
	}
	return m.toDomain(), nil
}

// ListPersons returns every person with embedding counts and photo refs.
func (s *Store) ListPersons(ctx context.Context) ([]database.PersonSummary, error) {
	var persons []personModel
	if err := s.db.WithContext(ctx).Order("display_name, id").Find(&persons).Error; err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}

	type refRow struct {
		PersonID  string
		SourceRef string
	}
	var refs []refRow
	if err := s.db.WithContext(ctx).Model(&embeddingModel{}).
		Select("person_id, source_ref").Order("id").Scan(&refs).Error; err != nil {
		return nil, fmt.Errorf("query photo refs: %w", err)
	}
	byPerson := make(map[string][]string)
	for _, r := range refs {
		byPerson[r.PersonID] = append(byPerson[r.PersonID], r.SourceRef)
	}

	out := make([]database.PersonSummary, 0, len(persons))
	for i := range persons {
		pr := byPerson[persons[i].ID]
		out = append(out, database.PersonSummary{
			Person:         *persons[i].toDomain(),
			EmbeddingCount: len(pr),
			PhotoRefs:      pr,
		})
	}
	return out, nil
}

// DeletePerson removes the person with its embeddings and memberships in one transaction.
func (s *Store) DeletePerson(ctx context.Context, id string) ([]string, error) {
	var refs []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&embeddingModel{}).Where("person_id = ?", id).
			Pluck("source_ref", &refs).Error; err != nil {
			return fmt.Errorf("query photo refs: %w", err)
		}
		if err := tx.Where("person_id = ?", id).Delete(&embeddingModel{}).Error; err != nil {
			return fmt.Errorf("delete embeddings: %w", err)
		}
		if err := tx.Where("person_id = ?", id).Delete(&memberModel{}).Error; err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&personModel{})
		if res.Error != nil {
			return fmt.Errorf("delete person: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return database.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// AppendEmbedding inserts a vector; an existing (person, source) row is returned unchanged.
func (s *Store) AppendEmbedding(ctx context.Context, personID string, vector []float32, sourceRef string) (*database.StoredEmbedding, error) {
	m := embeddingModel{
		PersonID:  personID,
		Vector:    database.EncodeVector(vector),
		SourceRef: sourceRef,
		CreatedAt: time.Now().UTC(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "person_id"}, {Name: "source_ref"}},
		DoNothing: true,
	}).Create(&m)
	if res.Error != nil {
		return nil, fmt.Errorf("insert embedding: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		var existing embeddingModel
		if err := s.db.WithContext(ctx).
			Where("person_id = ? AND source_ref = ?", personID, sourceRef).
			Take(&existing).Error; err != nil {
			return nil, fmt.Errorf("query existing embedding: %w", err)
		}
		m = existing
	}

	emb, err := m.toDomain()
	if err != nil {
		return nil, err
	}
	return &emb, nil
}

// ListFor returns every embedding of one person in insertion order.
func (s *Store) ListFor(ctx context.Context, personID string) ([]database.StoredEmbedding, error) {
	var rows []embeddingModel
	if err := s.db.WithContext(ctx).Where("person_id = ?", personID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	out := make([]database.StoredEmbedding, 0, len(rows))
	for i := range rows {
		emb, err := rows[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", rows[i].ID, err)
		}
		out = append(out, emb)
	}
	return out, nil
}

// ListCandidates returns all (person, vector) pairs, or only those of a group's members.
func (s *Store) ListCandidates(ctx context.Context, groupID string) ([]database.Candidate, error) {
	q := s.db.WithContext(ctx).Model(&embeddingModel{}).Select("embeddings.id, embeddings.person_id, embeddings.vector")
	if groupID != "" {
		q = q.Joins("JOIN group_members gm ON gm.person_id = embeddings.person_id").
			Where("gm.group_id = ?", groupID)
	}

	var rows []embeddingModel
	if err := q.Order("embeddings.id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}

	out := make([]database.Candidate, 0, len(rows))
	for i := range rows {
		vec, err := database.DecodeVector(rows[i].Vector)
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", rows[i].ID, err)
		}
		out = append(out, database.Candidate{EmbeddingID: rows[i].ID, PersonID: rows[i].PersonID, Vector: vec})
	}
	return out, nil
}

// DeleteBySource removes the embeddings derived from one photo.
func (s *Store) DeleteBySource(ctx context.Context, personID, sourceRef string) (int, error) {
	res := s.db.WithContext(ctx).Where("person_id = ? AND source_ref = ?", personID, sourceRef).Delete(&embeddingModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete embeddings: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// CountEmbeddings returns the total number of stored embeddings.
func (s *Store) CountEmbeddings(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&embeddingModel{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return int(n), nil
}

// Clear wipes every table.
func (s *Store) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&memberModel{}, &embeddingModel{}, &pendingModel{}, &groupModel{}, &personModel{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("clear %T: %w", model, err)
			}
		}
		return nil
	})
}
