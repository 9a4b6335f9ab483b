package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// Store implements database.Store on PostgreSQL.
type Store struct {
	pool *Pool
}

var _ database.Store = (*Store)(nil)

// NewStore wraps a migrated pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// SavePerson inserts the person unless the id already exists.
func (s *Store) SavePerson(ctx context.Context, p *database.Person) (bool, error) {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return false, fmt.Errorf("marshal attributes: %w", err)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.pool.Exec(ctx, `
		INSERT INTO persons (id, display_name, attributes, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.DisplayName, string(attrs), createdAt)
	if err != nil {
		return false, fmt.Errorf("insert person: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// GetPerson returns nil if not found.
func (s *Store) GetPerson(ctx context.Context, id string) (*database.Person, error) {
	var p database.Person
	var attrs []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name, attributes, created_at FROM persons WHERE id = $1
	`, id).Scan(&p.ID, &p.DisplayName, &attrs, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query person: %w", err)
	}
	if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return &p, nil
}

// ListPersons returns every person with embedding counts and photo refs.
func (s *Store) ListPersons(ctx context.Context) ([]database.PersonSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.display_name, p.attributes, p.created_at,
		       COALESCE(array_agg(e.source_ref ORDER BY e.id) FILTER (WHERE e.id IS NOT NULL), '{}')
		FROM persons p
		LEFT JOIN embeddings e ON e.person_id = p.id
		GROUP BY p.id
		ORDER BY p.display_name, p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	defer rows.Close()

	var out []database.PersonSummary
	for rows.Next() {
		var ps database.PersonSummary
		var attrs []byte
		var refs pq.StringArray
		if err := rows.Scan(&ps.ID, &ps.DisplayName, &attrs, &ps.CreatedAt, &refs); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		if err := json.Unmarshal(attrs, &ps.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
		ps.PhotoRefs = refs
		ps.EmbeddingCount = len(refs)
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return out, nil
}

// DeletePerson removes the person; embeddings cascade via FK, memberships are removed explicitly.
func (s *Store) DeletePerson(ctx context.Context, id string) ([]string, error) {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var refs pq.StringArray
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(array_agg(source_ref ORDER BY id), '{}') FROM embeddings WHERE person_id = $1
	`, id).Scan(&refs); err != nil {
		return nil, fmt.Errorf("query photo refs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE person_id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete memberships: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM persons WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("delete person: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, database.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete person: %w", err)
	}
	return refs, nil
}

// AppendEmbedding inserts a vector; an existing (person, source) row is returned unchanged.
func (s *Store) AppendEmbedding(ctx context.Context, personID string, vector []float32, sourceRef string) (*database.StoredEmbedding, error) {
	emb := database.StoredEmbedding{PersonID: personID, SourceRef: sourceRef}
	var vec pgvector.Vector

	err := s.pool.QueryRow(ctx, `
		INSERT INTO embeddings (person_id, embedding, source_ref, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (person_id, source_ref) DO NOTHING
		RETURNING id, embedding, created_at
	`, personID, pgvector.NewVector(vector), sourceRef).Scan(&emb.ID, &vec, &emb.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.pool.QueryRow(ctx, `
			SELECT id, embedding, created_at FROM embeddings WHERE person_id = $1 AND source_ref = $2
		`, personID, sourceRef).Scan(&emb.ID, &vec, &emb.CreatedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("insert embedding: %w", err)
	}

	emb.Vector = vec.Slice()
	return &emb, nil
}

// ListFor returns every embedding of one person in insertion order.
func (s *Store) ListFor(ctx context.Context, personID string) ([]database.StoredEmbedding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, embedding, source_ref, created_at FROM embeddings WHERE person_id = $1 ORDER BY id
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var out []database.StoredEmbedding
	for rows.Next() {
		e := database.StoredEmbedding{PersonID: personID}
		var vec pgvector.Vector
		if err := rows.Scan(&e.ID, &vec, &e.SourceRef, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		e.Vector = vec.Slice()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return out, nil
}

// ListCandidates returns all (person, vector) pairs, or only those of a group's members.
func (s *Store) ListCandidates(ctx context.Context, groupID string) ([]database.Candidate, error) {
	query := `SELECT e.id, e.person_id, e.embedding FROM embeddings e ORDER BY e.id`
	args := []any{}
	if groupID != "" {
		query = `
			SELECT e.id, e.person_id, e.embedding
			FROM embeddings e
			JOIN group_members gm ON gm.person_id = e.person_id
			WHERE gm.group_id = $1
			ORDER BY e.id
		`
		args = append(args, groupID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []database.Candidate
	for rows.Next() {
		var c database.Candidate
		var vec pgvector.Vector
		if err := rows.Scan(&c.EmbeddingID, &c.PersonID, &vec); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Vector = vec.Slice()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// DeleteBySource removes the embeddings derived from one photo.
func (s *Store) DeleteBySource(ctx context.Context, personID, sourceRef string) (int, error) {
	res, err := s.pool.Exec(ctx, `DELETE FROM embeddings WHERE person_id = $1 AND source_ref = $2`, personID, sourceRef)
	if err != nil {
		return 0, fmt.Errorf("delete embeddings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// CountEmbeddings returns the total number of stored embeddings.
func (s *Store) CountEmbeddings(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// Clear wipes every table.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		TRUNCATE group_members, embeddings, pending_enrollments, person_groups, persons RESTART IDENTITY
	`)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
