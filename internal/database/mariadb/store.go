package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// Store implements database.Store on MariaDB.
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

func nowUTC() time.Time {
	return time.Now().UTC()
}

// SavePerson inserts the person unless the id already exists.
// With ON DUPLICATE KEY UPDATE a no-op update reports zero affected rows.
func (s *Store) SavePerson(ctx context.Context, p *database.Person) (bool, error) {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return false, fmt.Errorf("marshal attributes: %w", err)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = nowUTC()
	}

	res, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO persons (id, display_name, attributes, created_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id
	`, p.ID, p.DisplayName, string(attrs), createdAt.UTC())
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
	err := s.pool.db.QueryRowContext(ctx, `
		SELECT id, display_name, attributes, created_at FROM persons WHERE id = ?
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
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT id, display_name, attributes, created_at FROM persons ORDER BY display_name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	defer rows.Close()

	var out []database.PersonSummary
	index := make(map[string]int)
	for rows.Next() {
		var ps database.PersonSummary
		var attrs []byte
		if err := rows.Scan(&ps.ID, &ps.DisplayName, &attrs, &ps.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		if err := json.Unmarshal(attrs, &ps.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
		index[ps.ID] = len(out)
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}

	refRows, err := s.pool.db.QueryContext(ctx, `SELECT person_id, source_ref FROM embeddings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query photo refs: %w", err)
	}
	defer refRows.Close()
	for refRows.Next() {
		var personID, ref string
		if err := refRows.Scan(&personID, &ref); err != nil {
			return nil, fmt.Errorf("scan photo ref: %w", err)
		}
		if i, ok := index[personID]; ok {
			out[i].PhotoRefs = append(out[i].PhotoRefs, ref)
			out[i].EmbeddingCount++
		}
	}
	if err := refRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photo refs: %w", err)
	}
	return out, nil
}

// DeletePerson removes the person; embeddings cascade via FK, memberships are removed explicitly.
func (s *Store) DeletePerson(ctx context.Context, id string) ([]string, error) {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT source_ref FROM embeddings WHERE person_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query photo refs: %w", err)
	}
	refs := []string{}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan photo ref: %w", err)
		}
		refs = append(refs, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photo refs: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE person_id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete memberships: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM persons WHERE id = ?`, id)
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
	_, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO embeddings (person_id, embedding, source_ref, created_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id
	`, personID, database.EncodeVector(vector), sourceRef, nowUTC())
	if isForeignKeyViolation(err) {
		return nil, fmt.Errorf("person %s: %w", personID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("insert embedding: %w", err)
	}

	emb := database.StoredEmbedding{PersonID: personID, SourceRef: sourceRef}
	var blob []byte
	if err := s.pool.db.QueryRowContext(ctx, `
		SELECT id, embedding, created_at FROM embeddings WHERE person_id = ? AND source_ref = ?
	`, personID, sourceRef).Scan(&emb.ID, &blob, &emb.CreatedAt); err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}
	if emb.Vector, err = database.DecodeVector(blob); err != nil {
		return nil, err
	}
	return &emb, nil
}

// ListFor returns every embedding of one person in insertion order.
func (s *Store) ListFor(ctx context.Context, personID string) ([]database.StoredEmbedding, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT id, embedding, source_ref, created_at FROM embeddings WHERE person_id = ? ORDER BY id
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var out []database.StoredEmbedding
	for rows.Next() {
		e := database.StoredEmbedding{PersonID: personID}
		var blob []byte
		if err := rows.Scan(&e.ID, &blob, &e.SourceRef, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		if e.Vector, err = database.DecodeVector(blob); err != nil {
			return nil, err
		}
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
			WHERE gm.group_id = ?
			ORDER BY e.id
		`
		args = append(args, groupID)
	}

	rows, err := s.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []database.Candidate
	for rows.Next() {
		var c database.Candidate
		var blob []byte
		if err := rows.Scan(&c.EmbeddingID, &c.PersonID, &blob); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if c.Vector, err = database.DecodeVector(blob); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// DeleteBySource removes the embeddings derived from one photo.
func (s *Store) DeleteBySource(ctx context.Context, personID, sourceRef string) (int, error) {
	res, err := s.pool.db.ExecContext(ctx, `DELETE FROM embeddings WHERE person_id = ? AND source_ref = ?`, personID, sourceRef)
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
	if err := s.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// Clear wipes every table. TRUNCATE is refused on FK-referenced tables, so rows are deleted child first.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"group_members", "embeddings", "pending_enrollments", "person_groups", "persons"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}
