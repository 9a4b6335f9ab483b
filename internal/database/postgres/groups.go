package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// SaveGroup creates the group or updates its name and guide, then adds the listed members.
func (s *Store) SaveGroup(ctx context.Context, g *database.Group) error {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO person_groups (id, name, guide_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, guide_id = EXCLUDED.guide_id
	`, g.ID, g.Name, g.GuideID, createdAt); err != nil {
		return fmt.Errorf("upsert group: %w", err)
	}

	if len(g.Members) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, person_id)
			SELECT $1, unnest($2::text[])
			ON CONFLICT DO NOTHING
		`, g.ID, pq.Array(g.Members)); err != nil {
			return fmt.Errorf("insert members: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit group: %w", err)
	}
	return nil
}

// GetGroup returns nil if not found.
func (s *Store) GetGroup(ctx context.Context, id string) (*database.Group, error) {
	var g database.Group
	var members pq.StringArray
	err := s.pool.QueryRow(ctx, `
		SELECT g.id, g.name, g.guide_id, g.created_at,
		       COALESCE(array_agg(m.person_id ORDER BY m.person_id) FILTER (WHERE m.person_id IS NOT NULL), '{}')
		FROM person_groups g
		LEFT JOIN group_members m ON m.group_id = g.id
		WHERE g.id = $1
		GROUP BY g.id
	`, id).Scan(&g.ID, &g.Name, &g.GuideID, &g.CreatedAt, &members)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query group: %w", err)
	}
	g.Members = members
	return &g, nil
}

// ListGroups returns every group with its members.
func (s *Store) ListGroups(ctx context.Context) ([]database.Group, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.id, g.name, g.guide_id, g.created_at,
		       COALESCE(array_agg(m.person_id ORDER BY m.person_id) FILTER (WHERE m.person_id IS NOT NULL), '{}')
		FROM person_groups g
		LEFT JOIN group_members m ON m.group_id = g.id
		GROUP BY g.id
		ORDER BY g.name, g.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var out []database.Group
	for rows.Next() {
		var g database.Group
		var members pq.StringArray
		if err := rows.Scan(&g.ID, &g.Name, &g.GuideID, &g.CreatedAt, &members); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.Members = members
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return out, nil
}

// DeleteGroup removes a group; memberships cascade.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.pool.Exec(ctx, `DELETE FROM person_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// AddMember adds a person to a group; adding twice is a no-op.
func (s *Store) AddMember(ctx context.Context, groupID, personID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_members (group_id, person_id) VALUES ($1, $2) ON CONFLICT DO NOTHING
	`, groupID, personID)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" { // foreign_key_violation
		return database.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// RemoveMember removes a person from a group.
func (s *Store) RemoveMember(ctx context.Context, groupID, personID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND person_id = $2`, groupID, personID); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}
