package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// SaveGroup creates the group or updates its name and guide, then adds the listed members.
func (s *Store) SaveGroup(ctx context.Context, g *database.Group) error {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = nowUTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO person_groups (id, name, guide_id, created_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), guide_id = VALUES(guide_id)
	`, g.ID, g.Name, g.GuideID, createdAt.UTC()); err != nil {
		return fmt.Errorf("upsert group: %w", err)
	}

	for _, personID := range g.Members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, person_id) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE group_id = group_id
		`, g.ID, personID); err != nil {
			return fmt.Errorf("insert member %s: %w", personID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit group: %w", err)
	}
	return nil
}

// members returns group id -> sorted member ids, restricted to one group when groupID is set.
func (s *Store) members(ctx context.Context, groupID string) (map[string][]string, error) {
	query := `SELECT group_id, person_id FROM group_members ORDER BY group_id, person_id`
	args := []any{}
	if groupID != "" {
		query = `SELECT group_id, person_id FROM group_members WHERE group_id = ? ORDER BY person_id`
		args = append(args, groupID)
	}
	rows, err := s.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var gid, pid string
		if err := rows.Scan(&gid, &pid); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out[gid] = append(out[gid], pid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return out, nil
}

// GetGroup returns nil if not found.
func (s *Store) GetGroup(ctx context.Context, id string) (*database.Group, error) {
	var g database.Group
	err := s.pool.db.QueryRowContext(ctx, `
		SELECT id, name, guide_id, created_at FROM person_groups WHERE id = ?
	`, id).Scan(&g.ID, &g.Name, &g.GuideID, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query group: %w", err)
	}
	members, err := s.members(ctx, id)
	if err != nil {
		return nil, err
	}
	g.Members = members[id]
	if g.Members == nil {
		g.Members = []string{}
	}
	return &g, nil
}

// ListGroups returns every group with its members.
func (s *Store) ListGroups(ctx context.Context) ([]database.Group, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT id, name, guide_id, created_at FROM person_groups ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var out []database.Group
	for rows.Next() {
		var g database.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.GuideID, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}

	members, err := s.members(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Members = members[out[i].ID]
		if out[i].Members == nil {
			out[i].Members = []string{}
		}
	}
	return out, nil
}

// DeleteGroup removes a group; memberships cascade.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.pool.db.ExecContext(ctx, `DELETE FROM person_groups WHERE id = ?`, id)
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
	_, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, person_id) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE group_id = group_id
	`, groupID, personID)
	if isForeignKeyViolation(err) {
		return database.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// RemoveMember removes a person from a group.
func (s *Store) RemoveMember(ctx context.Context, groupID, personID string) error {
	if _, err := s.pool.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND person_id = ?`, groupID, personID); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}
