package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
)

const pendingColumns = `id, person_id, fields, photo_refs, group_id, status, result, submitted_at, decided_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (*database.PendingEnrollment, error) {
	var p database.PendingEnrollment
	var fields, refs []byte
	var result sql.NullString
	var decided sql.NullTime

	if err := row.Scan(&p.ID, &p.PersonID, &fields, &refs, &p.GroupID, &p.Status, &result, &p.SubmittedAt, &decided); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &p.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	if err := json.Unmarshal(refs, &p.PhotoRefs); err != nil {
		return nil, fmt.Errorf("unmarshal photo refs: %w", err)
	}
	if result.Valid && result.String != "" {
		p.Result = &database.ApprovalResult{}
		if err := json.Unmarshal([]byte(result.String), p.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if decided.Valid {
		t := decided.Time
		p.DecidedAt = &t
	}
	return &p, nil
}

// SavePending stores a new pending enrollment.
func (s *Store) SavePending(ctx context.Context, p *database.PendingEnrollment) error {
	fields, err := json.Marshal(p.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	refs := p.PhotoRefs
	if refs == nil {
		refs = []string{}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("marshal photo refs: %w", err)
	}
	status := p.Status
	if status == "" {
		status = database.StatusPending
	}
	submitted := p.SubmittedAt
	if submitted.IsZero() {
		submitted = nowUTC()
	}

	if _, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO pending_enrollments (id, person_id, fields, photo_refs, group_id, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.PersonID, string(fields), string(refsJSON), p.GroupID, string(status), submitted.UTC()); err != nil {
		return fmt.Errorf("insert pending enrollment: %w", err)
	}
	return nil
}

// GetPending returns nil if not found.
func (s *Store) GetPending(ctx context.Context, id string) (*database.PendingEnrollment, error) {
	p, err := scanPending(s.pool.db.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_enrollments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query pending enrollment: %w", err)
	}
	return p, nil
}

// ListPending returns enrollments in a status (all when empty), oldest first.
func (s *Store) ListPending(ctx context.Context, status database.PendingStatus) ([]database.PendingEnrollment, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT `+pendingColumns+` FROM pending_enrollments
		WHERE ? = '' OR status = ?
		ORDER BY submitted_at, id
	`, string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("query pending enrollments: %w", err)
	}
	defer rows.Close()

	var out []database.PendingEnrollment
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending enrollment: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending enrollments: %w", err)
	}
	return out, nil
}

// MarkApproved moves a pending row to approved exactly once.
func (s *Store) MarkApproved(ctx context.Context, id string, result *database.ApprovalResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.transition(ctx, id, database.StatusApproved, data)
}

// MarkRejected moves a pending row to rejected exactly once.
func (s *Store) MarkRejected(ctx context.Context, id string) error {
	return s.transition(ctx, id, database.StatusRejected, nil)
}

// transition is a compare-and-set on status; the status always changes, so a
// matched row is reported as affected.
func (s *Store) transition(ctx context.Context, id string, to database.PendingStatus, result []byte) error {
	var resultParam sql.NullString
	if result != nil {
		resultParam = sql.NullString{String: string(result), Valid: true}
	}
	res, err := s.pool.db.ExecContext(ctx, `
		UPDATE pending_enrollments
		SET status = ?, result = ?, decided_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(to), resultParam, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("update pending enrollment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var count int
	if err := s.pool.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_enrollments WHERE id = ?`, id).Scan(&count); err != nil {
		return fmt.Errorf("check pending enrollment: %w", err)
	}
	if count == 0 {
		return database.ErrNotFound
	}
	return database.ErrStatusConflict
}
