package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// SavePending stores a new pending enrollment.
func (s *Store) SavePending(ctx context.Context, p *database.PendingEnrollment) error {
	m := pendingModel{
		ID:          p.ID,
		PersonID:    p.PersonID,
		Fields:      p.Fields,
		PhotoRefs:   p.PhotoRefs,
		GroupID:     p.GroupID,
		Status:      p.Status,
		SubmittedAt: p.SubmittedAt,
	}
	if m.Status == "" {
		m.Status = database.StatusPending
	}
	if m.SubmittedAt.IsZero() {
		m.SubmittedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("insert pending enrollment: %w", err)
	}
	return nil
}

// GetPending returns nil if not found.
func (s *Store) GetPending(ctx context.Context, id string) (*database.PendingEnrollment, error) {
	var m pendingModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query pending enrollment: %w", err)
	}
	return m.toDomain(), nil
}

// ListPending returns enrollments in a status (all when empty), oldest first.
func (s *Store) ListPending(ctx context.Context, status database.PendingStatus) ([]database.PendingEnrollment, error) {
	q := s.db.WithContext(ctx).Order("submitted_at, id")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []pendingModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query pending enrollments: %w", err)
	}
	out := make([]database.PendingEnrollment, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toDomain())
	}
	return out, nil
}

// MarkApproved moves a pending row to approved exactly once.
func (s *Store) MarkApproved(ctx context.Context, id string, result *database.ApprovalResult) error {
	return s.transition(ctx, id, database.StatusApproved, result)
}

// MarkRejected moves a pending row to rejected exactly once.
func (s *Store) MarkRejected(ctx context.Context, id string) error {
	return s.transition(ctx, id, database.StatusRejected, nil)
}

func (s *Store) transition(ctx context.Context, id string, to database.PendingStatus, result *database.ApprovalResult) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&pendingModel{}).
		Where("id = ? AND status = ?", id, database.StatusPending).
		Updates(&pendingModel{Status: to, Result: result, DecidedAt: &now})
	if res.Error != nil {
		return fmt.Errorf("update pending enrollment: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	existing, err := s.GetPending(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return database.ErrNotFound
	}
	return database.ErrStatusConflict
}
