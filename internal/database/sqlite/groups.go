package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// SaveGroup creates the group or updates its name and guide.
func (s *Store) SaveGroup(ctx context.Context, g *database.Group) error {
	m := groupModel{ID: g.ID, Name: g.Name, GuideID: g.GuideID, CreatedAt: g.CreatedAt}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "guide_id"}),
		}).Create(&m).Error; err != nil {
			return fmt.Errorf("upsert group: %w", err)
		}
		for _, pid := range g.Members {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&memberModel{GroupID: g.ID, PersonID: pid}).Error; err != nil {
				return fmt.Errorf("insert member: %w", err)
			}
		}
		return nil
	})
}

// GetGroup returns nil if not found.
func (s *Store) GetGroup(ctx context.Context, id string) (*database.Group, error) {
	var m groupModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query group: %w", err)
	}

	g := &database.Group{ID: m.ID, Name: m.Name, GuideID: m.GuideID, CreatedAt: m.CreatedAt}
	if err := s.db.WithContext(ctx).Model(&memberModel{}).Where("group_id = ?", id).
		Order("person_id").Pluck("person_id", &g.Members).Error; err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	return g, nil
}

// ListGroups returns every group with its members.
func (s *Store) ListGroups(ctx context.Context) ([]database.Group, error) {
	var groups []groupModel
	if err := s.db.WithContext(ctx).Order("name, id").Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	var members []memberModel
	if err := s.db.WithContext(ctx).Order("person_id").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	byGroup := make(map[string][]string)
	for _, m := range members {
		byGroup[m.GroupID] = append(byGroup[m.GroupID], m.PersonID)
	}

	out := make([]database.Group, 0, len(groups))
	for _, m := range groups {
		out = append(out, database.Group{
			ID:        m.ID,
			Name:      m.Name,
			GuideID:   m.GuideID,
			Members:   byGroup[m.ID],
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// DeleteGroup removes a group and its memberships.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", id).Delete(&memberModel{}).Error; err != nil {
			return fmt.Errorf("delete members: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&groupModel{})
		if res.Error != nil {
			return fmt.Errorf("delete group: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return database.ErrNotFound
		}
		return nil
	})
}

// AddMember adds a person to a group; adding twice is a no-op.
func (s *Store) AddMember(ctx context.Context, groupID, personID string) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&groupModel{}).Where("id = ?", groupID).Count(&n).Error; err != nil {
		return fmt.Errorf("query group: %w", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&memberModel{GroupID: groupID, PersonID: personID}).Error; err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// RemoveMember removes a person from a group.
func (s *Store) RemoveMember(ctx context.Context, groupID, personID string) error {
	if err := s.db.WithContext(ctx).Where("group_id = ? AND person_id = ?", groupID, personID).
		Delete(&memberModel{}).Error; err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}
