package directory

import (
	"context"
	"fmt"

	"github.com/platinummonkey/cmsroles/pkg/events"
)

// AddUserToGroup adds a user to a group. Adding an existing member is a no-op.
func (s *Store) AddUserToGroup(ctx context.Context, userID, groupID int64) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.db.Conn(ctx).ExecContext(ctx, `
			INSERT INTO auth_user_groups (user_id, group_id)
			VALUES ($1, $2)
			ON CONFLICT (user_id, group_id) DO NOTHING
		`, userID, groupID)
		if err != nil {
			return fmt.Errorf("failed to add user %d to group %d: %w", userID, groupID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return s.membershipChanged(ctx, userID)
	})
}

// RemoveUserFromGroup removes a user from a group. Removing a non-member is a no-op.
func (s *Store) RemoveUserFromGroup(ctx context.Context, userID, groupID int64) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.db.Conn(ctx).ExecContext(ctx,
			`DELETE FROM auth_user_groups WHERE user_id = $1 AND group_id = $2`, userID, groupID)
		if err != nil {
			return fmt.Errorf("failed to remove user %d from group %d: %w", userID, groupID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return s.membershipChanged(ctx, userID)
	})
}

func (s *Store) membershipChanged(ctx context.Context, userID int64) error {
	return s.dispatch(ctx, events.Event{
		Kind:      events.KindUser,
		Lifecycle: events.RelationChanged,
		ID:        userID,
		Relation:  RelationGroups,
	})
}

// IsMember reports whether a user belongs to a group
func (s *Store) IsMember(ctx context.Context, userID, groupID int64) (bool, error) {
	var count int
	err := s.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM auth_user_groups WHERE user_id = $1 AND group_id = $2`,
		userID, groupID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return count > 0, nil
}

// UserGroups returns the groups a user belongs to ordered by name
func (s *Store) UserGroups(ctx context.Context, userID int64) ([]Group, error) {
	groups, err := s.queryGroups(ctx, `
		SELECT g.id, g.name, g.derived_site_id, g.derived_base_group_id
		FROM auth_groups g
		JOIN auth_user_groups ug ON ug.group_id = g.id
		WHERE ug.user_id = $1
		ORDER BY g.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user groups: %w", err)
	}
	return groups, nil
}

// GroupMembers returns the members of a group ordered by username
func (s *Store) GroupMembers(ctx context.Context, groupID int64) ([]User, error) {
	return s.MembersOfGroups(ctx, []int64{groupID})
}

// MembersOfGroups returns the distinct users belonging to any of the groups, ordered by username
func (s *Store) MembersOfGroups(ctx context.Context, groupIDs []int64) ([]User, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	users, err := s.queryUsers(ctx, `
		SELECT DISTINCT u.id, u.username, u.is_staff, u.is_superuser
		FROM auth_users u
		JOIN auth_user_groups ug ON ug.user_id = u.id
		WHERE ug.group_id IN (`+placeholders(1, len(groupIDs))+`)
		ORDER BY u.username
	`, int64Args(groupIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get group members: %w", err)
	}
	return users, nil
}
