package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/cmsroles/pkg/events"
	"github.com/platinummonkey/cmsroles/pkg/storage"
)

const groupColumns = `id, name, derived_site_id, derived_base_group_id`

func scanGroup(row scanner) (*Group, error) {
	var g Group
	var siteID, baseGroupID sql.NullInt64
	if err := row.Scan(&g.ID, &g.Name, &siteID, &baseGroupID); err != nil {
		return nil, err
	}
	if siteID.Valid && baseGroupID.Valid {
		g.DerivedFrom = &DerivedKey{SiteID: siteID.Int64, BaseGroupID: baseGroupID.Int64}
	}
	return &g, nil
}

func derivedArgs(key *DerivedKey) (sql.NullInt64, sql.NullInt64) {
	if key == nil {
		return sql.NullInt64{}, sql.NullInt64{}
	}
	return sql.NullInt64{Int64: key.SiteID, Valid: true}, sql.NullInt64{Int64: key.BaseGroupID, Valid: true}
}

func (s *Store) queryGroups(ctx context.Context, query string, args ...any) ([]Group, error) {
	rows, err := s.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// CreateGroup inserts a new group
func (s *Store) CreateGroup(ctx context.Context, group *Group) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		siteID, baseGroupID := derivedArgs(group.DerivedFrom)
		err := s.db.Conn(ctx).QueryRowContext(ctx, `
			INSERT INTO auth_groups (name, derived_site_id, derived_base_group_id)
			VALUES ($1, $2, $3)
			RETURNING id
		`, group.Name, siteID, baseGroupID).Scan(&group.ID)
		if storage.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrGroupExists, group.Name)
		}
		if err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		return s.dispatch(ctx, events.Event{Kind: events.KindGroup, Lifecycle: events.PostSave, ID: group.ID, Created: true})
	})
}

// GetGroup retrieves a group by ID
func (s *Store) GetGroup(ctx context.Context, id int64) (*Group, error) {
	g, err := scanGroup(s.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM auth_groups WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrGroupNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// GetGroupByName retrieves a group by name
func (s *Store) GetGroupByName(ctx context.Context, name string) (*Group, error) {
	g, err := scanGroup(s.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM auth_groups WHERE name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// ListGroups returns all groups ordered by name
func (s *Store) ListGroups(ctx context.Context) ([]Group, error) {
	groups, err := s.queryGroups(ctx, `SELECT `+groupColumns+` FROM auth_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

// UpdateGroup saves the name and derivation key of a group
func (s *Store) UpdateGroup(ctx context.Context, group *Group) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		siteID, baseGroupID := derivedArgs(group.DerivedFrom)
		res, err := s.db.Conn(ctx).ExecContext(ctx, `
			UPDATE auth_groups
			SET name = $1, derived_site_id = $2, derived_base_group_id = $3
			WHERE id = $4
		`, group.Name, siteID, baseGroupID, group.ID)
		if storage.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrGroupExists, group.Name)
		}
		if err != nil {
			return fmt.Errorf("failed to update group: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %d", ErrGroupNotFound, group.ID)
		}
		return s.dispatch(ctx, events.Event{Kind: events.KindGroup, Lifecycle: events.PostSave, ID: group.ID})
	})
}

// DeleteGroup deletes a group. Memberships, capability assignments and global
// page permissions of the group are removed by cascade.
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		if err := s.dispatch(ctx, events.Event{Kind: events.KindGroup, Lifecycle: events.PreDelete, ID: id}); err != nil {
			return err
		}

		res, err := s.db.Conn(ctx).ExecContext(ctx, `DELETE FROM auth_groups WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete group: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %d", ErrGroupNotFound, id)
		}

		return s.dispatch(ctx, events.Event{Kind: events.KindGroup, Lifecycle: events.PostDelete, ID: id})
	})
}
