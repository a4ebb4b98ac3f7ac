package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/cmsroles/pkg/events"
)

func (s *Store) queryCapabilities(ctx context.Context, query string, args ...any) ([]Capability, error) {
	rows, err := s.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var caps []Capability
	for rows.Next() {
		var c Capability
		if err := rows.Scan(&c.ID, &c.Codename, &c.Name); err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

// EnsureCapability returns the capability with the given codename, creating it if needed
func (s *Store) EnsureCapability(ctx context.Context, codename, name string) (*Capability, error) {
	var c *Capability
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.GetCapability(ctx, codename)
		if err == nil {
			c = existing
			return nil
		}
		if !errors.Is(err, ErrCapabilityNotFound) {
			return err
		}

		c = &Capability{Codename: codename, Name: name}
		if err := s.db.Conn(ctx).QueryRowContext(ctx,
			`INSERT INTO auth_capabilities (codename, name) VALUES ($1, $2) RETURNING id`,
			codename, name,
		).Scan(&c.ID); err != nil {
			return fmt.Errorf("failed to create capability: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetCapability retrieves a capability by codename
func (s *Store) GetCapability(ctx context.Context, codename string) (*Capability, error) {
	var c Capability
	err := s.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT id, codename, name FROM auth_capabilities WHERE codename = $1`, codename,
	).Scan(&c.ID, &c.Codename, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityNotFound, codename)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get capability: %w", err)
	}
	return &c, nil
}

// GroupCapabilities returns the capabilities assigned to a group ordered by codename
func (s *Store) GroupCapabilities(ctx context.Context, groupID int64) ([]Capability, error) {
	caps, err := s.queryCapabilities(ctx, `
		SELECT c.id, c.codename, c.name
		FROM auth_capabilities c
		JOIN auth_group_capabilities gc ON gc.capability_id = c.id
		WHERE gc.group_id = $1
		ORDER BY c.codename
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group capabilities: %w", err)
	}
	return caps, nil
}

// SetGroupCapabilities replaces the capability set of a group
func (s *Store) SetGroupCapabilities(ctx context.Context, groupID int64, capabilityIDs []int64) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		conn := s.db.Conn(ctx)
		if _, err := conn.ExecContext(ctx, `DELETE FROM auth_group_capabilities WHERE group_id = $1`, groupID); err != nil {
			return fmt.Errorf("failed to clear group capabilities: %w", err)
		}
		for _, capID := range capabilityIDs {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO auth_group_capabilities (group_id, capability_id)
				VALUES ($1, $2)
				ON CONFLICT (group_id, capability_id) DO NOTHING
			`, groupID, capID); err != nil {
				return fmt.Errorf("failed to assign capability %d: %w", capID, err)
			}
		}
		return s.groupCapabilitiesChanged(ctx, groupID)
	})
}

// AddGroupCapability assigns a capability to a group
func (s *Store) AddGroupCapability(ctx context.Context, groupID, capabilityID int64) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.db.Conn(ctx).ExecContext(ctx, `
			INSERT INTO auth_group_capabilities (group_id, capability_id)
			VALUES ($1, $2)
			ON CONFLICT (group_id, capability_id) DO NOTHING
		`, groupID, capabilityID)
		if err != nil {
			return fmt.Errorf("failed to assign capability: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return s.groupCapabilitiesChanged(ctx, groupID)
	})
}

// RemoveGroupCapability removes a capability from a group
func (s *Store) RemoveGroupCapability(ctx context.Context, groupID, capabilityID int64) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.db.Conn(ctx).ExecContext(ctx,
			`DELETE FROM auth_group_capabilities WHERE group_id = $1 AND capability_id = $2`,
			groupID, capabilityID)
		if err != nil {
			return fmt.Errorf("failed to remove capability: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return s.groupCapabilitiesChanged(ctx, groupID)
	})
}

func (s *Store) groupCapabilitiesChanged(ctx context.Context, groupID int64) error {
	return s.dispatch(ctx, events.Event{
		Kind:      events.KindGroup,
		Lifecycle: events.RelationChanged,
		ID:        groupID,
		Relation:  RelationCapabilities,
	})
}

// AddUserCapability grants a capability directly to a user
func (s *Store) AddUserCapability(ctx context.Context, userID, capabilityID int64) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.db.Conn(ctx).ExecContext(ctx, `
			INSERT INTO auth_user_capabilities (user_id, capability_id)
			VALUES ($1, $2)
			ON CONFLICT (user_id, capability_id) DO NOTHING
		`, userID, capabilityID)
		if err != nil {
			return fmt.Errorf("failed to grant capability: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return s.dispatch(ctx, events.Event{
			Kind:      events.KindUser,
			Lifecycle: events.RelationChanged,
			ID:        userID,
			Relation:  RelationCapabilities,
		})
	})
}

// UserCapabilities returns the codenames a user holds directly or through groups
func (s *Store) UserCapabilities(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.Conn(ctx).QueryContext(ctx, `
		SELECT c.codename
		FROM auth_capabilities c
		JOIN auth_user_capabilities uc ON uc.capability_id = c.id
		WHERE uc.user_id = $1
		UNION
		SELECT c.codename
		FROM auth_capabilities c
		JOIN auth_group_capabilities gc ON gc.capability_id = c.id
		JOIN auth_user_groups ug ON ug.group_id = gc.group_id
		WHERE ug.user_id = $2
		ORDER BY 1
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user capabilities: %w", err)
	}
	defer rows.Close()

	var codenames []string
	for rows.Next() {
		var codename string
		if err := rows.Scan(&codename); err != nil {
			return nil, fmt.Errorf("failed to scan capability: %w", err)
		}
		codenames = append(codenames, codename)
	}
	return codenames, rows.Err()
}
