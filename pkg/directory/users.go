package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/cmsroles/pkg/events"
	"github.com/platinummonkey/cmsroles/pkg/storage"
)

const userColumns = `id, username, is_staff, is_superuser`

func scanUser(row scanner) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.IsStaff, &u.IsSuperuser); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := s.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CreateUser inserts a new user
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		err := s.db.Conn(ctx).QueryRowContext(ctx, `
			INSERT INTO auth_users (username, is_staff, is_superuser)
			VALUES ($1, $2, $3)
			RETURNING id
		`, user.Username, user.IsStaff, user.IsSuperuser).Scan(&user.ID)
		if storage.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrUserExists, user.Username)
		}
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return s.dispatch(ctx, events.Event{Kind: events.KindUser, Lifecycle: events.PostSave, ID: user.ID, Created: true})
	})
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM auth_users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(s.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM auth_users WHERE username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by username
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	users, err := s.queryUsers(ctx, `SELECT `+userColumns+` FROM auth_users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// GetUsers returns the users with the given IDs ordered by username
func (s *Store) GetUsers(ctx context.Context, ids []int64) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	users, err := s.queryUsers(ctx,
		`SELECT `+userColumns+` FROM auth_users WHERE id IN (`+placeholders(1, len(ids))+`) ORDER BY username`,
		int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	return users, nil
}

// SetStaff sets the staff flag of a user
func (s *Store) SetStaff(ctx context.Context, userID int64, staff bool) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.db.Conn(ctx).ExecContext(ctx,
			`UPDATE auth_users SET is_staff = $1 WHERE id = $2`, staff, userID)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %d", ErrUserNotFound, userID)
		}
		return s.dispatch(ctx, events.Event{Kind: events.KindUser, Lifecycle: events.PostSave, ID: userID})
	})
}
