package roles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/cmsroles/pkg/directory"
	"github.com/platinummonkey/cmsroles/pkg/events"
	"github.com/platinummonkey/cmsroles/pkg/permissions"
	"github.com/platinummonkey/cmsroles/pkg/storage"
)

var (
	flagColumns = strings.Join(permissions.Columns(), ", ")

	roleColumns   = `id, name, group_id, is_site_wide, ` + flagColumns
	globalColumns = `id, role_id, user_id, group_id, site_id, base_group_id, ` + flagColumns
	pageColumns   = `pp.id, pp.role_id, pp.user_id, pp.page_id, pp.grant_on, ` +
		prefixed("pp.", permissions.Columns()) + `, p.site_id`
)

func prefixed(prefix string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + c
	}
	return strings.Join(out, ", ")
}

// placeholders returns "$start, $start+1, ..." for n arguments
func placeholders(start, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ps, ", ")
}

// assignments returns "col1 = $start, col2 = $start+1, ..."
func assignments(start int, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = fmt.Sprintf("%s = $%d", c, start+i)
	}
	return strings.Join(out, ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

type scanner interface {
	Scan(dest ...any) error
}

// Store persists roles and their derived grants
type Store struct {
	db     *storage.DB
	events *events.Registry
}

// NewStore creates a new role store. registry may be nil.
func NewStore(db *storage.DB, registry *events.Registry) *Store {
	return &Store{db: db, events: registry}
}

// DB returns the underlying database
func (s *Store) DB() *storage.DB {
	return s.db
}

func scanRole(row scanner) (*Role, error) {
	var r Role
	dest := append([]any{&r.ID, &r.Name, &r.GroupID, &r.IsSiteWide}, r.Permissions.ScanTargets()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...any) ([]Role, error) {
	rows, err := s.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *r)
	}
	return roles, rows.Err()
}

func (s *Store) getRole(ctx context.Context, where string, arg any) (*Role, error) {
	r, err := scanRole(s.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role %v", ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return r, nil
}

// InsertRole inserts the role row only. Use Engine.Create to derive its grants.
func (s *Store) InsertRole(ctx context.Context, role *Role) error {
	args := append([]any{role.Name, role.GroupID, role.IsSiteWide}, role.Permissions.Values()...)
	err := s.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO roles (name, group_id, is_site_wide, `+flagColumns+`)
		VALUES (`+placeholders(1, len(args))+`)
		RETURNING id
	`, args...).Scan(&role.ID)
	if storage.IsUniqueViolation(err) {
		return fmt.Errorf("%w: role %q or its group is taken", ErrUniqueness, role.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return s.events.Dispatch(ctx, events.Event{Kind: events.KindRole, Lifecycle: events.PostSave, ID: role.ID, Created: true})
}

// UpdateRole updates the role row only. Use Engine.Save to propagate the change.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	cols := append([]string{"name", "group_id", "is_site_wide"}, permissions.Columns()...)
	args := append([]any{role.Name, role.GroupID, role.IsSiteWide}, role.Permissions.Values()...)
	args = append(args, role.ID)

	res, err := s.db.Conn(ctx).ExecContext(ctx,
		`UPDATE roles SET `+assignments(1, cols)+fmt.Sprintf(` WHERE id = $%d`, len(args)), args...)
	if storage.IsUniqueViolation(err) {
		return fmt.Errorf("%w: role %q or its group is taken", ErrUniqueness, role.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: role %d", ErrNotFound, role.ID)
	}
	return s.events.Dispatch(ctx, events.Event{Kind: events.KindRole, Lifecycle: events.PostSave, ID: role.ID})
}

// DeleteRole deletes the role row only. Use Engine.Delete to tear down its grants first.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	res, err := s.db.Conn(ctx).ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: role %d", ErrNotFound, id)
	}
	return s.events.Dispatch(ctx, events.Event{Kind: events.KindRole, Lifecycle: events.PostDelete, ID: id})
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	return s.getRole(ctx, `id = $1`, id)
}

// GetRoleByName retrieves a role by name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return s.getRole(ctx, `name = $1`, name)
}

// GetRoleByGroup retrieves the role based on groupID
func (s *Store) GetRoleByGroup(ctx context.Context, groupID int64) (*Role, error) {
	return s.getRole(ctx, `group_id = $1`, groupID)
}

// ListRoles lists all roles by name
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	return s.queryRoles(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
}

// ListRolesByMode lists the roles of one mode by name
func (s *Store) ListRolesByMode(ctx context.Context, mode Mode) ([]Role, error) {
	return s.queryRoles(ctx, `SELECT `+roleColumns+` FROM roles WHERE is_site_wide = $1 ORDER BY name`,
		mode == ModeSiteWide)
}

// RoleOwningDerivedGroup returns the role that has groupID as one of its derived groups
func (s *Store) RoleOwningDerivedGroup(ctx context.Context, groupID int64) (*Role, error) {
	return s.getRole(ctx, `id IN (
		SELECT role_id FROM global_page_permissions WHERE role_id IS NOT NULL AND group_id = $1
	)`, groupID)
}

func scanGlobal(row scanner) (*GlobalPermission, error) {
	var gp GlobalPermission
	var roleID, userID, groupID, baseGroupID sql.NullInt64
	dest := append([]any{&gp.ID, &roleID, &userID, &groupID, &gp.SiteID, &baseGroupID}, gp.Permissions.ScanTargets()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	gp.RoleID = ptr(roleID)
	gp.UserID = ptr(userID)
	gp.GroupID = ptr(groupID)
	gp.BaseGroupID = ptr(baseGroupID)
	return &gp, nil
}

func (s *Store) queryGlobal(ctx context.Context, query string, args ...any) ([]GlobalPermission, error) {
	rows, err := s.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query global permissions: %w", err)
	}
	defer rows.Close()

	var out []GlobalPermission
	for rows.Next() {
		gp, err := scanGlobal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan global permission: %w", err)
		}
		out = append(out, *gp)
	}
	return out, rows.Err()
}

// CreateGlobalPermission inserts a global page permission
func (s *Store) CreateGlobalPermission(ctx context.Context, gp *GlobalPermission) error {
	args := append([]any{
		nullInt(gp.RoleID), nullInt(gp.UserID), nullInt(gp.GroupID), gp.SiteID, nullInt(gp.BaseGroupID),
	}, gp.Permissions.Values()...)
	err := s.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO global_page_permissions (role_id, user_id, group_id, site_id, base_group_id, `+flagColumns+`)
		VALUES (`+placeholders(1, len(args))+`)
		RETURNING id
	`, args...).Scan(&gp.ID)
	if err != nil {
		return fmt.Errorf("failed to create global permission: %w", err)
	}
	return s.events.Dispatch(ctx, events.Event{Kind: events.KindGlobalPermission, Lifecycle: events.PostSave, ID: gp.ID, Created: true})
}

// DeleteGlobalPermission deletes a global page permission
func (s *Store) DeleteGlobalPermission(ctx context.Context, id int64) error {
	if _, err := s.db.Conn(ctx).ExecContext(ctx, `DELETE FROM global_page_permissions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete global permission: %w", err)
	}
	return s.events.Dispatch(ctx, events.Event{Kind: events.KindGlobalPermission, Lifecycle: events.PostDelete, ID: id})
}

// SiteGrants lists the site-wide derived grants of a role
func (s *Store) SiteGrants(ctx context.Context, roleID int64) ([]GlobalPermission, error) {
	return s.queryGlobal(ctx, `SELECT `+globalColumns+` FROM global_page_permissions
		WHERE role_id = $1 ORDER BY site_id, id`, roleID)
}

// SiteGrantsForSite lists the derived grants of a role bound to one site.
// Anything but exactly one row is integrity drift.
func (s *Store) SiteGrantsForSite(ctx context.Context, roleID, siteID int64) ([]GlobalPermission, error) {
	return s.queryGlobal(ctx, `SELECT `+globalColumns+` FROM global_page_permissions
		WHERE role_id = $1 AND site_id = $2 ORDER BY id`, roleID, siteID)
}

// UpdateSiteGrantFlags copies flags onto every site-wide grant of a role
func (s *Store) UpdateSiteGrantFlags(ctx context.Context, roleID int64, flags permissions.Set) (int64, error) {
	args := append(flags.Values(), roleID)
	res, err := s.db.Conn(ctx).ExecContext(ctx,
		`UPDATE global_page_permissions SET `+assignments(1, permissions.Columns())+
			fmt.Sprintf(` WHERE role_id = $%d`, len(args)), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update site grants: %w", err)
	}
	return res.RowsAffected()
}

// SetSiteGrantBaseGroup records the base group a site grant was derived from
func (s *Store) SetSiteGrantBaseGroup(ctx context.Context, grantID, baseGroupID int64) error {
	_, err := s.db.Conn(ctx).ExecContext(ctx,
		`UPDATE global_page_permissions SET base_group_id = $1 WHERE id = $2`, baseGroupID, grantID)
	if err != nil {
		return fmt.Errorf("failed to update site grant: %w", err)
	}
	return nil
}

// GlobalPermissionsForUser lists the global permissions granted directly to a user
func (s *Store) GlobalPermissionsForUser(ctx context.Context, userID int64) ([]GlobalPermission, error) {
	return s.queryGlobal(ctx, `SELECT `+globalColumns+` FROM global_page_permissions
		WHERE user_id = $1 ORDER BY site_id, id`, userID)
}

// GlobalPermissionsForGroups lists the global permissions granted to any of the groups
func (s *Store) GlobalPermissionsForGroups(ctx context.Context, groupIDs []int64) ([]GlobalPermission, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	return s.queryGlobal(ctx, `SELECT `+globalColumns+` FROM global_page_permissions
		WHERE group_id IN (`+placeholders(1, len(groupIDs))+`) ORDER BY site_id, id`, int64Args(groupIDs)...)
}

func scanPage(row scanner) (*PagePermission, error) {
	var pp PagePermission
	var roleID sql.NullInt64
	dest := []any{&pp.ID, &roleID, &pp.UserID, &pp.PageID, &pp.GrantOn}
	dest = append(dest, pp.Permissions.ScanTargets()...)
	dest = append(dest, &pp.SiteID)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	pp.RoleID = ptr(roleID)
	return &pp, nil
}

func (s *Store) queryPage(ctx context.Context, where string, args ...any) ([]PagePermission, error) {
	rows, err := s.db.Conn(ctx).QueryContext(ctx, `SELECT `+pageColumns+`
		FROM page_permissions pp JOIN pages p ON p.id = pp.page_id
		WHERE `+where+` ORDER BY p.site_id, pp.user_id, pp.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query page permissions: %w", err)
	}
	defer rows.Close()

	var out []PagePermission
	for rows.Next() {
		pp, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page permission: %w", err)
		}
		out = append(out, *pp)
	}
	return out, rows.Err()
}

// CreatePagePermission inserts a page permission. SiteID is ignored, it follows the page.
func (s *Store) CreatePagePermission(ctx context.Context, pp *PagePermission) error {
	if pp.GrantOn == 0 {
		pp.GrantOn = permissions.DefaultGrantOn
	}
	if !pp.GrantOn.Valid() {
		return fmt.Errorf("invalid grant_on %d", int(pp.GrantOn))
	}
	args := append([]any{nullInt(pp.RoleID), pp.UserID, pp.PageID, int(pp.GrantOn)}, pp.Permissions.Values()...)
	err := s.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO page_permissions (role_id, user_id, page_id, grant_on, `+flagColumns+`)
		VALUES (`+placeholders(1, len(args))+`)
		RETURNING id
	`, args...).Scan(&pp.ID)
	if err != nil {
		return fmt.Errorf("failed to create page permission: %w", err)
	}
	return s.events.Dispatch(ctx, events.Event{Kind: events.KindPagePermission, Lifecycle: events.PostSave, ID: pp.ID, Created: true})
}

// PageGrants lists the page-scoped derived grants of a role
func (s *Store) PageGrants(ctx context.Context, roleID int64) ([]PagePermission, error) {
	return s.queryPage(ctx, `pp.role_id = $1`, roleID)
}

// UserPageGrantsOnSite lists the page grants of a role held by a user on one site
func (s *Store) UserPageGrantsOnSite(ctx context.Context, roleID, userID, siteID int64) ([]PagePermission, error) {
	return s.queryPage(ctx, `pp.role_id = $1 AND pp.user_id = $2 AND p.site_id = $3`, roleID, userID, siteID)
}

// CountUserPageGrants counts the page grants of a role held by a user on any site
func (s *Store) CountUserPageGrants(ctx context.Context, roleID, userID int64) (int, error) {
	var n int
	err := s.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM page_permissions WHERE role_id = $1 AND user_id = $2`, roleID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count page grants: %w", err)
	}
	return n, nil
}

// UpdatePageGrantFlags copies flags onto every page grant of a role
func (s *Store) UpdatePageGrantFlags(ctx context.Context, roleID int64, flags permissions.Set) (int64, error) {
	args := append(flags.Values(), roleID)
	res, err := s.db.Conn(ctx).ExecContext(ctx,
		`UPDATE page_permissions SET `+assignments(1, permissions.Columns())+
			fmt.Sprintf(` WHERE role_id = $%d`, len(args)), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update page grants: %w", err)
	}
	return res.RowsAffected()
}

// DeleteUserPageGrantsOnSite deletes the page grants of a role held by a user on one site
func (s *Store) DeleteUserPageGrantsOnSite(ctx context.Context, roleID, userID, siteID int64) (int64, error) {
	res, err := s.db.Conn(ctx).ExecContext(ctx, `
		DELETE FROM page_permissions
		WHERE role_id = $1 AND user_id = $2
		AND page_id IN (SELECT id FROM pages WHERE site_id = $3)
	`, roleID, userID, siteID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete page grants: %w", err)
	}
	return res.RowsAffected()
}

// DeletePageGrants deletes every page grant of a role
func (s *Store) DeletePageGrants(ctx context.Context, roleID int64) (int64, error) {
	res, err := s.db.Conn(ctx).ExecContext(ctx, `DELETE FROM page_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete page grants: %w", err)
	}
	return res.RowsAffected()
}

// UnmanagedPagePermissions lists page permissions without a role whose user belongs to groupID
func (s *Store) UnmanagedPagePermissions(ctx context.Context, groupID int64) ([]PagePermission, error) {
	return s.queryPage(ctx, `pp.role_id IS NULL AND pp.user_id IN (
		SELECT user_id FROM auth_user_groups WHERE group_id = $1
	)`, groupID)
}

// AdoptPagePermission makes an unmanaged page permission a derived grant of roleID
func (s *Store) AdoptPagePermission(ctx context.Context, id, roleID int64) error {
	res, err := s.db.Conn(ctx).ExecContext(ctx,
		`UPDATE page_permissions SET role_id = $1 WHERE id = $2 AND role_id IS NULL`, roleID, id)
	if err != nil {
		return fmt.Errorf("failed to adopt page permission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: unmanaged page permission %d", ErrNotFound, id)
	}
	return nil
}

// PageGrantees lists the members of groupID holding a page grant of roleID on siteID
func (s *Store) PageGrantees(ctx context.Context, roleID, groupID, siteID int64) ([]directory.User, error) {
	rows, err := s.db.Conn(ctx).QueryContext(ctx, `
		SELECT DISTINCT u.id, u.username, u.is_staff, u.is_superuser
		FROM auth_users u
		JOIN auth_user_groups ug ON ug.user_id = u.id
		JOIN page_permissions pp ON pp.user_id = u.id
		JOIN pages p ON p.id = pp.page_id
		WHERE pp.role_id = $1 AND ug.group_id = $2 AND p.site_id = $3
		ORDER BY u.username
	`, roleID, groupID, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query page grantees: %w", err)
	}
	defer rows.Close()

	var users []directory.User
	for rows.Next() {
		var u directory.User
		if err := rows.Scan(&u.ID, &u.Username, &u.IsStaff, &u.IsSuperuser); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
