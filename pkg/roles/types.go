package roles

import (
	"errors"

	"github.com/platinummonkey/cmsroles/pkg/permissions"
)

var (
	// ErrNotFound is returned when a role, or a derived grant of a role, does not exist
	ErrNotFound = errors.New("roles: not found")
	// ErrUniqueness is returned when a role name or base group is already taken
	ErrUniqueness = errors.New("roles: uniqueness violation")
	// ErrNoPageAvailable is returned when a page-scoped grant targets a site without pages
	ErrNoPageAvailable = errors.New("roles: site has no page to grant on")
	// ErrIntegrity is returned when derived grants drifted, e.g. two grants for one site
	ErrIntegrity = errors.New("roles: data integrity violation")
	// ErrRoleIsSiteWide is returned by page-permission maintenance for site-wide roles
	ErrRoleIsSiteWide = errors.New("roles: role must not be site wide")
	// ErrInvalidRole wraps validation failures
	ErrInvalidRole = errors.New("roles: invalid role")
)

// Mode is the propagation mode of a role
type Mode string

const (
	ModeSiteWide   Mode = "site_wide"
	ModePageScoped Mode = "page_scoped"
)

// Role is a named bundle of page permission flags tied to a base group
type Role struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name" validate:"required,max=50"`
	GroupID     int64           `json:"group_id" validate:"gt=0"`
	IsSiteWide  bool            `json:"is_site_wide"`
	Permissions permissions.Set `json:"permissions"`
}

// Mode returns the mode selected by IsSiteWide
func (r Role) Mode() Mode {
	if r.IsSiteWide {
		return ModeSiteWide
	}
	return ModePageScoped
}

// GlobalPermission is a site-level page permission. Rows with RoleID set are
// the site-wide derived grants of that role, the others are unmanaged.
type GlobalPermission struct {
	ID          int64           `json:"id"`
	RoleID      *int64          `json:"role_id,omitempty"`
	UserID      *int64          `json:"user_id,omitempty"`
	GroupID     *int64          `json:"group_id,omitempty"`
	SiteID      int64           `json:"site_id"`
	BaseGroupID *int64          `json:"base_group_id,omitempty"`
	Permissions permissions.Set `json:"permissions"`
}

// PagePermission is a per-user, per-page permission. Rows with RoleID set are
// page-scoped derived grants.
type PagePermission struct {
	ID          int64               `json:"id"`
	RoleID      *int64              `json:"role_id,omitempty"`
	UserID      int64               `json:"user_id"`
	PageID      int64               `json:"page_id"`
	SiteID      int64               `json:"site_id"`
	GrantOn     permissions.GrantOn `json:"grant_on"`
	Permissions permissions.Set     `json:"permissions"`
}
