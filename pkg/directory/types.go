package directory

import "errors"

var (
	ErrUserNotFound       = errors.New("directory: user not found")
	ErrGroupNotFound      = errors.New("directory: group not found")
	ErrCapabilityNotFound = errors.New("directory: capability not found")
	ErrUserExists         = errors.New("directory: username already taken")
	ErrGroupExists        = errors.New("directory: group name already taken")
)

// Relation names used in RelationChanged events
const (
	RelationGroups       = "groups"
	RelationCapabilities = "capabilities"
)

// User is an account in the user store
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
}

// DerivedKey identifies the site and base group a derived group was materialized from
type DerivedKey struct {
	SiteID      int64 `json:"site_id"`
	BaseGroupID int64 `json:"base_group_id"`
}

// Group is a named bundle of capabilities users can belong to
type Group struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	DerivedFrom *DerivedKey `json:"derived_from,omitempty"`
}

// IsDerived reports whether the group was materialized for a site-wide role
func (g Group) IsDerived() bool {
	return g.DerivedFrom != nil
}

// Capability is a named permission such as "cmsroles.user_setup"
type Capability struct {
	ID       int64  `json:"id"`
	Codename string `json:"codename"`
	Name     string `json:"name"`
}

type scanner interface {
	Scan(dest ...any) error
}
