package roles

import (
	"context"

	"github.com/platinummonkey/cmsroles/pkg/directory"
)

// GrantStrategy holds the mode-specific half of the role engine
type GrantStrategy interface {
	Mode() Mode
	// Grant gives userID the role on siteID. pageIDs is only meaningful for page-scoped roles.
	Grant(ctx context.Context, role *Role, userID, siteID int64, pageIDs []int64) error
	// Ungrant takes the role on siteID away from userID
	Ungrant(ctx context.Context, role *Role, userID, siteID int64) error
	// Users lists the users holding the role on siteID
	Users(ctx context.Context, role *Role, siteID int64) ([]directory.User, error)
	// AllUsers lists the users holding the role on any site
	AllUsers(ctx context.Context, role *Role) ([]directory.User, error)
	// PropagateFlags copies the role's flags onto its derived grants and returns how many changed
	PropagateFlags(ctx context.Context, role *Role) (int64, error)
	// Derive creates the derived grants the role is missing
	Derive(ctx context.Context, role *Role) error
	// Teardown removes every derived grant of this mode
	Teardown(ctx context.Context, role *Role) error
}
