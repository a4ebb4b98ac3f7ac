package roles

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/cmsroles/pkg/audit"
)

// Conflict is an unmanaged page permission that could not be absorbed because
// its user already holds another role on the page's site
type Conflict struct {
	PagePermissionID int64  `json:"page_permission_id"`
	UserID           int64  `json:"user_id"`
	Username         string `json:"username"`
	SiteID           int64  `json:"site_id"`
	OtherRole        string `json:"other_role"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("unable to manage page permission %d because user %s already belongs to role %s on site %d",
		c.PagePermissionID, c.Username, c.OtherRole, c.SiteID)
}

// AbsorbReport is the outcome of ManagePagePermissions
type AbsorbReport struct {
	Role      string     `json:"role"`
	Absorbed  []int64    `json:"absorbed"`
	Conflicts []Conflict `json:"conflicts"`
}

type siteKey struct {
	roleID int64
	siteID int64
}

// ManagePagePermissions makes the page-scoped role named roleName manage the
// unmanaged page permissions of its base group's members. Permissions of users
// that already hold another role on the page's site are reported as conflicts.
func (e *Engine) ManagePagePermissions(ctx context.Context, roleName string) (report *AbsorbReport, err error) {
	defer e.observe("manage_page_permissions", time.Now(), &err)

	report = &AbsorbReport{Role: roleName}
	var role *Role
	err = e.db.WithTx(ctx, func(ctx context.Context) error {
		role, err = e.store.GetRoleByName(ctx, roleName)
		if err != nil {
			return err
		}
		if role.IsSiteWide {
			return fmt.Errorf("%w: %s", ErrRoleIsSiteWide, roleName)
		}

		all, err := e.store.ListRoles(ctx)
		if err != nil {
			return err
		}
		unmanaged, err := e.store.UnmanagedPagePermissions(ctx, role.GroupID)
		if err != nil {
			return err
		}

		// users of (other role, site), loaded once
		holders := make(map[siteKey]map[int64]bool)
		holds := func(other *Role, siteID, userID int64) (bool, error) {
			key := siteKey{roleID: other.ID, siteID: siteID}
			if _, ok := holders[key]; !ok {
				users, err := e.userIDs(ctx, other, siteID)
				if err != nil {
					return false, err
				}
				set := make(map[int64]bool, len(users))
				for _, u := range users {
					set[u] = true
				}
				holders[key] = set
			}
			return holders[key][userID], nil
		}

		for _, pp := range unmanaged {
			var conflict *Conflict
			for i := range all {
				other := &all[i]
				if other.ID == role.ID {
					continue
				}
				held, err := holds(other, pp.SiteID, pp.UserID)
				if err != nil {
					return err
				}
				if held {
					conflict = &Conflict{
						PagePermissionID: pp.ID,
						UserID:           pp.UserID,
						SiteID:           pp.SiteID,
						OtherRole:        other.Name,
					}
					break
				}
			}
			if conflict != nil {
				user, err := e.dir.GetUser(ctx, pp.UserID)
				if err != nil {
					return err
				}
				conflict.Username = user.Username
				report.Conflicts = append(report.Conflicts, *conflict)
				continue
			}
			if err := e.store.AdoptPagePermission(ctx, pp.ID, role.ID); err != nil {
				return err
			}
			report.Absorbed = append(report.Absorbed, pp.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.record(ctx, audit.NewEvent(audit.EventTypeRoleAbsorb, role.ID, role.Name).
		WithMetadata("absorbed", len(report.Absorbed)).
		WithMetadata("conflicts", len(report.Conflicts)), nil)
	return report, nil
}

// userIDs lists the ids of the users holding role on siteID
func (e *Engine) userIDs(ctx context.Context, role *Role, siteID int64) ([]int64, error) {
	users, err := e.Strategy(role).Users(ctx, role, siteID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids, nil
}
