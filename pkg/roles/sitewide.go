package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/cmsroles/pkg/directory"
)

// siteWideStrategy grants roles through one derived group per site
type siteWideStrategy struct {
	e *Engine
}

func (s *siteWideStrategy) Mode() Mode {
	return ModeSiteWide
}

// siteGroup returns the derived group of role on siteID, materializing it when missing
func (s *siteWideStrategy) siteGroup(ctx context.Context, role *Role, siteID int64) (*directory.Group, error) {
	group, err := s.e.siteSpecificGroup(ctx, role, siteID)
	if errors.Is(err, ErrNotFound) {
		s.e.log.ForContext(ctx).WithFields(map[string]interface{}{
			"role":    role.Name,
			"site_id": siteID,
		}).Warn("site has no derived group, materializing it")
		return s.e.materializer.Materialize(ctx, role, siteID)
	}
	return group, err
}

func (s *siteWideStrategy) Grant(ctx context.Context, role *Role, userID, siteID int64, pageIDs []int64) error {
	group, err := s.siteGroup(ctx, role, siteID)
	if err != nil {
		return err
	}
	return s.e.dir.AddUserToGroup(ctx, userID, group.ID)
}

func (s *siteWideStrategy) Ungrant(ctx context.Context, role *Role, userID, siteID int64) error {
	group, err := s.e.siteSpecificGroup(ctx, role, siteID)
	if err != nil {
		return err
	}
	return s.e.dir.RemoveUserFromGroup(ctx, userID, group.ID)
}

// Users lists the members of the derived group on siteID. A site without a
// grant has no users.
func (s *siteWideStrategy) Users(ctx context.Context, role *Role, siteID int64) ([]directory.User, error) {
	group, err := s.e.siteSpecificGroup(ctx, role, siteID)
	if errors.Is(err, ErrNotFound) {
		s.e.log.ForContext(ctx).WithFields(map[string]interface{}{
			"role":    role.Name,
			"site_id": siteID,
		}).Warn("site-wide role has no grant on site")
		return []directory.User{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.e.dir.GroupMembers(ctx, group.ID)
}

func (s *siteWideStrategy) AllUsers(ctx context.Context, role *Role) ([]directory.User, error) {
	grants, err := s.e.store.SiteGrants(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	var groupIDs []int64
	for _, g := range grants {
		if g.GroupID != nil {
			groupIDs = append(groupIDs, *g.GroupID)
		}
	}
	return s.e.dir.MembersOfGroups(ctx, groupIDs)
}

func (s *siteWideStrategy) PropagateFlags(ctx context.Context, role *Role) (int64, error) {
	return s.e.store.UpdateSiteGrantFlags(ctx, role.ID, role.Permissions)
}

func (s *siteWideStrategy) Derive(ctx context.Context, role *Role) error {
	all, err := s.e.sites.ListSites(ctx)
	if err != nil {
		return err
	}
	grants, err := s.e.store.SiteGrants(ctx, role.ID)
	if err != nil {
		return err
	}
	covered := make(map[int64]bool, len(grants))
	for _, g := range grants {
		covered[g.SiteID] = true
	}
	for _, site := range all {
		if covered[site.ID] {
			continue
		}
		if _, err := s.e.materializer.Materialize(ctx, role, site.ID); err != nil {
			return err
		}
	}
	return nil
}

// DeriveSite creates the grant of role on siteID unless the site is already covered
func (s *siteWideStrategy) DeriveSite(ctx context.Context, role *Role, siteID int64) error {
	grants, err := s.e.store.SiteGrantsForSite(ctx, role.ID, siteID)
	if err != nil {
		return err
	}
	if len(grants) > 0 {
		return nil
	}
	_, err = s.e.materializer.Materialize(ctx, role, siteID)
	return err
}

func (s *siteWideStrategy) Teardown(ctx context.Context, role *Role) error {
	grants, err := s.e.store.SiteGrants(ctx, role.ID)
	if err != nil {
		return err
	}
	for _, g := range grants {
		if g.GroupID == nil {
			if err := s.e.store.DeleteGlobalPermission(ctx, g.ID); err != nil {
				return err
			}
			continue
		}
		// the grant goes with its group
		err := s.e.dir.DeleteGroup(ctx, *g.GroupID)
		if errors.Is(err, directory.ErrGroupNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to delete derived group %d: %w", *g.GroupID, err)
		}
		s.e.metrics.DerivedGroupsDeletedTotal.Inc()
	}
	return nil
}
