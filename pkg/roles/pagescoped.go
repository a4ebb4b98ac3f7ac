package roles

import (
	"context"
	"fmt"

	"github.com/platinummonkey/cmsroles/pkg/directory"
	"github.com/platinummonkey/cmsroles/pkg/sites"
)

// pageScopedStrategy grants roles through per-user, per-page permissions.
// Membership in the base group marks a user as holding the role somewhere.
type pageScopedStrategy struct {
	e *Engine
}

func (s *pageScopedStrategy) Mode() Mode {
	return ModePageScoped
}

func (s *pageScopedStrategy) Grant(ctx context.Context, role *Role, userID, siteID int64, pageIDs []int64) error {
	pages, err := s.e.sites.ListPages(ctx, siteID)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return fmt.Errorf("%w: site %d", ErrNoPageAvailable, siteID)
	}

	existing, err := s.e.store.UserPageGrantsOnSite(ctx, role.ID, userID, siteID)
	if err != nil {
		return err
	}
	granted := make(map[int64]bool, len(existing))
	for _, pp := range existing {
		granted[pp.PageID] = true
	}

	var targets []int64
	if len(pageIDs) == 0 {
		if len(existing) == 0 {
			first, err := s.e.sites.FirstPage(ctx, siteID)
			if err != nil {
				return err
			}
			targets = append(targets, first.ID)
		}
	} else {
		onSite := make(map[int64]bool, len(pages))
		for _, p := range pages {
			onSite[p.ID] = true
		}
		for _, id := range pageIDs {
			if !onSite[id] {
				return fmt.Errorf("%w: page %d is not on site %d", sites.ErrPageNotFound, id, siteID)
			}
			if !granted[id] {
				granted[id] = true
				targets = append(targets, id)
			}
		}
	}

	roleID := role.ID
	for _, pageID := range targets {
		pp := &PagePermission{
			RoleID:      &roleID,
			UserID:      userID,
			PageID:      pageID,
			Permissions: role.Permissions,
		}
		if err := s.e.store.CreatePagePermission(ctx, pp); err != nil {
			return err
		}
	}
	return s.e.dir.AddUserToGroup(ctx, userID, role.GroupID)
}

func (s *pageScopedStrategy) Ungrant(ctx context.Context, role *Role, userID, siteID int64) error {
	if _, err := s.e.store.DeleteUserPageGrantsOnSite(ctx, role.ID, userID, siteID); err != nil {
		return err
	}
	remaining, err := s.e.store.CountUserPageGrants(ctx, role.ID, userID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	return s.e.dir.RemoveUserFromGroup(ctx, userID, role.GroupID)
}

func (s *pageScopedStrategy) Users(ctx context.Context, role *Role, siteID int64) ([]directory.User, error) {
	return s.e.store.PageGrantees(ctx, role.ID, role.GroupID, siteID)
}

func (s *pageScopedStrategy) AllUsers(ctx context.Context, role *Role) ([]directory.User, error) {
	return s.e.dir.GroupMembers(ctx, role.GroupID)
}

func (s *pageScopedStrategy) PropagateFlags(ctx context.Context, role *Role) (int64, error) {
	return s.e.store.UpdatePageGrantFlags(ctx, role.ID, role.Permissions)
}

// Derive is a no-op, page grants only come from explicit grants
func (s *pageScopedStrategy) Derive(ctx context.Context, role *Role) error {
	return nil
}

func (s *pageScopedStrategy) Teardown(ctx context.Context, role *Role) error {
	_, err := s.e.store.DeletePageGrants(ctx, role.ID)
	return err
}
