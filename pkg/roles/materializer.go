package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/cmsroles/pkg/directory"
	"github.com/platinummonkey/cmsroles/pkg/observability"
)

// DerivedGroupName is the name of the group backing the site-wide grant of the
// role based on baseGroupID on siteID.
func DerivedGroupName(siteID, baseGroupID int64) string {
	return fmt.Sprintf("site-%d-group-%d", siteID, baseGroupID)
}

// Materializer creates and maintains the derived groups of site-wide roles
type Materializer struct {
	store   *Store
	dir     *directory.Store
	log     *observability.Logger
	metrics *observability.Metrics
}

func capabilityIDs(caps []directory.Capability) []int64 {
	ids := make([]int64, len(caps))
	for i, c := range caps {
		ids[i] = c.ID
	}
	return ids
}

// Materialize creates the derived group of role on siteID, mirroring the base
// group's capabilities, and the site-wide grant bound to it.
func (m *Materializer) Materialize(ctx context.Context, role *Role, siteID int64) (*directory.Group, error) {
	caps, err := m.dir.GroupCapabilities(ctx, role.GroupID)
	if err != nil {
		return nil, err
	}

	group := &directory.Group{
		Name:        DerivedGroupName(siteID, role.GroupID),
		DerivedFrom: &directory.DerivedKey{SiteID: siteID, BaseGroupID: role.GroupID},
	}
	if err := m.dir.CreateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to materialize group for role %q on site %d: %w", role.Name, siteID, err)
	}
	if err := m.dir.SetGroupCapabilities(ctx, group.ID, capabilityIDs(caps)); err != nil {
		return nil, err
	}

	roleID, baseGroupID := role.ID, role.GroupID
	grant := &GlobalPermission{
		RoleID:      &roleID,
		GroupID:     &group.ID,
		SiteID:      siteID,
		BaseGroupID: &baseGroupID,
		Permissions: role.Permissions,
	}
	if err := m.store.CreateGlobalPermission(ctx, grant); err != nil {
		return nil, err
	}

	m.metrics.DerivedGroupsCreatedTotal.Inc()
	m.log.ForContext(ctx).WithFields(map[string]interface{}{
		"role":     role.Name,
		"site_id":  siteID,
		"group_id": group.ID,
	}).Debug("materialized derived group")
	return group, nil
}

// Mirror copies the base group's capabilities onto every derived group of role
// and renames them after the role's current base group.
func (m *Materializer) Mirror(ctx context.Context, role *Role) error {
	caps, err := m.dir.GroupCapabilities(ctx, role.GroupID)
	if err != nil {
		return err
	}
	ids := capabilityIDs(caps)

	grants, err := m.store.SiteGrants(ctx, role.ID)
	if err != nil {
		return err
	}
	for _, grant := range grants {
		if grant.GroupID == nil {
			m.integrityWarning(role, grant.SiteID, "site_grant_without_group")
			continue
		}
		group, err := m.dir.GetGroup(ctx, *grant.GroupID)
		if errors.Is(err, directory.ErrGroupNotFound) {
			m.integrityWarning(role, grant.SiteID, "site_grant_without_group")
			continue
		}
		if err != nil {
			return err
		}

		if err := m.dir.SetGroupCapabilities(ctx, group.ID, ids); err != nil {
			return err
		}

		name := DerivedGroupName(grant.SiteID, role.GroupID)
		key := directory.DerivedKey{SiteID: grant.SiteID, BaseGroupID: role.GroupID}
		if group.Name != name || group.DerivedFrom == nil || *group.DerivedFrom != key {
			group.Name = name
			group.DerivedFrom = &key
			if err := m.dir.UpdateGroup(ctx, group); err != nil {
				return err
			}
		}
		if grant.BaseGroupID == nil || *grant.BaseGroupID != role.GroupID {
			if err := m.store.SetSiteGrantBaseGroup(ctx, grant.ID, role.GroupID); err != nil {
				return err
			}
		}
	}
	return nil
}

// BaseGroupChanged re-mirrors the derived groups of the site-wide role based on
// groupID, if there is one.
func (m *Materializer) BaseGroupChanged(ctx context.Context, groupID int64) error {
	role, err := m.store.GetRoleByGroup(ctx, groupID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !role.IsSiteWide {
		return nil
	}
	return m.Mirror(ctx, role)
}

func (m *Materializer) integrityWarning(role *Role, siteID int64, kind string) {
	m.metrics.IntegrityWarningsTotal.WithLabelValues(kind).Inc()
	m.log.WithFields(map[string]interface{}{
		"role":    role.Name,
		"site_id": siteID,
		"kind":    kind,
	}).Warn("derived grant integrity problem, skipping")
}
