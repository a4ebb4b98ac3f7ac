package roles

import (
	"context"
	"errors"
	"sync"

	"github.com/platinummonkey/cmsroles/pkg/directory"
	"github.com/platinummonkey/cmsroles/pkg/events"
)

// Reactor keeps derived grants in step with site and group lifecycle changes.
// Register it once at bootstrap.
type Reactor struct {
	engine *Engine

	mu sync.Mutex
	// derived groups of sites being deleted, captured before the grants cascade away
	pending map[int64][]int64
}

// NewReactor creates a reactor for engine
func NewReactor(engine *Engine) *Reactor {
	return &Reactor{
		engine:  engine,
		pending: make(map[int64][]int64),
	}
}

// Register installs the reactor's handlers on registry
func (r *Reactor) Register(registry *events.Registry) {
	registry.On(events.KindSite, events.PostSave, r.siteSaved)
	registry.On(events.KindSite, events.PreDelete, r.siteDeleting)
	registry.On(events.KindSite, events.PostDelete, r.siteDeleted)
	registry.On(events.KindGroup, events.PreDelete, r.groupDeleting)
	registry.On(events.KindGroup, events.RelationChanged, r.groupRelationChanged)
}

func (r *Reactor) siteSaved(ctx context.Context, ev events.Event) error {
	if !ev.Created {
		return nil
	}
	roles, err := r.engine.store.ListRolesByMode(ctx, ModeSiteWide)
	if err != nil {
		return err
	}
	for i := range roles {
		if err := r.engine.siteWide.DeriveSite(ctx, &roles[i], ev.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reactor) siteDeleting(ctx context.Context, ev events.Event) error {
	roles, err := r.engine.store.ListRoles(ctx)
	if err != nil {
		return err
	}

	var groupIDs []int64
	for i := range roles {
		role := &roles[i]
		grants, err := r.engine.store.SiteGrantsForSite(ctx, role.ID, ev.ID)
		if err != nil {
			return err
		}
		if len(grants) == 0 {
			if role.IsSiteWide {
				r.engine.log.ForContext(ctx).WithFields(map[string]interface{}{
					"role":    role.Name,
					"site_id": ev.ID,
				}).Warn("site-wide role has no grant on deleted site")
			}
			continue
		}
		if len(grants) > 1 {
			r.engine.materializer.integrityWarning(role, ev.ID, "duplicate_site_grant")
		}
		for _, g := range grants {
			if g.GroupID != nil {
				groupIDs = append(groupIDs, *g.GroupID)
			}
		}
	}

	r.mu.Lock()
	r.pending[ev.ID] = groupIDs
	r.mu.Unlock()
	return nil
}

func (r *Reactor) siteDeleted(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	groupIDs := r.pending[ev.ID]
	delete(r.pending, ev.ID)
	r.mu.Unlock()

	for _, id := range groupIDs {
		err := r.engine.dir.DeleteGroup(ctx, id)
		if errors.Is(err, directory.ErrGroupNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		r.engine.metrics.DerivedGroupsDeletedTotal.Inc()
	}
	return nil
}

// groupDeleting deletes the role based on the group first, so the role's own
// teardown removes its derived groups.
func (r *Reactor) groupDeleting(ctx context.Context, ev events.Event) error {
	role, err := r.engine.store.GetRoleByGroup(ctx, ev.ID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.engine.Delete(ctx, role.ID)
}

func (r *Reactor) groupRelationChanged(ctx context.Context, ev events.Event) error {
	if ev.Relation != directory.RelationCapabilities {
		return nil
	}
	return r.engine.materializer.BaseGroupChanged(ctx, ev.ID)
}

// Pending reports how many site deletions are between their two passes
func (r *Reactor) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
